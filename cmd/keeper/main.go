// Package main runs a standalone keeper replica. Any number of replicas
// can run against the same ledger: correctness comes from the round
// processing lock and idempotent store operations, not leader election.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pancho-pvp/internal/audit"
	"pancho-pvp/internal/config"
	"pancho-pvp/internal/keeper"
	"pancho-pvp/internal/oracle"
	"pancho-pvp/internal/round"
	"pancho-pvp/internal/settlement"
	"pancho-pvp/internal/solana"
	"pancho-pvp/internal/storage/migrations"
	pgstore "pancho-pvp/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.New(os.Stdout, "[keeper] ", log.LstdFlags|log.Lshortfile)

	if err := cfg.CheckTreasuryLock(); err != nil {
		logger.Fatalf("refusing to start: %v", err)
	}
	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	if cfg.RPCEndpoint == "" {
		logger.Fatal("SOLANA_RPC_ENDPOINT is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("migrations: %v", err)
	}

	rpc := solana.NewHTTPClient(cfg.RPCEndpoint)
	oraclePort := oracle.NewAccountPort(rpc, cfg.OracleMaxAgeSec)
	sink := audit.NewLogSink(log.New(os.Stdout, "[audit] ", log.LstdFlags))

	roundCfg := round.Config{
		OpenSeconds:      cfg.OpenSeconds,
		LockSeconds:      cfg.LockSeconds,
		SettleSeconds:    cfg.SettleSeconds,
		MinCreationSlack: cfg.MinCreationSlack,
		LockGraceSeconds: cfg.LockGraceSeconds,
		OracleMaxAgeSec:  cfg.OracleMaxAgeSec,
	}

	engine := settlement.NewEngine(settlement.Options{
		Rounds:           pgstore.NewRoundStore(pool),
		Entries:          pgstore.NewEntryStore(pool),
		Settlements:      pgstore.NewSettlementStore(pool),
		Receipts:         pgstore.NewReceiptStore(pool),
		Locks:            pgstore.NewRoundLockStore(pool),
		Oracle:           oraclePort,
		Facility:         settlement.NewSimFacility(),
		Markets:          cfg.Markets,
		Sink:             sink,
		FeeBps:           cfg.FeeBps,
		TreasuryWallet:   cfg.TreasuryWallet,
		ExpectedTreasury: cfg.ExpectedTreasuryWallet,
		LockTTL:          cfg.RoundLockTTL,
		RoundConfig:      roundCfg,
		Logger:           log.New(os.Stdout, "[settlement] ", log.LstdFlags|log.Lshortfile),
	})

	keep := keeper.New(keeper.Options{
		Rounds:       pgstore.NewRoundStore(pool),
		Entries:      pgstore.NewEntryStore(pool),
		Oracle:       oraclePort,
		Engine:       engine,
		Markets:      cfg.Markets,
		Sink:         sink,
		RoundConfig:  roundCfg,
		Interval:     cfg.KeeperInterval,
		SettlePaused: func() bool {
			g := cfg.Gates()
			return g.SettlePaused || g.SimSettlePaused
		},
		Logger: logger,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received %v, shutting down", sig)
		cancel()
	}()

	if err := keep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("keeper: %v", err)
	}
	logger.Println("shutdown complete")
}
