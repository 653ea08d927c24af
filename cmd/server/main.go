// Package main runs the unified settlement service:
// - API (continuous): entry submission, oracle snapshots, status, settle trigger
// - Keeper (periodic): round creation, locking, settlement
// - Claims watcher (continuous): on-chain Claimed event tracking
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pancho-pvp/internal/api"
	"pancho-pvp/internal/audit"
	"pancho-pvp/internal/claims"
	"pancho-pvp/internal/config"
	"pancho-pvp/internal/join"
	"pancho-pvp/internal/keeper"
	"pancho-pvp/internal/observability"
	"pancho-pvp/internal/oracle"
	"pancho-pvp/internal/ratelimit"
	"pancho-pvp/internal/round"
	"pancho-pvp/internal/settlement"
	"pancho-pvp/internal/solana"
	"pancho-pvp/internal/storage"
	chstore "pancho-pvp/internal/storage/clickhouse"
	"pancho-pvp/internal/storage/memory"
	"pancho-pvp/internal/storage/migrations"
	pgstore "pancho-pvp/internal/storage/postgres"
)

// ledger bundles the store implementations behind the storage interfaces.
type ledger struct {
	entries     storage.EntryStore
	rounds      storage.RoundStore
	settlements storage.SettlementStore
	receipts    storage.ReceiptStore
	locks       storage.RoundLockStore
	positions   storage.PositionStore
	archive     storage.SettlementArchive
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	addr := flag.String("addr", envOr("HTTP_ADDR", ":8080"), "HTTP listen address")
	useMemory := flag.Bool("use-memory", os.Getenv("USE_MEMORY") != "", "Use in-memory storage instead of PostgreSQL")
	watchClaims := flag.Bool("watch-claims", os.Getenv("WATCH_CLAIMS") != "", "Subscribe to on-chain claim events")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if err := cfg.CheckTreasuryLock(); err != nil {
		logger.Fatalf("refusing to start: %v", err)
	}
	if !*useMemory && cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required (or set --use-memory)")
	}
	if cfg.RPCEndpoint == "" {
		logger.Fatal("SOLANA_RPC_ENDPOINT is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createLedger(ctx, cfg, *useMemory)
	if err != nil {
		logger.Fatalf("create ledger: %v", err)
	}
	defer cleanup()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
	}

	metrics := observability.NewMetrics("pancho_pvp")

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
		Rounds:           stores.rounds,
		Entries:          stores.entries,
		Settlements:      stores.settlements,
		Receipts:         stores.receipts,
		Locks:            stores.locks,
		Archive:          stores.archive,
		Oracle:           oraclePort,
		Facility:         settlement.NewSimFacility(),
		Markets:          cfg.Markets,
		Sink:             sink,
		Metrics:          metrics,
		FeeBps:           cfg.FeeBps,
		TreasuryWallet:   cfg.TreasuryWallet,
		ExpectedTreasury: cfg.ExpectedTreasuryWallet,
		LockTTL:          cfg.RoundLockTTL,
		RoundConfig:      roundCfg,
		Logger:           log.New(os.Stdout, "[settlement] ", log.LstdFlags|log.Lshortfile),
	})

	joinHandler := join.NewHandler(join.Options{
		Config:    cfg,
		Entries:   stores.entries,
		Rounds:    stores.rounds,
		RateStore: joinRateStore(redisClient),
		RPC:       depositRPC(rpc, cfg),
		Escrow:    cfg.EscrowWallet,
		Logger:    log.New(os.Stdout, "[join] ", log.LstdFlags|log.Lshortfile),
	})

	keep := keeper.New(keeper.Options{
		Rounds:       stores.rounds,
		Entries:      stores.entries,
		Oracle:       oraclePort,
		Engine:       engine,
		Markets:      cfg.Markets,
		Sink:         sink,
		RoundConfig:  roundCfg,
		Interval:     cfg.KeeperInterval,
		SettlePaused: settlePausedGate(cfg),
		Metrics:      metrics,
		Logger:       log.New(os.Stdout, "[keeper] ", log.LstdFlags|log.Lshortfile),
	})

	apiServer := api.NewServer(api.Options{
		Config:  cfg,
		Joins:   joinHandler,
		Engine:  engine,
		Rounds:  stores.rounds,
		Oracle:  oraclePort,
		Redis:   redisClient,
		Metrics: metrics,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           apiServer.Router(observability.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)

	go func() {
		logger.Printf("HTTP listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	go func() {
		if err := keep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("keeper: %w", err)
		}
	}()

	if *watchClaims {
		if cfg.WSEndpoint == "" {
			logger.Fatal("SOLANA_WS_ENDPOINT is required with --watch-claims")
		}
		ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, nil)
		if err != nil {
			logger.Fatalf("connect websocket: %v", err)
		}
		defer ws.Close()

		watcher := claims.NewWatcher(claims.Options{
			WS:        ws,
			Positions: stores.positions,
			Markets:   cfg.Markets,
			Config:    roundCfg,
			Logger:    log.New(os.Stdout, "[claims] ", log.LstdFlags|log.Lshortfile),
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("claims watcher: %w", err)
			}
		}()
	}

	// Two-stage shutdown: first signal drains gracefully, second forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("received %v, shutting down", sig)
	case err := <-errCh:
		logger.Printf("fatal: %v", err)
	}

	go func() {
		<-sigCh
		logger.Println("second signal, forcing exit")
		os.Exit(1)
	}()

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	logger.Println("shutdown complete")
}

// createLedger builds the store set: in-memory, or Postgres as the source
// of truth with an optional ClickHouse archive.
func createLedger(ctx context.Context, cfg *config.Config, useMemory bool) (*ledger, func(), error) {
	if useMemory {
		return &ledger{
			entries:     memory.NewEntryStore(),
			rounds:      memory.NewRoundStore(),
			settlements: memory.NewSettlementStore(),
			receipts:    memory.NewReceiptStore(),
			locks:       memory.NewRoundLockStore(),
			positions:   memory.NewPositionStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	stores := &ledger{
		entries:     pgstore.NewEntryStore(pool),
		rounds:      pgstore.NewRoundStore(pool),
		settlements: pgstore.NewSettlementStore(pool),
		receipts:    pgstore.NewReceiptStore(pool),
		locks:       pgstore.NewRoundLockStore(pool),
		positions:   pgstore.NewPositionStore(pool),
	}
	cleanup := func() { pool.Close() }

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := chstore.EnsureSchema(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, err
		}
		stores.archive = chstore.NewSettlementArchive(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// settlePausedGate folds both settle gates: the global pause, and the
// simulated-settlement pause which applies because transfers here run
// through the sim facility.
func settlePausedGate(cfg *config.Config) func() bool {
	return func() bool {
		g := cfg.Gates()
		return g.SettlePaused || g.SimSettlePaused
	}
}

// joinRateStore shares counters through Redis when configured; otherwise
// limits are per-replica.
func joinRateStore(rdb *redis.Client) ratelimit.Store {
	if rdb != nil {
		return ratelimit.NewRedisStore(rdb)
	}
	return ratelimit.NewMemoryStore()
}

// depositRPC enables escrow deposit verification only when an escrow wallet
// is configured (server-custody mode).
func depositRPC(rpc solana.RPCClient, cfg *config.Config) solana.RPCClient {
	if cfg.EscrowWallet == "" {
		return nil
	}
	return rpc
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
