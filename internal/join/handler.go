// Package join validates entry submissions and appends them to the ledger
// with replay-safe identity.
package join

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pancho-pvp/internal/config"
	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/idhash"
	"pancho-pvp/internal/ratelimit"
	"pancho-pvp/internal/solana"
	"pancho-pvp/internal/storage"
)

// Request is one parsed entry submission.
type Request struct {
	RoundID       string
	Market        string
	FeedID        string
	RoundStartMs  int64
	RoundEndMs    int64
	Wallet        string
	Direction     string
	StakeUSD      float64
	StakeLamports uint64
	Signature     string
	JoinedAtMs    int64 // client stamp; feeds the simulation identity, never the ledger's joined_at
	StartPrice    float64
}

// Handler validates submissions and inserts entries.
type Handler struct {
	cfg     *config.Config
	entries storage.EntryStore
	rounds  storage.RoundStore

	ipLimiter     *ratelimit.Limiter
	walletLimiter *ratelimit.Limiter

	// rpc verifies escrow deposits in server-custody mode; nil disables
	// deposit verification (simulation custody).
	rpc    solana.RPCClient
	escrow string

	joinsPaused func() bool
	logger      *log.Logger
	now         func() time.Time
}

// Options configures the Handler.
type Options struct {
	Config  *config.Config
	Entries storage.EntryStore
	Rounds  storage.RoundStore

	RateStore ratelimit.Store

	RPC    solana.RPCClient
	Escrow string

	JoinsPaused func() bool
	Logger      *log.Logger
	Clock       func() time.Time
}

// NewHandler creates a join handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	rateStore := opts.RateStore
	if rateStore == nil {
		rateStore = ratelimit.NewMemoryStore()
	}
	joinsPaused := opts.JoinsPaused
	if joinsPaused == nil {
		joinsPaused = func() bool { return opts.Config.PauseJoins }
	}

	ip := opts.Config.JoinIPBucket
	wallet := opts.Config.JoinWalletBucket

	return &Handler{
		cfg:           opts.Config,
		entries:       opts.Entries,
		rounds:        opts.Rounds,
		ipLimiter:     ratelimit.NewLimiter(rateStore, "join:ip", ip.Limit, ip.Window),
		walletLimiter: ratelimit.NewLimiter(rateStore, "join:wallet", wallet.Limit, wallet.Window),
		rpc:           opts.RPC,
		escrow:        opts.Escrow,
		joinsPaused:   joinsPaused,
		logger:        logger,
		now:           now,
	}
}

// Handle processes one submission. joined_at is the server-received time,
// never the client's. Returns whether a new entry was created; a replayed
// identity is a no-op success with created=false.
func (h *Handler) Handle(ctx context.Context, req *Request, ip string) (created bool, err error) {
	if h.joinsPaused() {
		return false, ErrPaused
	}

	now := h.now()
	nowMs := now.UnixMilli()

	if ok, retryAfter := h.ipLimiter.Allow(ctx, ip, nowMs); !ok {
		return false, &RateLimitError{Scope: "ip", RetryAfter: retryAfter}
	}
	if ok, retryAfter := h.walletLimiter.Allow(ctx, req.Wallet, nowMs); !ok {
		return false, &RateLimitError{Scope: "wallet", RetryAfter: retryAfter}
	}

	market, side, startSec, err := h.validate(req)
	if err != nil {
		return false, err
	}

	lockTS := startSec + h.cfg.OpenSeconds
	if now.Unix() < startSec || now.Unix() >= lockTS {
		return false, Validationf("round not open: now=%d window=[%d,%d)", now.Unix(), startSec, lockTS)
	}

	if err := h.ensureRound(ctx, market, startSec, nowMs); err != nil {
		return false, err
	}

	entryID := req.Signature
	if h.rpc != nil {
		if err := h.verifyDeposit(ctx, req, startSec, lockTS); err != nil {
			return false, err
		}
	} else if entryID == "" {
		// Simulation custody: no deposit signature exists. A client that
		// stamps joined_at_ms gets a deterministic identity so its retries
		// dedupe; otherwise the entry is server-assigned.
		if req.JoinedAtMs != 0 {
			entryID = idhash.ComputeEntryID(req.RoundID, req.Wallet, uint8(side), req.StakeLamports, req.JoinedAtMs)
		} else {
			entryID = uuid.New().String()
		}
	}
	if entryID == "" {
		return false, Validationf("missing deposit signature")
	}

	entry := &domain.Entry{
		ID:            entryID,
		RoundID:       req.RoundID,
		Market:        market.Symbol,
		Wallet:        req.Wallet,
		Side:          side,
		StakeLamports: req.StakeLamports,
		StakeUSD:      req.StakeUSD,
		JoinedAtMs:    nowMs,
		CreatedAtMs:   nowMs,
	}

	if err := h.entries.Insert(ctx, entry); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return false, nil
		}
		return false, fmt.Errorf("insert entry: %w", err)
	}

	h.logger.Printf("entry %s: %s %s %d lamports on %s", entry.ID, req.Wallet, side, req.StakeLamports, req.RoundID)
	return true, nil
}

// validate checks everything about the payload that does not require I/O.
func (h *Handler) validate(req *Request) (*domain.Market, domain.Side, int64, error) {
	market := h.cfg.Markets.Get(req.Market)
	if market == nil {
		return nil, domain.SideNone, 0, Validationf("unknown market %q", req.Market)
	}
	if !strings.EqualFold(req.FeedID, config.FeedIDHex(market)) {
		return nil, domain.SideNone, 0, Validationf("feed %q does not match market %s", req.FeedID, market.Symbol)
	}

	side, err := domain.ParseSide(req.Direction)
	if err != nil {
		return nil, domain.SideNone, 0, Validationf("invalid direction %q", req.Direction)
	}

	if req.StakeLamports == 0 || !h.cfg.ValidTier(req.StakeLamports) {
		return nil, domain.SideNone, 0, Validationf("stake %d not in tier set", req.StakeLamports)
	}

	idMarket, startSec, err := domain.ParseRoundID(req.RoundID)
	if err != nil {
		return nil, domain.SideNone, 0, Validationf("%v", err)
	}
	if idMarket != market.Symbol {
		return nil, domain.SideNone, 0, Validationf("round id market %q does not match %q", idMarket, market.Symbol)
	}
	if startSec%h.cfg.CycleSeconds() != 0 {
		return nil, domain.SideNone, 0, Validationf("round start %d not cycle-aligned", startSec)
	}
	if req.RoundStartMs != startSec*1000 {
		return nil, domain.SideNone, 0, Validationf("round_start_ms %d does not match round id", req.RoundStartMs)
	}
	wantEndMs := (startSec + h.cfg.OpenSeconds + h.cfg.SettleSeconds) * 1000
	if req.RoundEndMs != wantEndMs {
		return nil, domain.SideNone, 0, Validationf("round_end_ms %d, want %d", req.RoundEndMs, wantEndMs)
	}

	if err := domain.ValidateWallet(req.Wallet); err != nil {
		return nil, domain.SideNone, 0, Validationf("%v", err)
	}

	return market, side, startSec, nil
}

// ensureRound creates the round lazily on first join. The window check has
// already passed, so creation skips the keeper's creation-slack guard.
func (h *Handler) ensureRound(ctx context.Context, market *domain.Market, startSec, nowMs int64) error {
	id := domain.FormatRoundID(market.Symbol, startSec)

	r, err := h.rounds.Get(ctx, id)
	if err == nil {
		if r.Status != domain.RoundOpen {
			return Validationf("round %s is %s", id, r.Status)
		}
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load round: %w", err)
	}

	_, err = h.rounds.Create(ctx, &domain.Round{
		ID:          id,
		Market:      market.Symbol,
		StartTS:     startSec,
		LockTS:      startSec + h.cfg.OpenSeconds,
		EndTS:       startSec + h.cfg.OpenSeconds + h.cfg.SettleSeconds,
		Status:      domain.RoundOpen,
		WinnerSide:  domain.SideNone,
		CreatedAtMs: nowMs,
	})
	if err != nil {
		return fmt.Errorf("create round: %w", err)
	}
	return nil
}

// verifyDeposit confirms the claimed stake actually arrived at the escrow:
// the transaction must be confirmed and successful, reference both wallet
// and escrow, move at least the stake to the escrow, and carry a block
// time inside the round's open window (client-provided time is never
// trusted).
func (h *Handler) verifyDeposit(ctx context.Context, req *Request, startSec, lockTS int64) error {
	if req.Signature == "" {
		return Validationf("missing deposit signature")
	}

	tx, err := h.rpc.GetTransaction(ctx, req.Signature)
	if err != nil {
		return fmt.Errorf("verify deposit: %w", err)
	}
	if tx == nil {
		return Validationf("deposit %s not found", req.Signature)
	}
	if tx.Failed {
		return Validationf("deposit %s failed on chain", req.Signature)
	}

	if tx.BlockTime < startSec || tx.BlockTime >= lockTS {
		return Validationf("deposit block time %d outside open window [%d,%d)", tx.BlockTime, startSec, lockTS)
	}

	delta, ok := tx.BalanceDelta(h.escrow)
	if !ok || delta < int64(req.StakeLamports) {
		return Validationf("deposit %s did not move %d lamports to escrow", req.Signature, req.StakeLamports)
	}

	if !memoMatches(tx.LogMessages, req.RoundID) {
		return Validationf("deposit %s memo does not reference round %s", req.Signature, req.RoundID)
	}

	fromWallet := false
	for _, key := range tx.AccountKeys {
		if key == req.Wallet {
			fromWallet = true
			break
		}
	}
	if !fromWallet {
		return Validationf("deposit %s not signed by %s", req.Signature, req.Wallet)
	}

	return nil
}

// memoMatches scans memo-program log lines for the round id.
func memoMatches(logs []string, roundID string) bool {
	for _, line := range logs {
		if strings.Contains(line, "Memo") && strings.Contains(line, roundID) {
			return true
		}
	}
	return false
}
