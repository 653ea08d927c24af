// Package api exposes the HTTP surface: entry submission, oracle
// snapshots, the settlement trigger, public status and ops health.
package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"pancho-pvp/internal/config"
	"pancho-pvp/internal/join"
	"pancho-pvp/internal/observability"
	"pancho-pvp/internal/oracle"
	"pancho-pvp/internal/settlement"
	"pancho-pvp/internal/storage"
)

// Server wires the HTTP handlers to the engine components.
type Server struct {
	cfg    *config.Config
	joins  *join.Handler
	engine *settlement.Engine
	rounds storage.RoundStore
	oracle oracle.Port

	// redis optionally shares the public status cache across replicas.
	redis   *redis.Client
	metrics *observability.Metrics

	logger *log.Logger
	now    func() time.Time

	statusMu sync.Mutex
	statusAt time.Time
	status   *statusPayload
}

// Options configures the Server.
type Options struct {
	Config *config.Config
	Joins  *join.Handler
	Engine *settlement.Engine
	Rounds  storage.RoundStore
	Oracle  oracle.Port
	Redis   *redis.Client
	Metrics *observability.Metrics
	Logger  *log.Logger
	Clock   func() time.Time
}

// NewServer creates an API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Server{
		cfg:     opts.Config,
		joins:   opts.Joins,
		engine:  opts.Engine,
		rounds:  opts.Rounds,
		oracle:  opts.Oracle,
		redis:   opts.Redis,
		metrics: opts.Metrics,
		logger:  logger,
		now:     now,
	}
}

// Router builds the chi router.
func (s *Server) Router(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Post("/entries", s.handleEntries)
	r.Get("/oracle", s.handleOracle)
	r.Post("/settle", s.handleSettle)
	r.Get("/status", s.handleStatus)
	r.Get("/ops/health", s.handleOpsHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}

// authorized compares the presented key against the configured secret in
// constant time. Hashing first makes the comparison length-independent.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.SettleKey == "" {
		return false
	}
	got := sha256.Sum256([]byte(r.Header.Get("x-settle-key")))
	want := sha256.Sum256([]byte(s.cfg.SettleKey))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// statusPayload is the public status document.
type statusPayload struct {
	OK               bool   `json:"ok"`
	Status           string `json:"status"`
	JoinsPaused      bool   `json:"joins_paused"`
	SettlementPaused bool   `json:"settlement_paused"`
	PendingDueRounds int    `json:"pending_due_rounds"`
	MaxSettlementLag int64  `json:"max_settlement_lag_ms"`
	UpdatedAtMs      int64  `json:"updated_at_ms"`
}

const statusRedisKey = "pvp:status:public"

// computeStatus scans a bounded batch of due rounds.
func (s *Server) computeStatus(ctx context.Context) *statusPayload {
	now := s.now()
	gates := s.cfg.Gates()

	p := &statusPayload{
		OK:               true,
		Status:           "ok",
		JoinsPaused:      gates.JoinsPaused,
		SettlementPaused: gates.SettlePaused,
		UpdatedAtMs:      now.UnixMilli(),
	}

	due, err := s.rounds.GetDue(ctx, now.Unix(), 100)
	if err != nil {
		s.logger.Printf("status: due scan: %v", err)
		p.Status = "degraded"
		return p
	}

	p.PendingDueRounds = len(due)
	if len(due) > 0 {
		p.MaxSettlementLag = now.UnixMilli() - due[0].EndTS*1000
	}
	if s.metrics != nil {
		s.metrics.PendingDueRounds.Set(float64(p.PendingDueRounds))
		s.metrics.SettlementLagMs.Set(float64(p.MaxSettlementLag))
	}

	switch {
	case gates.JoinsPaused || gates.SettlePaused:
		p.Status = "paused"
	case p.MaxSettlementLag > 60_000 || p.PendingDueRounds > 25:
		p.Status = "degraded"
	}
	return p
}

// cachedStatus serves the status document from the in-process cache, the
// shared Redis cache, or a fresh scan, in that order.
func (s *Server) cachedStatus(ctx context.Context) *statusPayload {
	ttl := s.cfg.StatusCacheTTL

	s.statusMu.Lock()
	if s.status != nil && s.now().Sub(s.statusAt) < ttl {
		p := *s.status
		s.statusMu.Unlock()
		return &p
	}
	s.statusMu.Unlock()

	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, statusRedisKey).Bytes(); err == nil {
			var p statusPayload
			if json.Unmarshal(raw, &p) == nil {
				s.rememberStatus(&p)
				return &p
			}
		}
	}

	p := s.computeStatus(ctx)
	s.rememberStatus(p)
	if s.redis != nil {
		if raw, err := json.Marshal(p); err == nil {
			s.redis.Set(ctx, statusRedisKey, raw, ttl)
		}
	}
	return p
}

func (s *Server) rememberStatus(p *statusPayload) {
	s.statusMu.Lock()
	cp := *p
	s.status = &cp
	s.statusAt = s.now()
	s.statusMu.Unlock()
}
