package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"pancho-pvp/internal/config"
	"pancho-pvp/internal/join"
)

// entryPayload is the wire form of an entry submission.
type entryPayload struct {
	RoundID       string  `json:"round_id"`
	Market        string  `json:"market"`
	FeedID        string  `json:"feed_id"`
	RoundStartMs  int64   `json:"round_start_ms"`
	RoundEndMs    int64   `json:"round_end_ms"`
	Wallet        string  `json:"wallet"`
	Direction     string  `json:"direction"`
	StakeUSD      float64 `json:"stake_usd"`
	StakeLamports uint64  `json:"stake_lamports"`
	Signature     string  `json:"signature"`
	JoinedAtMs    int64   `json:"joined_at_ms"`
	StartPrice    float64 `json:"start_price"`
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	var payload entryPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	req := &join.Request{
		RoundID:       payload.RoundID,
		Market:        payload.Market,
		FeedID:        payload.FeedID,
		RoundStartMs:  payload.RoundStartMs,
		RoundEndMs:    payload.RoundEndMs,
		Wallet:        payload.Wallet,
		Direction:     payload.Direction,
		StakeUSD:      payload.StakeUSD,
		StakeLamports: payload.StakeLamports,
		Signature:     payload.Signature,
		JoinedAtMs:    payload.JoinedAtMs,
		StartPrice:    payload.StartPrice,
	}

	created, err := s.joins.Handle(r.Context(), req, clientIP(r))
	if err != nil {
		var vErr *join.ValidationError
		var rlErr *join.RateLimitError
		switch {
		case errors.Is(err, join.ErrPaused):
			writeError(w, http.StatusServiceUnavailable, "joins paused")
		case errors.As(err, &vErr):
			if s.metrics != nil {
				s.metrics.JoinsRejected.WithLabelValues("validation").Inc()
			}
			writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.As(err, &rlErr):
			if s.metrics != nil {
				s.metrics.JoinRateLimited.WithLabelValues(rlErr.Scope).Inc()
			}
			retrySec := int(rlErr.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retrySec))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":         "rate limited",
				"scope":         rlErr.Scope,
				"retryAfterSec": retrySec,
			})
		default:
			s.logger.Printf("entries: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if created && s.metrics != nil {
		s.metrics.EntriesCreated.WithLabelValues(payload.Market, payload.Direction).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "created": created})
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("market")
	market := s.cfg.Markets.Get(symbol)
	if market == nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown market %q", symbol))
		return
	}

	now := s.now()
	snap, err := s.oracle.PriceAt(r.Context(), market, now.Unix())
	if err != nil {
		s.logger.Printf("oracle %s: %v", symbol, err)
		writeError(w, http.StatusInternalServerError, "oracle unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market":       market.Symbol,
		"asset":        market.Symbol,
		"source":       "pyth-legacy",
		"feed_id":      config.FeedIDHex(market),
		"price":        snap.DisplayPrice(),
		"confidence":   snap.Confidence,
		"publish_time": snap.PublishTime,
		"fetched_at":   now.UnixMilli(),
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.cfg.Gates().SettlePaused {
		writeError(w, http.StatusServiceUnavailable, "settlement paused")
		return
	}

	settled, err := s.engine.SettleDueRounds(r.Context(), s.now())
	if err != nil {
		s.logger.Printf("settle: %v", err)
		writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}
	if settled == nil {
		settled = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settled": settled})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cachedStatus(r.Context()))
}

// handleOpsHealth is the authenticated status view with bounded detail.
func (s *Server) handleOpsHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	p := s.computeStatus(r.Context())

	due, err := s.rounds.GetDue(r.Context(), s.now().Unix(), 20)
	var dueIDs []string
	if err == nil {
		for _, d := range due {
			dueIDs = append(dueIDs, d.ID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                    p.OK,
		"status":                p.Status,
		"joins_paused":          p.JoinsPaused,
		"settlement_paused":     p.SettlementPaused,
		"pending_due_rounds":    p.PendingDueRounds,
		"max_settlement_lag_ms": p.MaxSettlementLag,
		"updated_at_ms":         p.UpdatedAtMs,
		"due_rounds":            dueIDs,
	})
}

// clientIP extracts the caller address; chi's RealIP middleware has already
// folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
