// Package config loads the environment-driven configuration once into an
// immutable Config that is threaded through handlers and the keeper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pancho-pvp/internal/domain"
)

// maxFeeBps is the protocol bound enforced at config load, matching the
// on-chain program's initialize_config guard.
const maxFeeBps = 1500

// RateBucket is one fixed-window rate limit.
type RateBucket struct {
	Limit  int
	Window time.Duration
}

// Gates is the typed view of the global pause flags.
type Gates struct {
	JoinsPaused     bool
	SettlePaused    bool
	SimSettlePaused bool
}

// Config is the immutable runtime configuration.
type Config struct {
	FeeBps          uint16
	OpenSeconds     int64
	LockSeconds     int64
	SettleSeconds   int64
	OracleMaxAgeSec int64

	KeeperInterval   time.Duration
	MinCreationSlack int64 // seconds before lock_ts after which creation is refused
	LockGraceSeconds int64
	RoundLockTTL     time.Duration
	StatusCacheTTL   time.Duration

	PauseJoins     bool
	PauseSettle    bool
	PauseSimSettle bool

	// TreasuryWallet receives protocol fees. ExpectedTreasuryWallet, when
	// set, is a hard lock: keepers and settlers abort if the two differ.
	TreasuryWallet         string
	ExpectedTreasuryWallet string
	EscrowWallet           string
	SettleKey              string

	PostgresDSN   string
	ClickhouseDSN string
	RedisURL      string
	RPCEndpoint   string
	WSEndpoint    string

	StakeTiersLamports []uint64

	JoinIPBucket     RateBucket
	JoinWalletBucket RateBucket

	Markets *domain.MarketRegistry
}

// Load reads the environment (and .env if present) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		FeeBps:          uint16(envInt("FEE_BPS", 600)),
		OpenSeconds:     envInt64("OPEN_SECONDS", 60),
		LockSeconds:     envInt64("LOCK_SECONDS", 60),
		SettleSeconds:   envInt64("SETTLE_SECONDS", 300),
		OracleMaxAgeSec: envInt64("ORACLE_MAX_AGE_SEC", 120),

		KeeperInterval:   time.Duration(envInt64("KEEPER_INTERVAL_MS", 4000)) * time.Millisecond,
		MinCreationSlack: envInt64("MIN_CREATION_SLACK_SEC", 5),
		LockGraceSeconds: envInt64("LOCK_GRACE_SEC", 45),
		RoundLockTTL:     time.Duration(envInt64("ROUND_LOCK_TTL_MIN", 15)) * time.Minute,
		StatusCacheTTL:   time.Duration(envInt64("STATUS_CACHE_MS", 2000)) * time.Millisecond,

		PauseJoins:     envBool("PAUSE_JOINS"),
		PauseSettle:    envBool("PAUSE_SETTLE"),
		PauseSimSettle: envBool("PAUSE_SIM_SETTLE"),

		TreasuryWallet:         os.Getenv("TREASURY_WALLET"),
		ExpectedTreasuryWallet: os.Getenv("EXPECTED_TREASURY_WALLET"),
		EscrowWallet:           os.Getenv("ESCROW_WALLET"),
		SettleKey:              os.Getenv("SETTLE_KEY"),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN: os.Getenv("CLICKHOUSE_DSN"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RPCEndpoint:   os.Getenv("SOLANA_RPC_ENDPOINT"),
		WSEndpoint:    os.Getenv("SOLANA_WS_ENDPOINT"),

		JoinIPBucket: RateBucket{
			Limit:  envInt("JOIN_IP_LIMIT", 10),
			Window: time.Duration(envInt64("JOIN_IP_WINDOW_MS", 60_000)) * time.Millisecond,
		},
		JoinWalletBucket: RateBucket{
			Limit:  envInt("JOIN_WALLET_LIMIT", 5),
			Window: time.Duration(envInt64("JOIN_WALLET_WINDOW_MS", 60_000)) * time.Millisecond,
		},
	}

	tiers, err := parseTiers(os.Getenv("STAKE_TIERS_LAMPORTS"))
	if err != nil {
		return nil, err
	}
	cfg.StakeTiersLamports = tiers

	markets, err := defaultMarkets()
	if err != nil {
		return nil, err
	}
	cfg.Markets = markets

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FeeBps > maxFeeBps {
		return fmt.Errorf("config: FEE_BPS %d exceeds maximum %d", c.FeeBps, maxFeeBps)
	}
	if c.OpenSeconds <= 0 {
		return fmt.Errorf("config: OPEN_SECONDS must be positive")
	}
	if c.SettleSeconds < c.OpenSeconds {
		return fmt.Errorf("config: SETTLE_SECONDS %d < OPEN_SECONDS %d", c.SettleSeconds, c.OpenSeconds)
	}
	if len(c.StakeTiersLamports) == 0 {
		return fmt.Errorf("config: empty stake tier set")
	}
	return nil
}

// Gates returns the typed pause-flag view.
func (c *Config) Gates() Gates {
	return Gates{
		JoinsPaused:     c.PauseJoins,
		SettlePaused:    c.PauseSettle,
		SimSettlePaused: c.PauseSimSettle,
	}
}

// CycleSeconds is the round-start alignment modulus.
func (c *Config) CycleSeconds() int64 {
	return c.OpenSeconds + c.LockSeconds
}

// ValidTier reports whether a stake belongs to the enumerated tier set.
func (c *Config) ValidTier(lamports uint64) bool {
	for _, t := range c.StakeTiersLamports {
		if t == lamports {
			return true
		}
	}
	return false
}

// CheckTreasuryLock enforces the EXPECTED_TREASURY_WALLET hard lock.
func (c *Config) CheckTreasuryLock() error {
	if c.ExpectedTreasuryWallet != "" && c.TreasuryWallet != c.ExpectedTreasuryWallet {
		return fmt.Errorf("config: treasury %s does not match expected %s",
			c.TreasuryWallet, c.ExpectedTreasuryWallet)
	}
	return nil
}

func parseTiers(raw string) ([]uint64, error) {
	if raw == "" {
		// Default tiers: 0.01, 0.05, 0.1, 0.5, 1 SOL.
		return []uint64{10_000_000, 50_000_000, 100_000_000, 500_000_000, 1_000_000_000}, nil
	}

	var out []uint64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("config: bad stake tier %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func envInt(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "on", "true", "yes":
		return true
	default:
		return false
	}
}
