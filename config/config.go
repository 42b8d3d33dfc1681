package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL string

	// Solana configuration
	SolanaRPCURL    string
	VaultAddress    string
	VaultPrivateKey string
	SettlementMint  string

	// NATS configuration
	NATSURL string

	// Economy configuration
	MinWithdrawal         int64   // minimum withdrawal in base units
	RakeBps               int64   // platform fee in basis points of the pot
	TieRoiTolerance       float64 // |roi1 - roi2| below this is a tie
	InitialVirtualBalance float64 // virtual portfolio each player trades with

	// Loop cadences
	MatchTick         time.Duration
	SettleSweep       time.Duration
	ReconcileInterval time.Duration

	// Challenge / forfeit timing
	ChallengeTTL time.Duration
	ForfeitGrace time.Duration

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		SolanaRPCURL:    os.Getenv("SOLANA_RPC_URL"),
		VaultAddress:    os.Getenv("VAULT_ADDRESS"),
		VaultPrivateKey: os.Getenv("VAULT_PRIVATE_KEY"),
		SettlementMint:  os.Getenv("SETTLEMENT_MINT"),

		NATSURL: os.Getenv("NATS_URL"),

		// Economy defaults; deployment configuration, not protocol constants
		MinWithdrawal:         1_000_000, // 1 USDC
		RakeBps:               500,       // 5%
		TieRoiTolerance:       0.0001,
		InitialVirtualBalance: 10_000,

		MatchTick:         500 * time.Millisecond,
		SettleSweep:       5 * time.Second,
		ReconcileInterval: 60 * time.Second,

		ChallengeTTL: 10 * time.Minute,
		ForfeitGrace: 30 * time.Second,

		Environment: os.Getenv("ENVIRONMENT"),
	}

	if v := os.Getenv("MIN_WITHDRAWAL"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.MinWithdrawal = parsed
		}
	}
	if v := os.Getenv("RAKE_BPS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.RakeBps = parsed
		}
	}
	if v := os.Getenv("TIE_ROI_TOLERANCE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			config.TieRoiTolerance = parsed
		}
	}
	if v := os.Getenv("INITIAL_VIRTUAL_BALANCE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			config.InitialVirtualBalance = parsed
		}
	}
	if v := os.Getenv("MATCH_TICK_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			config.MatchTick = time.Duration(parsed) * time.Millisecond
		}
	}
	if v := os.Getenv("SETTLE_SWEEP_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			config.SettleSweep = time.Duration(parsed) * time.Second
		}
	}
	if v := os.Getenv("RECONCILE_INTERVAL_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			config.ReconcileInterval = time.Duration(parsed) * time.Second
		}
	}
	if v := os.Getenv("CHALLENGE_TTL_MINUTES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			config.ChallengeTTL = time.Duration(parsed) * time.Minute
		}
	}
	if v := os.Getenv("FORFEIT_GRACE_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			config.ForfeitGrace = time.Duration(parsed) * time.Second
		}
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		// Validate required configuration
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if config.SolanaRPCURL == "" {
			return nil, fmt.Errorf("SOLANA_RPC_URL is required")
		}
		if config.VaultAddress == "" {
			return nil, fmt.Errorf("VAULT_ADDRESS is required")
		}
	}

	return config, nil
}
