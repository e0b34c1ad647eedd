package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config holds the process configuration parsed from the environment.
type Config struct {
	DatabaseURL   string        `env:"DATABASE_URL,required"`
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret     string        `env:"JWT_SECRET,required"`
	ArbitratorIDs []string      `env:"ARBITRATOR_IDS" envSeparator:","`
	MaxDealAmount string        `env:"MAX_DEAL_AMOUNT" envDefault:"100000.00"`
	DraftTTL      time.Duration `env:"DRAFT_TTL" envDefault:"30m"`

	// ProvisionToken authorizes the operator register and party token
	// endpoints used by deployment tooling and the chat gateway. When
	// empty, both endpoints are disabled.
	ProvisionToken string `env:"PROVISION_TOKEN"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if _, err := decimal.NewFromString(cfg.MaxDealAmount); err != nil {
		return Config{}, fmt.Errorf("config: invalid MAX_DEAL_AMOUNT %q: %w", cfg.MaxDealAmount, err)
	}
	return cfg, nil
}

// MaxAmount returns the configured per-deal amount bound.
func (c Config) MaxAmount() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxDealAmount)
	if err != nil {
		// validated in Load
		panic(err)
	}
	return d
}

// Arbiters is the set of party identifiers authorized to act as arbitrator.
type Arbiters map[string]struct{}

// NewArbiters builds an Arbiters set from a list of party identifiers.
func NewArbiters(ids []string) Arbiters {
	set := make(Arbiters, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Contains reports whether the given party identifier is an arbitrator.
func (a Arbiters) Contains(partyID string) bool {
	_, ok := a[partyID]
	return ok
}
