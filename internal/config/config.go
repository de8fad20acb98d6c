package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Economy  EconomyConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration. When Enabled is
// false the service runs entirely in memory and skips the document store.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// EconomyConfig is the tuning surface of the apartment economy: ownership
// limits, tax collection, income accrual, and the auction house.
type EconomyConfig struct {
	// MaxPropertiesPerAccount is the base ownership limit before the
	// extra-slots buff is applied.
	MaxPropertiesPerAccount int
	// ResaleRate is the fraction of the purchase price refunded when an
	// owner sells a property back to the pool.
	ResaleRate float64

	Tax     TaxConfig
	Income  IncomeConfig
	Auction AuctionConfig

	// Levels defines per-level income ranges and upgrade costs, indexed by
	// level 1..5. Not environment-tunable; see DefaultLevels.
	Levels []LevelTier

	// FlushInterval is how often dirty entities are written to the
	// persistence gateway.
	FlushInterval time.Duration
}

// TaxConfig drives the tax engine.
type TaxConfig struct {
	// TickInterval is how often the tax engine runs its logical day.
	TickInterval time.Duration
	// GracePeriod is how long an invoice may stay unpaid past creation
	// before auto-collection is attempted and the property goes inactive.
	GracePeriod time.Duration
	// InactiveGracePeriod is how long a property may stay inactive before
	// it is repossessed.
	InactiveGracePeriod time.Duration
	// PenaltyRate is the fraction of the property price added to the
	// accrued penalty once per tax period while overdue.
	PenaltyRate float64
}

// IncomeConfig drives the income engine.
type IncomeConfig struct {
	TickInterval time.Duration
	// Capacity caps pending income per property; 0 means uncapped. The
	// income-capacity buff raises the effective cap per owner.
	Capacity int64
}

// AuctionConfig drives the auction house.
type AuctionConfig struct {
	// CreationFee is charged to the seller before an auction opens,
	// reduced by the auction-fee buff. Non-refundable.
	CreationFee int64
	// MinIncrement is the minimum raise over the current bid.
	MinIncrement int64
	// CommissionRate is the fraction of the winning bid withheld from the
	// seller payout, reduced by the commission buff.
	CommissionRate float64
	// DefaultDuration applies when a seller does not pick one; MaxDuration
	// bounds the total auction length including anti-sniping extensions.
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	// SnipeWindow and SnipeExtension implement anti-sniping: a bid landing
	// within SnipeWindow of the end pushes the end out by SnipeExtension.
	SnipeWindow    time.Duration
	SnipeExtension time.Duration
	// CreationCooldown throttles how often one seller may open auctions.
	CreationCooldown time.Duration
	// SweepInterval is how often ended auctions are settled.
	SweepInterval time.Duration
}

// LevelTier describes one apartment level: the income range drawn per tick
// and what it costs to upgrade into this tier from the one below.
type LevelTier struct {
	Level       int
	MinIncome   int64
	MaxIncome   int64
	UpgradeCost int64
}

// DefaultLevels returns the built-in level table. Level 1 has no upgrade
// cost because properties start there.
func DefaultLevels() []LevelTier {
	return []LevelTier{
		{Level: 1, MinIncome: 50, MaxIncome: 100, UpgradeCost: 0},
		{Level: 2, MinIncome: 90, MaxIncome: 170, UpgradeCost: 2500},
		{Level: 3, MinIncome: 150, MaxIncome: 260, UpgradeCost: 6000},
		{Level: 4, MinIncome: 230, MaxIncome: 380, UpgradeCost: 12000},
		{Level: 5, MinIncome: 340, MaxIncome: 550, UpgradeCost: 25000},
	}
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()
	// An explicitly empty variable overrides its default.
	v.AllowEmptyEnv(true)

	// Server and infrastructure defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "estates")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Economy defaults
	v.SetDefault("ECONOMY_MAX_PROPERTIES", 3)
	v.SetDefault("ECONOMY_RESALE_RATE", 0.7)
	v.SetDefault("ECONOMY_FLUSH_SECONDS", 60)
	v.SetDefault("TAX_TICK_HOURS", 24)
	v.SetDefault("TAX_GRACE_DAYS", 3)
	v.SetDefault("TAX_INACTIVE_GRACE_DAYS", 3)
	v.SetDefault("TAX_PENALTY_RATE", 0.25)
	v.SetDefault("INCOME_TICK_MINUTES", 60)
	v.SetDefault("INCOME_CAPACITY", 5000)
	v.SetDefault("AUCTION_CREATION_FEE", 250)
	v.SetDefault("AUCTION_MIN_INCREMENT", 100)
	v.SetDefault("AUCTION_COMMISSION_RATE", 0.05)
	v.SetDefault("AUCTION_DEFAULT_DURATION_HOURS", 24)
	v.SetDefault("AUCTION_MAX_DURATION_HOURS", 72)
	v.SetDefault("AUCTION_SNIPE_WINDOW_MINUTES", 5)
	v.SetDefault("AUCTION_SNIPE_EXTENSION_MINUTES", 5)
	v.SetDefault("AUCTION_COOLDOWN_MINUTES", 30)
	v.SetDefault("AUCTION_SWEEP_SECONDS", 30)

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Economy: EconomyConfig{
			MaxPropertiesPerAccount: v.GetInt("ECONOMY_MAX_PROPERTIES"),
			ResaleRate:              v.GetFloat64("ECONOMY_RESALE_RATE"),
			FlushInterval:           time.Duration(v.GetInt("ECONOMY_FLUSH_SECONDS")) * time.Second,
			Tax: TaxConfig{
				TickInterval:        time.Duration(v.GetInt("TAX_TICK_HOURS")) * time.Hour,
				GracePeriod:         time.Duration(v.GetInt("TAX_GRACE_DAYS")) * 24 * time.Hour,
				InactiveGracePeriod: time.Duration(v.GetInt("TAX_INACTIVE_GRACE_DAYS")) * 24 * time.Hour,
				PenaltyRate:         v.GetFloat64("TAX_PENALTY_RATE"),
			},
			Income: IncomeConfig{
				TickInterval: time.Duration(v.GetInt("INCOME_TICK_MINUTES")) * time.Minute,
				Capacity:     v.GetInt64("INCOME_CAPACITY"),
			},
			Auction: AuctionConfig{
				CreationFee:      v.GetInt64("AUCTION_CREATION_FEE"),
				MinIncrement:     v.GetInt64("AUCTION_MIN_INCREMENT"),
				CommissionRate:   v.GetFloat64("AUCTION_COMMISSION_RATE"),
				DefaultDuration:  time.Duration(v.GetInt("AUCTION_DEFAULT_DURATION_HOURS")) * time.Hour,
				MaxDuration:      time.Duration(v.GetInt("AUCTION_MAX_DURATION_HOURS")) * time.Hour,
				SnipeWindow:      time.Duration(v.GetInt("AUCTION_SNIPE_WINDOW_MINUTES")) * time.Minute,
				SnipeExtension:   time.Duration(v.GetInt("AUCTION_SNIPE_EXTENSION_MINUTES")) * time.Minute,
				CreationCooldown: time.Duration(v.GetInt("AUCTION_COOLDOWN_MINUTES")) * time.Minute,
				SweepInterval:    time.Duration(v.GetInt("AUCTION_SWEEP_SECONDS")) * time.Second,
			},
			Levels: DefaultLevels(),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Server.Env == "" {
		return fmt.Errorf("ENV is required")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Port == "" {
			return fmt.Errorf("DB_PORT is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required")
		}
		if c.Database.PoolMin < 0 {
			return fmt.Errorf("DB_POOL_MIN must be non-negative")
		}
		if c.Database.PoolMax < 1 {
			return fmt.Errorf("DB_POOL_MAX must be at least 1")
		}
		if c.Database.PoolMin > c.Database.PoolMax {
			return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
		}
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	return c.Economy.Validate()
}

// Validate checks the economy tuning values.
func (c *EconomyConfig) Validate() error {
	if c.MaxPropertiesPerAccount < 1 {
		return fmt.Errorf("ECONOMY_MAX_PROPERTIES must be at least 1")
	}
	if c.ResaleRate <= 0 || c.ResaleRate > 1 {
		return fmt.Errorf("ECONOMY_RESALE_RATE must be in (0, 1]")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("ECONOMY_FLUSH_SECONDS must be positive")
	}
	if c.Tax.TickInterval <= 0 {
		return fmt.Errorf("TAX_TICK_HOURS must be positive")
	}
	if c.Tax.GracePeriod <= 0 {
		return fmt.Errorf("TAX_GRACE_DAYS must be positive")
	}
	if c.Tax.InactiveGracePeriod <= 0 {
		return fmt.Errorf("TAX_INACTIVE_GRACE_DAYS must be positive")
	}
	if c.Tax.PenaltyRate < 0 || c.Tax.PenaltyRate > 1 {
		return fmt.Errorf("TAX_PENALTY_RATE must be in [0, 1]")
	}
	if c.Income.TickInterval <= 0 {
		return fmt.Errorf("INCOME_TICK_MINUTES must be positive")
	}
	if c.Income.Capacity < 0 {
		return fmt.Errorf("INCOME_CAPACITY must be non-negative")
	}
	if c.Auction.CreationFee < 0 {
		return fmt.Errorf("AUCTION_CREATION_FEE must be non-negative")
	}
	if c.Auction.MinIncrement < 1 {
		return fmt.Errorf("AUCTION_MIN_INCREMENT must be at least 1")
	}
	if c.Auction.CommissionRate < 0 || c.Auction.CommissionRate > 1 {
		return fmt.Errorf("AUCTION_COMMISSION_RATE must be in [0, 1]")
	}
	if c.Auction.DefaultDuration <= 0 || c.Auction.MaxDuration <= 0 {
		return fmt.Errorf("auction durations must be positive")
	}
	if c.Auction.DefaultDuration > c.Auction.MaxDuration {
		return fmt.Errorf("AUCTION_DEFAULT_DURATION_HOURS must not exceed AUCTION_MAX_DURATION_HOURS")
	}
	if c.Auction.SweepInterval <= 0 {
		return fmt.Errorf("AUCTION_SWEEP_SECONDS must be positive")
	}
	if len(c.Levels) == 0 {
		return fmt.Errorf("level table must not be empty")
	}
	for i, tier := range c.Levels {
		if tier.Level != i+1 {
			return fmt.Errorf("level table must be contiguous from 1, got level %d at index %d", tier.Level, i)
		}
		if tier.MinIncome < 0 || tier.MaxIncome < tier.MinIncome {
			return fmt.Errorf("level %d income range is invalid", tier.Level)
		}
	}
	return nil
}

// Tier returns the level tier for the given level, or false when the level
// is outside the table.
func (c *EconomyConfig) Tier(level int) (LevelTier, bool) {
	if level < 1 || level > len(c.Levels) {
		return LevelTier{}, false
	}
	return c.Levels[level-1], true
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
