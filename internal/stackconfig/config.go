package stackconfig

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/escalator"
	"github.com/tinoh9/txstack/pkg/gasoracle"
)

type StackConfig struct {
	// Node connection
	RPCURL     string
	ChainID    int64
	PrivateKey string

	// Gas escalation
	Strategy      string
	Coefficient   float64
	IncrementGwei int64
	CeilingGwei   int64
	Frequency     string
	PollInterval  time.Duration
	MaxBumps      int
	MaxLifetime   time.Duration

	// Gas pricing
	GasPriceURL      string
	GasCategory      string
	GasPriceTTL      time.Duration
	GasPriceMaxStale time.Duration

	// Read retries
	RetryAttempts int
	RetryDelay    time.Duration

	// General Config
	Logger *logrus.Logger
}

func NewStackConfig() (*StackConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	// Load numeric settings from env or use defaults
	chainID, _ := strconv.ParseInt(getEnvOrDefault("ETH_CHAIN_ID", "0"), 10, 64)
	coefficient, _ := strconv.ParseFloat(getEnvOrDefault("GAS_COEFFICIENT", "1.125"), 64)
	incrementGwei, _ := strconv.ParseInt(getEnvOrDefault("GAS_INCREMENT_GWEI", "1"), 10, 64)
	ceilingGwei, _ := strconv.ParseInt(getEnvOrDefault("GAS_CEILING_GWEI", "500"), 10, 64)
	maxBumps, _ := strconv.Atoi(getEnvOrDefault("GAS_MAX_BUMPS", "0"))
	retryAttempts, _ := strconv.Atoi(getEnvOrDefault("RETRY_ATTEMPTS", "3"))
	gasPriceTTL := getDurationOrDefault("GAS_PRICE_TTL", 30*time.Second)

	config := &StackConfig{
		// Node connection
		RPCURL:     os.Getenv("ETH_RPC_URL"),
		ChainID:    chainID,
		PrivateKey: os.Getenv("ETH_PRIVATE_KEY"),

		// Gas escalation
		Strategy:      getEnvOrDefault("GAS_STRATEGY", "geometric"),
		Coefficient:   coefficient,
		IncrementGwei: incrementGwei,
		CeilingGwei:   ceilingGwei,
		Frequency:     getEnvOrDefault("GAS_BUMP_FREQUENCY", "block"),
		PollInterval:  getDurationOrDefault("GAS_POLL_INTERVAL", 10*time.Second),
		MaxBumps:      maxBumps,
		MaxLifetime:   getDurationOrDefault("GAS_MAX_LIFETIME", 0),

		// Gas pricing
		GasPriceURL:      os.Getenv("GAS_PRICE_URL"),
		GasCategory:      getEnvOrDefault("GAS_PRICE_CATEGORY", "standard"),
		GasPriceTTL:      gasPriceTTL,
		GasPriceMaxStale: getDurationOrDefault("GAS_PRICE_MAX_STALE", 5*gasPriceTTL),

		// Read retries
		RetryAttempts: retryAttempts,
		RetryDelay:    getDurationOrDefault("RETRY_DELAY", 500*time.Millisecond),

		Logger: func() *logrus.Logger {
			log := logrus.New()
			// Set log level from environment variable
			if level := os.Getenv("LOG_LEVEL"); level != "" {
				if parsedLevel, err := logrus.ParseLevel(level); err == nil {
					log.SetLevel(parsedLevel)
				}
			}
			return log
		}(),
	}

	config.Logger.WithFields(logrus.Fields{
		"rpc_url_exists":     config.RPCURL != "",
		"private_key_exists": config.PrivateKey != "",
		"strategy":           config.Strategy,
		"frequency":          config.Frequency,
		"ceiling_gwei":       config.CeilingGwei,
	}).Debug("Stack config initialized")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *StackConfig) Validate() error {
	c.Logger.Debug("Validating stack configuration")

	// Validate logger
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL must be provided")
	}

	switch c.Strategy {
	case "constant":
		if c.IncrementGwei < 1 {
			return fmt.Errorf("constant strategy requires a positive gwei increment")
		}
	case "linear", "geometric":
		if c.Coefficient <= 1 {
			return fmt.Errorf("%s strategy requires a coefficient above 1", c.Strategy)
		}
	default:
		return fmt.Errorf("unknown gas strategy %q, want constant, linear or geometric", c.Strategy)
	}

	if c.Frequency != "block" {
		if _, err := time.ParseDuration(c.Frequency); err != nil {
			return fmt.Errorf("bump frequency must be %q or a duration: %w", "block", err)
		}
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.CeilingGwei < 0 {
		return fmt.Errorf("gas ceiling cannot be negative")
	}
	if c.MaxBumps < 0 {
		return fmt.Errorf("max bumps cannot be negative")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be positive")
	}
	if c.GasPriceTTL <= 0 {
		return fmt.Errorf("gas price ttl must be positive")
	}
	if c.GasPriceMaxStale < c.GasPriceTTL {
		return fmt.Errorf("gas price staleness bound cannot be below the ttl")
	}

	switch gasoracle.Category(c.GasCategory) {
	case gasoracle.CategoryFast, gasoracle.CategoryStandard, gasoracle.CategorySlow:
	default:
		return fmt.Errorf("unknown gas price category %q", c.GasCategory)
	}

	c.Logger.Debug("Stack configuration validation completed successfully")
	return nil
}

// EscalationStrategy maps the configured strategy onto a pricing strategy.
func (c *StackConfig) EscalationStrategy() (escalator.Strategy, error) {
	var ceiling *big.Int
	if c.CeilingGwei > 0 {
		ceiling = gweiToWei(c.CeilingGwei)
	}

	switch c.Strategy {
	case "constant":
		return escalator.ConstantIncrement(gweiToWei(c.IncrementGwei), ceiling), nil
	case "linear":
		return escalator.LinearMultiple(c.Coefficient, ceiling), nil
	case "geometric":
		return escalator.GeometricMultiple(c.Coefficient, ceiling), nil
	default:
		return escalator.Strategy{}, fmt.Errorf("unknown gas strategy %q", c.Strategy)
	}
}

// BumpFrequency maps the configured frequency onto an escalation cadence.
func (c *StackConfig) BumpFrequency() (escalator.Frequency, error) {
	if c.Frequency == "block" {
		return escalator.PerBlock(), nil
	}
	every, err := time.ParseDuration(c.Frequency)
	if err != nil {
		return escalator.Frequency{}, fmt.Errorf("bump frequency must be %q or a duration: %w", "block", err)
	}
	return escalator.PerDuration(every), nil
}

// Helper function to get environment variable with default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to get a duration environment variable with default value
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func gweiToWei(gwei int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1000000000))
}
