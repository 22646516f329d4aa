package stackconfig

import (
	"math/big"

	"github.com/tinoh9/txstack/pkg/escalator"
	"github.com/tinoh9/txstack/pkg/gasoracle"
	"github.com/tinoh9/txstack/pkg/middleware"
	"github.com/tinoh9/txstack/pkg/provider"
)

// Assemble wires the configured middleware layers over the base provider in
// the recommended order: reads retried at the bottom, then signing when a key
// is configured, gas escalation, gas pricing and nonce allocation outermost.
func Assemble(base provider.Provider, config *StackConfig) (*middleware.Stack, error) {
	strategy, err := config.EscalationStrategy()
	if err != nil {
		return nil, err
	}
	frequency, err := config.BumpFrequency()
	if err != nil {
		return nil, err
	}

	builder := middleware.NewBuilder(base, config.Logger)

	builder.WithRetry(middleware.RetryConfig{
		Attempts: uint(config.RetryAttempts),
		Delay:    config.RetryDelay,
	})

	if config.PrivateKey != "" {
		signer, err := middleware.NewLocalSigner(config.PrivateKey)
		if err != nil {
			return nil, err
		}
		signerConfig := middleware.SignerConfig{}
		if config.ChainID > 0 {
			signerConfig.ChainID = big.NewInt(config.ChainID)
		}
		builder.WithSigner(signer, signerConfig)
	}

	builder.WithEscalator(escalator.Config{
		Strategy:     strategy,
		Frequency:    frequency,
		PollInterval: config.PollInterval,
		MaxBumps:     uint(config.MaxBumps),
		MaxLifetime:  config.MaxLifetime,
	})

	var source gasoracle.Source
	if config.GasPriceURL != "" {
		source = gasoracle.NewHTTPSource(gasoracle.HTTPSourceConfig{
			URL:    config.GasPriceURL,
			Logger: config.Logger,
		})
	}
	oracleConfig := gasoracle.DefaultConfig(source)
	oracleConfig.Category = gasoracle.Category(config.GasCategory)
	oracleConfig.TTL = config.GasPriceTTL
	oracleConfig.MaxStale = config.GasPriceMaxStale
	builder.WithOracle(oracleConfig)

	builder.WithNonceAllocator()

	return builder.Build(), nil
}
