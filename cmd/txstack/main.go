package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/internal/stackconfig"
	"github.com/tinoh9/txstack/pkg/escalator"
	"github.com/tinoh9/txstack/pkg/logging"
	"github.com/tinoh9/txstack/pkg/middleware"
	"github.com/tinoh9/txstack/pkg/provider"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	// Initialize logger
	log := logrus.New()
	log.SetFormatter(logging.NewColoredJSONFormatter())

	// Get log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": logLevel,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load stack configuration
	config, err := stackconfig.NewStackConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load stack config")
	}
	// Override logger to use our main logger
	config.Logger = log

	// Connect to the node
	base, err := provider.Dial(ctx, config.RPCURL, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to RPC endpoint")
	}
	defer base.Close()

	// Assemble the middleware stack
	stack, err := stackconfig.Assemble(base, config)
	if err != nil {
		log.WithError(err).Fatal("Failed to assemble middleware stack")
	}
	defer stack.Close()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	// Submit a demo transfer when a recipient is configured
	if recipient := os.Getenv("TX_TO"); recipient != "" {
		if err := submitTransfer(ctx, stack, config, recipient, log); err != nil {
			log.WithError(err).Error("Demo transfer submission failed")
		}
	}

	log.Info("Starting chain monitoring")

	if err := run(ctx, stack, config.PollInterval, log); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("Monitor stopped with error")
	}

	log.Info("Stack shutdown complete")
}

// run logs chain status on the configured cadence until cancelled.
func run(ctx context.Context, stack *middleware.Stack, interval time.Duration, log *logrus.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			height, err := stack.BlockNumber(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to read block height")
				continue
			}
			price, err := stack.SuggestGasPrice(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to read gas price")
				continue
			}
			log.WithFields(logrus.Fields{
				"block":     height,
				"gas_price": price.String(),
			}).Info("Chain status")
		}
	}
}

// submitTransfer sends a zero-value transfer through the full stack and
// watches its escalation progress in the background.
func submitTransfer(ctx context.Context, stack *middleware.Stack, config *stackconfig.StackConfig, recipient string, log *logrus.Logger) error {
	if config.PrivateKey == "" {
		return fmt.Errorf("demo transfer requires ETH_PRIVATE_KEY")
	}
	if !common.IsHexAddress(recipient) {
		return fmt.Errorf("TX_TO is not a valid address: %s", recipient)
	}

	signer, err := middleware.NewLocalSigner(config.PrivateKey)
	if err != nil {
		return err
	}

	to := common.HexToAddress(recipient)
	hash, err := stack.SendTransaction(ctx, &provider.TxRequest{
		From:     signer.Address(),
		To:       &to,
		Value:    big.NewInt(0),
		GasLimit: 21000,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"tx_hash": hash.Hex(),
		"address": signer.Address().Hex(),
	}).Info("Submitted demo transfer")

	go watchTransfer(ctx, stack, hash, log)
	return nil
}

// watchTransfer logs the tracked record's progress until it settles or the
// context is cancelled.
func watchTransfer(ctx context.Context, stack *middleware.Stack, hash common.Hash, log *logrus.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			record, ok := findRecord(stack, hash)
			if !ok {
				return
			}

			entry := log.WithFields(logrus.Fields{
				"tx_hash":   record.LastHash().Hex(),
				"gas_price": record.CurrentPrice.String(),
				"bumps":     record.Bumps,
				"status":    string(record.Status),
			})
			switch record.Status {
			case escalator.StatusMined:
				entry.Info("Demo transfer mined")
				return
			case escalator.StatusCappedOutstanding:
				entry.Warn("Demo transfer capped, still outstanding")
				return
			default:
				entry.Info("Demo transfer pending")
			}
		}
	}
}

// findRecord locates the escalation record containing the given submission
// hash. Records survive bumps under new hashes, the original hash stays in
// their history.
func findRecord(stack *middleware.Stack, hash common.Hash) (escalator.Record, bool) {
	for _, record := range stack.Escalator().Records() {
		for _, seen := range record.Hashes {
			if seen == hash {
				return record, true
			}
		}
	}
	return escalator.Record{}, false
}
