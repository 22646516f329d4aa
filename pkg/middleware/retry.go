// Package middleware provides the composable layers that sit between
// application code and the base JSON-RPC provider: request transformation,
// signing, read retries and the builder that assembles them into a stack.
package middleware

import (
	"context"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/provider"
)

// RetryConfig holds read retry settings.
type RetryConfig struct {
	// Attempts is the total number of tries per read call, defaults to 3
	Attempts uint

	// Delay between attempts, defaults to 500 milliseconds
	Delay time.Duration

	// Logger instance, a default logger is created when nil
	Logger *logrus.Logger
}

// DefaultRetryConfig returns retry settings suited to transient node flaps.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Delay:    500 * time.Millisecond,
	}
}

// Retry is a middleware layer that retries transient failures on read
// operations. Submissions are never replayed: a send whose response was lost
// may still have reached the node, and replaying it is how double spends
// happen. Layers above handle submission failures with their own policies.
type Retry struct {
	provider.Passthrough

	attempts uint
	delay    time.Duration
	log      *logrus.Logger
}

// NewRetry creates a read retry layer over inner.
func NewRetry(inner provider.Provider, config RetryConfig) *Retry {
	log := config.Logger
	if log == nil {
		log = logrus.New()
	}
	attempts := config.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := config.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Retry{
		Passthrough: provider.NewPassthrough(inner),
		attempts:    attempts,
		delay:       delay,
		log:         log,
	}
}

// PendingNonceAt retries the pending nonce query on transient failures.
func (r *Retry) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := r.do(ctx, "eth_getTransactionCount", func() error {
		var err error
		nonce, err = r.Inner().PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice retries the gas price query on transient failures.
func (r *Retry) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := r.do(ctx, "eth_gasPrice", func() error {
		var err error
		price, err = r.Inner().SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// TransactionReceipt retries the receipt query on transient failures. A
// receipt that is simply not there yet is not transient, it is the answer,
// so it returns immediately.
func (r *Retry) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := r.do(ctx, "eth_getTransactionReceipt", func() error {
		var err error
		receipt, err = r.Inner().TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// BlockNumber retries the block height query on transient failures.
func (r *Retry) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := r.do(ctx, "eth_blockNumber", func() error {
		var err error
		height, err = r.Inner().BlockNumber(ctx)
		return err
	})
	return height, err
}

// CallContext retries the raw RPC call on transient failures. Callers routing
// state-changing methods through CallContext should bypass this layer.
func (r *Retry) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return r.do(ctx, method, func() error {
		return r.Inner().CallContext(ctx, result, method, args...)
	})
}

// do runs fn with the configured retry policy. Definitive answers, a missing
// receipt or a rejected request, pass through without burning attempts.
func (r *Retry) do(ctx context.Context, method string, fn func() error) error {
	traceID := uuid.New().String()
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !provider.IsCode(err, provider.ErrCodeReceiptNotFound) &&
				!provider.IsCode(err, provider.ErrCodeInvalidRequest)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			r.log.WithFields(logrus.Fields{
				"method":       method,
				"trace_id":     traceID,
				"attempt":      attempt + 1,
				"max_attempts": r.attempts,
			}).WithError(err).Warn("Read call failed, retrying")
		}),
	)
}
