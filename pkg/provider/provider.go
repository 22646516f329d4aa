// Package provider defines the polymorphic transaction provider surface shared
// by the base JSON-RPC adapter and every middleware layer stacked on top of it.
package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is the single surface every layer in a middleware stack implements.
// A layer intercepts the operations it cares about and delegates the rest to
// the provider it wraps, so callers always talk to the outermost layer through
// this one interface regardless of how the stack was assembled.
type Provider interface {
	// SendTransaction submits a transaction draft. Layers between the caller
	// and the base adapter may fill missing fields, rewrite the draft, or
	// sign it before it reaches the network.
	SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error)

	// SendRawTransaction submits an already-signed RLP-encoded transaction.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// PendingNonceAt returns the next nonce for the account including
	// transactions still in the mempool.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice returns a gas price for new transactions in wei.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// TransactionReceipt returns the receipt for a mined transaction. An
	// unmined transaction yields an error carrying ErrCodeReceiptNotFound.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)

	// CallContext is the generic pass-through for every RPC method the
	// typed surface does not cover.
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Passthrough delegates every Provider operation to an inner provider.
// Layers embed it and override only the operations they intercept, which keeps
// the stack composable: wrapping order alone decides which layer sees a call
// first.
type Passthrough struct {
	inner Provider
}

// NewPassthrough wraps inner so all operations delegate to it unchanged.
func NewPassthrough(inner Provider) Passthrough {
	return Passthrough{inner: inner}
}

// Inner returns the wrapped provider. Layers use it to reach the rest of the
// stack from inside an intercepted operation.
func (p Passthrough) Inner() Provider {
	return p.inner
}

// SendTransaction delegates to the inner provider.
func (p Passthrough) SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error) {
	return p.inner.SendTransaction(ctx, req)
}

// SendRawTransaction delegates to the inner provider.
func (p Passthrough) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	return p.inner.SendRawTransaction(ctx, raw)
}

// PendingNonceAt delegates to the inner provider.
func (p Passthrough) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return p.inner.PendingNonceAt(ctx, account)
}

// SuggestGasPrice delegates to the inner provider.
func (p Passthrough) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return p.inner.SuggestGasPrice(ctx)
}

// TransactionReceipt delegates to the inner provider.
func (p Passthrough) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return p.inner.TransactionReceipt(ctx, txHash)
}

// BlockNumber delegates to the inner provider.
func (p Passthrough) BlockNumber(ctx context.Context) (uint64, error) {
	return p.inner.BlockNumber(ctx)
}

// CallContext delegates to the inner provider.
func (p Passthrough) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return p.inner.CallContext(ctx, result, method, args...)
}
