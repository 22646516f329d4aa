// Package middleware provides the composable layers that sit between
// application code and the base JSON-RPC provider: request transformation,
// signing, read retries and the builder that assembles them into a stack.
package middleware

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/provider"
)

// TransformFunc rewrites an outgoing transaction draft and returns the draft
// to submit in its place. Implementations must be pure: the same input always
// yields the same output, the input is never mutated and no external calls
// are made.
type TransformFunc func(req *provider.TxRequest) (*provider.TxRequest, error)

// CallEncoder encodes a forwarding call for a proxy contract. Contract ABI
// encoding is delegated here so the transformer itself stays a pure rewrite.
type CallEncoder interface {
	// Encode produces the proxy calldata that forwards value and data to the
	// original destination.
	Encode(to common.Address, value *big.Int, data []byte) ([]byte, error)
}

// Transformer is a middleware layer that applies a pure rewrite to every
// transaction draft before it continues down the stack. All other operations
// pass through untouched.
type Transformer struct {
	provider.Passthrough

	transform TransformFunc
	log       *logrus.Logger
}

// NewTransformer creates a transformer layer over inner.
//
// Parameters:
//   - inner: Provider the rewritten drafts are submitted through
//   - transform: Rewrite applied to each draft, nil leaves drafts unchanged
//   - log: Logger instance, a default logger is created when nil
//
// Returns:
//   - *Transformer: Initialized transformer layer
func NewTransformer(inner provider.Provider, transform TransformFunc, log *logrus.Logger) *Transformer {
	if log == nil {
		log = logrus.New()
	}
	return &Transformer{
		Passthrough: provider.NewPassthrough(inner),
		transform:   transform,
		log:         log,
	}
}

// SendTransaction rewrites the draft and submits the result through the inner
// provider. The caller's draft is never mutated.
func (t *Transformer) SendTransaction(ctx context.Context, req *provider.TxRequest) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "transaction request is nil", nil, "eth_sendTransaction")
	}
	if t.transform == nil {
		return t.Inner().SendTransaction(ctx, req)
	}

	out, err := t.transform(req.Copy())
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) {
			return common.Hash{}, err
		}
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "transaction rewrite failed", err, "eth_sendTransaction")
	}
	if out == nil {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "transaction rewrite returned no request", nil, "eth_sendTransaction")
	}

	if req.To != nil && out.To != nil && *req.To != *out.To {
		t.log.WithFields(logrus.Fields{
			"address":     out.From.Hex(),
			"to":          out.To.Hex(),
			"original_to": req.To.Hex(),
		}).Debug("Rewrote transaction destination")
	}

	return t.Inner().SendTransaction(ctx, out)
}

// ProxyTransform returns a rewrite that routes every draft through a proxy
// contract. The original destination, value and payload are encoded into the
// proxy calldata and the draft is redirected at the proxy with zero value.
// Drafts without a destination cannot be routed and are rejected.
func ProxyTransform(proxy common.Address, encoder CallEncoder) TransformFunc {
	return func(req *provider.TxRequest) (*provider.TxRequest, error) {
		if req.To == nil {
			return nil, provider.NewError(provider.ErrCodeInvalidRequest, "proxy routing requires a destination address", nil, "eth_sendTransaction")
		}

		value := req.Value
		if value == nil {
			value = new(big.Int)
		}
		data, err := encoder.Encode(*req.To, value, req.Data)
		if err != nil {
			return nil, provider.NewError(provider.ErrCodeInvalidRequest, "proxy call encoding failed", err, "eth_sendTransaction")
		}

		out := req.Copy()
		target := proxy
		out.To = &target
		out.Value = big.NewInt(0)
		out.Data = data
		return out, nil
	}
}
