// Package provider defines the polymorphic transaction provider surface shared
// by the base JSON-RPC adapter and every middleware layer stacked on top of it.
package provider

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest is a mutable transaction draft flowing down a middleware stack.
// Nil pointer fields mean "not set yet": layers fill the fields they own and
// leave the rest for layers below them. By the time a draft reaches the base
// adapter every field a node requires must be populated.
type TxRequest struct {
	// From is the sending account. Layers key nonce tracking and gas
	// escalation on it, so it must be set by the caller.
	From common.Address

	// To is the recipient. A nil To denotes contract creation.
	To *common.Address

	// Value is the amount of native currency to transfer in wei.
	// Nil is treated as zero.
	Value *big.Int

	// Data is the call payload. Empty for plain transfers.
	Data []byte

	// GasLimit is the maximum gas the transaction may consume.
	GasLimit uint64

	// GasPrice is the price per gas unit in wei. Nil means unset and is
	// typically filled by a gas oracle layer.
	GasPrice *big.Int

	// Nonce is the account nonce. Nil means unset and is typically filled
	// by a nonce allocator layer.
	Nonce *uint64
}

// Copy returns a deep copy of the request. Layers mutate copies, never the
// caller's draft, so a request can be retried or resubmitted safely.
func (r *TxRequest) Copy() *TxRequest {
	out := &TxRequest{
		From:     r.From,
		GasLimit: r.GasLimit,
	}
	if r.To != nil {
		to := *r.To
		out.To = &to
	}
	if r.Value != nil {
		out.Value = new(big.Int).Set(r.Value)
	}
	if len(r.Data) > 0 {
		out.Data = make([]byte, len(r.Data))
		copy(out.Data, r.Data)
	}
	if r.GasPrice != nil {
		out.GasPrice = new(big.Int).Set(r.GasPrice)
	}
	if r.Nonce != nil {
		nonce := *r.Nonce
		out.Nonce = &nonce
	}
	return out
}

// Validate checks that the draft carries everything a node needs to accept it.
// The base adapter and the signing layer call it before submission; a failure
// means some layer the stack was supposed to contain never ran.
//
// Returns:
//   - error: An ErrCodeInvalidRequest provider error naming the missing field
func (r *TxRequest) Validate() error {
	if r.From == (common.Address{}) {
		return NewError(ErrCodeInvalidRequest, "transaction has no from address", nil, "")
	}
	if r.Nonce == nil {
		return NewError(ErrCodeInvalidRequest, "transaction nonce is not set", nil, "")
	}
	if r.GasPrice == nil || r.GasPrice.Sign() <= 0 {
		return NewError(ErrCodeInvalidRequest, "transaction gas price is not set", nil, "")
	}
	if r.GasLimit == 0 {
		return NewError(ErrCodeInvalidRequest, "transaction gas limit is not set", nil, "")
	}
	return nil
}
