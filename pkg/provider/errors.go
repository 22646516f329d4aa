// Package provider defines the polymorphic transaction provider surface shared
// by the base JSON-RPC adapter and every middleware layer stacked on top of it.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for provider and middleware operations
const (
	// ErrCodeTransport indicates an RPC call never produced a node answer
	ErrCodeTransport = "TRANSPORT_ERROR"
	// ErrCodeNonceConflict indicates the node rejected a nonce already in use
	ErrCodeNonceConflict = "NONCE_CONFLICT"
	// ErrCodeInvalidRequest indicates a transaction draft is missing required fields
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	// ErrCodeReceiptNotFound indicates the transaction is not mined yet
	ErrCodeReceiptNotFound = "RECEIPT_NOT_FOUND"
	// ErrCodeSigning indicates transaction signing failed
	ErrCodeSigning = "SIGNING_FAILED"
)

// Error represents a provider-specific error with additional context about
// the error type, message, underlying error and the RPC method involved.
type Error struct {
	Code    string // Error code identifying the type of error
	Message string // Human readable error message
	Err     error  // Underlying error if any
	Method  string // RPC method or operation where the error occurred
}

// Error implements the error interface for Error.
// It formats the error message including the code, message, method (if present)
// and underlying error.
func (e *Error) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("[%s] %s on %s: %v", e.Code, e.Message, e.Method, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap returns the underlying error.
// This implements the errors.Unwrap interface for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new provider Error with the given parameters.
//
// Parameters:
//   - code: Error code identifying the type of error
//   - message: Human readable error message
//   - err: Underlying error if any
//   - method: RPC method or operation where the error occurred
//
// Returns:
//   - *Error: A new provider error instance
func NewError(code string, message string, err error, method string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
		Method:  method,
	}
}

// IsCode checks if an error is a provider Error with the given code anywhere
// in its wrap chain.
//
// Parameters:
//   - err: Error to check
//   - code: Error code to match against
//
// Returns:
//   - bool: true if err carries a provider Error with matching code
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// nonceConflictMessages are the node error fragments that signal the nonce of
// a submission is already taken or the identical transaction is already in the
// pool. Node implementations word these differently, so matching stays loose.
var nonceConflictMessages = []string{
	"nonce too low",
	"already known",
	"already imported",
	"replacement transaction underpriced",
	"same hash was already imported",
}

// nonceTooLowMessage is the rejection nodes emit once the account's chain
// nonce has passed the transaction's nonce. Unlike the pool-level conflicts
// above, it can only fire after a transaction at that nonce mined.
const nonceTooLowMessage = "nonce too low"

// IsNonceConflict reports whether an error indicates the node rejected a
// submission because its nonce is already consumed or occupied. It recognizes
// both typed provider errors and raw node error strings.
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	if IsCode(err, ErrCodeNonceConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range nonceConflictMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IsNonceTooLow reports whether an error is a node rejection proving the
// submission's nonce was already consumed by a mined transaction. Every such
// error is also a nonce conflict, but not the reverse: a duplicate or
// underpriced replacement is rejected while its slot is still pending.
func IsNonceTooLow(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), nonceTooLowMessage)
}

// IsReceiptNotFound reports whether an error means a transaction is simply not
// mined yet, as opposed to a transport failure while asking.
func IsReceiptNotFound(err error) bool {
	return IsCode(err, ErrCodeReceiptNotFound)
}
