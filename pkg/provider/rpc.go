// Package provider defines the polymorphic transaction provider surface shared
// by the base JSON-RPC adapter and every middleware layer stacked on top of it.
package provider

import (
	"context"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// Conn is the transport a base provider speaks JSON-RPC over. It is satisfied
// by *rpc.Client from go-ethereum, which keeps connection management outside
// this package: callers dial however they like and hand the connection in.
type Conn interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

// RPCProvider is the base of a middleware stack. It translates the Provider
// surface into eth_* JSON-RPC methods over an injected connection and performs
// the final completeness check on outgoing transaction drafts.
type RPCProvider struct {
	conn Conn
	log  *logrus.Logger
}

// NewRPCProvider creates a base provider over an established connection.
//
// Parameters:
//   - conn: JSON-RPC transport, typically *rpc.Client
//   - log: Logger instance, a default logger is created when nil
//
// Returns:
//   - *RPCProvider: Initialized base provider
func NewRPCProvider(conn Conn, log *logrus.Logger) *RPCProvider {
	if log == nil {
		log = logrus.New()
	}
	return &RPCProvider{
		conn: conn,
		log:  log,
	}
}

// DialConfig holds connection parameters for dialing an RPC endpoint.
type DialConfig struct {
	// URL is the HTTP(S) or WS(S) endpoint of the node
	URL string

	// MaxAttempts specifies how many times to attempt the initial connection
	MaxAttempts uint

	// RetryDelay is the duration to wait between connection attempts
	RetryDelay time.Duration

	// Logger for dial progress, a default logger is created when nil
	Logger *logrus.Logger
}

// DefaultDialConfig returns dial settings suitable for most endpoints.
func DefaultDialConfig(url string) DialConfig {
	return DialConfig{
		URL:         url,
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

// Dial connects to an RPC endpoint with default settings and returns a base
// provider over the connection.
func Dial(ctx context.Context, url string, log *logrus.Logger) (*RPCProvider, error) {
	config := DefaultDialConfig(url)
	config.Logger = log
	return DialWithConfig(ctx, config)
}

// DialWithConfig connects to an RPC endpoint, retrying failed attempts per the
// config, and returns a base provider over the connection.
func DialWithConfig(ctx context.Context, config DialConfig) (*RPCProvider, error) {
	log := config.Logger
	if log == nil {
		log = logrus.New()
	}

	var conn *rpc.Client
	err := retry.Do(
		func() error {
			var dialErr error
			conn, dialErr = rpc.DialContext(ctx, config.URL)
			return dialErr
		},
		retry.Context(ctx),
		retry.Attempts(config.MaxAttempts),
		retry.Delay(config.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithFields(logrus.Fields{
				"url":     config.URL,
				"attempt": n + 1,
			}).WithError(err).Debug("Retrying RPC connection")
		}),
	)
	if err != nil {
		return nil, NewError(ErrCodeTransport, "failed to connect to RPC endpoint", err, "dial")
	}

	return NewRPCProvider(conn, log), nil
}

// SendTransaction validates the draft and submits it via eth_sendTransaction.
// The node is expected to hold the sending key; stacks that sign locally place
// a signing layer above the base so drafts arrive here only in tests or
// node-custody setups.
func (p *RPCProvider) SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, NewError(ErrCodeInvalidRequest, "transaction request is nil", nil, "eth_sendTransaction")
	}
	if err := req.Validate(); err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := p.conn.CallContext(ctx, &hash, "eth_sendTransaction", toSendArg(req)); err != nil {
		return common.Hash{}, p.wrapSendError(err, "eth_sendTransaction")
	}

	p.log.WithFields(logrus.Fields{
		"tx_hash": hash.Hex(),
		"address": req.From.Hex(),
		"nonce":   *req.Nonce,
	}).Debug("Submitted transaction")

	return hash, nil
}

// SendRawTransaction submits an already-signed transaction via
// eth_sendRawTransaction.
func (p *RPCProvider) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := p.conn.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, p.wrapSendError(err, "eth_sendRawTransaction")
	}

	p.log.WithField("tx_hash", hash.Hex()).Debug("Submitted raw transaction")
	return hash, nil
}

// PendingNonceAt returns the account nonce including pending transactions
// via eth_getTransactionCount.
func (p *RPCProvider) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var result hexutil.Uint64
	if err := p.conn.CallContext(ctx, &result, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, NewError(ErrCodeTransport, "failed to get pending nonce", err, "eth_getTransactionCount")
	}
	return uint64(result), nil
}

// SuggestGasPrice returns the node's gas price suggestion via eth_gasPrice.
func (p *RPCProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := p.conn.CallContext(ctx, &result, "eth_gasPrice"); err != nil {
		return nil, NewError(ErrCodeTransport, "failed to get gas price", err, "eth_gasPrice")
	}
	return (*big.Int)(&result), nil
}

// TransactionReceipt returns the receipt of a mined transaction via
// eth_getTransactionReceipt. A null node answer maps to an
// ErrCodeReceiptNotFound error so callers can tell "not mined yet" apart from
// transport failures.
func (p *RPCProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	if err := p.conn.CallContext(ctx, &receipt, "eth_getTransactionReceipt", txHash); err != nil {
		return nil, NewError(ErrCodeTransport, "failed to get transaction receipt", err, "eth_getTransactionReceipt")
	}
	if receipt == nil {
		return nil, NewError(ErrCodeReceiptNotFound, "transaction receipt not found", nil, "eth_getTransactionReceipt")
	}
	return receipt, nil
}

// BlockNumber returns the latest block height via eth_blockNumber.
func (p *RPCProvider) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := p.conn.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, NewError(ErrCodeTransport, "failed to get block number", err, "eth_blockNumber")
	}
	return uint64(result), nil
}

// CallContext forwards an arbitrary RPC method to the connection unchanged.
// Errors are returned raw because only the caller knows how to interpret
// method-specific failures.
func (p *RPCProvider) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return p.conn.CallContext(ctx, result, method, args...)
}

// Close closes the underlying connection.
func (p *RPCProvider) Close() {
	p.conn.Close()
}

// wrapSendError types a submission failure: nonce conflicts get their own code
// so layers above can react to them, everything else is a transport error.
func (p *RPCProvider) wrapSendError(err error, method string) error {
	if IsNonceConflict(err) {
		return NewError(ErrCodeNonceConflict, "node rejected transaction nonce", err, method)
	}
	return NewError(ErrCodeTransport, "failed to send transaction", err, method)
}

// toSendArg converts a validated draft into the object form eth_sendTransaction
// expects.
func toSendArg(req *TxRequest) map[string]interface{} {
	arg := map[string]interface{}{
		"from":     req.From,
		"gas":      hexutil.Uint64(req.GasLimit),
		"gasPrice": (*hexutil.Big)(req.GasPrice),
		"nonce":    hexutil.Uint64(*req.Nonce),
	}
	if req.To != nil {
		arg["to"] = *req.To
	}
	if req.Value != nil {
		arg["value"] = (*hexutil.Big)(req.Value)
	}
	if len(req.Data) > 0 {
		arg["data"] = hexutil.Bytes(req.Data)
	}
	return arg
}
