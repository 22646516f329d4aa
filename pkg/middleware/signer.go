// Package middleware provides the composable layers that sit between
// application code and the base JSON-RPC provider: request transformation,
// signing, read retries and the builder that assembles them into a stack.
package middleware

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/provider"
)

// Signer signs fully specified transaction drafts for a single account.
type Signer interface {
	// Address returns the account the signer signs for.
	Address() common.Address

	// SignTx signs the draft for the given chain and returns the encoded raw
	// transaction bytes ready for submission.
	SignTx(ctx context.Context, req *provider.TxRequest, chainID *big.Int) ([]byte, error)
}

// SignerConfig holds signing layer settings.
type SignerConfig struct {
	// ChainID for replay protection, fetched lazily from the provider
	// beneath when nil
	ChainID *big.Int

	// Logger instance, a default logger is created when nil
	Logger *logrus.Logger
}

// SignerMiddleware is a middleware layer that turns transaction drafts into
// signed raw submissions. It validates that the draft is fully specified,
// signs it for the configured chain and forwards the raw bytes through the
// inner provider.
//
// Because every gas bump changes the signed payload, this layer belongs
// beneath the escalator so resubmissions are re-signed at their new price.
type SignerMiddleware struct {
	provider.Passthrough

	signer Signer
	log    *logrus.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// NewSigner creates a signing layer over inner.
//
// Parameters:
//   - inner: Provider the signed raw transactions are submitted through
//   - signer: Signer holding the account key
//   - config: Signing settings, zero value fetches the chain id lazily
//
// Returns:
//   - *SignerMiddleware: Initialized signing layer
func NewSigner(inner provider.Provider, signer Signer, config SignerConfig) *SignerMiddleware {
	log := config.Logger
	if log == nil {
		log = logrus.New()
	}
	var chainID *big.Int
	if config.ChainID != nil {
		chainID = new(big.Int).Set(config.ChainID)
	}
	return &SignerMiddleware{
		Passthrough: provider.NewPassthrough(inner),
		signer:      signer,
		log:         log,
		chainID:     chainID,
	}
}

// SendTransaction validates the draft, signs it and submits the raw bytes.
// A draft without a from address is signed for the signer's account; a draft
// for a different account is rejected, this layer holds exactly one key.
func (s *SignerMiddleware) SendTransaction(ctx context.Context, req *provider.TxRequest) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "transaction request is nil", nil, "eth_sendTransaction")
	}

	out := req.Copy()
	if out.From == (common.Address{}) {
		out.From = s.signer.Address()
	} else if out.From != s.signer.Address() {
		message := fmt.Sprintf("draft from address %s does not match signer %s", out.From.Hex(), s.signer.Address().Hex())
		return common.Hash{}, provider.NewError(provider.ErrCodeSigning, message, nil, "eth_sendTransaction")
	}

	if err := out.Validate(); err != nil {
		return common.Hash{}, err
	}

	chainID, err := s.resolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	raw, err := s.signer.SignTx(ctx, out, chainID)
	if err != nil {
		return common.Hash{}, provider.NewError(provider.ErrCodeSigning, "transaction signing failed", err, "eth_sendTransaction")
	}

	s.log.WithFields(logrus.Fields{
		"address":  out.From.Hex(),
		"nonce":    *out.Nonce,
		"chain_id": chainID.String(),
	}).Debug("Signed transaction")

	return s.Inner().SendRawTransaction(ctx, raw)
}

// resolveChainID returns the configured chain id or fetches it once from the
// node. The fetch happens outside the lock, a duplicate first fetch is
// harmless and both callers cache the same value.
func (s *SignerMiddleware) resolveChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	if s.chainID != nil {
		id := new(big.Int).Set(s.chainID)
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var result hexutil.Big
	if err := s.Inner().CallContext(ctx, &result, "eth_chainId"); err != nil {
		return nil, provider.NewError(provider.ErrCodeTransport, "failed to fetch chain id", err, "eth_chainId")
	}
	id := (*big.Int)(&result)

	s.mu.Lock()
	if s.chainID == nil {
		s.chainID = new(big.Int).Set(id)
	}
	s.mu.Unlock()

	s.log.WithField("chain_id", id.String()).Debug("Resolved chain id from node")
	return id, nil
}

// LocalSigner signs transactions with an in-process private key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey // The account's private key
	address    common.Address    // The derived Ethereum address
}

// NewLocalSigner creates a local signer from a private key string.
// It accepts a hex-encoded private key (with or without 0x prefix) and
// returns an initialized LocalSigner instance.
//
// Parameters:
//   - privateKeyHex: Hex-encoded private key string (with optional 0x prefix)
//
// Returns:
//   - *LocalSigner: Initialized local signer instance
//   - error: Error if private key is invalid or empty
//
// Example:
//
//	signer, err := NewLocalSigner("0x1234...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	address := signer.Address()
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	// Remove "0x" prefix if present
	if len(privateKeyHex) > 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Address returns the Ethereum address associated with this signer.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignTx signs the draft as a replay-protected legacy transaction and returns
// the encoded raw bytes.
func (s *LocalSigner) SignTx(ctx context.Context, req *provider.TxRequest, chainID *big.Int) ([]byte, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id is required for replay-protected signing")
	}
	if req.Nonce == nil {
		return nil, fmt.Errorf("transaction nonce is required for signing")
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var tx *types.Transaction
	if req.To != nil {
		tx = types.NewTransaction(*req.Nonce, *req.To, value, req.GasLimit, req.GasPrice, req.Data)
	} else {
		tx = types.NewContractCreation(*req.Nonce, value, req.GasLimit, req.GasPrice, req.Data)
	}

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return signedTx.MarshalBinary()
}
