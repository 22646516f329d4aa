package middleware_test

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/provider"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1000000000))
}

// fakeProvider is a scriptable base provider shared by the layer tests. Every
// call is recorded by method name, and reads can be told to fail a set number
// of times before succeeding.
type fakeProvider struct {
	mu           sync.Mutex
	calls        []string
	sentDrafts   []*provider.TxRequest
	sentRaw      [][]byte
	sendErr      error
	rawErr       error
	pendingNonce uint64
	gasPrice     *big.Int
	receipt      *types.Receipt
	block        uint64
	chainID      *big.Int
	failuresLeft map[string]int
	failErr      error
	hashSeq      int64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		gasPrice:     gwei(20),
		chainID:      big.NewInt(1337),
		failuresLeft: make(map[string]int),
		failErr:      errors.New("connection refused"),
	}
}

// record logs the call and consumes one scripted failure if any remain.
// Callers must hold f.mu.
func (f *fakeProvider) record(method string) error {
	f.calls = append(f.calls, method)
	if f.failuresLeft[method] > 0 {
		f.failuresLeft[method]--
		return f.failErr
	}
	return nil
}

func (f *fakeProvider) countCalls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if call == method {
			count++
		}
	}
	return count
}

func (f *fakeProvider) SendTransaction(ctx context.Context, req *provider.TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("eth_sendTransaction"); err != nil {
		return common.Hash{}, err
	}
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sentDrafts = append(f.sentDrafts, req.Copy())
	f.hashSeq++
	return common.BigToHash(big.NewInt(f.hashSeq)), nil
}

func (f *fakeProvider) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("eth_sendRawTransaction"); err != nil {
		return common.Hash{}, err
	}
	if f.rawErr != nil {
		return common.Hash{}, f.rawErr
	}
	copied := make([]byte, len(raw))
	copy(copied, raw)
	f.sentRaw = append(f.sentRaw, copied)
	return crypto.Keccak256Hash(raw), nil
}

func (f *fakeProvider) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("eth_getTransactionCount"); err != nil {
		return 0, err
	}
	return f.pendingNonce, nil
}

func (f *fakeProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("eth_gasPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	if f.receipt == nil {
		return nil, provider.NewError(provider.ErrCodeReceiptNotFound, "transaction receipt not found", nil, "eth_getTransactionReceipt")
	}
	return f.receipt, nil
}

func (f *fakeProvider) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("eth_blockNumber"); err != nil {
		return 0, err
	}
	return f.block, nil
}

func (f *fakeProvider) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(method); err != nil {
		return err
	}
	if method == "eth_chainId" {
		if out, ok := result.(*hexutil.Big); ok {
			*out = (hexutil.Big)(*f.chainID)
		}
	}
	return nil
}
