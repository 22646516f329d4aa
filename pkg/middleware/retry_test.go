package middleware_test

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tinoh9/txstack/pkg/middleware"
	"github.com/tinoh9/txstack/pkg/provider"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Retry", func() {
	var (
		inner *fakeProvider
		layer *middleware.Retry
		ctx   context.Context
	)

	BeforeEach(func() {
		inner = newFakeProvider()
		layer = middleware.NewRetry(inner, middleware.RetryConfig{
			Attempts: 3,
			Delay:    time.Millisecond,
			Logger:   quietLogger(),
		})
		ctx = context.Background()
	})

	It("should retry a flaky nonce read until it succeeds", func() {
		inner.pendingNonce = 42
		inner.failuresLeft["eth_getTransactionCount"] = 2

		nonce, err := layer.PendingNonceAt(ctx, common.HexToAddress("0x1111111111111111111111111111111111111111"))
		Expect(err).NotTo(HaveOccurred())
		Expect(nonce).To(Equal(uint64(42)))
		Expect(inner.countCalls("eth_getTransactionCount")).To(Equal(3))
	})

	It("should give up after the attempt budget with the last error", func() {
		inner.failuresLeft["eth_gasPrice"] = 5

		_, err := layer.SuggestGasPrice(ctx)
		Expect(err).To(MatchError(inner.failErr))
		Expect(inner.countCalls("eth_gasPrice")).To(Equal(3))
	})

	It("should recover a block height read after one failure", func() {
		inner.block = 1234
		inner.failuresLeft["eth_blockNumber"] = 1

		height, err := layer.BlockNumber(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(height).To(Equal(uint64(1234)))
		Expect(inner.countCalls("eth_blockNumber")).To(Equal(2))
	})

	It("should not retry a missing receipt", func() {
		hash := common.BigToHash(big.NewInt(1))

		_, err := layer.TransactionReceipt(ctx, hash)
		Expect(provider.IsCode(err, provider.ErrCodeReceiptNotFound)).To(BeTrue())
		Expect(inner.countCalls("eth_getTransactionReceipt")).To(Equal(1))
	})

	It("should not retry a rejected request", func() {
		inner.failuresLeft["eth_call"] = 5
		inner.failErr = provider.NewError(provider.ErrCodeInvalidRequest, "malformed call", nil, "eth_call")

		err := layer.CallContext(ctx, nil, "eth_call")
		Expect(provider.IsCode(err, provider.ErrCodeInvalidRequest)).To(BeTrue())
		Expect(inner.countCalls("eth_call")).To(Equal(1))
	})

	It("should retry raw calls on transient failures", func() {
		inner.failuresLeft["eth_syncing"] = 1

		Expect(layer.CallContext(ctx, nil, "eth_syncing")).To(Succeed())
		Expect(inner.countCalls("eth_syncing")).To(Equal(2))
	})

	It("should never replay a submission", func() {
		inner.sendErr = errors.New("connection reset")

		nonce := uint64(1)
		_, err := layer.SendTransaction(ctx, &provider.TxRequest{
			From:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
			GasLimit: 21000,
			GasPrice: gwei(20),
			Nonce:    &nonce,
		})
		Expect(err).To(HaveOccurred())
		Expect(inner.countCalls("eth_sendTransaction")).To(Equal(1))
	})

	It("should never replay a raw submission", func() {
		inner.rawErr = errors.New("connection reset")

		_, err := layer.SendRawTransaction(ctx, []byte{0x01})
		Expect(err).To(HaveOccurred())
		Expect(inner.countCalls("eth_sendRawTransaction")).To(Equal(1))
	})

	It("should apply defaults for zero config values", func() {
		inner.failuresLeft["eth_blockNumber"] = 2
		fast := middleware.NewRetry(inner, middleware.RetryConfig{
			Delay:  time.Millisecond,
			Logger: quietLogger(),
		})

		_, err := fast.BlockNumber(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.countCalls("eth_blockNumber")).To(Equal(3))
	})
})
