package gasoracle_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/gasoracle"
	"github.com/tinoh9/txstack/pkg/provider"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// scriptedSource counts calls and serves a settable price or error.
type scriptedSource struct {
	mu    sync.Mutex
	calls int
	price *big.Int
	err   error
}

func (s *scriptedSource) Price(ctx context.Context, category gasoracle.Category) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.price), nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedSource) set(price *big.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
	s.err = err
}

// innerStub records submissions flowing through the oracle.
type innerStub struct {
	mu        sync.Mutex
	sent      []*provider.TxRequest
	nodePrice *big.Int
}

func (s *innerStub) SendTransaction(ctx context.Context, req *provider.TxRequest) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return common.HexToHash("0x1"), nil
}

func (s *innerStub) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (s *innerStub) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (s *innerStub) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodePrice == nil {
		return nil, errors.New("no node price")
	}
	return new(big.Int).Set(s.nodePrice), nil
}

func (s *innerStub) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, provider.NewError(provider.ErrCodeReceiptNotFound, "not mined", nil, "")
}

func (s *innerStub) BlockNumber(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (s *innerStub) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return nil
}

var _ = Describe("Oracle", func() {
	var (
		source  *scriptedSource
		inner   *innerStub
		oracle  *gasoracle.Oracle
		ctx     context.Context
		nowTime time.Time
	)

	quietLogger := func() *logrus.Logger {
		log := logrus.New()
		log.SetLevel(logrus.PanicLevel)
		return log
	}

	BeforeEach(func() {
		source = &scriptedSource{price: big.NewInt(20000000000)} // 20 gwei
		inner = &innerStub{}
		ctx = context.Background()
		nowTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

		config := gasoracle.Config{
			Source:   source,
			Category: gasoracle.CategoryStandard,
			TTL:      30 * time.Second,
			MaxStale: 150 * time.Second,
			Logger:   quietLogger(),
		}
		oracle = gasoracle.NewWithClock(inner, config, func() time.Time { return nowTime })
	})

	Context("caching", func() {
		It("should serve repeated lookups within the TTL from cache", func() {
			first, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())

			nowTime = nowTime.Add(10 * time.Second)

			second, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Cmp(first)).To(BeZero())
			Expect(source.callCount()).To(Equal(1))
		})

		It("should refetch exactly once after the TTL expires", func() {
			_, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())

			source.set(big.NewInt(25000000000), nil) // 25 gwei
			nowTime = nowTime.Add(31 * time.Second)

			price, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())
			Expect(price.Int64()).To(Equal(int64(25000000000)))
			Expect(source.callCount()).To(Equal(2))
		})

		It("should collapse concurrent cold lookups into one source call", func() {
			const callers = 20
			var wg sync.WaitGroup
			prices := make(chan *big.Int, callers)

			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					price, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
					Expect(err).NotTo(HaveOccurred())
					prices <- price
				}()
			}
			wg.Wait()
			close(prices)

			for price := range prices {
				Expect(price.Int64()).To(Equal(int64(20000000000)))
			}
			Expect(source.callCount()).To(Equal(1))
		})

		It("should cache categories independently", func() {
			_, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())

			_, err = oracle.GasPrice(ctx, gasoracle.CategoryFast)
			Expect(err).NotTo(HaveOccurred())

			Expect(source.callCount()).To(Equal(2))
		})

		It("should hand out copies that cannot poison the cache", func() {
			price, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())

			price.SetInt64(1)

			again, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Int64()).To(Equal(int64(20000000000)))
		})
	})

	Context("stale fallback", func() {
		It("should serve the stale price while within the staleness bound", func() {
			_, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())

			source.set(nil, errors.New("upstream down"))
			nowTime = nowTime.Add(60 * time.Second) // past TTL, within MaxStale

			price, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())
			Expect(price.Int64()).To(Equal(int64(20000000000)))
		})

		It("should surface the source error once the price is too stale", func() {
			_, err := oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).NotTo(HaveOccurred())

			source.set(nil, errors.New("upstream down"))
			nowTime = nowTime.Add(200 * time.Second) // beyond MaxStale

			_, err = oracle.GasPrice(ctx, gasoracle.CategoryStandard)
			Expect(err).To(MatchError(ContainSubstring("upstream down")))
		})
	})

	Context("SendTransaction", func() {
		var req *provider.TxRequest

		BeforeEach(func() {
			to := common.HexToAddress("0x2222222222222222222222222222222222222222")
			req = &provider.TxRequest{
				From:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
				To:       &to,
				Value:    big.NewInt(1),
				GasLimit: 21000,
			}
		})

		It("should fill an unset gas price from the source", func() {
			_, err := oracle.SendTransaction(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.sent).To(HaveLen(1))
			Expect(inner.sent[0].GasPrice.Int64()).To(Equal(int64(20000000000)))

			// The caller's draft stays untouched.
			Expect(req.GasPrice).To(BeNil())
		})

		It("should never override a caller-set gas price", func() {
			req.GasPrice = big.NewInt(77)

			_, err := oracle.SendTransaction(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.sent[0].GasPrice.Int64()).To(Equal(int64(77)))
			Expect(source.callCount()).To(BeZero())
		})
	})

	It("should answer SuggestGasPrice with the oracle's own view", func() {
		inner.nodePrice = big.NewInt(5)

		price, err := oracle.SuggestGasPrice(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(price.Int64()).To(Equal(int64(20000000000)))
	})

	It("should default to pricing from the wrapped provider when no source is given", func() {
		inner.nodePrice = big.NewInt(12000000000) // 12 gwei
		plain := gasoracle.New(inner, gasoracle.Config{Logger: quietLogger()})

		price, err := plain.GasPrice(ctx, gasoracle.CategoryStandard)
		Expect(err).NotTo(HaveOccurred())
		Expect(price.Int64()).To(Equal(int64(12000000000)))
	})
})
