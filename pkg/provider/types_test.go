package provider_test

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tinoh9/txstack/pkg/provider"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TxRequest", func() {
	var req *provider.TxRequest

	BeforeEach(func() {
		to := common.HexToAddress("0x2222222222222222222222222222222222222222")
		nonce := uint64(7)
		req = &provider.TxRequest{
			From:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
			To:       &to,
			Value:    big.NewInt(1000),
			Data:     []byte{0xde, 0xad},
			GasLimit: 21000,
			GasPrice: big.NewInt(20000000000), // 20 gwei
			Nonce:    &nonce,
		}
	})

	Context("Copy", func() {
		It("should produce an independent deep copy", func() {
			cp := req.Copy()

			cp.Value.SetInt64(9999)
			cp.GasPrice.SetInt64(1)
			*cp.Nonce = 42
			cp.Data[0] = 0x00
			*cp.To = common.HexToAddress("0x3333333333333333333333333333333333333333")

			Expect(req.Value.Int64()).To(Equal(int64(1000)))
			Expect(req.GasPrice.Int64()).To(Equal(int64(20000000000)))
			Expect(*req.Nonce).To(Equal(uint64(7)))
			Expect(req.Data[0]).To(Equal(byte(0xde)))
			Expect(req.To.Hex()).To(Equal("0x2222222222222222222222222222222222222222"))
		})

		It("should preserve unset fields as unset", func() {
			req.To = nil
			req.Value = nil
			req.GasPrice = nil
			req.Nonce = nil
			req.Data = nil

			cp := req.Copy()

			Expect(cp.To).To(BeNil())
			Expect(cp.Value).To(BeNil())
			Expect(cp.GasPrice).To(BeNil())
			Expect(cp.Nonce).To(BeNil())
			Expect(cp.Data).To(BeEmpty())
		})
	})

	Context("Validate", func() {
		It("should accept a complete request", func() {
			Expect(req.Validate()).To(Succeed())
		})

		It("should accept contract creation and zero value transfers", func() {
			req.To = nil
			req.Value = nil
			req.Data = []byte{0x60, 0x60}
			Expect(req.Validate()).To(Succeed())
		})

		It("should reject a missing from address", func() {
			req.From = common.Address{}
			err := req.Validate()
			Expect(err).To(HaveOccurred())
			Expect(provider.IsCode(err, provider.ErrCodeInvalidRequest)).To(BeTrue())
		})

		It("should reject an unset nonce", func() {
			req.Nonce = nil
			err := req.Validate()
			Expect(provider.IsCode(err, provider.ErrCodeInvalidRequest)).To(BeTrue())
		})

		It("should reject an unset or non-positive gas price", func() {
			req.GasPrice = nil
			Expect(provider.IsCode(req.Validate(), provider.ErrCodeInvalidRequest)).To(BeTrue())

			req.GasPrice = big.NewInt(0)
			Expect(provider.IsCode(req.Validate(), provider.ErrCodeInvalidRequest)).To(BeTrue())
		})

		It("should reject a zero gas limit", func() {
			req.GasLimit = 0
			Expect(provider.IsCode(req.Validate(), provider.ErrCodeInvalidRequest)).To(BeTrue())
		})
	})
})
