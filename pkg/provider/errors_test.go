package provider_test

import (
	"errors"
	"fmt"

	"github.com/tinoh9/txstack/pkg/provider"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Errors", func() {
	Context("Error formatting", func() {
		It("should include code, message and method", func() {
			err := provider.NewError(provider.ErrCodeTransport, "connection refused", errors.New("dial tcp"), "eth_gasPrice")
			Expect(err.Error()).To(ContainSubstring("[TRANSPORT_ERROR]"))
			Expect(err.Error()).To(ContainSubstring("connection refused"))
			Expect(err.Error()).To(ContainSubstring("eth_gasPrice"))
		})

		It("should unwrap to the underlying error", func() {
			inner := errors.New("boom")
			err := provider.NewError(provider.ErrCodeTransport, "failed", inner, "")
			Expect(errors.Is(err, inner)).To(BeTrue())
		})
	})

	Context("IsCode", func() {
		It("should match a directly typed error", func() {
			err := provider.NewError(provider.ErrCodeReceiptNotFound, "not mined", nil, "")
			Expect(provider.IsCode(err, provider.ErrCodeReceiptNotFound)).To(BeTrue())
			Expect(provider.IsCode(err, provider.ErrCodeTransport)).To(BeFalse())
		})

		It("should match through wrap chains", func() {
			err := provider.NewError(provider.ErrCodeNonceConflict, "nonce taken", nil, "")
			wrapped := fmt.Errorf("layer context: %w", err)
			Expect(provider.IsCode(wrapped, provider.ErrCodeNonceConflict)).To(BeTrue())
		})

		It("should not match nil or untyped errors", func() {
			Expect(provider.IsCode(nil, provider.ErrCodeTransport)).To(BeFalse())
			Expect(provider.IsCode(errors.New("plain"), provider.ErrCodeTransport)).To(BeFalse())
		})
	})

	Context("IsNonceConflict", func() {
		It("should recognize raw node error strings", func() {
			Expect(provider.IsNonceConflict(errors.New("nonce too low"))).To(BeTrue())
			Expect(provider.IsNonceConflict(errors.New("already known"))).To(BeTrue())
			Expect(provider.IsNonceConflict(errors.New("replacement transaction underpriced"))).To(BeTrue())
			Expect(provider.IsNonceConflict(errors.New("INTERNAL_ERROR: could not replace existing tx"))).To(BeFalse())
		})

		It("should recognize typed conflicts", func() {
			err := provider.NewError(provider.ErrCodeNonceConflict, "nonce 5 rejected", nil, "eth_sendTransaction")
			Expect(provider.IsNonceConflict(err)).To(BeTrue())
		})

		It("should not flag unrelated failures", func() {
			Expect(provider.IsNonceConflict(errors.New("connection reset by peer"))).To(BeFalse())
			Expect(provider.IsNonceConflict(nil)).To(BeFalse())
		})
	})

	Context("IsNonceTooLow", func() {
		It("should single out the consumed-nonce rejection", func() {
			Expect(provider.IsNonceTooLow(errors.New("nonce too low"))).To(BeTrue())

			wrapped := provider.NewError(provider.ErrCodeNonceConflict, "node rejected transaction nonce", errors.New("nonce too low"), "eth_sendTransaction")
			Expect(provider.IsNonceTooLow(wrapped)).To(BeTrue())
		})

		It("should not flag conflicts whose slot is still pending", func() {
			Expect(provider.IsNonceTooLow(errors.New("replacement transaction underpriced"))).To(BeFalse())
			Expect(provider.IsNonceTooLow(errors.New("already known"))).To(BeFalse())

			typed := provider.NewError(provider.ErrCodeNonceConflict, "node rejected transaction nonce", errors.New("already known"), "eth_sendTransaction")
			Expect(provider.IsNonceTooLow(typed)).To(BeFalse())
			Expect(provider.IsNonceTooLow(nil)).To(BeFalse())
		})
	})
})
