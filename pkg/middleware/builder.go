// Package middleware provides the composable layers that sit between
// application code and the base JSON-RPC provider: request transformation,
// signing, read retries and the builder that assembles them into a stack.
package middleware

import (
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/escalator"
	"github.com/tinoh9/txstack/pkg/gasoracle"
	"github.com/tinoh9/txstack/pkg/nonce"
	"github.com/tinoh9/txstack/pkg/provider"
)

// Layer ranks in recommended innermost to outermost order. The retry layer
// hugs the transport, the signer sits beneath the escalator so every bump is
// re-signed at its new price, pricing and nonce assignment happen above so
// drafts are complete before they are tracked, and destination rewrites come
// first of all.
const (
	rankRetry = iota
	rankSigner
	rankEscalator
	rankOracle
	rankNonce
	rankTransformer
)

// Builder assembles a middleware stack over a base provider. Each With call
// wraps the current top of the stack, so the last layer added is outermost
// and sees calls first. Layer order is caller-determined; adding a known
// layer outside one it usually sits inside logs a warning but is honored.
type Builder struct {
	top      provider.Provider
	log      *logrus.Logger
	lastRank int
	lastName string

	escalator *escalator.Escalator
	allocator *nonce.Allocator
	oracle    *gasoracle.Oracle
}

// NewBuilder creates a stack builder over the given base provider.
//
// Parameters:
//   - base: Provider at the bottom of the stack, typically an RPC adapter
//   - log: Logger shared by layers whose config carries none, a default
//     logger is created when nil
//
// Returns:
//   - *Builder: Initialized builder with an empty stack
func NewBuilder(base provider.Provider, log *logrus.Logger) *Builder {
	if log == nil {
		log = logrus.New()
	}
	return &Builder{
		top:      base,
		log:      log,
		lastRank: -1,
	}
}

// Wrap adds a custom layer built by the given function over the current top
// of the stack. The name is only used for logging.
func (b *Builder) Wrap(name string, build func(inner provider.Provider) provider.Provider) *Builder {
	b.top = build(b.top)
	b.log.WithField("layer", name).Debug("Wrapped stack with custom layer")
	return b
}

// WithRetry adds a read retry layer.
func (b *Builder) WithRetry(config RetryConfig) *Builder {
	b.checkOrder(rankRetry, "retry")
	if config.Logger == nil {
		config.Logger = b.log
	}
	b.top = NewRetry(b.top, config)
	return b
}

// WithSigner adds a signing layer for the given signer.
func (b *Builder) WithSigner(signer Signer, config SignerConfig) *Builder {
	b.checkOrder(rankSigner, "signer")
	if config.Logger == nil {
		config.Logger = b.log
	}
	b.top = NewSigner(b.top, signer, config)
	return b
}

// WithEscalator adds a gas escalation layer. Its monitor goroutine starts
// immediately; Close the built stack to stop it.
func (b *Builder) WithEscalator(config escalator.Config) *Builder {
	b.checkOrder(rankEscalator, "escalator")
	if config.Logger == nil {
		config.Logger = b.log
	}
	esc := escalator.New(b.top, config)
	b.escalator = esc
	b.top = esc
	return b
}

// WithOracle adds a gas price oracle layer.
func (b *Builder) WithOracle(config gasoracle.Config) *Builder {
	b.checkOrder(rankOracle, "gas_oracle")
	if config.Logger == nil {
		config.Logger = b.log
	}
	oracle := gasoracle.New(b.top, config)
	b.oracle = oracle
	b.top = oracle
	return b
}

// WithNonceAllocator adds a nonce allocation layer.
func (b *Builder) WithNonceAllocator() *Builder {
	b.checkOrder(rankNonce, "nonce_allocator")
	allocator := nonce.New(b.top, b.log)
	b.allocator = allocator
	b.top = allocator
	return b
}

// WithTransform adds a transformation layer applying the given rewrite.
func (b *Builder) WithTransform(transform TransformFunc) *Builder {
	b.checkOrder(rankTransformer, "transformer")
	b.top = NewTransformer(b.top, transform, b.log)
	return b
}

// Build returns the assembled stack. The builder can keep wrapping
// afterwards, but layers added later are not part of already built stacks.
func (b *Builder) Build() *Stack {
	return &Stack{
		Provider:  b.top,
		escalator: b.escalator,
		allocator: b.allocator,
		oracle:    b.oracle,
	}
}

// checkOrder warns when a known layer lands outside a layer it usually sits
// inside, the stack is still assembled exactly as requested.
func (b *Builder) checkOrder(rank int, name string) {
	if b.lastRank > rank {
		b.log.WithFields(logrus.Fields{
			"layer": name,
			"wraps": b.lastName,
		}).Warn("Layer added outside one it usually sits inside")
	}
	b.lastRank = rank
	b.lastName = name
}

// Stack is an assembled middleware chain. It exposes the full provider
// surface of its outermost layer, callers submit and query through it
// without knowing how many layers are stacked.
type Stack struct {
	provider.Provider

	escalator *escalator.Escalator
	allocator *nonce.Allocator
	oracle    *gasoracle.Oracle
}

// Escalator returns the stack's gas escalation layer, nil when none was
// added.
func (s *Stack) Escalator() *escalator.Escalator {
	return s.escalator
}

// NonceAllocator returns the stack's nonce allocation layer, nil when none
// was added.
func (s *Stack) NonceAllocator() *nonce.Allocator {
	return s.allocator
}

// Oracle returns the stack's gas price oracle layer, nil when none was
// added.
func (s *Stack) Oracle() *gasoracle.Oracle {
	return s.oracle
}

// Close stops the stack's background activity. Safe to call on stacks
// without an escalator and safe to call more than once.
func (s *Stack) Close() {
	if s.escalator != nil {
		s.escalator.Close()
	}
}

// DefaultStack assembles the recommended stack over base: reads retried at
// the bottom, then signing, gas escalation with the default geometric
// strategy, node-backed gas pricing and nonce allocation outermost. A nil
// signer builds the same stack without the signing layer, for callers whose
// base provider accepts unsigned drafts.
func DefaultStack(base provider.Provider, signer Signer, log *logrus.Logger) *Stack {
	b := NewBuilder(base, log)
	b.WithRetry(DefaultRetryConfig())
	if signer != nil {
		b.WithSigner(signer, SignerConfig{})
	}
	b.WithEscalator(escalator.DefaultConfig())
	b.WithOracle(gasoracle.DefaultConfig(nil))
	b.WithNonceAllocator()
	return b.Build()
}
