// Package escalator provides a middleware layer that monitors submitted
// transactions and resubmits them at increasing gas prices until they mine or
// hit a price ceiling.
package escalator

import (
	"math"
	"math/big"
	"time"
)

// ppb is the fixed-point denominator for growth coefficients. Holding
// coefficients as parts per billion keeps bump math in exact integer space:
// no float creeps into a price once a strategy is built.
const ppb = 1_000_000_000

// PriceFunc computes the gas price for a submission. The initial price is the
// one the transaction first went out with, submission counts from zero for
// that first send. Implementations must be pure: the same inputs always yield
// the same price.
type PriceFunc func(initial *big.Int, submission uint) *big.Int

// Kind identifies how a strategy grows the price between submissions.
type Kind int

const (
	// KindConstant adds a fixed wei increment per bump
	KindConstant Kind = iota
	// KindLinear grows the initial price by a fixed multiple per bump
	KindLinear
	// KindGeometric compounds the price by a coefficient per bump
	KindGeometric
	// KindCustom delegates pricing to a caller-supplied function
	KindCustom
)

// String returns a log-friendly name for the kind.
func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindLinear:
		return "linear"
	case KindGeometric:
		return "geometric"
	case KindCustom:
		return "custom"
	}
	return "unknown"
}

// Strategy decides the price of each resubmission and the ceiling beyond
// which no further bump happens. A nil ceiling means unbounded.
//
// Replacement transactions must outbid their predecessor, so coefficients
// below 1 are treated as 1. A strategy that cannot raise the price stops
// escalation: the escalator parks such records as CappedOutstanding on their
// first due bump instead of resubmitting.
type Strategy struct {
	kind           Kind
	increment      *big.Int
	coefficientPPB int64
	ceiling        *big.Int
	custom         PriceFunc
}

// ConstantIncrement returns a strategy adding increment wei on every bump:
// the k-th submission pays initial + k*increment. A nil or zero increment
// never raises the price and parks escalation as CappedOutstanding.
func ConstantIncrement(increment, ceiling *big.Int) Strategy {
	inc := big.NewInt(0)
	if increment != nil {
		inc = new(big.Int).Set(increment)
	}
	return Strategy{
		kind:      KindConstant,
		increment: inc,
		ceiling:   copyOrNil(ceiling),
	}
}

// LinearMultiple returns a strategy growing the initial price by a fixed
// share per bump: the k-th submission pays initial * (1 + k*(coefficient-1)).
// A coefficient of 1.5 yields 100%, 150%, 200%, ... of the initial price.
// Coefficients at or below 1 never raise the price and park escalation as
// CappedOutstanding.
func LinearMultiple(coefficient float64, ceiling *big.Int) Strategy {
	return Strategy{
		kind:           KindLinear,
		coefficientPPB: toPPB(coefficient),
		ceiling:        copyOrNil(ceiling),
	}
}

// GeometricMultiple returns a compounding strategy: the k-th submission pays
// initial * coefficient^k. A coefficient of 1.125 matches the 12.5% minimum
// replacement increase most nodes enforce. Coefficients at or below 1 never
// raise the price and park escalation as CappedOutstanding.
func GeometricMultiple(coefficient float64, ceiling *big.Int) Strategy {
	return Strategy{
		kind:           KindGeometric,
		coefficientPPB: toPPB(coefficient),
		ceiling:        copyOrNil(ceiling),
	}
}

// CustomStrategy returns a strategy delegating price computation to fn while
// keeping ceiling enforcement in the escalator.
func CustomStrategy(fn PriceFunc, ceiling *big.Int) Strategy {
	return Strategy{
		kind:    KindCustom,
		custom:  fn,
		ceiling: copyOrNil(ceiling),
	}
}

// Kind returns the strategy's growth kind.
func (s Strategy) Kind() Kind {
	return s.kind
}

// Ceiling returns a copy of the price ceiling, nil when unbounded.
func (s Strategy) Ceiling() *big.Int {
	return copyOrNil(s.ceiling)
}

// PriceAt returns the gas price of submission number `submission` for a
// transaction that first went out at initial. Submission 0 is the initial
// send itself. The result is always a fresh value, callers may mutate it.
func (s Strategy) PriceAt(initial *big.Int, submission uint) *big.Int {
	if initial == nil {
		return nil
	}

	switch s.kind {
	case KindConstant:
		step := new(big.Int).Mul(s.increment, new(big.Int).SetUint64(uint64(submission)))
		return step.Add(step, initial)

	case KindLinear:
		growth := int64(submission) * (s.coefficientPPB - ppb)
		price := new(big.Int).Mul(initial, big.NewInt(ppb+growth))
		return price.Div(price, big.NewInt(ppb))

	case KindGeometric:
		price := new(big.Int).Set(initial)
		coeff := big.NewInt(s.coefficientPPB)
		denom := big.NewInt(ppb)
		for i := uint(0); i < submission; i++ {
			price.Mul(price, coeff)
			price.Div(price, denom)
		}
		return price

	case KindCustom:
		return s.custom(new(big.Int).Set(initial), submission)
	}
	return new(big.Int).Set(initial)
}

// AboveCeiling reports whether a price exceeds the ceiling. Paying exactly
// the ceiling is allowed; only going past it stops escalation.
func (s Strategy) AboveCeiling(price *big.Int) bool {
	return s.ceiling != nil && price != nil && price.Cmp(s.ceiling) > 0
}

// Frequency decides when a tracked transaction is due for its next bump.
type Frequency struct {
	perBlock bool
	every    time.Duration
}

// PerBlock returns a frequency bumping at most once per newly observed block.
// A bump requires seeing the chain advance past a block on which the current
// submission was already outstanding.
func PerBlock() Frequency {
	return Frequency{perBlock: true}
}

// PerDuration returns a frequency bumping once the given wall-clock time has
// passed since the last submission.
func PerDuration(every time.Duration) Frequency {
	return Frequency{every: every}
}

// IsPerBlock reports whether bump cadence follows block arrival.
func (f Frequency) IsPerBlock() bool {
	return f.perBlock
}

// Every returns the wall-clock cadence, zero for per-block frequencies.
func (f Frequency) Every() time.Duration {
	return f.every
}

func toPPB(coefficient float64) int64 {
	if coefficient < 1 || math.IsNaN(coefficient) {
		return ppb
	}
	return int64(math.Round(coefficient * ppb))
}

func copyOrNil(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
