// Package escalator provides a middleware layer that monitors submitted
// transactions and resubmits them at increasing gas prices until they mine or
// hit a price ceiling.
package escalator

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tinoh9/txstack/pkg/provider"
)

// Status is the lifecycle state of a tracked transaction.
type Status string

const (
	// StatusSubmitted indicates the transaction went out but the monitor has
	// not observed the chain since
	StatusSubmitted Status = "SUBMITTED"

	// StatusMonitoring indicates the monitor is watching for a receipt and
	// bumping on cadence
	StatusMonitoring Status = "MONITORING"

	// StatusMined indicates the nonce is consumed, either by one of our
	// submissions or by a competing transaction
	StatusMined Status = "MINED"

	// StatusCappedOutstanding indicates the next bump would exceed the price
	// ceiling, the last submission stays in the pool and receipts are still
	// polled
	StatusCappedOutstanding Status = "CAPPED_OUTSTANDING"
)

// Record is a point-in-time snapshot of a tracked transaction. Escalation is
// keyed by sending account and nonce, which stay fixed while the transaction
// hash changes with every bump.
type Record struct {
	// ID correlates log lines and snapshots across hash changes
	ID string

	// From and Nonce identify the chain slot being escalated
	From  common.Address
	Nonce uint64

	// Status is the lifecycle state at snapshot time
	Status Status

	// InitialPrice is the gas price of the first submission in wei
	InitialPrice *big.Int

	// CurrentPrice is the gas price of the latest submission in wei
	CurrentPrice *big.Int

	// Bumps counts completed resubmissions
	Bumps uint

	// Hashes holds every submission hash, oldest first
	Hashes []common.Hash

	// Prices holds the gas price of every submission, parallel to Hashes
	Prices []*big.Int

	// SubmittedAt is when the first submission went out
	SubmittedAt time.Time

	// LastBumpAt is when the latest submission went out
	LastBumpAt time.Time

	// Receipt is set once one of the submissions mined
	Receipt *types.Receipt
}

// LastHash returns the hash of the latest submission.
func (r Record) LastHash() common.Hash {
	if len(r.Hashes) == 0 {
		return common.Hash{}
	}
	return r.Hashes[len(r.Hashes)-1]
}

// record is the mutable tracking state behind a Record snapshot. Fields are
// written only under the escalator's lock.
type record struct {
	id           string
	from         common.Address
	nonce        uint64
	request      *provider.TxRequest // private copy used for resubmissions
	status       Status
	initialPrice *big.Int
	bumps        uint
	hashes       []common.Hash
	prices       []*big.Int
	submittedAt  time.Time
	lastBumpAt   time.Time

	// baselineBlock is the block height the current submission has been
	// outstanding since. A per-block bump requires the chain to move past it.
	baselineBlock uint64
	baselineSet   bool

	receipt *types.Receipt
}

func (r *record) lastHash() common.Hash {
	return r.hashes[len(r.hashes)-1]
}

func (r *record) currentPrice() *big.Int {
	return r.prices[len(r.prices)-1]
}

// snapshot deep-copies the record into its public form.
func (r *record) snapshot() Record {
	hashes := make([]common.Hash, len(r.hashes))
	copy(hashes, r.hashes)

	prices := make([]*big.Int, len(r.prices))
	for i, p := range r.prices {
		prices[i] = new(big.Int).Set(p)
	}

	return Record{
		ID:           r.id,
		From:         r.from,
		Nonce:        r.nonce,
		Status:       r.status,
		InitialPrice: new(big.Int).Set(r.initialPrice),
		CurrentPrice: new(big.Int).Set(r.currentPrice()),
		Bumps:        r.bumps,
		Hashes:       hashes,
		Prices:       prices,
		SubmittedAt:  r.submittedAt,
		LastBumpAt:   r.lastBumpAt,
		Receipt:      r.receipt,
	}
}
