// Package escalator provides a middleware layer that monitors submitted
// transactions and resubmits them at increasing gas prices until they mine or
// hit a price ceiling.
package escalator

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/provider"
)

// Config holds gas escalation settings.
type Config struct {
	// Strategy prices each resubmission
	Strategy Strategy

	// Frequency decides when a resubmission is due
	Frequency Frequency

	// PollInterval is how often the monitor wakes to check receipts and
	// cadence, defaults to 10 seconds
	PollInterval time.Duration

	// MaxBumps caps resubmissions per transaction, 0 means unlimited
	MaxBumps uint

	// MaxLifetime caps how long a transaction keeps escalating after its
	// first submission, 0 means unlimited
	MaxLifetime time.Duration

	// Logger instance, a default logger is created when nil
	Logger *logrus.Logger
}

// DefaultConfig returns escalation settings matching the minimum replacement
// increase most nodes enforce.
func DefaultConfig() Config {
	return Config{
		Strategy:     GeometricMultiple(1.125, big.NewInt(500000000000)), // +12.5% per bump, 500 gwei cap
		Frequency:    PerBlock(),
		PollInterval: 10 * time.Second,
	}
}

// recordKey identifies the chain slot a record escalates. The transaction
// hash changes with every bump, the account and nonce never do.
type recordKey struct {
	from  common.Address
	nonce uint64
}

// Escalator is a middleware layer that tracks every transaction submitted
// through it and, from a single background monitor goroutine, polls for
// receipts and resubmits outstanding transactions at increasing gas prices.
//
// Only SendTransaction drafts are tracked: raw pre-signed submissions cannot
// be re-priced and pass through untouched. Records for mined and capped
// transactions stay queryable for the lifetime of the escalator.
type Escalator struct {
	provider.Passthrough

	strategy    Strategy
	frequency   Frequency
	maxBumps    uint
	maxLifetime time.Duration
	log         *logrus.Logger
	now         func() time.Time

	mu      sync.Mutex // guards records and all record fields, never held across RPC
	records map[recordKey]*record

	ticker    *time.Ticker
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a gas escalator layer over inner and starts its monitor
// goroutine. Callers must Close the escalator to stop the monitor.
func New(inner provider.Provider, config Config) *Escalator {
	return NewWithClock(inner, config, time.Now)
}

// NewWithClock creates a gas escalator with an injected time source so
// cadence and lifetime decisions are testable.
func NewWithClock(inner provider.Provider, config Config, now func() time.Time) *Escalator {
	log := config.Logger
	if log == nil {
		log = logrus.New()
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}

	e := &Escalator{
		Passthrough: provider.NewPassthrough(inner),
		strategy:    config.Strategy,
		frequency:   config.Frequency,
		maxBumps:    config.MaxBumps,
		maxLifetime: config.MaxLifetime,
		log:         log,
		now:         now,
		records:     make(map[recordKey]*record),
		ticker:      time.NewTicker(pollInterval),
		done:        make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)

	return e
}

// SendTransaction submits the draft through the stack below and starts
// tracking it for escalation. Drafts missing a gas price or nonce get them
// filled from the provider beneath, since tracking needs both pinned down.
// A failed submission creates no record and the error propagates unchanged.
func (e *Escalator) SendTransaction(ctx context.Context, req *provider.TxRequest) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "transaction request is nil", nil, "eth_sendTransaction")
	}
	if req.From == (common.Address{}) {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "escalation tracking requires a from address", nil, "eth_sendTransaction")
	}

	out := req.Copy()
	if out.GasPrice == nil {
		price, err := e.Inner().SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, err
		}
		out.GasPrice = price
	}
	if out.Nonce == nil {
		pending, err := e.Inner().PendingNonceAt(ctx, out.From)
		if err != nil {
			return common.Hash{}, err
		}
		out.Nonce = &pending
	}

	hash, err := e.Inner().SendTransaction(ctx, out)
	if err != nil {
		return common.Hash{}, err
	}

	e.track(out, hash)
	return hash, nil
}

// Status returns a snapshot of the record tracking the given account and
// nonce slot.
func (e *Escalator) Status(from common.Address, nonce uint64) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[recordKey{from: from, nonce: nonce}]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// Records returns snapshots of every tracked record, oldest submission first.
func (e *Escalator) Records() []Record {
	e.mu.Lock()
	out := make([]Record, 0, len(e.records))
	for _, rec := range e.records {
		out = append(out, rec.snapshot())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// StopTracking removes the record for the given slot. The latest submission
// stays wherever it is on the network, it just stops being watched and
// bumped. Reports whether a record was present.
func (e *Escalator) StopTracking(from common.Address, nonce uint64) bool {
	key := recordKey{from: from, nonce: nonce}

	e.mu.Lock()
	rec, ok := e.records[key]
	if ok {
		delete(e.records, key)
	}
	e.mu.Unlock()

	if ok {
		e.log.WithFields(logrus.Fields{
			"record_id": rec.id,
			"address":   from.Hex(),
			"nonce":     nonce,
		}).Debug("Stopped tracking transaction")
	}
	return ok
}

// Close stops the monitor goroutine and waits for it to drain. In-flight
// receipt checks and bumps finish or are cut short by context cancellation.
// Records remain queryable after Close.
func (e *Escalator) Close() {
	e.closeOnce.Do(func() {
		e.ticker.Stop()
		e.cancel()
		<-e.done
	})
}

// track registers a submitted transaction for escalation. A resubmission of
// an already tracked slot replaces its record: the caller has restarted that
// slot's pricing.
func (e *Escalator) track(req *provider.TxRequest, hash common.Hash) {
	key := recordKey{from: req.From, nonce: *req.Nonce}
	now := e.now()
	rec := &record{
		id:           uuid.New().String(),
		from:         req.From,
		nonce:        *req.Nonce,
		request:      req,
		status:       StatusSubmitted,
		initialPrice: new(big.Int).Set(req.GasPrice),
		hashes:       []common.Hash{hash},
		prices:       []*big.Int{new(big.Int).Set(req.GasPrice)},
		submittedAt:  now,
		lastBumpAt:   now,
	}

	e.mu.Lock()
	prev, replaced := e.records[key]
	e.records[key] = rec
	e.mu.Unlock()

	if replaced {
		e.log.WithFields(logrus.Fields{
			"record_id":      rec.id,
			"prev_record_id": prev.id,
			"address":        req.From.Hex(),
			"nonce":          *req.Nonce,
		}).Debug("Replaced tracked record for resubmitted slot")
	}

	e.log.WithFields(logrus.Fields{
		"record_id": rec.id,
		"tx_hash":   hash.Hex(),
		"address":   req.From.Hex(),
		"nonce":     *req.Nonce,
		"gas_price": req.GasPrice.String(),
		"strategy":  e.strategy.Kind().String(),
	}).Info("Tracking transaction for gas escalation")
}

// run is the monitor loop. All record mutation happens from this goroutine,
// which makes the bump sequence per record total without per-record locking
// gymnastics.
func (e *Escalator) run(ctx context.Context) {
	log := e.log.WithField("task", "gas_escalator")
	log.Debug("Starting gas escalation monitor")
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			log.Debug("Stopping gas escalation monitor")
			return
		case <-e.ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// pollOnce runs a full monitor pass: one block height read, then a receipt
// check and cadence decision per live record.
func (e *Escalator) pollOnce(ctx context.Context) {
	type item struct {
		key recordKey
		rec *record
	}

	e.mu.Lock()
	work := make([]item, 0, len(e.records))
	for key, rec := range e.records {
		if rec.status == StatusMined {
			continue
		}
		work = append(work, item{key: key, rec: rec})
	}
	e.mu.Unlock()

	if len(work) == 0 {
		return
	}

	var currentBlock uint64
	blockKnown := false
	if e.frequency.IsPerBlock() {
		height, err := e.Inner().BlockNumber(ctx)
		if err != nil {
			e.log.WithError(err).Warn("Failed to read block height, deferring gas bumps")
		} else {
			currentBlock, blockKnown = height, true
		}
	}

	for _, it := range work {
		if ctx.Err() != nil {
			return
		}
		e.pollRecord(ctx, it.key, it.rec, currentBlock, blockKnown)
	}
}

// pollRecord checks one record for mining, retirement and bump cadence.
func (e *Escalator) pollRecord(ctx context.Context, key recordKey, rec *record, currentBlock uint64, blockKnown bool) {
	e.mu.Lock()
	hashes := make([]common.Hash, len(rec.hashes))
	copy(hashes, rec.hashes)
	status := rec.status
	bumps := rec.bumps
	lastBumpAt := rec.lastBumpAt
	submittedAt := rec.submittedAt
	baselineSet := rec.baselineSet
	baselineBlock := rec.baselineBlock
	e.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{
		"record_id": rec.id,
		"address":   rec.from.Hex(),
		"nonce":     rec.nonce,
	})

	// Any submission in the history may be the one that mined, a bump does
	// not evict its lower-priced predecessors from the network.
	for i := len(hashes) - 1; i >= 0; i-- {
		receipt, err := e.Inner().TransactionReceipt(ctx, hashes[i])
		if err != nil {
			if provider.IsReceiptNotFound(err) {
				continue
			}
			log.WithError(err).Warn("Receipt check failed, retrying next poll")
			return
		}

		e.withRecord(key, rec, func() {
			rec.status = StatusMined
			rec.receipt = receipt
		})
		log.WithFields(logrus.Fields{
			"tx_hash": hashes[i].Hex(),
			"block":   receipt.BlockNumber,
			"bumps":   bumps,
		}).Info("Tracked transaction mined")
		return
	}

	// Capped records only poll for receipts.
	if status == StatusCappedOutstanding {
		return
	}

	if e.maxBumps > 0 && bumps >= e.maxBumps {
		if e.withRecord(key, rec, func() { rec.status = StatusCappedOutstanding }) {
			log.WithField("bumps", bumps).Warn("Bump budget exhausted, holding at current price")
		}
		return
	}
	if e.maxLifetime > 0 && e.now().Sub(submittedAt) > e.maxLifetime {
		if e.withRecord(key, rec, func() { rec.status = StatusCappedOutstanding }) {
			log.Warn("Escalation window elapsed, holding at current price")
		}
		return
	}

	if e.frequency.IsPerBlock() {
		if !blockKnown {
			return
		}
		if !baselineSet {
			// Seeing a new block requires an observed predecessor: the
			// first pass only fixes the baseline.
			e.withRecord(key, rec, func() {
				rec.baselineBlock = currentBlock
				rec.baselineSet = true
				rec.status = StatusMonitoring
			})
			return
		}
		if currentBlock <= baselineBlock {
			return
		}
	} else {
		if status == StatusSubmitted {
			e.withRecord(key, rec, func() { rec.status = StatusMonitoring })
		}
		if e.now().Sub(lastBumpAt) < e.frequency.Every() {
			return
		}
	}

	e.bump(ctx, key, rec, currentBlock, log)
}

// bump prices and submits the next replacement for a record that is due.
func (e *Escalator) bump(ctx context.Context, key recordKey, rec *record, currentBlock uint64, log *logrus.Entry) {
	e.mu.Lock()
	if e.records[key] != rec {
		e.mu.Unlock()
		return
	}
	submission := rec.bumps + 1
	next := e.strategy.PriceAt(rec.initialPrice, submission)
	current := new(big.Int).Set(rec.currentPrice())
	req := rec.request.Copy()
	prevHash := rec.lastHash()
	e.mu.Unlock()

	// A strategy that cannot outbid the current submission never will on a
	// later pass either, the submission index only advances on successful
	// bumps. Park the record instead of retrying the same price forever.
	if next == nil || next.Cmp(current) <= 0 {
		if e.withRecord(key, rec, func() { rec.status = StatusCappedOutstanding }) {
			log.WithFields(logrus.Fields{
				"gas_price": current.String(),
				"strategy":  e.strategy.Kind().String(),
			}).Warn("Strategy cannot raise the price, holding at current price")
		}
		return
	}

	if e.strategy.AboveCeiling(next) {
		if e.withRecord(key, rec, func() { rec.status = StatusCappedOutstanding }) {
			log.WithFields(logrus.Fields{
				"next_price": next.String(),
				"ceiling":    e.strategy.Ceiling().String(),
				"gas_price":  current.String(),
			}).Warn("Price ceiling reached, keeping last submission outstanding")
		}
		return
	}

	req.GasPrice = next
	hash, err := e.Inner().SendTransaction(ctx, req)
	if err != nil {
		if provider.IsNonceTooLow(err) {
			// The account's chain nonce moved past this slot, so a
			// transaction at this nonce mined, ours or a competitor's.
			if e.withRecord(key, rec, func() { rec.status = StatusMined }) {
				log.Info("Nonce consumed by a mined transaction, stopping escalation")
			}
			return
		}
		if provider.IsNonceConflict(err) {
			// Duplicate or underpriced replacement: the pool still holds
			// the earlier submission unmined, so receipts keep being
			// polled and the bump is retried on the next pass.
			log.WithError(err).Warn("Pool rejected the replacement, keeping last submission outstanding")
			return
		}
		log.WithError(err).Warn("Gas bump submission failed, retrying next poll")
		return
	}

	now := e.now()
	e.withRecord(key, rec, func() {
		rec.bumps++
		rec.hashes = append(rec.hashes, hash)
		rec.prices = append(rec.prices, new(big.Int).Set(next))
		rec.lastBumpAt = now
		rec.baselineBlock = currentBlock
		rec.status = StatusMonitoring
	})

	log.WithFields(logrus.Fields{
		"tx_hash":      hash.Hex(),
		"prev_tx_hash": prevHash.Hex(),
		"gas_price":    next.String(),
		"submission":   submission,
	}).Info("Bumped transaction gas price")
}

// withRecord runs fn under the lock if the record is still tracked under key.
// Records replaced or stopped while an RPC was in flight are left alone.
func (e *Escalator) withRecord(key recordKey, rec *record, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.records[key] != rec {
		return false
	}
	fn()
	return true
}
