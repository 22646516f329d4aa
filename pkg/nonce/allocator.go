// Package nonce provides a middleware layer that hands out strictly increasing
// account nonces so concurrent senders never collide on the same slot.
package nonce

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/provider"
	"golang.org/x/sync/singleflight"
)

// Allocator tracks a local nonce counter per sending address. The first
// allocation for an address seeds the counter from the network's pending
// nonce; every allocation after that is a local increment, so a burst of
// concurrent submissions receives a gap-free run of nonces without one RPC
// round trip each.
//
// The counter only moves forward. A failed submission does not return its
// nonce: the transaction may still be sitting in the node's mempool, and
// reusing the slot would produce a replacement conflict. Reset is the explicit
// escape hatch when local state is known to be wrong.
type Allocator struct {
	provider.Passthrough

	mu       sync.RWMutex // guards the accounts map, never held across RPC
	accounts map[common.Address]*account
	seeds    singleflight.Group
	log      *logrus.Logger
}

// account holds per-address state. Each account carries its own lock so
// traffic on one address never blocks allocations for another.
type account struct {
	mu     sync.Mutex
	next   uint64
	seeded bool
}

// New creates a nonce allocator layer over inner.
//
// Parameters:
//   - inner: Provider the layer delegates to, also used for nonce seeding
//   - log: Logger instance, a default logger is created when nil
//
// Returns:
//   - *Allocator: Initialized allocator layer
func New(inner provider.Provider, log *logrus.Logger) *Allocator {
	if log == nil {
		log = logrus.New()
	}
	return &Allocator{
		Passthrough: provider.NewPassthrough(inner),
		accounts:    make(map[common.Address]*account),
		log:         log,
	}
}

// Allocate reserves and returns the next nonce for the address. The first call
// for an address queries the network for its pending nonce; concurrent first
// calls share a single query. Later calls increment the local counter without
// touching the network.
//
// Parameters:
//   - ctx: Context for the seeding query
//   - addr: Account to allocate a nonce for
//
// Returns:
//   - uint64: The reserved nonce, unique among all concurrent callers
//   - error: Error if the seeding query fails, in which case nothing is cached
func (a *Allocator) Allocate(ctx context.Context, addr common.Address) (uint64, error) {
	acct := a.account(addr)

	for {
		acct.mu.Lock()
		if acct.seeded {
			n := acct.next
			acct.next++
			acct.mu.Unlock()
			return n, nil
		}
		acct.mu.Unlock()

		if err := a.seed(ctx, addr, acct); err != nil {
			return 0, err
		}
	}
}

// Reset drops all cached state for the address. The next allocation re-seeds
// from the network. Call it after external interference, for example when
// another process sent transactions from the same account.
func (a *Allocator) Reset(addr common.Address) {
	acct := a.account(addr)

	acct.mu.Lock()
	acct.seeded = false
	acct.next = 0
	acct.mu.Unlock()

	a.log.WithField("address", addr.Hex()).Debug("Reset nonce state")
}

// SyncNonce refreshes the counter from the network's pending nonce. The local
// counter only ever moves forward: a network answer below the local value is
// ignored, since locally allocated nonces may not have reached the mempool yet.
//
// Returns:
//   - uint64: The next nonce that Allocate would hand out after the sync
//   - error: Error if the network query fails
func (a *Allocator) SyncNonce(ctx context.Context, addr common.Address) (uint64, error) {
	pending, err := a.Inner().PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, err
	}

	acct := a.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if !acct.seeded || pending > acct.next {
		acct.next = pending
		acct.seeded = true
	}
	return acct.next, nil
}

// SendTransaction fills the draft's nonce when unset and delegates. Drafts
// arriving with a nonce already chosen pass through untouched. When the node
// rejects the allocated nonce the error is typed as a conflict and the local
// counter stays where it is.
func (a *Allocator) SendTransaction(ctx context.Context, req *provider.TxRequest) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "transaction request is nil", nil, "eth_sendTransaction")
	}
	if req.Nonce != nil {
		return a.Inner().SendTransaction(ctx, req)
	}
	if req.From == (common.Address{}) {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "cannot allocate nonce without a from address", nil, "eth_sendTransaction")
	}

	n, err := a.Allocate(ctx, req.From)
	if err != nil {
		return common.Hash{}, err
	}

	out := req.Copy()
	out.Nonce = &n

	a.log.WithFields(logrus.Fields{
		"address": req.From.Hex(),
		"nonce":   n,
	}).Debug("Allocated transaction nonce")

	hash, err := a.Inner().SendTransaction(ctx, out)
	if err != nil {
		if provider.IsNonceConflict(err) {
			return common.Hash{}, provider.NewError(
				provider.ErrCodeNonceConflict,
				fmt.Sprintf("allocated nonce %d conflicts with chain state", n),
				err,
				"eth_sendTransaction",
			)
		}
		return common.Hash{}, err
	}
	return hash, nil
}

// account returns the state holder for an address, creating it on first use.
func (a *Allocator) account(addr common.Address) *account {
	a.mu.RLock()
	acct, ok := a.accounts[addr]
	a.mu.RUnlock()
	if ok {
		return acct
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if acct, ok = a.accounts[addr]; ok {
		return acct
	}
	acct = &account{}
	a.accounts[addr] = acct
	return acct
}

// seed initializes the counter from the network's pending nonce. Concurrent
// seeders for the same address share one flight; a failed flight caches
// nothing, so the next allocation retries cleanly.
func (a *Allocator) seed(ctx context.Context, addr common.Address, acct *account) error {
	_, err, _ := a.seeds.Do(addr.Hex(), func() (interface{}, error) {
		pending, err := a.Inner().PendingNonceAt(ctx, addr)
		if err != nil {
			return nil, err
		}

		acct.mu.Lock()
		if !acct.seeded {
			acct.next = pending
			acct.seeded = true
		}
		acct.mu.Unlock()

		a.log.WithFields(logrus.Fields{
			"address": addr.Hex(),
			"nonce":   pending,
		}).Debug("Seeded nonce counter from pending state")
		return pending, nil
	})
	return err
}
