// Package consent implements the ConsentRegistry: the
// canonical revocation flag, cumulative pull accounting, and owner
// binding for every per-call Authorization in the kernel.
package consent

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
)

var (
	// ErrUnknownAuthorization is returned when an authorization hash has
	// never had a pull recorded against it.
	ErrUnknownAuthorization = errors.New("consent: unknown authorization")
	// ErrNotOwner is returned when the caller of Revoke/SetCap is not the
	// bound owner of the authorization.
	ErrNotOwner = errors.New("consent: caller is not the authorization owner")
	// ErrNotController is returned when a controller-only operation is
	// called by a non-controller.
	ErrNotController = errors.New("consent: caller is not the controller")
	// ErrNotTrustedExecutor is returned when RecordPull is called by an
	// address not on the trusted-executor allowlist.
	ErrNotTrustedExecutor = errors.New("consent: caller is not a trusted executor")
	// ErrOverflow is a fatal protocol error: pulled_total would overflow.
	ErrOverflow = errors.New("consent: pulled_total overflow")
)

const maxUint256Bits = 256

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), maxUint256Bits), big.NewInt(1))

type entry struct {
	owner       common.Address
	ownerBound  bool
	revoked     bool
	pulledTotal *big.Int
	cap         *big.Int
}

// Registry is the ConsentRegistry: per-auth_hash revocation, cumulative
// accounting, and owner binding, guarded by a single mutex so every
// operation is linearized.
type Registry struct {
	mu               sync.Mutex
	entries          map[common.Hash]*entry
	controller       common.Address
	trustedExecutors map[common.Address]bool
	bus              *events.Bus
}

// New returns an empty Registry administered by controller.
func New(controller common.Address, bus *events.Bus) *Registry {
	return &Registry{
		entries:          make(map[common.Hash]*entry),
		controller:       controller,
		trustedExecutors: make(map[common.Address]bool),
		bus:              bus,
	}
}

func (r *Registry) publish(evt events.Event) {
	if r.bus != nil {
		r.bus.Publish(evt)
	}
}

// IsRevoked reports whether authHash has been revoked. Unknown hashes
// are not revoked.
func (r *Registry) IsRevoked(authHash common.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[authHash]
	return ok && e.revoked
}

// PulledTotal returns the cumulative amount recorded against authHash.
// Unknown hashes report zero.
func (r *Registry) PulledTotal(authHash common.Hash) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[authHash]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(e.pulledTotal)
}

// OwnerOf returns the bound owner of authHash, if any.
func (r *Registry) OwnerOf(authHash common.Hash) (common.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[authHash]
	if !ok || !e.ownerBound {
		return common.Address{}, false
	}
	return e.owner, true
}

// RecordPull is restricted to a controller-curated allowlist of trusted
// executors (typically the PullExecutor itself). It binds the owner on
// first call, adds amount to pulled_total, and emits PullExecuted.
func (r *Registry) RecordPull(caller common.Address, authHash common.Hash, token, grantor, grantee common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.trustedExecutors[caller] {
		return ErrNotTrustedExecutor
	}

	e, ok := r.entries[authHash]
	if !ok {
		e = &entry{pulledTotal: new(big.Int), cap: new(big.Int)}
		r.entries[authHash] = e
	}
	if !e.ownerBound {
		e.owner = grantor
		e.ownerBound = true
	}

	newTotal := new(big.Int).Add(e.pulledTotal, amount)
	if newTotal.Cmp(maxUint256) > 0 {
		return ErrOverflow
	}
	e.pulledTotal = newTotal

	r.publish(events.New(events.PullExecuted,
		"auth_hash", authHash, "token", token, "grantor", grantor,
		"grantee", grantee, "amount", amount, "cumulative", new(big.Int).Set(newTotal)))
	return nil
}

// Revoke latches authHash as revoked. Only the bound owner may call it.
func (r *Registry) Revoke(caller common.Address, authHash common.Hash, ts uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[authHash]
	if !ok || !e.ownerBound {
		return ErrUnknownAuthorization
	}
	if caller != e.owner {
		return ErrNotOwner
	}
	e.revoked = true

	r.publish(events.New(events.AuthorizationRevoked, "auth_hash", authHash, "grantor", caller, "ts", ts))
	return nil
}

// SetCap updates the advisory soft cap recorded against authHash. The
// cap is never enforced by RecordPull; it is informational only,
// consulted by off-chain/out-of-process grantee tooling.
func (r *Registry) SetCap(caller common.Address, authHash common.Hash, newCap *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[authHash]
	if !ok || !e.ownerBound {
		return ErrUnknownAuthorization
	}
	if caller != e.owner {
		return ErrNotOwner
	}
	oldCap := new(big.Int).Set(e.cap)
	e.cap = new(big.Int).Set(newCap)

	r.publish(events.New(events.AuthorizationBudgetUpdated, "auth_hash", authHash, "old_cap", oldCap, "new_cap", new(big.Int).Set(newCap)))
	return nil
}

// Observe is advisory and unauthenticated: it emits AuthorizationObserved
// but MUST NOT be treated by any consumer as evidence of consent.
func (r *Registry) Observe(authHash common.Hash, grantor, grantee, token common.Address) {
	r.publish(events.New(events.AuthorizationObserved,
		"auth_hash", authHash, "grantor", grantor, "grantee", grantee, "token", token))
}

// SetController rotates the administrative controller. Controller-only.
func (r *Registry) SetController(caller, newController common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.controller {
		return ErrNotController
	}
	r.controller = newController
	return nil
}

// SetTrustedExecutor adds or removes executor from the trusted-executor
// allowlist consulted by RecordPull. Controller-only.
func (r *Registry) SetTrustedExecutor(caller, executor common.Address, trusted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.controller {
		return ErrNotController
	}
	if trusted {
		r.trustedExecutors[executor] = true
	} else {
		delete(r.trustedExecutors, executor)
	}
	return nil
}

// IsTrustedExecutor reports whether executor is currently trusted.
func (r *Registry) IsTrustedExecutor(executor common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trustedExecutors[executor]
}
