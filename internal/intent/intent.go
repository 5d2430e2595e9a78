// Package intent implements the IntentRegistry: signed cross-domain
// FlowIntent verification and metering against a max_total cap,
// controller-gated.
package intent

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
	"github.com/flowkernel/kernel/internal/sig"
)

var (
	// ErrAmountZero is returned when amount is not positive.
	ErrAmountZero = errors.New("intent: amount must be positive")
	// ErrTooSoon is returned when now is before valid_after.
	ErrTooSoon = errors.New("intent: too soon")
	// ErrExpired is returned when now is after valid_before.
	ErrExpired = errors.New("intent: expired")
	// ErrRevoked is returned when the intent has been revoked.
	ErrRevoked = errors.New("intent: revoked")
	// ErrCapExceeded is returned when amount would push moved_so_far above max_total.
	ErrCapExceeded = errors.New("intent: amount exceeds remaining max_total")
	// ErrUnknownIntent is returned by RevokeIntent for an intent with no bound owner.
	ErrUnknownIntent = errors.New("intent: unknown intent")
	// ErrNotOwner is returned when RevokeIntent is called by someone other
	// than the bound owner.
	ErrNotOwner = errors.New("intent: caller is not the intent owner")
	// ErrNotController is returned when VerifyAndConsume is called by a
	// non-controller.
	ErrNotController = errors.New("intent: caller is not the controller")
)

// FlowIntent is the signed cross-domain consent envelope.
type FlowIntent struct {
	Grantor      common.Address
	Executor     common.Address
	SrcDomain    common.Hash
	DstDomain    common.Hash
	Token        common.Address
	MaxTotal     *big.Int
	ValidAfter   uint64
	ValidBefore  uint64
	Nonce        uint64
	MetadataHash common.Hash
}

// Hash is the deterministic intent_hash, signature excluded.
func (fi FlowIntent) Hash() common.Hash {
	return sig.StructHash(
		sig.AddressField(fi.Grantor),
		sig.AddressField(fi.Executor),
		sig.HashField(fi.SrcDomain),
		sig.HashField(fi.DstDomain),
		sig.AddressField(fi.Token),
		sig.BigIntField(fi.MaxTotal),
		sig.Uint64Field(fi.ValidAfter),
		sig.Uint64Field(fi.ValidBefore),
		sig.Uint64Field(fi.Nonce),
		sig.HashField(fi.MetadataHash),
	)
}

type intentState struct {
	owner      common.Address
	ownerBound bool
	revoked    bool
	movedSoFar *big.Int
}

// Registry is the IntentRegistry.
type Registry struct {
	mu         sync.Mutex
	domain     common.Hash
	controller common.Address
	verifier   *sig.Verifier
	entries    map[common.Hash]*intentState
	bus        *events.Bus
}

// New returns an empty Registry. domain binds signatures to this
// registry instance.
func New(domain sig.Domain, controller common.Address, verifier *sig.Verifier, bus *events.Bus) *Registry {
	return &Registry{
		domain:     domain.Descriptor(),
		controller: controller,
		verifier:   verifier,
		entries:    make(map[common.Hash]*intentState),
		bus:        bus,
	}
}

func (r *Registry) publish(evt events.Event) {
	if r.bus != nil {
		r.bus.Publish(evt)
	}
}

// VerifyAndConsume is controller-only (the Rebalancer or its governance
// proxy). It validates amount/window/cap, verifies signature, binds the
// owner on first consume, and reserves amount against max_total.
func (r *Registry) VerifyAndConsume(caller common.Address, fi FlowIntent, signature []byte, amount *big.Int, now uint64) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.controller {
		return common.Hash{}, ErrNotController
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, ErrAmountZero
	}
	if now < fi.ValidAfter {
		return common.Hash{}, ErrTooSoon
	}
	if now > fi.ValidBefore {
		return common.Hash{}, ErrExpired
	}

	h := fi.Hash()
	s, ok := r.entries[h]
	if !ok {
		s = &intentState{movedSoFar: new(big.Int)}
		r.entries[h] = s
	}
	if s.revoked {
		return h, ErrRevoked
	}

	newTotal := new(big.Int).Add(s.movedSoFar, amount)
	if newTotal.Cmp(fi.MaxTotal) > 0 {
		return h, ErrCapExceeded
	}

	digest := sig.Digest(r.domain, h)
	if err := r.verifier.Verify(fi.Grantor, digest, signature); err != nil {
		return h, err
	}

	if !s.ownerBound {
		s.owner = fi.Grantor
		s.ownerBound = true
	}
	s.movedSoFar = newTotal
	return h, nil
}

// RevokeIntent latches h as revoked. Owner-only.
func (r *Registry) RevokeIntent(caller common.Address, h common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.entries[h]
	if !ok || !s.ownerBound {
		return ErrUnknownIntent
	}
	if caller != s.owner {
		return ErrNotOwner
	}
	s.revoked = true
	r.publish(events.New(events.IntentRevoked, "intent_hash", h))
	return nil
}

// IsRevoked reports whether h has been revoked.
func (r *Registry) IsRevoked(h common.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[h]
	return ok && s.revoked
}

// MovedSoFar returns the cumulative amount consumed for h.
func (r *Registry) MovedSoFar(h common.Hash) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[h]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(s.movedSoFar)
}

// OwnerOf returns the bound owner of intent hash h, if any.
func (r *Registry) OwnerOf(h common.Hash) (common.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[h]
	if !ok || !s.ownerBound {
		return common.Address{}, false
	}
	return s.owner, true
}
