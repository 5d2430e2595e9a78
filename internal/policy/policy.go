// Package policy implements the PolicyEnforcer:
// per-epoch budgets, per-call ceilings, and an optional receiver
// allowlist, consulted by FlowChannel and the routing plane before a
// pull is released.
package policy

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/clock"
	"github.com/flowkernel/kernel/internal/events"
)

var (
	// ErrUnknownPolicy is returned for any operation on a policy_id that
	// does not exist.
	ErrUnknownPolicy = errors.New("policy: unknown policy")
	// ErrNotGrantor is returned when a grantor-only operation is called by
	// someone else.
	ErrNotGrantor = errors.New("policy: caller is not the grantor")
	// ErrNotGrantee is returned when CheckAndConsume is called by someone
	// other than the policy's grantee.
	ErrNotGrantee = errors.New("policy: caller is not the grantee")
	// ErrRevoked is returned when CheckAndConsume targets a revoked policy.
	ErrRevoked = errors.New("policy: policy revoked")
	// ErrAmountZero is returned when amount is not positive.
	ErrAmountZero = errors.New("policy: amount must be positive")
	// ErrExceedsPerCall is returned when amount exceeds max_per_pull.
	ErrExceedsPerCall = errors.New("policy: amount exceeds max_per_pull")
	// ErrExceedsEpoch is returned when amount would push spent_this_epoch
	// above max_per_epoch.
	ErrExceedsEpoch = errors.New("policy: amount exceeds remaining epoch budget")
	// ErrReceiverForbidden is returned when receiver rules are active and
	// the destination is not on the allowlist.
	ErrReceiverForbidden = errors.New("policy: receiver not allowed")
	// ErrBadParams is returned by CreatePolicy when max_per_pull exceeds
	// max_per_epoch.
	ErrBadParams = errors.New("policy: max_per_pull must not exceed max_per_epoch")
)

type policyEntry struct {
	grantor             common.Address
	grantee             common.Address
	token               common.Address
	maxPerPull          *big.Int
	maxPerEpoch         *big.Int
	currentEpoch        uint64
	spentThisEpoch      *big.Int
	receiverRulesActive bool
	allowedReceivers    map[common.Address]bool
	revoked             bool
}

// Enforcer is the PolicyEnforcer: one per-policy, per-epoch budget
// tracker, sharing a single UniversalClock across every policy it holds.
type Enforcer struct {
	mu       sync.Mutex
	clock    *clock.Clock
	policies map[common.Hash]*policyEntry
	bus      *events.Bus
}

// New returns an empty Enforcer bound to clk.
func New(clk *clock.Clock, bus *events.Bus) *Enforcer {
	return &Enforcer{clock: clk, policies: make(map[common.Hash]*policyEntry), bus: bus}
}

func (e *Enforcer) publish(evt events.Event) {
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}

// CreatePolicy registers a new policy bound to caller as grantor.
func (e *Enforcer) CreatePolicy(caller common.Address, id common.Hash, grantee, token common.Address, maxPerPull, maxPerEpoch *big.Int, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxPerPull.Cmp(maxPerEpoch) > 0 {
		return ErrBadParams
	}
	e.policies[id] = &policyEntry{
		grantor:          caller,
		grantee:          grantee,
		token:            token,
		maxPerPull:       new(big.Int).Set(maxPerPull),
		maxPerEpoch:      new(big.Int).Set(maxPerEpoch),
		currentEpoch:     e.clock.CurrentEpoch(now),
		spentThisEpoch:   new(big.Int),
		allowedReceivers: make(map[common.Address]bool),
	}
	e.publish(events.New(events.PolicyCreated, "policy_id", id, "grantor", caller, "grantee", grantee, "token", token))
	return nil
}

// CheckAndConsume enforces the per-epoch budget, per-call ceiling, and
// (if active) receiver allowlist, then records the spend. Epoch
// rollover is lazy: it happens inside this call when the observed
// epoch (derived from now) differs from the stored one.
func (e *Enforcer) CheckAndConsume(policyID common.Hash, caller, to common.Address, amount *big.Int, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[policyID]
	if !ok {
		return ErrUnknownPolicy
	}
	if p.revoked {
		return ErrRevoked
	}
	if caller != p.grantee {
		return ErrNotGrantee
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	if amount.Cmp(p.maxPerPull) > 0 {
		return ErrExceedsPerCall
	}

	epoch := e.clock.CurrentEpoch(now)
	if epoch != p.currentEpoch {
		p.currentEpoch = epoch
		p.spentThisEpoch = new(big.Int)
	}

	newSpend := new(big.Int).Add(p.spentThisEpoch, amount)
	if newSpend.Cmp(p.maxPerEpoch) > 0 {
		return ErrExceedsEpoch
	}

	if p.receiverRulesActive && !p.allowedReceivers[to] {
		return ErrReceiverForbidden
	}

	p.spentThisEpoch = newSpend
	e.publish(events.New(events.PolicySpend, "policy_id", policyID, "epoch", epoch, "amount", amount, "new_epoch_total", new(big.Int).Set(newSpend)))
	return nil
}

// SetReceiverAllowed toggles one allowlist entry. The first call on a
// policy flips receiver_rules_active to true; it never flips back.
// Grantor-only.
func (e *Enforcer) SetReceiverAllowed(caller common.Address, policyID common.Hash, receiver common.Address, allowed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[policyID]
	if !ok {
		return ErrUnknownPolicy
	}
	if caller != p.grantor {
		return ErrNotGrantor
	}
	p.receiverRulesActive = true
	if allowed {
		p.allowedReceivers[receiver] = true
	} else {
		delete(p.allowedReceivers, receiver)
	}
	e.publish(events.New(events.ReceiverAllowed, "policy_id", policyID, "receiver", receiver, "allowed", allowed))
	return nil
}

// RevokePolicy is a one-way latch. Grantor-only.
func (e *Enforcer) RevokePolicy(caller common.Address, policyID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[policyID]
	if !ok {
		return ErrUnknownPolicy
	}
	if caller != p.grantor {
		return ErrNotGrantor
	}
	p.revoked = true
	e.publish(events.New(events.PolicyRevoked, "policy_id", policyID))
	return nil
}

// SpentThisEpoch returns the current epoch's spend for policyID, for
// tests and observability. Unknown policies report zero.
func (e *Enforcer) SpentThisEpoch(policyID common.Hash) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[policyID]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(p.spentThisEpoch)
}

// Snapshot returns the full durable state of policy id, for operator
// inspection and write-through persistence.
func (e *Enforcer) Snapshot(id common.Hash) (grantor, grantee, token common.Address, maxPerPull, maxPerEpoch *big.Int, currentEpoch uint64, spentThisEpoch *big.Int, revoked bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[id]
	if !ok {
		return common.Address{}, common.Address{}, common.Address{}, nil, nil, 0, nil, false, ErrUnknownPolicy
	}
	return p.grantor, p.grantee, p.token, new(big.Int).Set(p.maxPerPull), new(big.Int).Set(p.maxPerEpoch), p.currentEpoch, new(big.Int).Set(p.spentThisEpoch), p.revoked, nil
}
