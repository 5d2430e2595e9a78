// Package rebalance implements the Rebalancer: verifies
// a signed cross-domain FlowIntent against the IntentRegistry, checks
// DomainDirectory executor approvals and the underlying ConsentRegistry
// authorization is still live, then drives a source pull adapter to
// move the value.
package rebalance

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
	"github.com/flowkernel/kernel/internal/intent"
)

var (
	// ErrAmountZero is returned when amount is not positive.
	ErrAmountZero = errors.New("rebalance: amount must be positive")
	// ErrBadAdapter is returned when sourcePullAdapter is nil.
	ErrBadAdapter = errors.New("rebalance: source pull adapter must not be nil")
	// ErrNotAuthorizedCaller is returned when caller is neither the
	// intent's executor nor the rebalancer's controller.
	ErrNotAuthorizedCaller = errors.New("rebalance: caller is not the intent executor or controller")
	// ErrDomainForbidden is returned when the executor is not approved for
	// the source or destination domain.
	ErrDomainForbidden = errors.New("rebalance: executor not approved for domain")
	// ErrUnderlyingRevoked is returned when the referenced lower-level
	// authorization has been revoked.
	ErrUnderlyingRevoked = errors.New("rebalance: underlying authorization is revoked")
	// ErrNoDstReceiver is returned when the destination domain has no
	// configured receiver address.
	ErrNoDstReceiver = errors.New("rebalance: destination domain has no receiver")
	// ErrPullFail wraps a source pull adapter failure.
	ErrPullFail = errors.New("rebalance: source pull adapter failed")
)

// ConsentChecker is the subset of ConsentRegistry the Rebalancer needs:
// confirmation that the lower-level per-call authority is still live.
type ConsentChecker interface {
	IsRevoked(authHash common.Hash) bool
}

// IntentConsumer is the subset of IntentRegistry the Rebalancer drives.
type IntentConsumer interface {
	VerifyAndConsume(caller common.Address, fi intent.FlowIntent, signature []byte, amount *big.Int, now uint64) (common.Hash, error)
}

// DomainChecker is the subset of DomainDirectory the Rebalancer queries.
type DomainChecker interface {
	IsApprovedExecutor(id common.Hash, executor common.Address) bool
	ReceiverOf(id common.Hash) (common.Address, error)
}

// SourcePullAdapter performs the actual value movement on the source
// domain's native ledger, keyed by the lower-level authorization hash
// that grants the allowance.
type SourcePullAdapter interface {
	Pull(ctx context.Context, authHash common.Hash, dst common.Address, amount *big.Int) error
}

// Rebalancer ties the IntentRegistry, DomainDirectory and ConsentRegistry
// together to execute one cross-domain flow-intent step.
type Rebalancer struct {
	self      common.Address
	consent   ConsentChecker
	intents   IntentConsumer
	directory DomainChecker
	bus       *events.Bus
}

// New returns a Rebalancer. self is the address this Rebalancer
// presents as caller/controller when driving the IntentRegistry.
func New(self common.Address, consent ConsentChecker, intents IntentConsumer, dir DomainChecker, bus *events.Bus) *Rebalancer {
	return &Rebalancer{self: self, consent: consent, intents: intents, directory: dir, bus: bus}
}

// ExecuteFlowIntent runs an eight-step ordering: cheap authorization/
// domain checks first, atomic budget reservation in
// the IntentRegistry before any external transfer, destination lookup
// before the external call, external call last, event on success.
func (r *Rebalancer) ExecuteFlowIntent(ctx context.Context, caller common.Address, fi intent.FlowIntent, signature []byte, authHash common.Hash, amount *big.Int, adapter SourcePullAdapter, now uint64) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, ErrAmountZero
	}
	if adapter == nil {
		return common.Hash{}, ErrBadAdapter
	}
	if caller != fi.Executor && caller != r.self {
		return common.Hash{}, ErrNotAuthorizedCaller
	}
	if !r.directory.IsApprovedExecutor(fi.SrcDomain, fi.Executor) || !r.directory.IsApprovedExecutor(fi.DstDomain, fi.Executor) {
		return common.Hash{}, ErrDomainForbidden
	}
	if r.consent.IsRevoked(authHash) {
		return common.Hash{}, ErrUnderlyingRevoked
	}

	h, err := r.intents.VerifyAndConsume(r.self, fi, signature, amount, now)
	if err != nil {
		return h, err
	}

	dst, err := r.directory.ReceiverOf(fi.DstDomain)
	if err != nil {
		return h, err
	}
	if dst == (common.Address{}) {
		return h, ErrNoDstReceiver
	}

	if err := adapter.Pull(ctx, authHash, dst, amount); err != nil {
		return h, errors.Join(ErrPullFail, err)
	}

	if r.bus != nil {
		r.bus.Publish(events.New(events.RebalanceExecuted,
			"intent_hash", h, "src", fi.SrcDomain, "dst", fi.DstDomain,
			"token", fi.Token, "amount", amount, "executor", fi.Executor))
	}
	return h, nil
}
