// Package channel implements the FlowChannel: a
// continuous-accrual object that lets a grantee pull up to the
// currently accrued balance from a grantor, to any receiver, optionally
// gated by a PolicyEnforcer.
package channel

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
	"github.com/flowkernel/kernel/internal/tokenledger"
)

var (
	// ErrChannelExists is returned by Open when channel_id is already in use.
	ErrChannelExists = errors.New("channel: channel already exists")
	// ErrBadAddr is returned by Open for a zero grantee/token address.
	ErrBadAddr = errors.New("channel: bad address")
	// ErrBadParams is returned by Open/UpdateRate for non-positive rate or cap.
	ErrBadParams = errors.New("channel: rate and cap must be positive")
	// ErrUnknownChannel is returned for any operation on a channel_id that
	// does not exist.
	ErrUnknownChannel = errors.New("channel: unknown channel")
	// ErrNotGrantor is returned when a grantor-only operation is called by
	// someone else.
	ErrNotGrantor = errors.New("channel: caller is not the grantor")
	// ErrNotGrantee is returned when Pull is called by someone other than
	// the channel's grantee.
	ErrNotGrantee = errors.New("channel: caller is not the grantee")
	// ErrPaused is returned when Pull is attempted on a paused channel.
	ErrPaused = errors.New("channel: channel is paused")
	// ErrRevoked is returned when Pull or Resume targets a revoked channel.
	ErrRevoked = errors.New("channel: channel is revoked")
	// ErrBadReceiver is returned when Pull's destination address is the zero address.
	ErrBadReceiver = errors.New("channel: receiver must not be the zero address")
	// ErrAmountZero is returned when Pull's amount is not positive.
	ErrAmountZero = errors.New("channel: amount must be positive")
	// ErrExceedsAccrued is returned when Pull's amount exceeds the accrued balance.
	ErrExceedsAccrued = errors.New("channel: amount exceeds accrued balance")
	// ErrReentrant is returned when Pull is re-entered on the same channel
	// before the prior call returns.
	ErrReentrant = errors.New("channel: reentrant call")
	// ErrTransferFail wraps a TokenLedger.TransferFrom failure.
	ErrTransferFail = errors.New("channel: token transfer failed")
)

// PolicyChecker is the subset of PolicyEnforcer a channel depends on
// when a policyRef is set: the channel invokes it before releasing a pull.
type PolicyChecker interface {
	CheckAndConsume(policyID common.Hash, caller, to common.Address, amount *big.Int, now uint64) error
}

type state struct {
	grantor       common.Address
	grantee       common.Address
	token         common.Address
	ratePerSecond uint64
	maxBalance    *big.Int
	accrued       *big.Int
	lastUpdate    uint64
	paused        bool
	revoked       bool
	policyRef     *common.Hash
	inFlight      bool
}

// Registry holds every FlowChannel keyed by channel_id behind a single
// registry-wide mutex ("single-writer-at-a-time per component"), with a
// per-channel non-reentrancy latch on Pull.
type Registry struct {
	mu       sync.Mutex
	channels map[common.Hash]*state
	ledger   tokenledger.Ledger
	selfAddr common.Address
	policy   PolicyChecker
	bus      *events.Bus
}

// New returns an empty channel Registry. policy may be nil if no
// channel opened through this registry references a policy.
func New(selfAddr common.Address, ledger tokenledger.Ledger, policy PolicyChecker, bus *events.Bus) *Registry {
	return &Registry{
		channels: make(map[common.Hash]*state),
		ledger:   ledger,
		selfAddr: selfAddr,
		policy:   policy,
		bus:      bus,
	}
}

func (r *Registry) publish(evt events.Event) {
	if r.bus != nil {
		r.bus.Publish(evt)
	}
}

// Open creates a new channel. grantor is the caller.
func (r *Registry) Open(caller common.Address, id common.Hash, grantee, token common.Address, ratePerSecond uint64, maxBalance *big.Int, policyRef *common.Hash, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[id]; exists {
		return ErrChannelExists
	}
	if grantee == (common.Address{}) || token == (common.Address{}) {
		return ErrBadAddr
	}
	if ratePerSecond == 0 || maxBalance == nil || maxBalance.Sign() <= 0 {
		return ErrBadParams
	}

	r.channels[id] = &state{
		grantor:       caller,
		grantee:       grantee,
		token:         token,
		ratePerSecond: ratePerSecond,
		maxBalance:    new(big.Int).Set(maxBalance),
		accrued:       new(big.Int),
		lastUpdate:    now,
		policyRef:     policyRef,
	}

	r.publish(events.New(events.ChannelOpened, "id", id, "grantor", caller, "grantee", grantee, "token", token, "rate", ratePerSecond, "cap", maxBalance))
	return nil
}

// syncState brings accrued up to date with now. Callers must hold r.mu.
func syncState(s *state, now uint64) {
	if now <= s.lastUpdate {
		return
	}
	dt := now - s.lastUpdate
	if s.revoked || s.paused {
		s.lastUpdate = now
		return
	}
	delta := new(big.Int).Mul(big.NewInt(int64(dt)), big.NewInt(0).SetUint64(s.ratePerSecond))
	next := new(big.Int).Add(s.accrued, delta)
	if next.Cmp(s.maxBalance) > 0 {
		next = new(big.Int).Set(s.maxBalance)
	}
	s.accrued = next
	s.lastUpdate = now
}

func (r *Registry) get(id common.Hash) (*state, error) {
	s, ok := r.channels[id]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return s, nil
}

// Accrue synchronizes accrued to now. Callable by anyone.
func (r *Registry) Accrue(id common.Hash, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return err
	}
	syncState(s, now)
	return nil
}

// Pull moves up to the accrued balance from the channel's grantor to
// `to`, as the channel's grantee. Non-reentrant.
func (r *Registry) Pull(ctx context.Context, caller common.Address, id common.Hash, to common.Address, amount *big.Int, now uint64) error {
	r.mu.Lock()
	s, err := r.get(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if s.inFlight {
		r.mu.Unlock()
		return ErrReentrant
	}
	if caller != s.grantee {
		r.mu.Unlock()
		return ErrNotGrantee
	}
	if s.paused {
		r.mu.Unlock()
		return ErrPaused
	}
	if s.revoked {
		r.mu.Unlock()
		return ErrRevoked
	}
	if to == (common.Address{}) {
		r.mu.Unlock()
		return ErrBadReceiver
	}
	syncState(s, now)
	if amount == nil || amount.Sign() <= 0 {
		r.mu.Unlock()
		return ErrAmountZero
	}
	if amount.Cmp(s.accrued) > 0 {
		r.mu.Unlock()
		return ErrExceedsAccrued
	}

	var policyID common.Hash
	var hasPolicy bool
	if s.policyRef != nil {
		policyID = *s.policyRef
		hasPolicy = true
	}

	s.inFlight = true
	grantor, token := s.grantor, s.token
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		s.inFlight = false
		r.mu.Unlock()
	}()

	if hasPolicy {
		if err := r.policy.CheckAndConsume(policyID, caller, to, amount, now); err != nil {
			return err
		}
	}

	r.mu.Lock()
	if amount.Cmp(s.accrued) > 0 {
		r.mu.Unlock()
		return ErrExceedsAccrued
	}
	s.accrued = new(big.Int).Sub(s.accrued, amount)
	r.mu.Unlock()

	if err := r.ledger.TransferFrom(ctx, r.selfAddr, grantor, to, token, amount); err != nil {
		r.mu.Lock()
		s.accrued = new(big.Int).Add(s.accrued, amount)
		r.mu.Unlock()
		return errors.Join(ErrTransferFail, err)
	}

	r.publish(events.New(events.Pulled, "id", id, "to", to, "amount", amount))
	return nil
}

// Pause halts accrual. Grantor-only.
func (r *Registry) Pause(caller common.Address, id common.Hash, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return err
	}
	if caller != s.grantor {
		return ErrNotGrantor
	}
	syncState(s, now)
	s.paused = true
	r.publish(events.New(events.ChannelPaused, "id", id))
	return nil
}

// Resume restarts accrual from now, with no retroactive credit for the
// paused window. Grantor-only; fails if the channel is revoked.
func (r *Registry) Resume(caller common.Address, id common.Hash, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return err
	}
	if caller != s.grantor {
		return ErrNotGrantor
	}
	if s.revoked {
		return ErrRevoked
	}
	s.paused = false
	s.lastUpdate = now
	r.publish(events.New(events.ChannelResumed, "id", id))
	return nil
}

// Revoke is a one-way latch. Grantor-only.
func (r *Registry) Revoke(caller common.Address, id common.Hash, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return err
	}
	if caller != s.grantor {
		return ErrNotGrantor
	}
	syncState(s, now)
	s.revoked = true
	r.publish(events.New(events.ChannelRevoked, "id", id))
	return nil
}

// UpdateRate snapshots earnings under the old configuration before
// applying the new rate/cap. Grantor-only; both new values must be positive.
func (r *Registry) UpdateRate(caller common.Address, id common.Hash, newRate uint64, newCap *big.Int, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return err
	}
	if caller != s.grantor {
		return ErrNotGrantor
	}
	if newRate == 0 || newCap == nil || newCap.Sign() <= 0 {
		return ErrBadParams
	}
	syncState(s, now)

	oldRate, oldCap := s.ratePerSecond, new(big.Int).Set(s.maxBalance)
	s.ratePerSecond = newRate
	s.maxBalance = new(big.Int).Set(newCap)
	if s.accrued.Cmp(s.maxBalance) > 0 {
		s.accrued = new(big.Int).Set(s.maxBalance)
	}

	r.publish(events.New(events.ChannelRateUpdated, "id", id, "old_rate", oldRate, "old_cap", oldCap, "new_rate", newRate, "new_cap", newCap))
	return nil
}

// Snapshot returns the full durable state of channel id, for operator
// inspection and write-through persistence. It never mutates state.
func (r *Registry) Snapshot(id common.Hash) (grantor, grantee, token common.Address, ratePerSecond uint64, maxBalance, accrued *big.Int, lastUpdate uint64, paused, revoked bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return common.Address{}, common.Address{}, common.Address{}, 0, nil, nil, 0, false, false, err
	}
	return s.grantor, s.grantee, s.token, s.ratePerSecond, new(big.Int).Set(s.maxBalance), new(big.Int).Set(s.accrued), s.lastUpdate, s.paused, s.revoked, nil
}

// Claimable is a pure projection of the accrued balance at now; it
// never mutates state.
func (r *Registry) Claimable(id common.Hash, now uint64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if s.paused || s.revoked || now <= s.lastUpdate {
		return new(big.Int).Set(s.accrued), nil
	}
	dt := now - s.lastUpdate
	delta := new(big.Int).Mul(big.NewInt(int64(dt)), new(big.Int).SetUint64(s.ratePerSecond))
	next := new(big.Int).Add(s.accrued, delta)
	if next.Cmp(s.maxBalance) > 0 {
		next = new(big.Int).Set(s.maxBalance)
	}
	return next, nil
}
