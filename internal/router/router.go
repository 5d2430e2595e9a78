// Package router implements the AdaptiveRouter: a
// controller-curated weighted channel table that, on each route_step,
// picks the greatest-weight active channel and pulls as much as is
// both claimable and desired, loudly propagating any downstream
// failure rather than silently falling back to another channel.
package router

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
)

var (
	// ErrNotController is returned when a mutating operation is called by
	// a non-controller.
	ErrNotController = errors.New("router: caller is not the controller")
	// ErrNoActiveRoute is returned by RouteStep when no registered channel
	// is active.
	ErrNoActiveRoute = errors.New("router: no active route")
)

// ChannelBackend is the subset of channel.Registry the router depends on.
type ChannelBackend interface {
	Claimable(id common.Hash, now uint64) (*big.Int, error)
	Pull(ctx context.Context, caller common.Address, id common.Hash, to common.Address, amount *big.Int, now uint64) error
}

type routeTarget struct {
	weight uint64
	active bool
	order  int
}

// Router holds the channel_id -> {weight, active} table plus a
// first-registered traversal order for weight-tie breaking.
type Router struct {
	mu         sync.Mutex
	controller common.Address
	self       common.Address
	backend    ChannelBackend
	targets    map[common.Hash]*routeTarget
	order      []common.Hash
	bus        *events.Bus
}

// New returns an empty Router. self is the identity the router
// presents as caller when it pulls from a registered channel — the
// router must be that channel's grantee.
func New(controller, self common.Address, backend ChannelBackend, bus *events.Bus) *Router {
	return &Router{controller: controller, self: self, backend: backend, targets: make(map[common.Hash]*routeTarget), bus: bus}
}

func (r *Router) publish(evt events.Event) {
	if r.bus != nil {
		r.bus.Publish(evt)
	}
}

// RegisterChannel adds id to the route table with the given initial
// weight/active state. Controller-only.
func (r *Router) RegisterChannel(caller common.Address, id common.Hash, weight uint64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.controller {
		return ErrNotController
	}
	if _, exists := r.targets[id]; !exists {
		r.order = append(r.order, id)
	}
	r.targets[id] = &routeTarget{weight: weight, active: active, order: len(r.order) - 1}
	r.publish(events.New(events.ChannelRegistered, "channel_id", id, "weight", weight, "active", active))
	return nil
}

// SetWeight updates a registered channel's weight. Controller-only.
func (r *Router) SetWeight(caller common.Address, id common.Hash, weight uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.controller {
		return ErrNotController
	}
	t, ok := r.targets[id]
	if !ok {
		return errors.New("router: unknown channel")
	}
	t.weight = weight
	r.publish(events.New(events.ChannelUpdated, "channel_id", id, "weight", weight, "active", t.active))
	return nil
}

// SetActive updates a registered channel's active flag. Controller-only.
func (r *Router) SetActive(caller common.Address, id common.Hash, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.controller {
		return ErrNotController
	}
	t, ok := r.targets[id]
	if !ok {
		return errors.New("router: unknown channel")
	}
	t.active = active
	r.publish(events.New(events.ChannelUpdated, "channel_id", id, "weight", t.weight, "active", active))
	return nil
}

// RouteStep selects the active channel with the greatest weight
// (ties broken by registration order) and pulls min(claimable,
// maxDesired) from it to `to`. Any downstream failure propagates
// unchanged; a zero-amount route is still emitted for telemetry.
// Controller-only.
func (r *Router) RouteStep(ctx context.Context, caller common.Address, to common.Address, maxDesired *big.Int, now uint64) (*big.Int, error) {
	r.mu.Lock()
	if caller != r.controller {
		r.mu.Unlock()
		return nil, ErrNotController
	}

	var best common.Hash
	var bestTarget *routeTarget
	for _, id := range r.order {
		t := r.targets[id]
		if !t.active {
			continue
		}
		if bestTarget == nil || t.weight > bestTarget.weight {
			best, bestTarget = id, t
		}
	}
	self := r.self
	backend := r.backend
	r.mu.Unlock()

	if bestTarget == nil {
		return nil, ErrNoActiveRoute
	}

	claimable, err := backend.Claimable(best, now)
	if err != nil {
		return nil, err
	}
	amt := claimable
	if maxDesired.Cmp(amt) < 0 {
		amt = maxDesired
	}

	if amt.Sign() > 0 {
		if err := backend.Pull(ctx, self, best, to, amt, now); err != nil {
			return nil, err
		}
	}

	r.publish(events.New(events.Routed, "channel_id", best, "to", to, "amount", amt))
	return amt, nil
}
