// Package mesh implements the SettlementMesh: a
// controller-reported view of per-destination balances against
// basis-point targets, driving the router one underweight-first step
// at a time. Reporting and ticking are both idempotent.
package mesh

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
	ErrNotController = errors.New("mesh: caller is not the controller")
	// ErrBadTargetBps is returned when target_bps exceeds 10000.
	ErrBadTargetBps = errors.New("mesh: target_bps must be <= 10000")
)

const basisPointsDenominator = 10000

// RouteStepper is the subset of AdaptiveRouter the mesh drives.
type RouteStepper interface {
	RouteStep(ctx context.Context, caller common.Address, to common.Address, maxDesired *big.Int, now uint64) (*big.Int, error)
}

type destinationTarget struct {
	targetBps uint64
	active    bool
	order     int
	balance   *big.Int
}

// Mesh is the SettlementMesh.
type Mesh struct {
	mu            sync.Mutex
	controller    common.Address
	router        RouteStepper
	destinations  map[common.Address]*destinationTarget
	order         []common.Address
	reportedTotal *big.Int
	bus           *events.Bus
}

// New returns an empty Mesh driven by router.
func New(controller common.Address, router RouteStepper, bus *events.Bus) *Mesh {
	return &Mesh{
		controller:    controller,
		router:        router,
		destinations:  make(map[common.Address]*destinationTarget),
		reportedTotal: new(big.Int),
		bus:           bus,
	}
}

func (m *Mesh) publish(evt events.Event) {
	if m.bus != nil {
		m.bus.Publish(evt)
	}
}

// ConfigureDestination registers or updates a destination's target
// allocation. Controller-only. The sum of target_bps across
// destinations is intentionally unconstrained.
func (m *Mesh) ConfigureDestination(caller, dest common.Address, targetBps uint64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != m.controller {
		return ErrNotController
	}
	if targetBps > basisPointsDenominator {
		return ErrBadTargetBps
	}
	t, ok := m.destinations[dest]
	if !ok {
		t = &destinationTarget{balance: new(big.Int), order: len(m.order)}
		m.destinations[dest] = t
		m.order = append(m.order, dest)
	}
	t.targetBps = targetBps
	t.active = active
	m.publish(events.New(events.DestinationConfigured, "dest", dest, "target_bps", targetBps, "active", active))
	return nil
}

// ReportBalance records the controller-observed balance at dest.
// Controller-only; idempotent (repeated identical reports are no-ops
// in effect).
func (m *Mesh) ReportBalance(caller, dest common.Address, balance *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != m.controller {
		return ErrNotController
	}
	t, ok := m.destinations[dest]
	if !ok {
		t = &destinationTarget{balance: new(big.Int), order: len(m.order)}
		m.destinations[dest] = t
		m.order = append(m.order, dest)
	}
	t.balance = new(big.Int).Set(balance)
	m.publish(events.New(events.BalanceReported, "dest", dest, "balance", balance))
	return nil
}

// ReportTotal records the controller-observed total balance across all
// destinations. Controller-only.
func (m *Mesh) ReportTotal(caller common.Address, total *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != m.controller {
		return ErrNotController
	}
	m.reportedTotal = new(big.Int).Set(total)
	return nil
}

// RebalanceTick scans active destinations with target_bps > 0 for the
// greatest deficit (ties broken by registration order) and drives one
// router.RouteStep toward it, capped at maxStepAmount. A no-op when no
// destination is underweight. No mesh state is mutated after the
// router call, so reentrancy into RebalanceTick cannot corrupt mesh
// accounting. Controller-only.
func (m *Mesh) RebalanceTick(ctx context.Context, caller common.Address, maxStepAmount *big.Int, now uint64) error {
	m.mu.Lock()
	if caller != m.controller {
		m.mu.Unlock()
		return ErrNotController
	}
	total := m.reportedTotal
	if total.Sign() <= 0 {
		m.mu.Unlock()
		return nil
	}

	var bestDest common.Address
	var bestDeficit *big.Int
	for _, dest := range m.order {
		t := m.destinations[dest]
		if !t.active || t.targetBps == 0 {
			continue
		}
		want := new(big.Int).Div(new(big.Int).Mul(total, big.NewInt(int64(t.targetBps))), big.NewInt(basisPointsDenominator))
		deficit := new(big.Int).Sub(want, t.balance)
		if deficit.Sign() < 0 {
			deficit = new(big.Int)
		}
		if bestDeficit == nil || deficit.Cmp(bestDeficit) > 0 {
			bestDest, bestDeficit = dest, deficit
		}
	}
	m.mu.Unlock()

	if bestDeficit == nil || bestDeficit.Sign() == 0 {
		return nil
	}

	step := bestDeficit
	if maxStepAmount.Cmp(step) < 0 {
		step = maxStepAmount
	}

	sent, err := m.router.RouteStep(ctx, caller, bestDest, step, now)
	if err != nil {
		return err
	}

	m.publish(events.New(events.MeshStep, "dest", bestDest, "deficit", bestDeficit, "sent", sent))
	return nil
}
