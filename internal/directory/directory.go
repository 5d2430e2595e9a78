// Package directory implements the DomainDirectory: a
// controller-curated map from domain id to its adapter/receiver pair
// plus a per-domain executor allowlist.
package directory

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
)

var (
	// ErrNotController is returned when a mutating operation is called by
	// a non-controller.
	ErrNotController = errors.New("directory: caller is not the controller")
	// ErrBadAddr is returned by SetDomain when activating a domain with a
	// zero adapter or destination address.
	ErrBadAddr = errors.New("directory: adapter and destination must be non-zero when active")
	// ErrUnknownDomain is returned by ReceiverOf/AdapterOf for an
	// unregistered domain id.
	ErrUnknownDomain = errors.New("directory: unknown domain")
)

type domainEntry struct {
	adapter          common.Address
	destination      common.Address
	active           bool
	approvedExecutor map[common.Address]bool
}

// Directory is the DomainDirectory.
type Directory struct {
	mu         sync.Mutex
	controller common.Address
	domains    map[common.Hash]*domainEntry
	bus        *events.Bus
}

// New returns an empty Directory administered by controller.
func New(controller common.Address, bus *events.Bus) *Directory {
	return &Directory{controller: controller, domains: make(map[common.Hash]*domainEntry), bus: bus}
}

func (d *Directory) publish(evt events.Event) {
	if d.bus != nil {
		d.bus.Publish(evt)
	}
}

// SetDomain creates or updates a domain entry. Controller-only. If
// active, both adapter and destination must be non-zero.
func (d *Directory) SetDomain(caller common.Address, id common.Hash, adapter, destination common.Address, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if caller != d.controller {
		return ErrNotController
	}
	if active && (adapter == (common.Address{}) || destination == (common.Address{})) {
		return ErrBadAddr
	}

	e, ok := d.domains[id]
	if !ok {
		e = &domainEntry{approvedExecutor: make(map[common.Address]bool)}
		d.domains[id] = e
	}
	e.adapter = adapter
	e.destination = destination
	e.active = active

	d.publish(events.New(events.DestinationConfigured, "domain_id", id, "adapter", adapter, "destination", destination, "active", active))
	return nil
}

// SetExecutorApproval grants or revokes executor's approval to route
// through domain id. Controller-only.
func (d *Directory) SetExecutorApproval(caller common.Address, id common.Hash, executor common.Address, approved bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if caller != d.controller {
		return ErrNotController
	}
	e, ok := d.domains[id]
	if !ok {
		e = &domainEntry{approvedExecutor: make(map[common.Address]bool)}
		d.domains[id] = e
	}
	if approved {
		e.approvedExecutor[executor] = true
	} else {
		delete(e.approvedExecutor, executor)
	}
	return nil
}

// IsApprovedExecutor reports whether executor may route through domain
// id: the domain must be active and executor on its approval set.
func (d *Directory) IsApprovedExecutor(id common.Hash, executor common.Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.domains[id]
	if !ok || !e.active {
		return false
	}
	return e.approvedExecutor[executor]
}

// ReceiverOf returns the destination address configured for domain id.
func (d *Directory) ReceiverOf(id common.Hash) (common.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.domains[id]
	if !ok {
		return common.Address{}, ErrUnknownDomain
	}
	return e.destination, nil
}

// AdapterOf returns the adapter address configured for domain id.
func (d *Directory) AdapterOf(id common.Hash) (common.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.domains[id]
	if !ok {
		return common.Address{}, ErrUnknownDomain
	}
	return e.adapter, nil
}

// Snapshot returns the full durable state of domain id, for operator
// inspection and write-through persistence.
func (d *Directory) Snapshot(id common.Hash) (adapter, destination common.Address, active bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.domains[id]
	if !ok {
		return common.Address{}, common.Address{}, false, ErrUnknownDomain
	}
	return e.adapter, e.destination, e.active, nil
}
