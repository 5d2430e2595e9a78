package directory

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	controller  = common.HexToAddress("0x01")
	adapter     = common.HexToAddress("0x02")
	destination = common.HexToAddress("0x03")
	executor    = common.HexToAddress("0x04")
	domainID    = common.HexToHash("0xd1")
)

func TestSetDomainAndExecutorApproval(t *testing.T) {
	d := New(controller, nil)
	if err := d.SetDomain(controller, domainID, adapter, destination, true); err != nil {
		t.Fatalf("SetDomain: %v", err)
	}
	if d.IsApprovedExecutor(domainID, executor) {
		t.Fatal("executor should not be approved yet")
	}
	if err := d.SetExecutorApproval(controller, domainID, executor, true); err != nil {
		t.Fatalf("SetExecutorApproval: %v", err)
	}
	if !d.IsApprovedExecutor(domainID, executor) {
		t.Fatal("executor should now be approved")
	}

	recv, err := d.ReceiverOf(domainID)
	if err != nil || recv != destination {
		t.Fatalf("ReceiverOf = %v, %v; want %v, nil", recv, err, destination)
	}
}

func TestSetDomainRejectsZeroAddrWhenActive(t *testing.T) {
	d := New(controller, nil)
	if err := d.SetDomain(controller, domainID, common.Address{}, destination, true); err != ErrBadAddr {
		t.Fatalf("expected ErrBadAddr, got %v", err)
	}
}

func TestDeactivatedDomainForbidsApprovedExecutor(t *testing.T) {
	d := New(controller, nil)
	if err := d.SetDomain(controller, domainID, adapter, destination, true); err != nil {
		t.Fatalf("SetDomain: %v", err)
	}
	if err := d.SetExecutorApproval(controller, domainID, executor, true); err != nil {
		t.Fatalf("SetExecutorApproval: %v", err)
	}
	if err := d.SetDomain(controller, domainID, adapter, destination, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if d.IsApprovedExecutor(domainID, executor) {
		t.Fatal("deactivated domain must not be routable")
	}
}

func TestMutationsRequireController(t *testing.T) {
	d := New(controller, nil)
	other := common.HexToAddress("0xdead")
	if err := d.SetDomain(other, domainID, adapter, destination, true); err != ErrNotController {
		t.Fatalf("expected ErrNotController, got %v", err)
	}
}
