package channel

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/tokenledger"
)

var (
	grantor   = common.HexToAddress("0x01")
	grantee   = common.HexToAddress("0x02")
	token     = common.HexToAddress("0x03")
	receiver  = common.HexToAddress("0x04")
	channelID = common.HexToHash("0xc1")
)

func newTestRegistry(t *testing.T) (*Registry, *tokenledger.InMemory) {
	t.Helper()
	self := common.HexToAddress("0xf00d")
	ledger := tokenledger.NewInMemory()
	ledger.Mint(token, grantor, big.NewInt(10_000))
	ledger.Approve(token, grantor, self, big.NewInt(10_000))
	return New(self, ledger, nil, nil), ledger
}

func TestChannelDripScenario(t *testing.T) {
	r, ledger := newTestRegistry(t)

	if err := r.Open(grantor, channelID, grantee, token, 2, big.NewInt(1000), nil, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}

	claimable, _ := r.Claimable(channelID, 10)
	if claimable.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("claimable at t=10 = %s, want 20", claimable)
	}

	if err := r.Pull(context.Background(), grantee, channelID, receiver, big.NewInt(15), 10); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	claimable, _ = r.Claimable(channelID, 10)
	if claimable.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("claimable after pull = %s, want 5", claimable)
	}
	bal, _ := ledger.BalanceOf(context.Background(), token, receiver)
	if bal.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("receiver balance = %s, want 15", bal)
	}

	if err := r.Pause(grantor, channelID, 10); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	claimable, _ = r.Claimable(channelID, 100)
	if claimable.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("claimable while paused = %s, want 5", claimable)
	}

	if err := r.Resume(grantor, channelID, 100); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	claimable, _ = r.Claimable(channelID, 110)
	if claimable.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("claimable after resume = %s, want 25", claimable)
	}

	if err := r.Revoke(grantor, channelID, 110); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := r.Pull(context.Background(), grantee, channelID, receiver, big.NewInt(1), 120); err != ErrRevoked {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestChannelPullRejectsExceedsAccrued(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Open(grantor, channelID, grantee, token, 2, big.NewInt(1000), nil, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Pull(context.Background(), grantee, channelID, receiver, big.NewInt(21), 10); err != ErrExceedsAccrued {
		t.Fatalf("expected ErrExceedsAccrued, got %v", err)
	}
	if err := r.Pull(context.Background(), grantee, channelID, receiver, big.NewInt(20), 10); err != nil {
		t.Fatalf("amount == accrued should succeed: %v", err)
	}
	claimable, _ := r.Claimable(channelID, 10)
	if claimable.Sign() != 0 {
		t.Fatalf("claimable after exact pull = %s, want 0", claimable)
	}
}

func TestOpenRejectsDuplicateChannel(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Open(grantor, channelID, grantee, token, 2, big.NewInt(1000), nil, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Open(grantor, channelID, grantee, token, 2, big.NewInt(1000), nil, 0); err != ErrChannelExists {
		t.Fatalf("expected ErrChannelExists, got %v", err)
	}
}

func TestUpdateRateSnapshotsOldEarningsFirst(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Open(grantor, channelID, grantee, token, 2, big.NewInt(1000), nil, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// accrue 20 under old rate by t=10
	if err := r.UpdateRate(grantor, channelID, 5, big.NewInt(1000), 10); err != nil {
		t.Fatalf("UpdateRate: %v", err)
	}
	claimable, _ := r.Claimable(channelID, 10)
	if claimable.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("claimable right after UpdateRate = %s, want 20 (old-rate earnings preserved)", claimable)
	}
	claimable, _ = r.Claimable(channelID, 11)
	if claimable.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("claimable one second later = %s, want 25 (new rate applied)", claimable)
	}
}

func TestPullRejectsWrongGrantee(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Open(grantor, channelID, grantee, token, 2, big.NewInt(1000), nil, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Pull(context.Background(), grantor, channelID, receiver, big.NewInt(1), 10); err != ErrNotGrantee {
		t.Fatalf("expected ErrNotGrantee, got %v", err)
	}
}
