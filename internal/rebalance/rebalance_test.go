package rebalance

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/intent"
)

type fakeConsent struct{ revoked bool }

func (f fakeConsent) IsRevoked(common.Hash) bool { return f.revoked }

type fakeIntents struct {
	hash common.Hash
	err  error
}

func (f fakeIntents) VerifyAndConsume(common.Address, intent.FlowIntent, []byte, *big.Int, uint64) (common.Hash, error) {
	return f.hash, f.err
}

type fakeDirectory struct {
	approved  map[common.Hash]bool
	receivers map[common.Hash]common.Address
}

func (f fakeDirectory) IsApprovedExecutor(id common.Hash, _ common.Address) bool { return f.approved[id] }
func (f fakeDirectory) ReceiverOf(id common.Hash) (common.Address, error)        { return f.receivers[id], nil }

type fakeAdapter struct {
	calls int
	err   error
}

func (a *fakeAdapter) Pull(context.Context, common.Hash, common.Address, *big.Int) error {
	a.calls++
	return a.err
}

var (
	executor = common.HexToAddress("0xe1")
	srcDom   = common.HexToHash("0xd1")
	dstDom   = common.HexToHash("0xd2")
	receiver = common.HexToAddress("0xbeef")
	authHash = common.HexToHash("0xaaaa")
)

func baseIntent() intent.FlowIntent {
	return intent.FlowIntent{
		Grantor: common.HexToAddress("0x01"), Executor: executor,
		SrcDomain: srcDom, DstDomain: dstDom, Token: common.HexToAddress("0x02"),
		MaxTotal: big.NewInt(1000), ValidBefore: 1000,
	}
}

func TestExecuteFlowIntentSucceeds(t *testing.T) {
	dir := fakeDirectory{
		approved:  map[common.Hash]bool{srcDom: true, dstDom: true},
		receivers: map[common.Hash]common.Address{dstDom: receiver},
	}
	ints := fakeIntents{hash: common.HexToHash("0xh1")}
	r := New(common.HexToAddress("0xself"), fakeConsent{}, ints, dir, nil)
	adapter := &fakeAdapter{}

	h, err := r.ExecuteFlowIntent(context.Background(), executor, baseIntent(), []byte("sig"), authHash, big.NewInt(300), adapter, 100)
	if err != nil {
		t.Fatalf("ExecuteFlowIntent: %v", err)
	}
	if h != ints.hash {
		t.Fatalf("hash = %v, want %v", h, ints.hash)
	}
	if adapter.calls != 1 {
		t.Fatalf("adapter called %d times, want 1", adapter.calls)
	}
}

func TestExecuteFlowIntentRejectsUnapprovedDomain(t *testing.T) {
	dir := fakeDirectory{approved: map[common.Hash]bool{srcDom: true}, receivers: map[common.Hash]common.Address{}}
	r := New(common.HexToAddress("0xself"), fakeConsent{}, fakeIntents{}, dir, nil)
	adapter := &fakeAdapter{}

	_, err := r.ExecuteFlowIntent(context.Background(), executor, baseIntent(), nil, authHash, big.NewInt(1), adapter, 0)
	if err != ErrDomainForbidden {
		t.Fatalf("expected ErrDomainForbidden, got %v", err)
	}
}

func TestExecuteFlowIntentRejectsRevokedUnderlying(t *testing.T) {
	dir := fakeDirectory{approved: map[common.Hash]bool{srcDom: true, dstDom: true}}
	r := New(common.HexToAddress("0xself"), fakeConsent{revoked: true}, fakeIntents{}, dir, nil)
	adapter := &fakeAdapter{}

	_, err := r.ExecuteFlowIntent(context.Background(), executor, baseIntent(), nil, authHash, big.NewInt(1), adapter, 0)
	if err != ErrUnderlyingRevoked {
		t.Fatalf("expected ErrUnderlyingRevoked, got %v", err)
	}
}

func TestExecuteFlowIntentRejectsWrongCaller(t *testing.T) {
	dir := fakeDirectory{approved: map[common.Hash]bool{srcDom: true, dstDom: true}}
	r := New(common.HexToAddress("0xself"), fakeConsent{}, fakeIntents{}, dir, nil)
	adapter := &fakeAdapter{}

	_, err := r.ExecuteFlowIntent(context.Background(), common.HexToAddress("0xdead"), baseIntent(), nil, authHash, big.NewInt(1), adapter, 0)
	if err != ErrNotAuthorizedCaller {
		t.Fatalf("expected ErrNotAuthorizedCaller, got %v", err)
	}
}
