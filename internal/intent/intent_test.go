package intent

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/flowkernel/kernel/internal/sig"
)

var controller = common.HexToAddress("0xc0")

func newRegistry() (*Registry, sig.Domain) {
	domain := sig.Domain{Name: "kernel-intent", Version: "1", HostID: 1, VerifyingContract: controller}
	return New(domain, controller, sig.NewVerifier(), nil), domain
}

func TestVerifyAndConsumeCapScenario(t *testing.T) {
	r, domain := newRegistry()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	grantor := crypto.PubkeyToAddress(key.PublicKey)

	fi := FlowIntent{
		Grantor: grantor, Executor: common.HexToAddress("0xe1"),
		SrcDomain: common.HexToHash("0xd1"), DstDomain: common.HexToHash("0xd2"),
		Token: common.HexToAddress("0x02"), MaxTotal: big.NewInt(1000), ValidBefore: 1000,
	}
	digest := sig.Digest(domain.Descriptor(), fi.Hash())
	signature, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	h, err := r.VerifyAndConsume(controller, fi, signature, big.NewInt(300), 100)
	if err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if got := r.MovedSoFar(h); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("MovedSoFar = %s, want 300", got)
	}

	if _, err := r.VerifyAndConsume(controller, fi, signature, big.NewInt(800), 100); err != ErrCapExceeded {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
}

func TestVerifyAndConsumeRejectsNonController(t *testing.T) {
	r, _ := newRegistry()
	fi := FlowIntent{MaxTotal: big.NewInt(1000), ValidBefore: 1000}
	if _, err := r.VerifyAndConsume(common.HexToAddress("0xdead"), fi, nil, big.NewInt(1), 0); err != ErrNotController {
		t.Fatalf("expected ErrNotController, got %v", err)
	}
}

func TestRevokeIntentRequiresOwner(t *testing.T) {
	r, domain := newRegistry()
	key, _ := crypto.GenerateKey()
	grantor := crypto.PubkeyToAddress(key.PublicKey)
	fi := FlowIntent{Grantor: grantor, MaxTotal: big.NewInt(1000), ValidBefore: 1000}
	digest := sig.Digest(domain.Descriptor(), fi.Hash())
	signature, _ := crypto.Sign(digest.Bytes(), key)

	h, err := r.VerifyAndConsume(controller, fi, signature, big.NewInt(10), 0)
	if err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if err := r.RevokeIntent(common.HexToAddress("0xdead"), h); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := r.RevokeIntent(grantor, h); err != nil {
		t.Fatalf("RevokeIntent: %v", err)
	}
	if !r.IsRevoked(h) {
		t.Fatal("expected IsRevoked true")
	}
}
