// kernelctl walks the kernel's testable scenarios end to end against an
// in-process tokenledger.InMemory, as a deployment smoke test: no
// external TokenLedger, Postgres, or HTTP server is required.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/flowkernel/kernel/internal/channel"
	"github.com/flowkernel/kernel/internal/clock"
	"github.com/flowkernel/kernel/internal/consent"
	"github.com/flowkernel/kernel/internal/directory"
	"github.com/flowkernel/kernel/internal/events"
	"github.com/flowkernel/kernel/internal/intent"
	"github.com/flowkernel/kernel/internal/mesh"
	"github.com/flowkernel/kernel/internal/policy"
	"github.com/flowkernel/kernel/internal/pull"
	"github.com/flowkernel/kernel/internal/rebalance"
	"github.com/flowkernel/kernel/internal/router"
	"github.com/flowkernel/kernel/internal/sig"
	"github.com/flowkernel/kernel/internal/tokenledger"
)

var testDomain = sig.Domain{Name: "flowkernel-smoke", Version: "1", HostID: 1, VerifyingContract: common.HexToAddress("0xd0")}

func main() {
	log.SetFlags(0)

	scenarioS1PerCallCycle()
	scenarioS2ChannelDrip()
	scenarioS3PolicyEpochBudget()
	scenarioS4ReceiverAllowlist()
	scenarioS5CrossDomainIntent()
	scenarioS6MeshStep()

	fmt.Println("kernelctl: all scenarios passed")
}

func mustKey() (*ecdsa.PrivateKey, common.Address) {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func sign(key *ecdsa.PrivateKey, digest common.Hash) []byte {
	s, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	return s
}

func scenarioS1PerCallCycle() {
	grantorKey, grantor := mustKey()
	_, grantee := mustKey()
	self := common.HexToAddress("0xe1")
	token := common.HexToAddress("0xf0")
	bus := events.NewBus()

	registry := consent.New(self, bus)
	if err := registry.SetTrustedExecutor(self, self, true); err != nil {
		log.Fatalf("S1 SetTrustedExecutor: %v", err)
	}
	ledger := tokenledger.NewInMemory()
	ledger.Mint(token, grantor, big.NewInt(1000))
	ledger.Approve(token, grantor, self, big.NewInt(500))

	exec := pull.New(testDomain, self, registry, ledger, sig.NewVerifier(), bus)

	auth := pull.Authorization{
		Grantor: grantor, Grantee: grantee, Token: token,
		MaxPerPull: big.NewInt(100), ValidAfter: 0, ValidBefore: 1000, Nonce: 1,
	}
	h := auth.Hash()
	auth.Signature = sign(grantorKey, sig.Digest(testDomain.Descriptor(), h))

	if _, err := exec.Pull(context.Background(), grantee, auth, big.NewInt(60), 10); err != nil {
		log.Fatalf("S1 pull@10: %v", err)
	}
	if _, err := exec.Pull(context.Background(), grantee, auth, big.NewInt(60), 20); err != nil {
		log.Fatalf("S1 pull@20: %v", err)
	}
	if total := registry.PulledTotal(h); total.Cmp(big.NewInt(120)) != 0 {
		log.Fatalf("S1 pulled_total = %s, want 120", total)
	}

	if err := registry.Revoke(grantor, h, 25); err != nil {
		log.Fatalf("S1 revoke: %v", err)
	}
	if _, err := exec.Pull(context.Background(), grantee, auth, big.NewInt(10), 30); err != pull.ErrRevoked {
		log.Fatalf("S1 pull after revoke = %v, want ErrRevoked", err)
	}
	fmt.Println("S1 per-call cycle: ok")
}

func scenarioS2ChannelDrip() {
	self := common.HexToAddress("0xe2")
	_, grantor := mustKey()
	_, grantee := mustKey()
	token := common.HexToAddress("0xf1")
	dest := common.HexToAddress("0xd1")
	bus := events.NewBus()

	ledger := tokenledger.NewInMemory()
	ledger.Mint(token, grantor, big.NewInt(1000))
	ledger.Approve(token, grantor, self, big.NewInt(1000))

	channels := channel.New(self, ledger, nil, bus)
	id := common.HexToHash("0xc2")
	if err := channels.Open(grantor, id, grantee, token, 2, big.NewInt(1000), nil, 0); err != nil {
		log.Fatalf("S2 Open: %v", err)
	}

	if err := channels.Pull(context.Background(), grantee, id, dest, big.NewInt(15), 10); err != nil {
		log.Fatalf("S2 pull@10: %v", err)
	}
	claimable, err := channels.Claimable(id, 10)
	if err != nil || claimable.Cmp(big.NewInt(5)) != 0 {
		log.Fatalf("S2 claimable@10 = %v, %v, want 5", claimable, err)
	}

	if err := channels.Pause(grantor, id, 10); err != nil {
		log.Fatalf("S2 pause: %v", err)
	}
	claimable, err = channels.Claimable(id, 100)
	if err != nil || claimable.Cmp(big.NewInt(5)) != 0 {
		log.Fatalf("S2 claimable@100 (paused) = %v, %v, want 5", claimable, err)
	}

	if err := channels.Resume(grantor, id, 100); err != nil {
		log.Fatalf("S2 resume: %v", err)
	}
	claimable, err = channels.Claimable(id, 110)
	if err != nil || claimable.Cmp(big.NewInt(25)) != 0 {
		log.Fatalf("S2 claimable@110 = %v, %v, want 25", claimable, err)
	}

	if err := channels.Revoke(grantor, id, 110); err != nil {
		log.Fatalf("S2 revoke: %v", err)
	}
	if err := channels.Pull(context.Background(), grantee, id, dest, big.NewInt(1), 120); err != channel.ErrRevoked {
		log.Fatalf("S2 pull after revoke = %v, want ErrRevoked", err)
	}
	fmt.Println("S2 channel drip: ok")
}

func scenarioS3PolicyEpochBudget() {
	_, grantor := mustKey()
	_, grantee := mustKey()
	token := common.HexToAddress("0xf2")
	dest := common.HexToAddress("0xd2")

	clk, err := clock.New(60, 0)
	if err != nil {
		log.Fatalf("S3 clock.New: %v", err)
	}
	enforcer := policy.New(clk, events.NewBus())
	id := common.HexToHash("0xc3")
	if err := enforcer.CreatePolicy(grantor, id, grantee, token, big.NewInt(80), big.NewInt(100), 0); err != nil {
		log.Fatalf("S3 CreatePolicy: %v", err)
	}

	if err := enforcer.CheckAndConsume(id, grantee, dest, big.NewInt(40), 0); err != nil {
		log.Fatalf("S3 consume 40: %v", err)
	}
	if err := enforcer.CheckAndConsume(id, grantee, dest, big.NewInt(50), 10); err != nil {
		log.Fatalf("S3 consume 50: %v", err)
	}
	if spent := enforcer.SpentThisEpoch(id); spent.Cmp(big.NewInt(90)) != 0 {
		log.Fatalf("S3 spent = %s, want 90", spent)
	}
	if err := enforcer.CheckAndConsume(id, grantee, dest, big.NewInt(20), 20); err != policy.ErrExceedsEpoch {
		log.Fatalf("S3 third consume = %v, want ErrExceedsEpoch", err)
	}
	if err := enforcer.CheckAndConsume(id, grantee, dest, big.NewInt(80), 60); err != nil {
		log.Fatalf("S3 epoch-1 consume: %v", err)
	}
	if spent := enforcer.SpentThisEpoch(id); spent.Cmp(big.NewInt(80)) != 0 {
		log.Fatalf("S3 epoch-1 spent = %s, want 80", spent)
	}
	fmt.Println("S3 policy epoch budget: ok")
}

func scenarioS4ReceiverAllowlist() {
	_, grantor := mustKey()
	_, grantee := mustKey()
	token := common.HexToAddress("0xf3")
	r1 := common.HexToAddress("0xd3")
	r2 := common.HexToAddress("0xd4")

	clk, _ := clock.New(60, 0)
	enforcer := policy.New(clk, events.NewBus())
	id := common.HexToHash("0xc4")
	if err := enforcer.CreatePolicy(grantor, id, grantee, token, big.NewInt(50), big.NewInt(100), 0); err != nil {
		log.Fatalf("S4 CreatePolicy: %v", err)
	}
	if err := enforcer.SetReceiverAllowed(grantor, id, r1, true); err != nil {
		log.Fatalf("S4 SetReceiverAllowed: %v", err)
	}
	if err := enforcer.CheckAndConsume(id, grantee, r1, big.NewInt(10), 0); err != nil {
		log.Fatalf("S4 consume to r1: %v", err)
	}
	if err := enforcer.CheckAndConsume(id, grantee, r2, big.NewInt(10), 0); err != policy.ErrReceiverForbidden {
		log.Fatalf("S4 consume to r2 = %v, want ErrReceiverForbidden", err)
	}
	fmt.Println("S4 receiver allowlist: ok")
}

type directPullAdapter struct {
	ledger tokenledger.Ledger
	self   common.Address
	src    common.Address
	token  common.Address
}

func (d directPullAdapter) Pull(ctx context.Context, authHash common.Hash, dst common.Address, amount *big.Int) error {
	return d.ledger.TransferFrom(ctx, d.self, d.src, dst, d.token, amount)
}

func scenarioS5CrossDomainIntent() {
	grantorKey, grantor := mustKey()
	_, executor := mustKey()
	self := common.HexToAddress("0xe5")
	token := common.HexToAddress("0xf5")
	srcDomain := common.HexToHash("0xd1")
	dstDomain := common.HexToHash("0xd2")
	receiver := common.HexToAddress("0xd6")
	bus := events.NewBus()

	ledger := tokenledger.NewInMemory()
	ledger.Mint(token, grantor, big.NewInt(2000))
	ledger.Approve(token, grantor, self, big.NewInt(2000))

	consentRegistry := consent.New(self, bus)
	dir := directory.New(self, bus)
	if err := dir.SetDomain(self, srcDomain, common.HexToAddress("0xa1"), common.HexToAddress("0xa1"), true); err != nil {
		log.Fatalf("S5 SetDomain src: %v", err)
	}
	if err := dir.SetDomain(self, dstDomain, common.HexToAddress("0xa2"), receiver, true); err != nil {
		log.Fatalf("S5 SetDomain dst: %v", err)
	}
	if err := dir.SetExecutorApproval(self, srcDomain, executor, true); err != nil {
		log.Fatalf("S5 approve src: %v", err)
	}
	if err := dir.SetExecutorApproval(self, dstDomain, executor, true); err != nil {
		log.Fatalf("S5 approve dst: %v", err)
	}

	intents := intent.New(testDomain, self, sig.NewVerifier(), bus)
	rb := rebalance.New(self, consentRegistry, intents, dir, bus)
	adapter := directPullAdapter{ledger: ledger, self: self, src: grantor, token: token}

	fi := intent.FlowIntent{
		Grantor: grantor, Executor: executor, SrcDomain: srcDomain, DstDomain: dstDomain,
		Token: token, MaxTotal: big.NewInt(1000), ValidAfter: 0, ValidBefore: 1000, Nonce: 1,
	}
	digest := sig.Digest(testDomain.Descriptor(), fi.Hash())
	signature := sign(grantorKey, digest)
	authHash := common.HexToHash("0xaa5")

	if _, err := rb.ExecuteFlowIntent(context.Background(), executor, fi, signature, authHash, big.NewInt(300), adapter, 100); err != nil {
		log.Fatalf("S5 first ExecuteFlowIntent: %v", err)
	}
	balGrantor, _ := ledger.BalanceOf(context.Background(), token, grantor)
	balReceiver, _ := ledger.BalanceOf(context.Background(), token, receiver)
	if balGrantor.Cmp(big.NewInt(1700)) != 0 || balReceiver.Cmp(big.NewInt(300)) != 0 {
		log.Fatalf("S5 balances after first pull: grantor=%s receiver=%s", balGrantor, balReceiver)
	}

	if _, err := rb.ExecuteFlowIntent(context.Background(), executor, fi, signature, authHash, big.NewInt(800), adapter, 100); err != intent.ErrCapExceeded {
		log.Fatalf("S5 second ExecuteFlowIntent = %v, want ErrCapExceeded", err)
	}

	if err := dir.SetDomain(self, dstDomain, common.HexToAddress("0xa2"), receiver, false); err != nil {
		log.Fatalf("S5 deactivate dst: %v", err)
	}
	if _, err := rb.ExecuteFlowIntent(context.Background(), executor, fi, signature, authHash, big.NewInt(50), adapter, 100); err != rebalance.ErrDomainForbidden {
		log.Fatalf("S5 after deactivation = %v, want ErrDomainForbidden", err)
	}
	fmt.Println("S5 cross-domain intent: ok")
}

func scenarioS6MeshStep() {
	self := common.HexToAddress("0xe6")
	r1 := common.HexToAddress("0xd7")
	r2 := common.HexToAddress("0xd8")
	bus := events.NewBus()

	ledger := tokenledger.NewInMemory()
	token := common.HexToAddress("0xf6")
	grantorForChannels := common.HexToAddress("0xb6")
	ledger.Mint(token, grantorForChannels, big.NewInt(10_000))
	ledger.Approve(token, grantorForChannels, self, big.NewInt(10_000))

	channels := channel.New(self, ledger, nil, bus)
	chanID := common.HexToHash("0xc6")
	if err := channels.Open(grantorForChannels, chanID, self, token, 1000, big.NewInt(10_000), nil, 0); err != nil {
		log.Fatalf("S6 Open channel: %v", err)
	}

	rt := router.New(self, self, channels, bus)
	if err := rt.RegisterChannel(self, chanID, 10, true); err != nil {
		log.Fatalf("S6 RegisterChannel: %v", err)
	}

	m := mesh.New(self, rt, bus)
	if err := m.ConfigureDestination(self, r1, 7000, true); err != nil {
		log.Fatalf("S6 ConfigureDestination r1: %v", err)
	}
	if err := m.ConfigureDestination(self, r2, 3000, true); err != nil {
		log.Fatalf("S6 ConfigureDestination r2: %v", err)
	}
	if err := m.ReportBalance(self, r1, big.NewInt(400)); err != nil {
		log.Fatalf("S6 ReportBalance r1: %v", err)
	}
	if err := m.ReportBalance(self, r2, big.NewInt(500)); err != nil {
		log.Fatalf("S6 ReportBalance r2: %v", err)
	}
	if err := m.ReportTotal(self, big.NewInt(1000)); err != nil {
		log.Fatalf("S6 ReportTotal: %v", err)
	}

	if err := m.RebalanceTick(context.Background(), self, big.NewInt(1000), 1); err != nil {
		log.Fatalf("S6 RebalanceTick: %v", err)
	}
	balR1, _ := ledger.BalanceOf(context.Background(), token, r1)
	if balR1.Cmp(big.NewInt(300)) != 0 {
		log.Fatalf("S6 balance(r1) = %s, want 300 (deficit-driven step)", balR1)
	}
	fmt.Println("S6 mesh step: ok")
}
