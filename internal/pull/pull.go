// Package pull implements the PullExecutor: verifies a
// signed Authorization and drives one per-call pull from grantor to
// grantee through the external TokenLedger, recording the result into
// a ConsentRegistry.
package pull

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/consent"
	"github.com/flowkernel/kernel/internal/events"
	"github.com/flowkernel/kernel/internal/sig"
	"github.com/flowkernel/kernel/internal/tokenledger"
)

var (
	// ErrRevoked is returned when the authorization has been revoked.
	ErrRevoked = errors.New("pull: authorization revoked")
	// ErrNotAuthorizedCaller is returned when the caller is not the
	// authorization's grantee.
	ErrNotAuthorizedCaller = errors.New("pull: caller is not the authorization grantee")
	// ErrTooSoon is returned when now is before valid_after.
	ErrTooSoon = errors.New("pull: too soon")
	// ErrExpired is returned when now is after valid_before.
	ErrExpired = errors.New("pull: expired")
	// ErrAmountZero is returned when amount is not positive.
	ErrAmountZero = errors.New("pull: amount must be positive")
	// ErrExceedsPerCall is returned when amount exceeds max_per_pull.
	ErrExceedsPerCall = errors.New("pull: amount exceeds max_per_pull")
	// ErrTransferFail wraps a TokenLedger.TransferFrom failure.
	ErrTransferFail = errors.New("pull: token transfer failed")
)

// Authorization is the per-call permissioned-pull object.
// It is never stored whole; only its Hash is referenced.
type Authorization struct {
	Grantor     common.Address
	Grantee     common.Address
	Token       common.Address
	MaxPerPull  *big.Int
	ValidAfter  uint64
	ValidBefore uint64
	Nonce       uint64
	Signature   []byte
}

// Hash is the deterministic auth_hash: the hash of the first seven
// canonical fields, signature excluded.
func (a Authorization) Hash() common.Hash {
	return sig.StructHash(
		sig.AddressField(a.Grantor),
		sig.AddressField(a.Grantee),
		sig.AddressField(a.Token),
		sig.BigIntField(a.MaxPerPull),
		sig.Uint64Field(a.ValidAfter),
		sig.Uint64Field(a.ValidBefore),
		sig.Uint64Field(a.Nonce),
	)
}

// Executor is one PullExecutor instance, bound to a specific
// ConsentRegistry and TokenLedger through an immutable domain
// descriptor.
type Executor struct {
	selfAddress common.Address
	domain      common.Hash
	registry    *consent.Registry
	ledger      tokenledger.Ledger
	verifier    *sig.Verifier
	bus         *events.Bus
}

// New constructs an Executor. domain is this instance's EIP-712-style
// domain separator; registry.SetTrustedExecutor(controller, selfAddress,
// true) must be called separately before Pull can record successfully.
func New(domain sig.Domain, selfAddress common.Address, registry *consent.Registry, ledger tokenledger.Ledger, verifier *sig.Verifier, bus *events.Bus) *Executor {
	return &Executor{
		selfAddress: selfAddress,
		domain:      domain.Descriptor(),
		registry:    registry,
		ledger:      ledger,
		verifier:    verifier,
		bus:         bus,
	}
}

// Pull verifies and executes one per-call pull under auth, as caller
// (which must equal auth.Grantee), at time now, for amount.
func (e *Executor) Pull(ctx context.Context, caller common.Address, auth Authorization, amount *big.Int, now uint64) (common.Hash, error) {
	h := auth.Hash()

	if e.registry.IsRevoked(h) {
		return h, ErrRevoked
	}
	if caller != auth.Grantee {
		return h, ErrNotAuthorizedCaller
	}
	if now < auth.ValidAfter {
		return h, ErrTooSoon
	}
	if now > auth.ValidBefore {
		return h, ErrExpired
	}
	if amount == nil || amount.Sign() <= 0 {
		return h, ErrAmountZero
	}
	if amount.Cmp(auth.MaxPerPull) > 0 {
		return h, ErrExceedsPerCall
	}

	digest := sig.Digest(e.domain, h)
	if err := e.verifier.Verify(auth.Grantor, digest, auth.Signature); err != nil {
		return h, err
	}

	if err := e.ledger.TransferFrom(ctx, e.selfAddress, auth.Grantor, auth.Grantee, auth.Token, amount); err != nil {
		return h, errors.Join(ErrTransferFail, err)
	}

	if err := e.registry.RecordPull(e.selfAddress, h, auth.Token, auth.Grantor, auth.Grantee, amount); err != nil {
		return h, err
	}

	if e.bus != nil {
		e.bus.Publish(events.New(events.PullExecutedDirect,
			"auth_hash", h, "token", auth.Token, "grantor", auth.Grantor,
			"grantee", auth.Grantee, "amount", amount))
	}
	return h, nil
}
