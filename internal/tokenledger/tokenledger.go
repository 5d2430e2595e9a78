// Package tokenledger defines the boundary between the kernel and the
// custody system that actually holds balances (spec §1: "the kernel
// never custodies funds"). Ledger is the only interface the kernel's
// pull/channel/rebalance components use to move value; InMemory is a
// deterministic fake of an external allowance-and-balance ledger for
// tests and local development.
package tokenledger

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientAllowance is returned when spender has not been
// granted enough allowance by owner over token.
var ErrInsufficientAllowance = errors.New("tokenledger: insufficient allowance")

// ErrInsufficientBalance is returned when owner's balance of token is
// below the requested amount.
var ErrInsufficientBalance = errors.New("tokenledger: insufficient balance")

// Ledger is the custody-side operation the kernel depends on: move
// amount of token from owner to recipient, authorized by an allowance
// owner previously granted to spender outside the kernel's view.
type Ledger interface {
	TransferFrom(ctx context.Context, spender, owner, recipient, token common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

type balanceKey struct {
	token, owner common.Address
}

type allowanceKey struct {
	token, owner, spender common.Address
}

// InMemory is a deterministic Ledger backed by in-process maps. It
// exists for tests and for running the kernel's scenarios without a
// real custody backend wired up.
type InMemory struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

// NewInMemory returns an empty InMemory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Mint credits owner's balance of token by amount, bypassing any
// allowance check. Test and bootstrap helper only.
func (l *InMemory) Mint(token, owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{token, owner}
	bal := l.balances[key]
	if bal == nil {
		bal = new(big.Int)
	}
	l.balances[key] = new(big.Int).Add(bal, amount)
}

// Approve sets the allowance owner grants spender over token.
func (l *InMemory) Approve(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
}

// BalanceOf returns owner's balance of token.
func (l *InMemory) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[balanceKey{token, owner}]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

// AllowanceOf returns the allowance owner has granted spender over token.
func (l *InMemory) AllowanceOf(token, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	allow := l.allowances[allowanceKey{token, owner, spender}]
	if allow == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(allow)
}

// TransferFrom moves amount of token from owner to recipient, debiting
// spender's allowance over owner's tokens. Both the allowance and
// balance checks, and the resulting debits, happen atomically under
// the ledger's lock.
func (l *InMemory) TransferFrom(_ context.Context, spender, owner, recipient, token common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	aKey := allowanceKey{token, owner, spender}
	allow := l.allowances[aKey]
	if allow == nil || allow.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	bKey := balanceKey{token, owner}
	bal := l.balances[bKey]
	if bal == nil || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	l.allowances[aKey] = new(big.Int).Sub(allow, amount)
	l.balances[bKey] = new(big.Int).Sub(bal, amount)

	rKey := balanceKey{token, recipient}
	rbal := l.balances[rKey]
	if rbal == nil {
		rbal = new(big.Int)
	}
	l.balances[rKey] = new(big.Int).Add(rbal, amount)
	return nil
}
