// Package sig implements the typed-data signing substrate shared by
// every Authorization and FlowIntent in the kernel (spec §2, §4.6):
// a domain-separated struct hash, a dual verification path for
// EOA (ECDSA/secp256k1) and code-bearing (ERC-1271-style) signers, and
// canonical field encoders so every caller hashes structs the same way.
package sig

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrBadSignatureLength is returned when an ECDSA signature is not
	// exactly 65 bytes (r || s || v).
	ErrBadSignatureLength = errors.New("sig: signature must be 65 bytes")
	// ErrBadSignatureV is returned when the recovery byte is not 0/1/27/28.
	ErrBadSignatureV = errors.New("sig: invalid recovery id")
	// ErrHighS is returned when s is above secp256k1's half-order — the
	// kernel only accepts the canonical low-s form of a signature.
	ErrHighS = errors.New("sig: signature has non-canonical high-s value")
	// ErrSignerMismatch is returned when the ECDSA-recovered signer does
	// not match the address the caller expected.
	ErrSignerMismatch = errors.New("sig: recovered signer does not match expected signer")
	// ErrBadMagicValue is returned when a code-bearing account's Verify
	// call does not return the ERC-1271 acceptance magic value.
	ErrBadMagicValue = errors.New("sig: code account rejected signature")
)

// ERC1271Magic is the 4-byte value a code-bearing account must return
// from Verify to indicate it accepts a signature over a digest.
var ERC1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

var secp256k1HalfN = func() *big.Int {
	n, ok := new(big.Int).SetString("7FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF5D576E7357A4501DDFE92F46681B20A0", 16)
	if !ok {
		panic("sig: failed to parse secp256k1 half order")
	}
	return n
}()

// Domain is the EIP-712-style domain separator for one protocol
// deployment: it binds a signature to a specific host and a specific
// self-identified component so the same authorization cannot be
// replayed against a different host or component instance.
type Domain struct {
	Name              string
	Version           string
	HostID            uint64
	VerifyingContract common.Address
}

// Descriptor returns the domain's precomputed hash D (spec §4.3).
func (d Domain) Descriptor() common.Hash {
	return StructHash(
		[]byte(d.Name),
		[]byte(d.Version),
		Uint64Field(d.HostID),
		AddressField(d.VerifyingContract),
	)
}

// StructHash hashes a sequence of canonically-encoded fields together.
// Callers build a struct hash by encoding each field with the Field
// helpers below, in a fixed, documented order.
func StructHash(fields ...[]byte) common.Hash {
	return crypto.Keccak256Hash(fields...)
}

// AddressField encodes a 20-byte address for hashing.
func AddressField(a common.Address) []byte {
	b := make([]byte, 20)
	copy(b, a.Bytes())
	return b
}

// HashField encodes a 32-byte hash for hashing.
func HashField(h common.Hash) []byte {
	b := make([]byte, 32)
	copy(b, h.Bytes())
	return b
}

// Uint64Field encodes a uint64 as 8 big-endian bytes.
func Uint64Field(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// BigIntField encodes a *big.Int as a 32-byte big-endian word, the
// same layout ABI-encoded uint256 values use. A nil value encodes as
// zero.
func BigIntField(v *big.Int) []byte {
	b := make([]byte, 32)
	if v == nil {
		return b
	}
	v.FillBytes(b)
	return b
}

// Digest combines a domain descriptor and a struct hash into the value
// that gets signed, following the EIP-191/712 "\x19\x01" prefix
// convention so signatures cannot be confused with plain message
// signatures.
func Digest(domain, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain.Bytes(), structHash.Bytes())
}

// CodeVerifier is implemented by code-bearing accounts: contracts or
// services that authorize on behalf of some delegated identity rather
// than holding a private key directly. Verify returns the ERC-1271
// magic value on acceptance.
type CodeVerifier interface {
	Verify(digest common.Hash, signature []byte) ([4]byte, error)
}

// Verifier checks signatures against a registry of code-bearing
// accounts, falling back to ECDSA/secp256k1 recovery for plain
// externally-owned accounts (spec §4.6's dual verification path).
type Verifier struct {
	mu           sync.RWMutex
	codeAccounts map[common.Address]CodeVerifier
}

// NewVerifier returns an empty Verifier.
func NewVerifier() *Verifier {
	return &Verifier{codeAccounts: make(map[common.Address]CodeVerifier)}
}

// RegisterCodeAccount marks addr as code-bearing: future Verify calls
// for addr are delegated to cv instead of ECDSA recovery.
func (v *Verifier) RegisterCodeAccount(addr common.Address, cv CodeVerifier) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.codeAccounts[addr] = cv
}

// Verify checks that signature authorizes digest on behalf of signer.
func (v *Verifier) Verify(signer common.Address, digest common.Hash, signature []byte) error {
	v.mu.RLock()
	cv, ok := v.codeAccounts[signer]
	v.mu.RUnlock()

	if ok {
		magic, err := cv.Verify(digest, signature)
		if err != nil {
			return err
		}
		if magic != ERC1271Magic {
			return ErrBadMagicValue
		}
		return nil
	}

	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return err
	}
	if recovered != signer {
		return ErrSignerMismatch
	}
	return nil
}

// RecoverAddress recovers the signer address from an ECDSA signature
// over digest, enforcing the canonical low-s form.
func RecoverAddress(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, ErrBadSignatureLength
	}
	sig := make([]byte, 65)
	copy(sig, signature)

	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(secp256k1HalfN) > 0 {
		return common.Address{}, ErrHighS
	}

	recID := sig[64]
	if recID >= 27 {
		recID -= 27
	}
	if recID != 0 && recID != 1 {
		return common.Address{}, ErrBadSignatureV
	}
	sig[64] = recID

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
