package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/provideplatform/mixer/common"
)

// AddressSize is the byte length of a ledger address
const AddressSize = ed25519.PublicKeySize

// Address is a ledger account address, the ed25519 public key of its owner
type Address [AddressSize]byte

// Signer holds a signing key; the core only asks it to sign transactions it has assembled
type Signer interface {
	Address() Address
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// ParseAddress decodes a base58 address; the input must decode to 32 bytes and be canonically encoded
func ParseAddress(str string) (Address, error) {
	var addr Address
	buf, err := base58.Decode(str)
	if err != nil {
		return addr, fmt.Errorf("%w: %s", common.ErrMalformedRecipient, err.Error())
	}
	if len(buf) != AddressSize {
		return addr, fmt.Errorf("%w: expected %d bytes; got %d", common.ErrMalformedRecipient, AddressSize, len(buf))
	}
	if base58.Encode(buf) != str {
		return addr, fmt.Errorf("%w: non-canonical encoding", common.ErrMalformedRecipient)
	}
	copy(addr[:], buf)
	return addr, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero is true for the all-zero address
func (a Address) IsZero() bool {
	return a == Address{}
}

// DeriveAddress returns the keyless address owned by the ledger for the given label,
// i.e. the pool vault; no private key exists for it
func DeriveAddress(label string) Address {
	return Address(sha256.Sum256([]byte("mixer/derived/" + label)))
}

// VerifySignature verifies an ed25519 signature by the given address
func VerifySignature(addr Address, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), message, signature)
}

// EncodeSignature renders a signature the way the ledger identifies transactions
func EncodeSignature(signature []byte) string {
	return base58.Encode(signature)
}

// Keypair is an in-process ed25519 Signer
type Keypair struct {
	key ed25519.PrivateKey
}

// NewKeypair generates a random keypair
func NewKeypair() (*Keypair, error) {
	seed, err := common.RandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair; %s", err.Error())
	}
	return &Keypair{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// KeypairFromBase58 decodes a base58 64-byte secret key or 32-byte seed
func KeypairFromBase58(str string) (*Keypair, error) {
	buf, err := base58.Decode(str)
	if err != nil {
		return nil, fmt.Errorf("failed to decode keypair; %s", err.Error())
	}

	switch len(buf) {
	case ed25519.SeedSize:
		return &Keypair{key: ed25519.NewKeyFromSeed(buf)}, nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(buf[:ed25519.SeedSize])
		if string(key[ed25519.SeedSize:]) != string(buf[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("failed to decode keypair; public key does not match seed")
		}
		return &Keypair{key: key}, nil
	default:
		return nil, fmt.Errorf("failed to decode keypair; unexpected length %d", len(buf))
	}
}

// Address returns the public key of the keypair
func (k *Keypair) Address() Address {
	var addr Address
	copy(addr[:], k.key.Public().(ed25519.PublicKey))
	return addr
}

// Sign signs the message; the context is accepted for parity with remote signers
func (k *Keypair) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ed25519.Sign(k.key, message), nil
}

// Export renders the 64-byte secret key as base58
func (k *Keypair) Export() string {
	return base58.Encode(k.key)
}
