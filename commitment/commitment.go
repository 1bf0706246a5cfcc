package commitment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/provideplatform/mixer/common"
)

// Size is the byte length of secrets, nullifiers, commitments and nullifier hashes
const Size = 32

// Secret is the private half of a credential pair
type Secret [Size]byte

// Nullifier is the private value whose hash is consumed on withdrawal
type Nullifier [Size]byte

// Commitment is the public digest H(secret || nullifier) keying a deposit
type Commitment [Size]byte

// NullifierHash is the public digest H(nullifier) keying the nullifier registry
type NullifierHash [Size]byte

// Credential is a freshly generated secret, nullifier and the commitment binding them
type Credential struct {
	Secret     Secret
	Nullifier  Nullifier
	Commitment Commitment
}

// GenerateCredential draws an independent secret and nullifier and derives the commitment;
// an entropy failure is fatal and is never retried
func GenerateCredential() (*Credential, error) {
	secret, err := common.RandomBytes(Size)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate secret; %s", common.ErrEntropy, err.Error())
	}

	nullifier, err := common.RandomBytes(Size)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate nullifier; %s", common.ErrEntropy, err.Error())
	}

	cred := &Credential{}
	copy(cred.Secret[:], secret)
	copy(cred.Nullifier[:], nullifier)
	cred.Commitment = Compute(cred.Secret, cred.Nullifier)

	return cred, nil
}

// Compute returns H(secret || nullifier)
func Compute(secret Secret, nullifier Nullifier) Commitment {
	buf := make([]byte, 0, Size*2)
	buf = append(buf, secret[:]...)
	buf = append(buf, nullifier[:]...)
	return Commitment(sha256.Sum256(buf))
}

// HashNullifier returns H(nullifier)
func HashNullifier(nullifier Nullifier) NullifierHash {
	return NullifierHash(sha256.Sum256(nullifier[:]))
}

// Verify recomputes the commitment and compares it in constant time
func Verify(secret Secret, nullifier Nullifier, commitment Commitment) bool {
	computed := Compute(secret, nullifier)
	return subtle.ConstantTimeCompare(computed[:], commitment[:]) == 1
}

// ParseSecret decodes a hex secret with an optional 0x prefix
func ParseSecret(str string) (Secret, error) {
	var secret Secret
	buf, err := common.DecodeHex(str, Size)
	if err != nil {
		return secret, fmt.Errorf("invalid secret; %w", err)
	}
	copy(secret[:], buf)
	return secret, nil
}

// ParseNullifier decodes a hex nullifier with an optional 0x prefix
func ParseNullifier(str string) (Nullifier, error) {
	var nullifier Nullifier
	buf, err := common.DecodeHex(str, Size)
	if err != nil {
		return nullifier, fmt.Errorf("invalid nullifier; %w", err)
	}
	copy(nullifier[:], buf)
	return nullifier, nil
}

// ParseCommitment decodes a hex commitment with an optional 0x prefix
func ParseCommitment(str string) (Commitment, error) {
	var commitment Commitment
	buf, err := common.DecodeHex(str, Size)
	if err != nil {
		return commitment, fmt.Errorf("invalid commitment; %w", err)
	}
	copy(commitment[:], buf)
	return commitment, nil
}

// ParseNullifierHash decodes a hex nullifier hash with an optional 0x prefix
func ParseNullifierHash(str string) (NullifierHash, error) {
	var hash NullifierHash
	buf, err := common.DecodeHex(str, Size)
	if err != nil {
		return hash, fmt.Errorf("invalid nullifier hash; %w", err)
	}
	copy(hash[:], buf)
	return hash, nil
}

func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

func (n Nullifier) String() string {
	return hex.EncodeToString(n[:])
}

func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Short returns the leading 8 hex characters, used to label backups and log lines
func (c Commitment) Short() string {
	return c.String()[:8]
}

func (h NullifierHash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText renders the commitment as hex
func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a hex commitment
func (c *Commitment) UnmarshalText(text []byte) error {
	parsed, err := ParseCommitment(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText renders the nullifier hash as hex
func (h NullifierHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses a hex nullifier hash
func (h *NullifierHash) UnmarshalText(text []byte) error {
	parsed, err := ParseNullifierHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalText renders the secret as hex; only credential storage should serialize it
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a hex secret
func (s *Secret) UnmarshalText(text []byte) error {
	parsed, err := ParseSecret(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText renders the nullifier as hex
func (n Nullifier) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText parses a hex nullifier
func (n *Nullifier) UnmarshalText(text []byte) error {
	parsed, err := ParseNullifier(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
