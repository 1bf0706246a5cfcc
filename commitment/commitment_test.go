package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/provideplatform/mixer/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCredential(t *testing.T) {
	cred, err := GenerateCredential()
	require.NoError(t, err)

	assert.NotEqual(t, Secret{}, cred.Secret)
	assert.NotEqual(t, Nullifier{}, cred.Nullifier)
	assert.NotEqual(t, cred.Secret[:], cred.Nullifier[:])
	assert.True(t, Verify(cred.Secret, cred.Nullifier, cred.Commitment))

	other, err := GenerateCredential()
	require.NoError(t, err)
	assert.NotEqual(t, cred.Commitment, other.Commitment)
	assert.NotEqual(t, cred.Secret, other.Secret)
}

func TestComputeIsSHA256OfConcatenation(t *testing.T) {
	var secret Secret
	var nullifier Nullifier
	for i := 0; i < Size; i++ {
		secret[i] = byte(i)
		nullifier[i] = byte(0xff - i)
	}

	expected := sha256.Sum256(append(secret[:], nullifier[:]...))
	assert.Equal(t, Commitment(expected), Compute(secret, nullifier))
	assert.Equal(t, NullifierHash(sha256.Sum256(nullifier[:])), HashNullifier(nullifier))
}

func TestVerifyRejectsEverySingleBitFlip(t *testing.T) {
	cred, err := GenerateCredential()
	require.NoError(t, err)

	for i := 0; i < Size*8; i++ {
		secret := cred.Secret
		secret[i/8] ^= 1 << (i % 8)
		assert.False(t, Verify(secret, cred.Nullifier, cred.Commitment), "secret bit %d", i)

		nullifier := cred.Nullifier
		nullifier[i/8] ^= 1 << (i % 8)
		assert.False(t, Verify(cred.Secret, nullifier, cred.Commitment), "nullifier bit %d", i)

		commitment := cred.Commitment
		commitment[i/8] ^= 1 << (i % 8)
		assert.False(t, Verify(cred.Secret, cred.Nullifier, commitment), "commitment bit %d", i)
	}
}

func TestVerifyRejectsSwappedInputs(t *testing.T) {
	cred, err := GenerateCredential()
	require.NoError(t, err)

	assert.False(t, Verify(Secret(cred.Nullifier), Nullifier(cred.Secret), cred.Commitment))
}

func TestParseRoundTrip(t *testing.T) {
	cred, err := GenerateCredential()
	require.NoError(t, err)

	secret, err := ParseSecret(cred.Secret.String())
	require.NoError(t, err)
	assert.Equal(t, cred.Secret, secret)

	nullifier, err := ParseNullifier("0x" + cred.Nullifier.String())
	require.NoError(t, err)
	assert.Equal(t, cred.Nullifier, nullifier)

	commitment, err := ParseCommitment(cred.Commitment.String())
	require.NoError(t, err)
	assert.Equal(t, cred.Commitment, commitment)
	assert.Equal(t, cred.Commitment.String()[:8], cred.Commitment.Short())
}

func TestParseErrorsAreCredentialErrors(t *testing.T) {
	_, err := ParseSecret("abc")
	assert.True(t, errors.Is(err, common.ErrMalformedHex))
	assert.Equal(t, common.ClassCredential, common.ClassOf(err))

	_, err = ParseNullifier("zz" + hex.EncodeToString(make([]byte, 31)))
	assert.True(t, errors.Is(err, common.ErrMalformedHex))

	_, err = ParseCommitment(hex.EncodeToString(make([]byte, 31)))
	assert.True(t, errors.Is(err, common.ErrInvalidLength))
	assert.Equal(t, common.ClassCredential, common.ClassOf(err))
}
