package credential

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealVersion = 1
const sealKDF = "argon2id"

const argonTime = 1
const argonMemory = 64 * 1024
const argonThreads = 4
const saltSize = 16

// sealedEnvelope wraps an encrypted credential at rest
type sealedEnvelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts the plaintext under a key derived from the passphrase
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt, err := common.RandomBytes(saltSize)
	if err != nil {
		return nil, errors.Wrap(common.ErrEntropy, err.Error())
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonce, err := common.RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, errors.Wrap(common.ErrEntropy, err.Error())
	}

	return json.Marshal(&sealedEnvelope{
		Version:    sealVersion,
		KDF:        sealKDF,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	})
}

// IsSealed is true when the raw bytes hold a sealed envelope
func IsSealed(raw []byte) bool {
	env := &sealedEnvelope{}
	return json.Unmarshal(raw, env) == nil && env.KDF == sealKDF && len(env.Ciphertext) > 0
}

// Unseal decrypts a sealed envelope; a wrong passphrase is a persistence error
func Unseal(passphrase string, raw []byte) ([]byte, error) {
	env := &sealedEnvelope{}
	err := json.Unmarshal(raw, env)
	if err != nil || env.Version != sealVersion || env.KDF != sealKDF {
		return nil, errors.Wrap(common.ErrPersistence, "unsupported credential envelope")
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, env.Salt))
	if err != nil {
		return nil, errors.Wrap(common.ErrPersistence, err.Error())
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, errors.Wrap(common.ErrPersistence, "malformed credential envelope nonce")
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(common.ErrPersistence, "failed to decrypt credential; wrong passphrase or corrupt file")
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// Encode serializes the record for a storage medium, sealing it when a passphrase is set
func Encode(record *Record, passphrase string) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if passphrase == "" {
		return raw, nil
	}
	return Seal(passphrase, raw)
}

// Decode reverses Encode; sealed records require the passphrase
func Decode(raw []byte, passphrase string) (*Record, error) {
	if IsSealed(raw) {
		if passphrase == "" {
			return nil, errors.Wrap(common.ErrPersistence, "credential is encrypted; passphrase required")
		}
		plaintext, err := Unseal(passphrase, raw)
		if err != nil {
			return nil, err
		}
		raw = plaintext
	}

	record := &Record{}
	err := json.Unmarshal(raw, record)
	if err != nil {
		return nil, errors.Wrapf(common.ErrPersistence, "corrupt credential; %s", err.Error())
	}
	return record, nil
}
