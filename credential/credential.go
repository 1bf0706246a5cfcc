package credential

import (
	"fmt"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
)

// Record is a deposit credential as held by its owner. It carries no depositor
// identity; possession of the secret and nullifier is the sole authorization to withdraw.
type Record struct {
	Handle       string                `json:"handle"`
	Network      string                `json:"network"`
	Amount       uint64                `json:"amount"`
	DelaySeconds uint32                `json:"delay_seconds"`
	Secret       commitment.Secret     `json:"secret"`
	Nullifier    commitment.Nullifier  `json:"nullifier"`
	Commitment   commitment.Commitment `json:"commitment"`
	Signature    *string               `json:"signature,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Store is a credential storage medium; records are keyed by commitment.
// Get and Delete return ErrCredentialNotFound for unknown commitments.
type Store interface {
	Put(record *Record) error
	Get(c commitment.Commitment) (*Record, error)
	List() ([]*Record, error)
	Delete(c commitment.Commitment) error
}

// NewRecord binds a freshly generated credential to the deposit parameters
func NewRecord(handle string, cred *commitment.Credential, amount uint64, delaySeconds uint32) *Record {
	return &Record{
		Handle:       handle,
		Network:      common.Network,
		Amount:       amount,
		DelaySeconds: delaySeconds,
		Secret:       cred.Secret,
		Nullifier:    cred.Nullifier,
		Commitment:   cred.Commitment,
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks that the secret and nullifier reproduce the commitment
func (r *Record) Validate() error {
	if !commitment.Verify(r.Secret, r.Nullifier, r.Commitment) {
		return fmt.Errorf("%w: credential %s", common.ErrCommitmentMismatch, r.Commitment.Short())
	}
	return nil
}

// Credential returns the commitment engine view of the record
func (r *Record) Credential() *commitment.Credential {
	return &commitment.Credential{
		Secret:     r.Secret,
		Nullifier:  r.Nullifier,
		Commitment: r.Commitment,
	}
}

// sameContent compares everything but the signature and timestamps
func (r *Record) sameContent(other *Record) bool {
	return r.Commitment == other.Commitment &&
		r.Secret == other.Secret &&
		r.Nullifier == other.Nullifier &&
		r.Amount == other.Amount &&
		r.DelaySeconds == other.DelaySeconds &&
		r.Network == other.Network &&
		r.Handle == other.Handle
}
