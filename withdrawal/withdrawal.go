package withdrawal

import (
	"fmt"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/nullifier"
	"github.com/provideplatform/mixer/wallet"
)

// Request is a transient withdrawal request; it carries no depositor identity
type Request struct {
	Secret    commitment.Secret
	Nullifier commitment.Nullifier
	Recipient wallet.Address
}

// State is the ledger's view of deposit records and the nullifier registry for the
// duration of a single atomic transition. Writes made through it are applied together
// with the transition or discarded with it.
type State interface {
	// DepositRecord returns the record for the commitment, or nil when absent
	DepositRecord(c commitment.Commitment) (*deposit.Record, error)

	// NullifierEntry returns the registry entry for the hash; absent hashes are unused
	NullifierEntry(h commitment.NullifierHash) (*nullifier.Entry, error)

	ConsumeNullifier(entry *nullifier.Entry) error
	CloseDeposit(record *deposit.Record) error

	// Release transfers amount from the pool to the recipient
	Release(recipient wallet.Address, amount uint64) error
}

// Settlement describes an applied withdrawal
type Settlement struct {
	Commitment    commitment.Commitment    `json:"commitment"`
	NullifierHash commitment.NullifierHash `json:"nullifier_hash"`
	Recipient     string                   `json:"recipient"`
	Amount        uint64                   `json:"amount"`
	SettledAt     time.Time                `json:"settled_at"`
}

// Check runs every precondition of the withdrawal without writing; the returned record
// and entry are the ones a subsequent apply would mutate
func Check(state State, req *Request, now time.Time) (*deposit.Record, *nullifier.Entry, error) {
	c := commitment.Compute(req.Secret, req.Nullifier)

	record, err := state.DepositRecord(c)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrUnknownCommitment, c)
	}

	if record.Withdrawn {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrAlreadyWithdrawn, c)
	}

	if err := record.CheckEligible(now); err != nil {
		return nil, nil, err
	}

	nullifierHash := commitment.HashNullifier(req.Nullifier)
	entry, err := state.NullifierEntry(nullifierHash)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		entry = &nullifier.Entry{NullifierHash: nullifierHash}
	}
	if entry.Used {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrNullifierReused, nullifierHash)
	}

	return record, entry, nil
}

// Execute validates and applies the withdrawal as one transition: consume the nullifier,
// close the record and release the recorded amount. The caller must discard every write
// when an error is returned.
func Execute(state State, req *Request, now time.Time) (*Settlement, error) {
	record, entry, err := Check(state, req, now)
	if err != nil {
		return nil, err
	}

	err = entry.Consume(now)
	if err != nil {
		return nil, err
	}
	err = state.ConsumeNullifier(entry)
	if err != nil {
		return nil, err
	}

	err = record.Close()
	if err != nil {
		return nil, err
	}
	err = state.CloseDeposit(record)
	if err != nil {
		return nil, err
	}

	err = state.Release(req.Recipient, record.Amount)
	if err != nil {
		return nil, err
	}

	return &Settlement{
		Commitment:    record.Commitment,
		NullifierHash: entry.NullifierHash,
		Recipient:     req.Recipient.String(),
		Amount:        record.Amount,
		SettledAt:     now.UTC(),
	}, nil
}
