package deposit

import (
	"fmt"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
)

// State of a deposit record
type State string

const (
	// StateOpen records hold locked funds awaiting withdrawal
	StateOpen State = "open"

	// StateClosed records have been withdrawn; they are retained, never deleted
	StateClosed State = "closed"
)

// Record is the ledger-resident deposit keyed by commitment
type Record struct {
	Commitment   commitment.Commitment `json:"commitment"`
	Amount       uint64                `json:"amount"`
	DepositTime  time.Time             `json:"deposit_time"`
	DelaySeconds uint32                `json:"delay_seconds"`
	Withdrawn    bool                  `json:"withdrawn"`
}

// Open validates the preconditions and returns a new open record; the commitment
// collision check belongs to the ledger, which owns the key space
func Open(params *Params, c commitment.Commitment, amount uint64, delaySeconds uint32, now time.Time) (*Record, error) {
	if err := params.Validate(amount, delaySeconds); err != nil {
		return nil, err
	}

	return &Record{
		Commitment:   c,
		Amount:       amount,
		DepositTime:  time.Unix(now.Unix(), 0).UTC(),
		DelaySeconds: delaySeconds,
		Withdrawn:    false,
	}, nil
}

// State returns open or closed
func (r *Record) State() State {
	if r.Withdrawn {
		return StateClosed
	}
	return StateOpen
}

// EligibleAt is the first instant a withdrawal may be accepted
func (r *Record) EligibleAt() time.Time {
	return r.DepositTime.Add(time.Duration(r.DelaySeconds) * time.Second)
}

// Remaining is the wait until eligibility, zero once eligible
func (r *Record) Remaining(now time.Time) time.Duration {
	eligibleAt := r.EligibleAt()
	if now.Before(eligibleAt) {
		return eligibleAt.Sub(now)
	}
	return 0
}

// CheckEligible returns a too-early error carrying the remaining wait, or nil
func (r *Record) CheckEligible(now time.Time) error {
	if remaining := r.Remaining(now); remaining > 0 {
		return &common.TooEarlyError{
			EligibleAt: r.EligibleAt(),
			Remaining:  remaining,
		}
	}
	return nil
}

// Close is the sole mutation of a record, open to closed, exactly once
func (r *Record) Close() error {
	if r.Withdrawn {
		return fmt.Errorf("%w: %s", common.ErrAlreadyWithdrawn, r.Commitment)
	}
	r.Withdrawn = true
	return nil
}
