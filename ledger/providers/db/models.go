package db

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/nullifier"
	provide "github.com/provideplatform/provide-go/api"
)

// Deposit is the persisted deposit record; the commitment column is uniquely indexed
type Deposit struct {
	provide.Model

	Commitment   string    `sql:"not null" json:"commitment"`
	Amount       int64     `sql:"not null" json:"amount"`
	DepositTime  time.Time `sql:"not null" json:"deposit_time"`
	DelaySeconds int64     `sql:"not null" json:"delay_seconds"`
	Withdrawn    bool      `sql:"not null;default:false" json:"withdrawn"`
	Signature    string    `sql:"not null" json:"signature"`
}

// Nullifier is a consumed nullifier hash; the hash column is uniquely indexed
type Nullifier struct {
	provide.Model

	NullifierHash string    `sql:"not null" json:"nullifier_hash"`
	ConsumedAt    time.Time `sql:"not null" json:"consumed_at"`
	Signature     string    `sql:"not null" json:"signature"`
}

// Account is a ledger balance
type Account struct {
	Address   string    `gorm:"primary_key" json:"address"`
	Balance   int64     `sql:"not null" json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an applied ledger transaction
type Transaction struct {
	provide.Model

	Signature  string `sql:"not null" json:"signature"`
	Type       string `sql:"not null" json:"type"`
	Commitment string `sql:"not null" json:"commitment"`
}

func (d *Deposit) record() (*deposit.Record, error) {
	c, err := commitment.ParseCommitment(d.Commitment)
	if err != nil {
		return nil, errors.Wrapf(common.ErrLedgerUnavailable, "corrupt deposit row %s; %s", d.ID, err.Error())
	}
	return &deposit.Record{
		Commitment:   c,
		Amount:       uint64(d.Amount),
		DepositTime:  d.DepositTime.UTC(),
		DelaySeconds: uint32(d.DelaySeconds),
		Withdrawn:    d.Withdrawn,
	}, nil
}

func (n *Nullifier) entry() (*nullifier.Entry, error) {
	h, err := commitment.ParseNullifierHash(n.NullifierHash)
	if err != nil {
		return nil, errors.Wrapf(common.ErrLedgerUnavailable, "corrupt nullifier row %s; %s", n.ID, err.Error())
	}
	consumedAt := n.ConsumedAt.UTC()
	return &nullifier.Entry{
		NullifierHash: h,
		Used:          true,
		ConsumedAt:    &consumedAt,
	}, nil
}

// amountParam converts base units into the signed bigint column domain
func amountParam(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, errors.Wrapf(common.ErrInsufficientFunds, "amount %d exceeds the storable range", amount)
	}
	return int64(amount), nil
}
