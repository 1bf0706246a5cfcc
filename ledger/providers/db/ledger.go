/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"math/bits"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger"
	"github.com/provideplatform/mixer/nullifier"
	"github.com/provideplatform/mixer/wallet"
	"github.com/provideplatform/mixer/withdrawal"
)

const pqUniqueViolation = "23505"

// Ledger is a postgres-backed ledger; each transition runs in one SQL transaction
// holding a row lock on the deposit it touches
type Ledger struct {
	db         *gorm.DB
	params     *deposit.Params
	networkFee uint64
	clock      func() time.Time
}

// Option configures the ledger
type Option func(*Ledger)

// WithClock overrides the ledger clock
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithNetworkFee overrides the per-transaction network fee
func WithNetworkFee(fee uint64) Option {
	return func(l *Ledger) {
		l.networkFee = fee
	}
}

// InitLedger returns a ledger backed by the given connection
func InitLedger(db *gorm.DB, params *deposit.Params, opts ...Option) *Ledger {
	l := &Ledger{
		db:         db,
		params:     params,
		networkFee: common.NetworkFee,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Params returns the enforced deposit rules
func (l *Ledger) Params() *deposit.Params {
	return l.params
}

// Airdrop credits the address; devnet only
func (l *Ledger) Airdrop(addr wallet.Address, amount uint64) error {
	return l.db.Transaction(func(db *gorm.DB) error {
		return credit(db, addr, amount)
	})
}

// SubmitDeposit implements ledger.Ledger
func (l *Ledger) SubmitDeposit(ctx context.Context, tx *ledger.DepositTx) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Verify(); err != nil {
		return nil, err
	}

	now := l.clock()
	record, err := deposit.Open(l.params, tx.Commitment, tx.Amount, tx.DelaySeconds, now)
	if err != nil {
		return nil, err
	}

	total, err := l.params.Total(tx.Amount)
	if err != nil {
		return nil, err
	}
	debitAmount, carry := bits.Add64(total, l.networkFee, 0)
	if carry != 0 {
		return nil, errors.Wrap(common.ErrInsufficientFunds, "deposit total overflows")
	}
	amount, err := amountParam(record.Amount)
	if err != nil {
		return nil, err
	}

	err = l.db.Transaction(func(db *gorm.DB) error {
		model := &Deposit{
			Commitment:   record.Commitment.String(),
			Amount:       amount,
			DepositTime:  record.DepositTime,
			DelaySeconds: int64(record.DelaySeconds),
			Signature:    tx.ID(),
		}
		result := db.Create(model)
		if result.Error != nil {
			if isUniqueViolation(result.Error) {
				return errors.Wrapf(common.ErrCommitmentCollision, "commitment %s", record.Commitment)
			}
			return errors.Wrapf(common.ErrLedgerUnavailable, "failed to persist deposit; %s", result.Error.Error())
		}

		if err := debit(db, tx.Depositor, debitAmount); err != nil {
			return err
		}
		if err := credit(db, ledger.PoolAddress, record.Amount); err != nil {
			return err
		}
		if err := credit(db, ledger.FeeCollectorAddress, debitAmount-record.Amount); err != nil {
			return err
		}
		return recordTransaction(db, tx.ID(), ledger.TxTypeDeposit, record.Commitment)
	})
	if err != nil {
		common.Log.Warningf("rejected deposit for commitment %s; %s", record.Commitment.Short(), err.Error())
		return nil, err
	}

	receipt := &ledger.Receipt{
		Signature:  tx.ID(),
		Type:       ledger.TxTypeDeposit,
		Commitment: record.Commitment,
		AppliedAt:  now.UTC(),
	}
	common.Log.Debugf("accepted deposit of %d for commitment %s", record.Amount, record.Commitment.Short())
	ledger.NotifyDeposit(record, receipt)
	return receipt, nil
}

// SubmitWithdrawal implements ledger.Ledger
func (l *Ledger) SubmitWithdrawal(ctx context.Context, tx *ledger.WithdrawalTx) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Verify(); err != nil {
		return nil, err
	}

	now := l.clock()
	var settlement *withdrawal.Settlement

	err := l.db.Transaction(func(db *gorm.DB) error {
		if err := debit(db, tx.FeePayer, l.networkFee); err != nil {
			return err
		}
		if err := credit(db, ledger.FeeCollectorAddress, l.networkFee); err != nil {
			return err
		}

		var err error
		settlement, err = withdrawal.Execute(&state{db: db, signature: tx.ID()}, tx.Request(), now)
		if err != nil {
			return err
		}
		return recordTransaction(db, tx.ID(), ledger.TxTypeWithdrawal, settlement.Commitment)
	})
	if err != nil {
		common.Log.Warningf("rejected withdrawal for commitment %s; %s", tx.Commitment().Short(), err.Error())
		return nil, err
	}

	receipt := &ledger.Receipt{
		Signature:  tx.ID(),
		Type:       ledger.TxTypeWithdrawal,
		Commitment: settlement.Commitment,
		AppliedAt:  now.UTC(),
		Settlement: settlement,
	}
	common.Log.Debugf("settled withdrawal of %d for commitment %s", settlement.Amount, settlement.Commitment.Short())
	ledger.NotifyWithdrawal(settlement, receipt)
	return receipt, nil
}

// DepositRecord implements ledger.Ledger
func (l *Ledger) DepositRecord(ctx context.Context, c commitment.Commitment) (*deposit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := (&state{db: l.db}).lookupDeposit(c, false)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.Wrapf(common.ErrUnknownCommitment, "commitment %s", c)
	}
	return record, nil
}

// NullifierEntry implements ledger.Ledger
func (l *Ledger) NullifierEntry(ctx context.Context, h commitment.NullifierHash) (*nullifier.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := (&state{db: l.db}).NullifierEntry(h)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = &nullifier.Entry{NullifierHash: h}
	}
	return entry, nil
}

// Balance implements ledger.Ledger
func (l *Ledger) Balance(ctx context.Context, addr wallet.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	account := &Account{}
	result := l.db.Where("address = ?", addr.String()).First(account)
	if result.Error != nil {
		if gorm.IsRecordNotFoundError(result.Error) {
			return 0, nil
		}
		return 0, errors.Wrapf(common.ErrLedgerUnavailable, "failed to resolve balance of %s; %s", addr, result.Error.Error())
	}
	return uint64(account.Balance), nil
}

// Now implements ledger.Ledger
func (l *Ledger) Now(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	return l.clock(), nil
}

// state is the withdrawal view of a single SQL transaction
type state struct {
	db        *gorm.DB
	signature string
}

func (s *state) lookupDeposit(c commitment.Commitment, lock bool) (*deposit.Record, error) {
	db := s.db
	if lock {
		db = db.Set("gorm:query_option", "FOR UPDATE")
	}

	model := &Deposit{}
	result := db.Where("commitment = ?", c.String()).First(model)
	if result.Error != nil {
		if gorm.IsRecordNotFoundError(result.Error) {
			return nil, nil
		}
		return nil, errors.Wrapf(common.ErrLedgerUnavailable, "failed to resolve deposit %s; %s", c, result.Error.Error())
	}
	return model.record()
}

func (s *state) DepositRecord(c commitment.Commitment) (*deposit.Record, error) {
	return s.lookupDeposit(c, true)
}

func (s *state) NullifierEntry(h commitment.NullifierHash) (*nullifier.Entry, error) {
	model := &Nullifier{}
	result := s.db.Where("nullifier_hash = ?", h.String()).First(model)
	if result.Error != nil {
		if gorm.IsRecordNotFoundError(result.Error) {
			return nil, nil
		}
		return nil, errors.Wrapf(common.ErrLedgerUnavailable, "failed to resolve nullifier %s; %s", h, result.Error.Error())
	}
	return model.entry()
}

func (s *state) ConsumeNullifier(entry *nullifier.Entry) error {
	model := &Nullifier{
		NullifierHash: entry.NullifierHash.String(),
		ConsumedAt:    *entry.ConsumedAt,
		Signature:     s.signature,
	}
	result := s.db.Create(model)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return errors.Wrapf(common.ErrNullifierReused, "nullifier hash %s", entry.NullifierHash)
		}
		return errors.Wrapf(common.ErrLedgerUnavailable, "failed to consume nullifier; %s", result.Error.Error())
	}
	return nil
}

func (s *state) CloseDeposit(record *deposit.Record) error {
	result := s.db.Exec("UPDATE deposits SET withdrawn = true WHERE commitment = ? AND withdrawn = false", record.Commitment.String())
	if result.Error != nil {
		return errors.Wrapf(common.ErrLedgerUnavailable, "failed to close deposit; %s", result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(common.ErrAlreadyWithdrawn, "commitment %s", record.Commitment)
	}
	return nil
}

func (s *state) Release(recipient wallet.Address, amount uint64) error {
	if err := debit(s.db, ledger.PoolAddress, amount); err != nil {
		return err
	}
	return credit(s.db, recipient, amount)
}

func debit(db *gorm.DB, addr wallet.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	amt, err := amountParam(amount)
	if err != nil {
		return err
	}

	result := db.Exec("UPDATE accounts SET balance = balance - ?, updated_at = now() WHERE address = ? AND balance >= ?", amt, addr.String(), amt)
	if result.Error != nil {
		return errors.Wrapf(common.ErrLedgerUnavailable, "failed to debit %s; %s", addr, result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(common.ErrInsufficientFunds, "%s cannot cover %d", addr, amount)
	}
	return nil
}

func credit(db *gorm.DB, addr wallet.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	amt, err := amountParam(amount)
	if err != nil {
		return err
	}

	result := db.Exec(`INSERT INTO accounts (address, balance, updated_at) VALUES (?, ?, now())
		ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()`, addr.String(), amt)
	if result.Error != nil {
		return errors.Wrapf(common.ErrLedgerUnavailable, "failed to credit %s; %s", addr, result.Error.Error())
	}
	return nil
}

func recordTransaction(db *gorm.DB, signature, txType string, c commitment.Commitment) error {
	result := db.Create(&Transaction{
		Signature:  signature,
		Type:       txType,
		Commitment: c.String(),
	})
	if result.Error != nil {
		return errors.Wrapf(common.ErrLedgerUnavailable, "failed to record %s transaction; %s", txType, result.Error.Error())
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
