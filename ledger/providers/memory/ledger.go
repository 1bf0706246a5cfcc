package memory

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger"
	"github.com/provideplatform/mixer/nullifier"
	"github.com/provideplatform/mixer/wallet"
	"github.com/provideplatform/mixer/withdrawal"
)

// Ledger is a single-process ledger; one mutex serializes every transition
type Ledger struct {
	mutex      sync.Mutex
	params     *deposit.Params
	networkFee uint64
	clock      func() time.Time

	balances map[wallet.Address]uint64
	records  map[commitment.Commitment]*deposit.Record
	registry *nullifier.Registry
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

// InitLedger initializes an empty in-memory ledger
func InitLedger(params *deposit.Params, opts ...Option) *Ledger {
	l := &Ledger{
		params:     params,
		networkFee: common.NetworkFee,
		clock:      time.Now,
		balances:   map[wallet.Address]uint64{},
		records:    map[commitment.Commitment]*deposit.Record{},
		registry:   nullifier.NewRegistry(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Airdrop credits the address out of thin air; devnet and tests only
func (l *Ledger) Airdrop(addr wallet.Address, amount uint64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	j := l.begin()
	err := j.credit(addr, amount)
	if err != nil {
		return err
	}
	return j.commit()
}

// Params returns the enforced deposit rules
func (l *Ledger) Params() *deposit.Params {
	return l.params
}

// NullifierRoot returns the root of the consumed nullifier accumulator
func (l *Ledger) NullifierRoot() (*string, error) {
	return l.registry.Root()
}

// SubmitDeposit implements ledger.Ledger
func (l *Ledger) SubmitDeposit(ctx context.Context, tx *ledger.DepositTx) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Verify(); err != nil {
		return nil, err
	}

	l.mutex.Lock()
	now := l.clock()

	record, err := deposit.Open(l.params, tx.Commitment, tx.Amount, tx.DelaySeconds, now)
	if err != nil {
		l.mutex.Unlock()
		return nil, err
	}

	if _, exists := l.records[tx.Commitment]; exists {
		l.mutex.Unlock()
		common.Log.Warningf("rejected deposit for existing commitment %s", tx.Commitment.Short())
		return nil, fmt.Errorf("%w: %s", common.ErrCommitmentCollision, tx.Commitment)
	}

	total, err := l.params.Total(tx.Amount)
	if err != nil {
		l.mutex.Unlock()
		return nil, err
	}
	debit, carry := bits.Add64(total, l.networkFee, 0)
	if carry != 0 {
		l.mutex.Unlock()
		return nil, fmt.Errorf("%w: deposit total overflows", common.ErrInsufficientFunds)
	}

	j := l.begin()
	err = j.debit(tx.Depositor, debit)
	if err == nil {
		err = j.credit(ledger.PoolAddress, record.Amount)
	}
	if err == nil {
		err = j.credit(ledger.FeeCollectorAddress, debit-record.Amount)
	}
	if err != nil {
		l.mutex.Unlock()
		return nil, err
	}

	j.opened = record
	err = j.commit()
	l.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	receipt := &ledger.Receipt{
		Signature:  tx.ID(),
		Type:       ledger.TxTypeDeposit,
		Commitment: record.Commitment,
		AppliedAt:  now.UTC(),
	}
	common.Log.Debugf("accepted deposit of %d for commitment %s; eligible at %s", record.Amount, record.Commitment.Short(), record.EligibleAt().Format(time.RFC3339))
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

	l.mutex.Lock()
	now := l.clock()

	j := l.begin()
	err := j.debit(tx.FeePayer, l.networkFee)
	if err == nil {
		err = j.credit(ledger.FeeCollectorAddress, l.networkFee)
	}
	if err != nil {
		l.mutex.Unlock()
		return nil, err
	}

	settlement, err := withdrawal.Execute(j, tx.Request(), now)
	if err != nil {
		l.mutex.Unlock()
		common.Log.Warningf("rejected withdrawal for commitment %s; %s", tx.Commitment().Short(), err.Error())
		return nil, err
	}

	err = j.commit()
	l.mutex.Unlock()
	if err != nil {
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

	l.mutex.Lock()
	defer l.mutex.Unlock()

	record, ok := l.records[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownCommitment, c)
	}
	cpy := *record
	return &cpy, nil
}

// NullifierEntry implements ledger.Ledger
func (l *Ledger) NullifierEntry(ctx context.Context, h commitment.NullifierHash) (*nullifier.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.registry.Lookup(h)
}

// Balance implements ledger.Ledger
func (l *Ledger) Balance(ctx context.Context, addr wallet.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.balances[addr], nil
}

// Now implements ledger.Ledger
func (l *Ledger) Now(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	return l.clock(), nil
}

// journal stages the writes of one transition; nothing reaches the ledger until commit.
// The caller holds the ledger mutex for the journal's lifetime.
type journal struct {
	l *Ledger

	balances map[wallet.Address]uint64
	opened   *deposit.Record
	closed   []*deposit.Record
	consumed []*nullifier.Entry
}

func (l *Ledger) begin() *journal {
	return &journal{
		l:        l,
		balances: map[wallet.Address]uint64{},
	}
}

func (j *journal) balance(addr wallet.Address) uint64 {
	if bal, ok := j.balances[addr]; ok {
		return bal
	}
	return j.l.balances[addr]
}

func (j *journal) debit(addr wallet.Address, amount uint64) error {
	bal := j.balance(addr)
	if bal < amount {
		return fmt.Errorf("%w: %s holds %d; %d required", common.ErrInsufficientFunds, addr, bal, amount)
	}
	j.balances[addr] = bal - amount
	return nil
}

func (j *journal) credit(addr wallet.Address, amount uint64) error {
	bal, carry := bits.Add64(j.balance(addr), amount, 0)
	if carry != 0 {
		return fmt.Errorf("failed to credit %s; balance overflow", addr)
	}
	j.balances[addr] = bal
	return nil
}

func (j *journal) DepositRecord(c commitment.Commitment) (*deposit.Record, error) {
	record, ok := j.l.records[c]
	if !ok {
		return nil, nil
	}
	cpy := *record
	return &cpy, nil
}

func (j *journal) NullifierEntry(h commitment.NullifierHash) (*nullifier.Entry, error) {
	return j.l.registry.Lookup(h)
}

func (j *journal) ConsumeNullifier(entry *nullifier.Entry) error {
	j.consumed = append(j.consumed, entry)
	return nil
}

func (j *journal) CloseDeposit(record *deposit.Record) error {
	j.closed = append(j.closed, record)
	return nil
}

func (j *journal) Release(recipient wallet.Address, amount uint64) error {
	err := j.debit(ledger.PoolAddress, amount)
	if err != nil {
		return err
	}
	return j.credit(recipient, amount)
}

// commit applies the staged writes; the registry is written first as it is the only fallible step
func (j *journal) commit() error {
	for _, entry := range j.consumed {
		_, err := j.l.registry.Consume(entry.NullifierHash, *entry.ConsumedAt)
		if err != nil {
			return err
		}
	}

	if j.opened != nil {
		j.l.records[j.opened.Commitment] = j.opened
	}
	for _, record := range j.closed {
		j.l.records[record.Commitment] = record
	}
	for addr, bal := range j.balances {
		j.l.balances[addr] = bal
	}
	return nil
}
