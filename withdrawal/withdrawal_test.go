package withdrawal

import (
	"errors"
	"testing"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/nullifier"
	"github.com/provideplatform/mixer/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	records   map[commitment.Commitment]deposit.Record
	entries   map[commitment.NullifierHash]nullifier.Entry
	balances  map[wallet.Address]uint64
	failClose bool
}

func newTestState() *testState {
	return &testState{
		records:  map[commitment.Commitment]deposit.Record{},
		entries:  map[commitment.NullifierHash]nullifier.Entry{},
		balances: map[wallet.Address]uint64{},
	}
}

func (s *testState) DepositRecord(c commitment.Commitment) (*deposit.Record, error) {
	record, ok := s.records[c]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *testState) NullifierEntry(h commitment.NullifierHash) (*nullifier.Entry, error) {
	entry, ok := s.entries[h]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *testState) ConsumeNullifier(entry *nullifier.Entry) error {
	s.entries[entry.NullifierHash] = *entry
	return nil
}

func (s *testState) CloseDeposit(record *deposit.Record) error {
	if s.failClose {
		return errors.New("storage fault")
	}
	s.records[record.Commitment] = *record
	return nil
}

func (s *testState) Release(recipient wallet.Address, amount uint64) error {
	s.balances[recipient] += amount
	return nil
}

func seedDeposit(t *testing.T, state *testState, amount uint64, delay uint32, at time.Time) *commitment.Credential {
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)

	state.records[cred.Commitment] = deposit.Record{
		Commitment:   cred.Commitment,
		Amount:       amount,
		DepositTime:  at,
		DelaySeconds: delay,
	}
	return cred
}

func recipient(t *testing.T) wallet.Address {
	kp, err := wallet.NewKeypair()
	require.NoError(t, err)
	return kp.Address()
}

func TestExecuteScenario(t *testing.T) {
	state := newTestState()
	depositTime := time.Unix(1700000000, 0).UTC()
	cred := seedDeposit(t, state, 500000000, 300, depositTime)
	to := recipient(t)

	req := &Request{Secret: cred.Secret, Nullifier: cred.Nullifier, Recipient: to}

	_, err := Execute(state, req, depositTime.Add(299*time.Second))
	assert.True(t, errors.Is(err, common.ErrTooEarly))
	remaining, ok := common.RemainingWait(err)
	assert.True(t, ok)
	assert.Equal(t, time.Second, remaining)
	assert.False(t, state.records[cred.Commitment].Withdrawn)

	settlement, err := Execute(state, req, depositTime.Add(300*time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(500000000), settlement.Amount)
	assert.Equal(t, to.String(), settlement.Recipient)
	assert.True(t, state.records[cred.Commitment].Withdrawn)
	assert.True(t, state.entries[commitment.HashNullifier(cred.Nullifier)].Used)
	assert.Equal(t, uint64(500000000), state.balances[to])

	_, err = Execute(state, req, depositTime.Add(301*time.Second))
	assert.True(t, errors.Is(err, common.ErrAlreadyWithdrawn))
	assert.Equal(t, uint64(500000000), state.balances[to])
}

func TestExecuteUnknownCommitment(t *testing.T) {
	state := newTestState()
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)

	_, err = Execute(state, &Request{Secret: cred.Secret, Nullifier: cred.Nullifier, Recipient: recipient(t)}, time.Now())
	assert.True(t, errors.Is(err, common.ErrUnknownCommitment))
	assert.Equal(t, common.ClassProtocol, common.ClassOf(err))
}

func TestExecuteNullifierReused(t *testing.T) {
	state := newTestState()
	depositTime := time.Unix(1700000000, 0).UTC()
	cred := seedDeposit(t, state, 500000000, 300, depositTime)

	hash := commitment.HashNullifier(cred.Nullifier)
	consumedAt := depositTime
	state.entries[hash] = nullifier.Entry{NullifierHash: hash, Used: true, ConsumedAt: &consumedAt}

	_, err := Execute(state, &Request{Secret: cred.Secret, Nullifier: cred.Nullifier, Recipient: recipient(t)}, depositTime.Add(time.Hour))
	assert.True(t, errors.Is(err, common.ErrNullifierReused))
	assert.False(t, state.records[cred.Commitment].Withdrawn)
}

func TestCheckOrdersAlreadyWithdrawnBeforeTooEarly(t *testing.T) {
	state := newTestState()
	depositTime := time.Unix(1700000000, 0).UTC()
	cred := seedDeposit(t, state, 500000000, 300, depositTime)

	record := state.records[cred.Commitment]
	record.Withdrawn = true
	state.records[cred.Commitment] = record

	_, _, err := Check(state, &Request{Secret: cred.Secret, Nullifier: cred.Nullifier}, depositTime)
	assert.True(t, errors.Is(err, common.ErrAlreadyWithdrawn))
}

func TestExecuteSurfacesStateFaults(t *testing.T) {
	state := newTestState()
	depositTime := time.Unix(1700000000, 0).UTC()
	cred := seedDeposit(t, state, 500000000, 300, depositTime)
	state.failClose = true

	_, err := Execute(state, &Request{Secret: cred.Secret, Nullifier: cred.Nullifier, Recipient: recipient(t)}, depositTime.Add(time.Hour))
	assert.Error(t, err)
	assert.False(t, state.records[cred.Commitment].Withdrawn)
}
