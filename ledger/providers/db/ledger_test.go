//go:build integration
// +build integration

package db

import (
	"context"
	"sync"
	"testing"
	"time"

	dbconf "github.com/kthomas/go-db-config"
	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger"
	"github.com/provideplatform/mixer/wallet"
	"github.com/provideplatform/mixer/withdrawal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requires a migrated database; see cmd/migrate
func setup(t *testing.T, now *time.Time) *Ledger {
	params := &deposit.Params{
		MinimumDeposit:  10000000,
		ProtocolFee:     10000000,
		MinDelaySeconds: 300,
		MaxDelaySeconds: 86400,
	}
	return InitLedger(dbconf.DatabaseConnection(), params, WithClock(func() time.Time { return *now }), WithNetworkFee(5000))
}

func fundedKeypair(t *testing.T, l *Ledger, amount uint64) *wallet.Keypair {
	kp, err := wallet.NewKeypair()
	require.NoError(t, err)
	require.NoError(t, l.Airdrop(kp.Address(), amount))
	return kp
}

func TestDatabaseLedgerScenario(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	l := setup(t, &now)

	depositor := fundedKeypair(t, l, 1000000000)
	payer := fundedKeypair(t, l, 1000000)
	recipient, err := wallet.NewKeypair()
	require.NoError(t, err)

	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)

	dtx, err := ledger.SignDeposit(ctx, depositor, cred.Commitment, 500000000, 300)
	require.NoError(t, err)
	_, err = l.SubmitDeposit(ctx, dtx)
	require.NoError(t, err)

	_, err = l.SubmitDeposit(ctx, dtx)
	assert.True(t, errors.Is(err, common.ErrCommitmentCollision))

	wtx, err := ledger.SignWithdrawal(ctx, payer, &withdrawal.Request{
		Secret:    cred.Secret,
		Nullifier: cred.Nullifier,
		Recipient: recipient.Address(),
	})
	require.NoError(t, err)

	now = now.Add(299 * time.Second)
	_, err = l.SubmitWithdrawal(ctx, wtx)
	assert.True(t, errors.Is(err, common.ErrTooEarly))

	now = now.Add(time.Second)
	receipt, err := l.SubmitWithdrawal(ctx, wtx)
	require.NoError(t, err)
	assert.Equal(t, uint64(500000000), receipt.Settlement.Amount)

	_, err = l.SubmitWithdrawal(ctx, wtx)
	assert.True(t, errors.Is(err, common.ErrAlreadyWithdrawn))

	balance, err := l.Balance(ctx, recipient.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(500000000), balance)

	entry, err := l.NullifierEntry(ctx, commitment.HashNullifier(cred.Nullifier))
	require.NoError(t, err)
	assert.True(t, entry.Used)
}

func TestDatabaseLedgerConcurrentWithdrawals(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	l := setup(t, &now)

	depositor := fundedKeypair(t, l, 1000000000)
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)
	dtx, err := ledger.SignDeposit(ctx, depositor, cred.Commitment, 100000000, 300)
	require.NoError(t, err)
	_, err = l.SubmitDeposit(ctx, dtx)
	require.NoError(t, err)

	// the clock is only read before each transaction begins
	later := now.Add(time.Hour)
	l.clock = func() time.Time { return later }

	var wg sync.WaitGroup
	var mutex sync.Mutex
	settled := 0

	for i := 0; i < 4; i++ {
		payer := fundedKeypair(t, l, 1000000)
		wtx, err := ledger.SignWithdrawal(ctx, payer, &withdrawal.Request{Secret: cred.Secret, Nullifier: cred.Nullifier, Recipient: payer.Address()})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.SubmitWithdrawal(ctx, wtx); err == nil {
				mutex.Lock()
				settled++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
}

func TestDatabaseLedgerNullifierReusedAcrossDeposits(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	l := setup(t, &now)

	depositor := fundedKeypair(t, l, 1000000000)
	payer := fundedKeypair(t, l, 1000000)
	recipient, err := wallet.NewKeypair()
	require.NoError(t, err)

	first, err := commitment.GenerateCredential()
	require.NoError(t, err)
	other, err := commitment.GenerateCredential()
	require.NoError(t, err)
	secondCommitment := commitment.Compute(other.Secret, first.Nullifier)

	for _, c := range []commitment.Commitment{first.Commitment, secondCommitment} {
		dtx, err := ledger.SignDeposit(ctx, depositor, c, 100000000, 300)
		require.NoError(t, err)
		_, err = l.SubmitDeposit(ctx, dtx)
		require.NoError(t, err)
	}
	now = now.Add(time.Hour)

	wtx, err := ledger.SignWithdrawal(ctx, payer, &withdrawal.Request{Secret: first.Secret, Nullifier: first.Nullifier, Recipient: recipient.Address()})
	require.NoError(t, err)
	_, err = l.SubmitWithdrawal(ctx, wtx)
	require.NoError(t, err)

	pool, err := l.Balance(ctx, ledger.PoolAddress)
	require.NoError(t, err)

	wtx, err = ledger.SignWithdrawal(ctx, payer, &withdrawal.Request{Secret: other.Secret, Nullifier: first.Nullifier, Recipient: recipient.Address()})
	require.NoError(t, err)
	_, err = l.SubmitWithdrawal(ctx, wtx)
	assert.True(t, errors.Is(err, common.ErrNullifierReused))

	record, err := l.DepositRecord(ctx, secondCommitment)
	require.NoError(t, err)
	assert.False(t, record.Withdrawn)

	after, err := l.Balance(ctx, ledger.PoolAddress)
	require.NoError(t, err)
	assert.Equal(t, pool, after)

	balance, err := l.Balance(ctx, recipient.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(100000000), balance)
}
