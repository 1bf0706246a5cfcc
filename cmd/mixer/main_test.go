package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
	credentialmemory "github.com/provideplatform/mixer/credential/providers/memory"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger/providers/memory"
	"github.com/provideplatform/mixer/relayer"
	"github.com/provideplatform/mixer/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *testClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	app       *app
	out       *bytes.Buffer
	clock     *testClock
	ledger    *memory.Ledger
	depositor *wallet.Keypair
}

func newHarness(t *testing.T) *harness {
	gin.SetMode(gin.TestMode)

	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}
	l := memory.InitLedger(&deposit.Params{
		MinimumDeposit:  10000000,
		ProtocolFee:     10000000,
		MinDelaySeconds: 300,
		MaxDelaySeconds: 86400,
	}, memory.WithClock(clock.Now))

	depositor, err := wallet.NewKeypair()
	require.NoError(t, err)
	require.NoError(t, l.Airdrop(depositor.Address(), 2000000000))

	relayerKey, err := wallet.NewKeypair()
	require.NoError(t, err)
	require.NoError(t, l.Airdrop(relayerKey.Address(), 1000000))

	engine := gin.New()
	relayer.NewRelayer(l, relayerKey).InstallAPI(engine)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	out := &bytes.Buffer{}
	return &harness{
		app: &app{
			ledger:      l,
			credentials: credential.NewManager(credentialmemory.InitStore()),
			relayer:     relayer.NewClient(server.URL, relayer.WithMaxAttempts(1)),
			out:         out,
		},
		out:       out,
		clock:     clock,
		ledger:    l,
		depositor: depositor,
	}
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	root := newRootCmd(h.app)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestParseDelay(t *testing.T) {
	delay, err := parseDelay("300")
	require.NoError(t, err)
	assert.Equal(t, uint32(300), delay)

	delay, err = parseDelay("6h")
	require.NoError(t, err)
	assert.Equal(t, uint32(21600), delay)

	_, err = parseDelay("-5m")
	assert.Error(t, err)

	_, err = parseDelay("soon")
	assert.Error(t, err)
}

func TestDepositWithdrawLifecycle(t *testing.T) {
	h := newHarness(t)

	err := h.run("deposit", "--amount", "0.5", "--delay", "5m", "--handle", "savings", "--key", h.depositor.Export())
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "amount:     0.5\n")

	records, err := h.app.credentials.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	c := records[0].Commitment.String()

	require.NoError(t, h.run("list"))
	assert.Contains(t, h.out.String(), c)
	assert.Contains(t, h.out.String(), "open")

	recipient, err := wallet.NewKeypair()
	require.NoError(t, err)

	err = h.run("withdraw", c, "--recipient", recipient.Address().String())
	assert.True(t, errors.Is(err, common.ErrTooEarly))
	assert.Contains(t, err.Error(), "try again in 5m0s")

	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.run("withdraw", c, "--recipient", recipient.Address().String()))
	assert.Contains(t, h.out.String(), "signature: ")

	balance, err := h.ledger.Balance(context.Background(), recipient.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(500000000), balance)

	require.NoError(t, h.run("list"))
	assert.NotContains(t, h.out.String(), c)

	require.NoError(t, h.run("list", "--all"))
	assert.Contains(t, h.out.String(), c)

	require.NoError(t, h.run("status", c))
	assert.Contains(t, h.out.String(), "status:     closed")

	require.NoError(t, h.run("delete", c))
	_, err = h.app.credentials.ListAll()
	require.NoError(t, err)
}

func TestExportDeleteImport(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	require.NoError(t, h.run("deposit", "--amount", "1", "--delay", "3600", "--key", h.depositor.Export()))
	records, err := h.app.credentials.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	record := records[0]
	c := record.Commitment.String()

	require.NoError(t, h.run("export", c, "--dir", dir))
	path := filepath.Join(dir, credential.ExportFilename(record.Commitment))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	err = h.run("delete", c)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, h.run("delete", c, "--force"))
	_, err = h.app.credentials.Load(record.Commitment)
	assert.True(t, errors.Is(err, common.ErrCredentialNotFound))

	require.NoError(t, h.run("import", path, "--handle", "restored"))
	restored, err := h.app.credentials.Load(record.Commitment)
	require.NoError(t, err)
	assert.Equal(t, record.Secret, restored.Secret)
	assert.Equal(t, record.Nullifier, restored.Nullifier)
	assert.Equal(t, uint64(1000000000), restored.Amount)
	assert.Equal(t, "restored", restored.Handle)
}

func TestDirectWithdrawal(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("deposit", "--amount", "0.01", "--delay", "300", "--key", h.depositor.Export()))
	records, err := h.app.credentials.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 1)

	h.clock.Advance(time.Hour)
	recipient, err := wallet.NewKeypair()
	require.NoError(t, err)

	err = h.run("withdraw", records[0].Commitment.String(), "--recipient", recipient.Address().String(), "--direct", "--key", h.depositor.Export())
	require.NoError(t, err)

	balance, err := h.ledger.Balance(context.Background(), recipient.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(10000000), balance)
}

func TestDepositRejectedBelowMinimum(t *testing.T) {
	h := newHarness(t)

	err := h.run("deposit", "--amount", "0.001", "--key", h.depositor.Export())
	assert.True(t, errors.Is(err, common.ErrInsufficientAmount))

	records, err := h.app.credentials.ListAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDelays(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("delays"))
	assert.Contains(t, h.out.String(), "86400")
	assert.Contains(t, h.out.String(), "maximum")
}

func TestMemoryLedgerRefused(t *testing.T) {
	provider := common.LedgerProvider
	common.LedgerProvider = "memory"
	t.Cleanup(func() { common.LedgerProvider = provider })

	a := &app{out: &bytes.Buffer{}}
	err := a.init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_PROVIDER=db")
	assert.Nil(t, a.credentials)

	root := newRootCmd(a)
	root.SetArgs([]string{"deposit", "--amount", "1"})
	err = root.ExecuteContext(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "keeps no state between runs")

	out := &bytes.Buffer{}
	root = newRootCmd(&app{out: out})
	root.SetArgs([]string{"keygen"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "address: ")
}
