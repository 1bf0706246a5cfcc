package relayer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/provideplatform/mixer/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSurfacesProtocolErrors(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	client := NewClient(server.URL, WithTimeout(time.Second), WithMaxAttempts(3), WithBackoff(time.Millisecond))
	cred := f.deposit(t, 500000000, 300)
	req := requestFor(cred, newRecipient(t))

	f.clock.Advance(240 * time.Second)
	_, err := client.Withdraw(context.Background(), req)
	assert.True(t, errors.Is(err, common.ErrTooEarly))
	remaining, ok := common.RemainingWait(err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, remaining)
	assert.False(t, common.Retryable(err))

	f.clock.Advance(time.Minute)
	resp, err := client.Withdraw(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Signature)

	_, err = client.Withdraw(context.Background(), req)
	assert.True(t, errors.Is(err, common.ErrAlreadyWithdrawn))
	assert.Equal(t, common.ClassProtocol, common.ClassOf(err))

	req.Secret = req.Nullifier
	_, err = client.Withdraw(context.Background(), req)
	assert.True(t, errors.Is(err, common.ErrCommitmentMismatch))
	assert.Equal(t, common.ClassCredential, common.ClassOf(err))
}

func TestClientRetriesTransportFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithTimeout(time.Second), WithMaxAttempts(3), WithBackoff(time.Millisecond))
	_, err := client.Withdraw(context.Background(), &WithdrawRequest{})
	assert.True(t, errors.Is(err, common.ErrRelayerUnreachable))
	assert.Equal(t, common.ClassTransport, common.ClassOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClientDoesNotRetryProtocolErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"unknown commitment","code":"unknown_commitment","class":"protocol"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMaxAttempts(5), WithBackoff(time.Millisecond))
	_, err := client.Withdraw(context.Background(), &WithdrawRequest{})
	assert.True(t, errors.Is(err, common.ErrUnknownCommitment))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, WithTimeout(20*time.Millisecond), WithMaxAttempts(2), WithBackoff(time.Millisecond))
	_, err := client.Withdraw(context.Background(), &WithdrawRequest{})
	assert.True(t, errors.Is(err, common.ErrRelayerTimeout))
	assert.True(t, common.Retryable(err))
}

func TestClientCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := NewClient(server.URL, WithTimeout(5*time.Second), WithMaxAttempts(3))
	_, err := client.Withdraw(ctx, &WithdrawRequest{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClientUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, WithTimeout(time.Second), WithMaxAttempts(1))
	_, err := client.Health(context.Background())
	assert.True(t, errors.Is(err, common.ErrRelayerUnreachable))
}

func TestClientMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMaxAttempts(1))
	_, err := client.Withdraw(context.Background(), &WithdrawRequest{})
	assert.True(t, errors.Is(err, common.ErrMalformedResponse))
}

func TestMonitor(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	monitor := NewMonitor(NewClient(server.URL, WithMaxAttempts(1)), time.Hour)
	assert.False(t, monitor.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, monitor.Healthy, time.Second, 5*time.Millisecond)
	health, checkedAt, err := monitor.Status()
	assert.NoError(t, err)
	assert.Equal(t, f.relayer.Address().String(), health.Relayer)
	assert.False(t, checkedAt.IsZero())

	cancel()
	<-done
}
