package credential

import (
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
)

const defaultWriteAttempts = 3
const defaultWriteBackoff = time.Millisecond * 50

// Manager owns the credential lifecycle: persist before submission, list, load, and
// delete only on explicit request. Storage faults are retried a bounded number of times
// and then surfaced as ErrPersistence; they are never swallowed.
type Manager struct {
	store    Store
	attempts int
	backoff  time.Duration
	mutex    sync.Mutex
}

// Option configures the manager
type Option func(*Manager)

// WithWriteAttempts bounds storage retries
func WithWriteAttempts(attempts int) Option {
	return func(m *Manager) {
		if attempts < 1 {
			attempts = 1
		}
		m.attempts = attempts
	}
}

// WithWriteBackoff sets the wait between storage retries
func WithWriteBackoff(backoff time.Duration) Option {
	return func(m *Manager) {
		m.backoff = backoff
	}
}

// NewManager returns a manager over the given store
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		attempts: defaultWriteAttempts,
		backoff:  defaultWriteBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Persist durably stores the record. Persisting identical content again is a no-op
// that may add a signature; different content under the same commitment is rejected.
func (m *Manager) Persist(record *Record) (*Record, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	existing, err := m.get(record.Commitment)
	if err != nil && !errors.Is(err, common.ErrCredentialNotFound) {
		return nil, err
	}

	if existing != nil {
		if !existing.sameContent(record) {
			return nil, errors.Wrapf(common.ErrCredentialConflict, "commitment %s", record.Commitment.Short())
		}
		if record.Signature == nil || (existing.Signature != nil && *existing.Signature == *record.Signature) {
			return existing, nil
		}
		if existing.Signature != nil {
			return nil, errors.Wrapf(common.ErrCredentialConflict, "commitment %s already carries signature %s", record.Commitment.Short(), *existing.Signature)
		}
		existing.Signature = record.Signature
		record = existing
	}

	err = m.withRetry("persist credential", func() error {
		return m.store.Put(record)
	})
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("persisted credential for commitment %s", record.Commitment.Short())
	return record, nil
}

// AttachSignature records the deposit transaction id on a stored credential
func (m *Manager) AttachSignature(c commitment.Commitment, signature string) (*Record, error) {
	record, err := m.Load(c)
	if err != nil {
		return nil, err
	}
	record.Signature = common.StringOrNil(signature)
	return m.Persist(record)
}

// Load returns the stored record or ErrCredentialNotFound
func (m *Manager) Load(c commitment.Commitment) (*Record, error) {
	return m.get(c)
}

// ListAll returns every stored record, most recent first; ties are ordered by commitment
func (m *Manager) ListAll() ([]*Record, error) {
	var records []*Record
	err := m.withRetry("list credentials", func() error {
		var err error
		records, err = m.store.List()
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Commitment.String() < records[j].Commitment.String()
	})
	return records, nil
}

// Delete removes the record; callers delete only on explicit request or when the
// deposit was definitively rejected
func (m *Manager) Delete(c commitment.Commitment) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.withRetry("delete credential", func() error {
		return m.store.Delete(c)
	})
	if err != nil {
		return err
	}

	common.Log.Debugf("deleted credential for commitment %s", c.Short())
	return nil
}

func (m *Manager) get(c commitment.Commitment) (*Record, error) {
	var record *Record
	err := m.withRetry("load credential", func() error {
		var err error
		record, err = m.store.Get(c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// withRetry retries unclassified storage faults; classified errors are returned as-is
func (m *Manager) withRetry(op string, fn func() error) error {
	attempt := 0
	var last error

	err := backoff.RetryNotify(func() error {
		attempt++
		last = fn()
		if last != nil && common.ClassOf(last) != common.ClassUnknown {
			return backoff.Permanent(last)
		}
		return last
	}, m.newBackOff(), func(err error, wait time.Duration) {
		common.Log.Warningf("failed to %s; attempt %d of %d; %s", op, attempt, m.attempts, err.Error())
	})
	if err == nil || common.ClassOf(err) != common.ClassUnknown {
		return err
	}

	common.Log.Warningf("failed to %s; attempt %d of %d; %s", op, attempt, m.attempts, last.Error())
	return errors.Wrapf(common.ErrPersistence, "failed to %s after %d attempts; %s", op, attempt, last.Error())
}

func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(m.attempts-1))
}
