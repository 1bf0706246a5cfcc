package memory

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
)

// Store holds credentials in process memory; nothing survives a restart
type Store struct {
	mutex   sync.RWMutex
	records map[commitment.Commitment]credential.Record
}

// InitStore initializes an empty store
func InitStore() *Store {
	return &Store{
		records: map[commitment.Commitment]credential.Record{},
	}
}

// Put implements credential.Store
func (s *Store) Put(record *credential.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[record.Commitment] = copyRecord(record)
	return nil
}

// Get implements credential.Store
func (s *Store) Get(c commitment.Commitment) (*credential.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.records[c]
	if !ok {
		return nil, errors.Wrapf(common.ErrCredentialNotFound, "commitment %s", c.Short())
	}
	cpy := copyRecord(&record)
	return &cpy, nil
}

// List implements credential.Store
func (s *Store) List() ([]*credential.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	records := make([]*credential.Record, 0, len(s.records))
	for _, record := range s.records {
		cpy := copyRecord(&record)
		records = append(records, &cpy)
	}
	return records, nil
}

// Delete implements credential.Store
func (s *Store) Delete(c commitment.Commitment) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.records[c]; !ok {
		return errors.Wrapf(common.ErrCredentialNotFound, "commitment %s", c.Short())
	}
	delete(s.records, c)
	return nil
}

func copyRecord(record *credential.Record) credential.Record {
	cpy := *record
	if record.Signature != nil {
		cpy.Signature = common.StringOrNil(*record.Signature)
	}
	return cpy
}
