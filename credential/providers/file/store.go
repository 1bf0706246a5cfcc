package file

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
)

const recordExtension = ".json"

// Store keeps one file per credential under a private directory; writes go through
// a temp file and rename so a crash never leaves a truncated record behind
type Store struct {
	dir        string
	passphrase string
}

// InitStore prepares the directory and returns the store; records are sealed at rest
// when a passphrase is given
func InitStore(dir, passphrase string) (*Store, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, errors.Wrapf(common.ErrPersistence, "failed to initialize credential directory %s; %s", dir, err.Error())
	}

	return &Store{
		dir:        dir,
		passphrase: passphrase,
	}, nil
}

func (s *Store) path(c commitment.Commitment) string {
	return filepath.Join(s.dir, c.String()+recordExtension)
}

// Put implements credential.Store
func (s *Store) Put(record *credential.Record) error {
	raw, err := credential.Encode(record, s.passphrase)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".credential-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path(record.Commitment))
}

// Get implements credential.Store
func (s *Store) Get(c commitment.Commitment) (*credential.Record, error) {
	raw, err := os.ReadFile(s.path(c))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(common.ErrCredentialNotFound, "commitment %s", c.Short())
		}
		return nil, err
	}
	return credential.Decode(raw, s.passphrase)
}

// List implements credential.Store; a record that cannot be read or opened fails the
// whole listing, since a silently shorter list is indistinguishable from lost funds
func (s *Store) List() ([]*credential.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	records := make([]*credential.Record, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExtension) {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, errors.Wrapf(common.ErrPersistence, "failed to read credential file %s; %s", name, err.Error())
		}

		record, err := credential.Decode(raw, s.passphrase)
		if err != nil {
			common.Log.Warningf("failed to open credential file %s; %s", name, err.Error())
			return nil, errors.Wrapf(err, "credential file %s", name)
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete implements credential.Store
func (s *Store) Delete(c commitment.Commitment) error {
	err := os.Remove(s.path(c))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(common.ErrCredentialNotFound, "commitment %s", c.Short())
		}
		return err
	}
	return nil
}
