package redis

import (
	"fmt"

	goredis "github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
)

// Store keeps credentials in redis: one key per credential plus a sorted set indexing
// them by creation time
type Store struct {
	client     goredis.UniversalClient
	namespace  string
	passphrase string
}

// InitStore connects to the given hosts; the namespace isolates networks sharing a redis
func InitStore(hosts []string, namespace, passphrase string) (*Store, error) {
	if len(hosts) == 0 {
		return nil, errors.Wrap(common.ErrPersistence, "no redis hosts configured")
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: hosts,
	})

	err := client.Ping().Err()
	if err != nil {
		return nil, errors.Wrapf(common.ErrPersistence, "failed to connect to redis; %s", err.Error())
	}

	return &Store{
		client:     client,
		namespace:  namespace,
		passphrase: passphrase,
	}, nil
}

func (s *Store) key(c commitment.Commitment) string {
	return s.memberKey(c.String())
}

func (s *Store) memberKey(member string) string {
	return fmt.Sprintf("mixer:%s:credential:%s", s.namespace, member)
}

func (s *Store) indexKey() string {
	return fmt.Sprintf("mixer:%s:credentials", s.namespace)
}

// Put implements credential.Store
func (s *Store) Put(record *credential.Record) error {
	raw, err := credential.Encode(record, s.passphrase)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(func(pipe goredis.Pipeliner) error {
		pipe.Set(s.key(record.Commitment), raw, 0)
		pipe.ZAdd(s.indexKey(), goredis.Z{
			Score:  float64(record.CreatedAt.Unix()),
			Member: record.Commitment.String(),
		})
		return nil
	})
	return err
}

// Get implements credential.Store
func (s *Store) Get(c commitment.Commitment) (*credential.Record, error) {
	raw, err := s.client.Get(s.key(c)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, errors.Wrapf(common.ErrCredentialNotFound, "commitment %s", c.Short())
		}
		return nil, err
	}
	return credential.Decode(raw, s.passphrase)
}

// List implements credential.Store; any unreadable record fails the listing
func (s *Store) List() ([]*credential.Record, error) {
	members, err := s.client.ZRevRange(s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []*credential.Record{}, nil
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, s.memberKey(member))
	}

	vals, err := s.client.MGet(keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*credential.Record, 0, len(vals))
	for i, val := range vals {
		str, ok := val.(string)
		if !ok {
			return nil, errors.Wrapf(common.ErrPersistence, "credential index references missing record %s", keys[i])
		}
		record, err := credential.Decode([]byte(str), s.passphrase)
		if err != nil {
			common.Log.Warningf("failed to open credential %s; %s", keys[i], err.Error())
			return nil, errors.Wrapf(err, "credential %s", keys[i])
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete implements credential.Store
func (s *Store) Delete(c commitment.Commitment) error {
	var deleted *goredis.IntCmd
	_, err := s.client.TxPipelined(func(pipe goredis.Pipeliner) error {
		deleted = pipe.Del(s.key(c))
		pipe.ZRem(s.indexKey(), c.String())
		return nil
	})
	if err != nil {
		return err
	}
	if deleted.Val() == 0 {
		return errors.Wrapf(common.ErrCredentialNotFound, "commitment %s", c.Short())
	}
	return nil
}
