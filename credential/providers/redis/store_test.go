//go:build integration
// +build integration

package redis

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisHosts() []string {
	if os.Getenv("REDIS_HOSTS") != "" {
		return strings.Split(os.Getenv("REDIS_HOSTS"), ",")
	}
	return []string{"localhost:6379"}
}

func TestRedisStoreLifecycle(t *testing.T) {
	namespace := "test-" + time.Now().Format("20060102150405.000000000")
	store, err := InitStore(redisHosts(), namespace, "passphrase")
	require.NoError(t, err)

	base := time.Unix(1700000000, 0).UTC()
	var records []*credential.Record
	for i := 0; i < 3; i++ {
		cred, err := commitment.GenerateCredential()
		require.NoError(t, err)
		record := credential.NewRecord("alice", cred, 500000000, 300)
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Put(record))
		records = append(records, record)
	}

	listed, err := store.List()
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, records[2].Commitment, listed[0].Commitment)

	loaded, err := store.Get(records[0].Commitment)
	require.NoError(t, err)
	assert.Equal(t, records[0].Secret, loaded.Secret)

	for _, record := range records {
		require.NoError(t, store.Delete(record.Commitment))
	}
	_, err = store.Get(records[0].Commitment)
	assert.True(t, errors.Is(err, common.ErrCredentialNotFound))
	assert.True(t, errors.Is(store.Delete(records[0].Commitment), common.ErrCredentialNotFound))
}
