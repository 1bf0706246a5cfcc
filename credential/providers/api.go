package providers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
	"github.com/provideplatform/mixer/credential/providers/file"
	"github.com/provideplatform/mixer/credential/providers/memory"
	"github.com/provideplatform/mixer/credential/providers/redis"
)

// CredentialStoreProviderFile one file per credential on local disk
const CredentialStoreProviderFile = "file"

// CredentialStoreProviderRedis credentials in redis
const CredentialStoreProviderRedis = "redis"

// CredentialStoreProviderMemory process-local credentials, for tests and dry runs
const CredentialStoreProviderMemory = "memory"

// InitCredentialStoreProvider returns the configured credential store; the file and
// redis stores are scoped to the configured network
func InitCredentialStoreProvider(provider string) (credential.Store, error) {
	switch strings.ToLower(provider) {
	case CredentialStoreProviderFile:
		return file.InitStore(filepath.Join(common.CredentialStorePath, common.Network), common.CredentialStorePassphrase)
	case CredentialStoreProviderRedis:
		return redis.InitStore(common.RedisHosts, common.Network, common.CredentialStorePassphrase)
	case CredentialStoreProviderMemory:
		return memory.InitStore(), nil
	}

	return nil, fmt.Errorf("failed to initialize credential store; unknown provider: %s", provider)
}
