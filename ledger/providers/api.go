package providers

import (
	"strings"

	dbconf "github.com/kthomas/go-db-config"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger"
	"github.com/provideplatform/mixer/ledger/providers/db"
	"github.com/provideplatform/mixer/ledger/providers/memory"
)

// LedgerProviderMemory single-process ledger provider
const LedgerProviderMemory = "memory"

// LedgerProviderDatabase postgres ledger provider
const LedgerProviderDatabase = "db"

// InitLedgerProvider returns the named ledger provider, or nil if the provider is unknown
func InitLedgerProvider(provider string, params *deposit.Params) ledger.Ledger {
	switch strings.ToLower(provider) {
	case LedgerProviderMemory:
		return memory.InitLedger(params)
	case LedgerProviderDatabase:
		return db.InitLedger(dbconf.DatabaseConnection(), params)
	default:
		common.Log.Warningf("failed to initialize ledger provider; unknown provider: %s", provider)
	}

	return nil
}
