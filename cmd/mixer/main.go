package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/provideplatform/mixer/client"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
	credentialproviders "github.com/provideplatform/mixer/credential/providers"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger"
	ledgerproviders "github.com/provideplatform/mixer/ledger/providers"
	"github.com/provideplatform/mixer/relayer"
	"github.com/spf13/cobra"
)

// offlineAnnotation marks subcommands that never reach the ledger, credentials or relayer
const offlineAnnotation = "offline"

// app holds the collaborators shared by every subcommand; unset fields are
// resolved from configuration before the first command runs
type app struct {
	ledger      ledger.Ledger
	credentials *credential.Manager
	relayer     *relayer.Client
	client      *client.Client
	out         io.Writer
}

func (a *app) init() error {
	if a.out == nil {
		a.out = os.Stdout
	}

	if a.ledger == nil {
		if strings.EqualFold(common.LedgerProvider, ledgerproviders.LedgerProviderMemory) {
			return fmt.Errorf("LEDGER_PROVIDER=%s keeps no state between runs; deposits made from the command line would be lost; set LEDGER_PROVIDER=%s", common.LedgerProvider, ledgerproviders.LedgerProviderDatabase)
		}
		a.ledger = ledgerproviders.InitLedgerProvider(common.LedgerProvider, deposit.DefaultParams())
		if a.ledger == nil {
			return fmt.Errorf("unsupported ledger provider: %s", common.LedgerProvider)
		}
	}

	if a.credentials == nil {
		store, err := credentialproviders.InitCredentialStoreProvider(common.CredentialStoreProvider)
		if err != nil {
			return err
		}
		a.credentials = credential.NewManager(store)
	}

	if a.relayer == nil {
		a.relayer = relayer.NewClient(common.RelayerAPIURL,
			relayer.WithTimeout(common.RelayerTimeout),
			relayer.WithMaxAttempts(common.RelayerMaxAttempts),
		)
	}

	if a.client == nil {
		a.client = client.NewClient(a.ledger, a.credentials, a.relayer)
	}

	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mixer",
		Short:         "Deposit into and withdraw from the commitment pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[offlineAnnotation] == "true" {
				if a.out == nil {
					a.out = os.Stdout
				}
				return nil
			}
			return a.init()
		},
	}

	root.AddCommand(
		newKeygenCmd(a),
		newDelaysCmd(a),
		newDepositCmd(a),
		newWithdrawCmd(a),
		newListCmd(a),
		newStatusCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newDeleteCmd(a),
		newHealthCmd(a),
	)

	return root
}

func main() {
	err := newRootCmd(&app{}).ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		if code := common.CodeOf(err); code != "" {
			fmt.Fprintf(os.Stderr, "code: %s (%s)\n", code, common.ClassOf(err))
		}
		os.Exit(1)
	}
}
