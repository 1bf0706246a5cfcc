package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/client"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/wallet"
	"github.com/spf13/cobra"
)

const walletKeyEnv = "MIXER_WALLET_KEY"

func resolveKeypair(key string) (*wallet.Keypair, error) {
	if key == "" {
		key = os.Getenv(walletKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("a signing key is required; pass --key or set %s", walletKeyEnv)
	}
	return wallet.KeypairFromBase58(key)
}

func parseDelay(str string) (uint32, error) {
	if d, err := time.ParseDuration(str); err == nil {
		if d < 0 || d/time.Second > math.MaxUint32 {
			return 0, fmt.Errorf("invalid delay %q", str)
		}
		return uint32(d / time.Second), nil
	}
	seconds, err := strconv.ParseUint(str, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q; expected seconds or a duration, i.e. 1h", str)
	}
	return uint32(seconds), nil
}

func newKeygenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "keygen",
		Short:       "Generate a signing keypair",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := wallet.NewKeypair()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "address: %s\nkey:     %s\n", kp.Address().String(), kp.Export())
			return nil
		},
	}
}

func newDelaysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "delays",
		Short:       "List the suggested withdrawal delays",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SECONDS\tDELAY\tPRIVACY")
			for _, opt := range deposit.DelayOptions {
				fmt.Fprintf(w, "%d\t%s\t%s\n", opt.Seconds, opt.Label, opt.Privacy)
			}
			return w.Flush()
		},
	}
}

func newDepositCmd(a *app) *cobra.Command {
	var amount, delay, handle, key string

	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit into the pool behind a fresh commitment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := credential.ParseCoins(amount)
			if err != nil {
				return err
			}
			delaySeconds, err := parseDelay(delay)
			if err != nil {
				return err
			}
			signer, err := resolveKeypair(key)
			if err != nil {
				return err
			}

			record, err := a.client.Deposit(cmd.Context(), signer, handle, units, delaySeconds)
			if err != nil {
				return err
			}

			params := a.ledger.Params()
			status, err := a.client.Status(cmd.Context(), record.Commitment)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "commitment: %s\n", record.Commitment.String())
			fmt.Fprintf(a.out, "signature:  %s\n", *record.Signature)
			fmt.Fprintf(a.out, "amount:     %s\n", credential.FormatCoins(record.Amount))
			fmt.Fprintf(a.out, "fees:       %s\n", credential.FormatCoins(params.ProtocolFee+common.NetworkFee))
			if status.EligibleAt != nil {
				fmt.Fprintf(a.out, "eligible:   %s\n", status.EligibleAt.Format(time.RFC3339))
			}
			fmt.Fprintf(a.out, "export the credential now; it is the only way to withdraw these funds\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "net amount to deposit, in coins")
	cmd.Flags().StringVar(&delay, "delay", "1h", "withdrawal delay, in seconds or as a duration")
	cmd.Flags().StringVar(&handle, "handle", "", "local label for the credential")
	cmd.Flags().StringVar(&key, "key", "", fmt.Sprintf("base58 signing key; defaults to $%s", walletKeyEnv))
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newWithdrawCmd(a *app) *cobra.Command {
	var recipient, key string
	var direct bool

	cmd := &cobra.Command{
		Use:   "withdraw <commitment>",
		Short: "Withdraw a deposit to a recipient address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := commitment.ParseCommitment(args[0])
			if err != nil {
				return err
			}
			to, err := wallet.ParseAddress(recipient)
			if err != nil {
				return err
			}

			var signature string
			if direct {
				signer, err := resolveKeypair(key)
				if err != nil {
					return err
				}
				signature, err = a.client.WithdrawDirect(cmd.Context(), signer, c, to)
				if err != nil {
					return describeWithdrawalError(err)
				}
			} else {
				signature, err = a.client.WithdrawRelayed(cmd.Context(), c, to)
				if err != nil {
					return describeWithdrawalError(err)
				}
			}

			fmt.Fprintf(a.out, "signature: %s\n", signature)
			return nil
		},
	}

	cmd.Flags().StringVar(&recipient, "recipient", "", "base58 address receiving the funds")
	cmd.Flags().BoolVar(&direct, "direct", false, "submit directly to the ledger, paying the network fee")
	cmd.Flags().StringVar(&key, "key", "", fmt.Sprintf("base58 fee-paying key for --direct; defaults to $%s", walletKeyEnv))
	cmd.MarkFlagRequired("recipient")
	return cmd
}

func describeWithdrawalError(err error) error {
	if remaining, ok := common.RemainingWait(err); ok {
		return errors.Wrapf(err, "try again in %s", remaining.Round(time.Second))
	}
	if common.ClassOf(err) == common.ClassTransport {
		return errors.Wrap(err, "the relayer could not be reached; retry later or withdraw with --direct")
	}
	return err
}

func newListCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored credentials; only those not yet withdrawn unless --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)

			if all {
				records, err := a.credentials.ListAll()
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "COMMITMENT\tHANDLE\tAMOUNT\tCREATED")
				for _, record := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", record.Commitment.String(), record.Handle, credential.FormatCoins(record.Amount), record.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			}

			pending, err := a.client.Pending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "COMMITMENT\tHANDLE\tAMOUNT\tSTATUS\tREMAINING")
			for _, status := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", status.Credential.Commitment.String(), status.Credential.Handle, credential.FormatCoins(status.Credential.Amount), status.Status, status.Remaining)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include withdrawn deposits without querying the ledger")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <commitment>",
		Short: "Show the ledger status of a stored deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := commitment.ParseCommitment(args[0])
			if err != nil {
				return err
			}
			status, err := a.client.Status(cmd.Context(), c)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "commitment: %s\n", c.String())
			fmt.Fprintf(a.out, "status:     %s\n", status.Status)
			if status.EligibleAt != nil {
				fmt.Fprintf(a.out, "eligible:   %s\n", status.EligibleAt.Format(time.RFC3339))
				fmt.Fprintf(a.out, "remaining:  %s\n", status.Remaining)
			}
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export <commitment>",
		Short: "Write a portable credential backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := commitment.ParseCommitment(args[0])
			if err != nil {
				return err
			}
			record, err := a.credentials.Load(c)
			if err != nil {
				return err
			}
			raw, err := credential.Export(record)
			if err != nil {
				return err
			}

			path := filepath.Join(dir, credential.ExportFilename(c))
			err = os.WriteFile(path, raw, 0600)
			if err != nil {
				return errors.Wrapf(common.ErrPersistence, "failed to write %s; %s", path, err.Error())
			}
			fmt.Fprintf(a.out, "exported %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write the export file to")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var handle string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a credential backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			record, err := credential.Import(raw, handle)
			if err != nil {
				return err
			}
			record, err = a.credentials.Persist(record)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "imported %s\n", record.Commitment.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&handle, "handle", "", "local label for the credential")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <commitment>",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := commitment.ParseCommitment(args[0])
			if err != nil {
				return err
			}

			if !force {
				status, err := a.client.Status(cmd.Context(), c)
				if err != nil {
					return err
				}
				if status.Status != client.StatusClosed {
					return fmt.Errorf("deposit %s is %s; deleting its credential forfeits the funds; pass --force to delete anyway", c.Short(), status.Status)
				}
			}

			err = a.credentials.Delete(c)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s\n", c.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "delete even when the deposit has not been withdrawn")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check relayer availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := a.relayer.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "status:  %s\nnetwork: %s\nrelayer: %s\nbalance: %s\n", health.Status, health.Network, health.Relayer, credential.FormatCoins(health.Balance))
			return nil
		},
	}
}
