package client

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/credential"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger"
	"github.com/provideplatform/mixer/relayer"
	"github.com/provideplatform/mixer/wallet"
	"github.com/provideplatform/mixer/withdrawal"
)

const (
	// StatusOpen deposits hold funds awaiting withdrawal
	StatusOpen = "open"

	// StatusClosed deposits have been withdrawn
	StatusClosed = "closed"

	// StatusUnknown credentials have no ledger record, i.e. the deposit never landed
	StatusUnknown = "unknown"
)

// Client drives the holder side of the protocol: credentials are persisted before any
// deposit is submitted, and withdrawals go through the relayer or directly to the ledger
type Client struct {
	ledger      ledger.Ledger
	credentials *credential.Manager
	relayer     *relayer.Client
}

// DepositStatus joins a stored credential with its ledger record
type DepositStatus struct {
	Credential *credential.Record `json:"credential"`
	Record     *deposit.Record    `json:"record,omitempty"`
	Status     string             `json:"status"`
	EligibleAt *time.Time         `json:"eligible_at,omitempty"`
	Remaining  time.Duration      `json:"remaining"`
}

// NewClient returns a client; the relayer client may be nil when only direct
// withdrawals are used
func NewClient(l ledger.Ledger, credentials *credential.Manager, relayerClient *relayer.Client) *Client {
	return &Client{
		ledger:      l,
		credentials: credentials,
		relayer:     relayerClient,
	}
}

// Deposit generates a fresh credential, persists it, and only then submits the deposit.
// The credential is removed again only when the ledger definitively rejected the deposit;
// on any other failure it is kept, since the deposit may have landed.
func (c *Client) Deposit(ctx context.Context, signer wallet.Signer, handle string, amount uint64, delaySeconds uint32) (*credential.Record, error) {
	if err := c.ledger.Params().Validate(amount, delaySeconds); err != nil {
		return nil, err
	}

	cred, err := commitment.GenerateCredential()
	if err != nil {
		return nil, err
	}

	record, err := c.credentials.Persist(credential.NewRecord(handle, cred, amount, delaySeconds))
	if err != nil {
		return nil, err
	}

	tx, err := ledger.SignDeposit(ctx, signer, cred.Commitment, amount, delaySeconds)
	if err != nil {
		c.discard(record)
		return nil, err
	}

	receipt, err := c.ledger.SubmitDeposit(ctx, tx)
	if err != nil {
		if common.ClassOf(err) == common.ClassProtocol {
			c.discard(record)
		} else {
			common.Log.Warningf("deposit for commitment %s has an unknown outcome; credential retained; %s", record.Commitment.Short(), err.Error())
		}
		return nil, err
	}

	record, err = c.credentials.AttachSignature(record.Commitment, receipt.Signature)
	if err != nil {
		return nil, errors.Wrapf(err, "deposit %s landed but its signature could not be recorded", receipt.Signature)
	}

	common.Log.Debugf("deposited %d behind commitment %s", amount, record.Commitment.Short())
	return record, nil
}

func (c *Client) discard(record *credential.Record) {
	err := c.credentials.Delete(record.Commitment)
	if err != nil {
		common.Log.Warningf("failed to discard credential for rejected deposit %s; %s", record.Commitment.Short(), err.Error())
	}
}

// WithdrawRelayed asks the relayer to withdraw the stored deposit to the recipient
func (c *Client) WithdrawRelayed(ctx context.Context, cmt commitment.Commitment, recipient wallet.Address) (string, error) {
	if c.relayer == nil {
		return "", errors.Wrap(common.ErrRelayerUnavailable, "no relayer configured")
	}

	record, err := c.loadValid(cmt)
	if err != nil {
		return "", err
	}

	resp, err := c.relayer.Withdraw(ctx, &relayer.WithdrawRequest{
		Commitment: record.Commitment.String(),
		Secret:     record.Secret.String(),
		Nullifier:  record.Nullifier.String(),
		Recipient:  recipient.String(),
	})
	if err != nil {
		return "", err
	}

	common.Log.Debugf("relayed withdrawal for commitment %s; tx: %s", cmt.Short(), resp.Signature)
	return resp.Signature, nil
}

// WithdrawDirect submits the withdrawal with the signer paying the network fee; it
// does not depend on any relayer being available
func (c *Client) WithdrawDirect(ctx context.Context, signer wallet.Signer, cmt commitment.Commitment, recipient wallet.Address) (string, error) {
	record, err := c.loadValid(cmt)
	if err != nil {
		return "", err
	}

	tx, err := ledger.SignWithdrawal(ctx, signer, &withdrawal.Request{
		Secret:    record.Secret,
		Nullifier: record.Nullifier,
		Recipient: recipient,
	})
	if err != nil {
		return "", err
	}

	receipt, err := c.ledger.SubmitWithdrawal(ctx, tx)
	if err != nil {
		return "", err
	}

	common.Log.Debugf("withdrew commitment %s directly; tx: %s", cmt.Short(), receipt.Signature)
	return receipt.Signature, nil
}

// Status returns the ledger view of a stored credential
func (c *Client) Status(ctx context.Context, cmt commitment.Commitment) (*DepositStatus, error) {
	record, err := c.credentials.Load(cmt)
	if err != nil {
		return nil, err
	}
	return c.status(ctx, record)
}

// Pending returns the stored credentials that have not been withdrawn, most recent first
func (c *Client) Pending(ctx context.Context) ([]*DepositStatus, error) {
	records, err := c.credentials.ListAll()
	if err != nil {
		return nil, err
	}

	pending := make([]*DepositStatus, 0, len(records))
	for _, record := range records {
		status, err := c.status(ctx, record)
		if err != nil {
			return nil, err
		}
		if status.Status != StatusClosed {
			pending = append(pending, status)
		}
	}
	return pending, nil
}

func (c *Client) status(ctx context.Context, record *credential.Record) (*DepositStatus, error) {
	status := &DepositStatus{
		Credential: record,
		Status:     StatusUnknown,
	}

	ledgerRecord, err := c.ledger.DepositRecord(ctx, record.Commitment)
	if err != nil {
		if errors.Is(err, common.ErrUnknownCommitment) {
			return status, nil
		}
		return nil, err
	}

	now, err := c.ledger.Now(ctx)
	if err != nil {
		return nil, err
	}

	eligibleAt := ledgerRecord.EligibleAt()
	status.Record = ledgerRecord
	status.Status = string(ledgerRecord.State())
	status.EligibleAt = &eligibleAt
	if !ledgerRecord.Withdrawn {
		status.Remaining = ledgerRecord.Remaining(now)
	}
	return status, nil
}

func (c *Client) loadValid(cmt commitment.Commitment) (*credential.Record, error) {
	record, err := c.credentials.Load(cmt)
	if err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}
