/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/nullifier"
	"github.com/provideplatform/mixer/wallet"
	"github.com/provideplatform/mixer/withdrawal"
)

const depositDomain = "mixer/deposit/v1"
const withdrawalDomain = "mixer/withdraw/v1"

// TxTypeDeposit identifies deposit receipts
const TxTypeDeposit = "deposit"

// TxTypeWithdrawal identifies withdrawal receipts
const TxTypeWithdrawal = "withdrawal"

// PoolAddress is the vault holding every open deposit
var PoolAddress = wallet.DeriveAddress("pool")

// FeeCollectorAddress accrues protocol and network fees
var FeeCollectorAddress = wallet.DeriveAddress("fees")

// Ledger is the append-only, globally ordered state store executing mixer transitions.
// Every submission is applied atomically or rejected wholesale.
type Ledger interface {
	// SubmitDeposit creates the deposit record and locks the funds
	SubmitDeposit(ctx context.Context, tx *DepositTx) (*Receipt, error)

	// SubmitWithdrawal applies the withdrawal state machine as a single transition
	SubmitWithdrawal(ctx context.Context, tx *WithdrawalTx) (*Receipt, error)

	// DepositRecord returns the record keyed by commitment or ErrUnknownCommitment
	DepositRecord(ctx context.Context, c commitment.Commitment) (*deposit.Record, error)

	// NullifierEntry returns the registry entry; absent hashes are reported unused
	NullifierEntry(ctx context.Context, h commitment.NullifierHash) (*nullifier.Entry, error)

	// Balance returns the balance of the address in base units
	Balance(ctx context.Context, addr wallet.Address) (uint64, error)

	// Now returns the ledger clock
	Now(ctx context.Context) (time.Time, error)

	// Params returns the deposit acceptance rules the ledger enforces
	Params() *deposit.Params
}

// DepositTx locks amount behind commitment for at least delay seconds
type DepositTx struct {
	Commitment   commitment.Commitment
	Amount       uint64
	DelaySeconds uint32
	Depositor    wallet.Address
	Signature    []byte
}

// WithdrawalTx releases a deposit to the recipient; it is signed by whoever pays the fee
type WithdrawalTx struct {
	Secret    commitment.Secret
	Nullifier commitment.Nullifier
	Recipient wallet.Address
	FeePayer  wallet.Address
	Signature []byte
}

// Receipt identifies an applied transaction
type Receipt struct {
	Signature  string                 `json:"signature"`
	Type       string                 `json:"type"`
	Commitment commitment.Commitment  `json:"commitment"`
	AppliedAt  time.Time              `json:"applied_at"`
	Settlement *withdrawal.Settlement `json:"settlement,omitempty"`
}

// Message returns the bytes signed by the depositor
func (tx *DepositTx) Message() []byte {
	buf := make([]byte, 0, len(depositDomain)+commitment.Size+8+4+wallet.AddressSize)
	buf = append(buf, depositDomain...)
	buf = append(buf, tx.Commitment[:]...)
	buf = binary.BigEndian.AppendUint64(buf, tx.Amount)
	buf = binary.BigEndian.AppendUint32(buf, tx.DelaySeconds)
	buf = append(buf, tx.Depositor[:]...)
	return buf
}

// Verify checks the depositor signature
func (tx *DepositTx) Verify() error {
	if !wallet.VerifySignature(tx.Depositor, tx.Message(), tx.Signature) {
		return fmt.Errorf("%w: deposit %s", common.ErrInvalidSignature, tx.Commitment)
	}
	return nil
}

// ID returns the transaction identifier, the encoded signature
func (tx *DepositTx) ID() string {
	return wallet.EncodeSignature(tx.Signature)
}

// Message returns the bytes signed by the fee payer
func (tx *WithdrawalTx) Message() []byte {
	buf := make([]byte, 0, len(withdrawalDomain)+commitment.Size*2+wallet.AddressSize*2)
	buf = append(buf, withdrawalDomain...)
	buf = append(buf, tx.Secret[:]...)
	buf = append(buf, tx.Nullifier[:]...)
	buf = append(buf, tx.Recipient[:]...)
	buf = append(buf, tx.FeePayer[:]...)
	return buf
}

// Verify checks the fee payer signature
func (tx *WithdrawalTx) Verify() error {
	if !wallet.VerifySignature(tx.FeePayer, tx.Message(), tx.Signature) {
		return fmt.Errorf("%w: withdrawal signed by %s", common.ErrInvalidSignature, tx.FeePayer)
	}
	return nil
}

// ID returns the transaction identifier, the encoded signature
func (tx *WithdrawalTx) ID() string {
	return wallet.EncodeSignature(tx.Signature)
}

// Request returns the withdrawal state machine input carried by the transaction
func (tx *WithdrawalTx) Request() *withdrawal.Request {
	return &withdrawal.Request{
		Secret:    tx.Secret,
		Nullifier: tx.Nullifier,
		Recipient: tx.Recipient,
	}
}

// Commitment returns the commitment the withdrawal claims
func (tx *WithdrawalTx) Commitment() commitment.Commitment {
	return commitment.Compute(tx.Secret, tx.Nullifier)
}

// SignDeposit assembles a deposit transaction and requests the depositor's signature
func SignDeposit(ctx context.Context, signer wallet.Signer, c commitment.Commitment, amount uint64, delaySeconds uint32) (*DepositTx, error) {
	tx := &DepositTx{
		Commitment:   c,
		Amount:       amount,
		DelaySeconds: delaySeconds,
		Depositor:    signer.Address(),
	}

	sig, err := signer.Sign(ctx, tx.Message())
	if err != nil {
		return nil, fmt.Errorf("failed to sign deposit %s; %w", c, err)
	}
	tx.Signature = sig
	return tx, nil
}

// SignWithdrawal assembles a withdrawal transaction paid for by the signer
func SignWithdrawal(ctx context.Context, signer wallet.Signer, req *withdrawal.Request) (*WithdrawalTx, error) {
	tx := &WithdrawalTx{
		Secret:    req.Secret,
		Nullifier: req.Nullifier,
		Recipient: req.Recipient,
		FeePayer:  signer.Address(),
	}

	sig, err := signer.Sign(ctx, tx.Message())
	if err != nil {
		return nil, fmt.Errorf("failed to sign withdrawal; %w", err)
	}
	tx.Signature = sig
	return tx, nil
}
