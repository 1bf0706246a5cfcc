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

package relayer

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/ledger"
	"github.com/provideplatform/mixer/wallet"
	"github.com/provideplatform/mixer/withdrawal"
)

const healthStatusOK = "ok"

// WithdrawRequest is the relay request; the relayer learns nothing about the depositor
type WithdrawRequest struct {
	Commitment string `json:"commitment"`
	Secret     string `json:"secret"`
	Nullifier  string `json:"nullifier"`
	Recipient  string `json:"recipient"`
}

// WithdrawResponse carries the ledger transaction id of the settled withdrawal
type WithdrawResponse struct {
	Signature string `json:"signature"`
}

// ErrorResponse is the structured failure body; RetryAfter is set, in whole seconds,
// for too_early rejections
type ErrorResponse struct {
	Message    string       `json:"message"`
	Code       string       `json:"code"`
	Class      common.Class `json:"class"`
	RetryAfter *uint64      `json:"retry_after,omitempty"`
}

// HealthResponse is advisory liveness; an unhealthy relayer can still be bypassed
// by a direct withdrawal
type HealthResponse struct {
	Status  string `json:"status"`
	Network string `json:"network"`
	Relayer string `json:"relayer"`
	Balance uint64 `json:"balance"`
}

// Parse validates the request and re-derives the commitment locally; a mismatch is a
// credential error and never reaches the ledger
func (r *WithdrawRequest) Parse() (*withdrawal.Request, error) {
	if r == nil {
		return nil, errors.Wrap(common.ErrMalformedRequest, "empty request")
	}
	if r.Commitment == "" || r.Secret == "" || r.Nullifier == "" || r.Recipient == "" {
		return nil, errors.Wrap(common.ErrMalformedRequest, "commitment, secret, nullifier and recipient are required")
	}

	c, err := commitment.ParseCommitment(r.Commitment)
	if err != nil {
		return nil, err
	}
	secret, err := commitment.ParseSecret(r.Secret)
	if err != nil {
		return nil, err
	}
	nullifier, err := commitment.ParseNullifier(r.Nullifier)
	if err != nil {
		return nil, err
	}
	recipient, err := wallet.ParseAddress(r.Recipient)
	if err != nil {
		return nil, err
	}

	if !commitment.Verify(secret, nullifier, c) {
		return nil, errors.Wrapf(common.ErrCommitmentMismatch, "commitment %s", c.Short())
	}

	return &withdrawal.Request{
		Secret:    secret,
		Nullifier: nullifier,
		Recipient: recipient,
	}, nil
}

// Relayer submits withdrawals on behalf of holders and pays the network fee
type Relayer struct {
	ledger ledger.Ledger
	signer wallet.Signer
}

// NewRelayer returns a relayer paying fees from the given signer
func NewRelayer(l ledger.Ledger, signer wallet.Signer) *Relayer {
	return &Relayer{
		ledger: l,
		signer: signer,
	}
}

// Address returns the fee payer address
func (r *Relayer) Address() wallet.Address {
	return r.signer.Address()
}

// Withdraw signs the requested withdrawal as fee payer and submits it unchanged;
// the recipient is never altered
func (r *Relayer) Withdraw(ctx context.Context, req *WithdrawRequest) (*ledger.Receipt, error) {
	started := time.Now()

	receipt, err := r.withdraw(ctx, req)
	observeWithdrawal(err, time.Since(started))
	return receipt, err
}

func (r *Relayer) withdraw(ctx context.Context, req *WithdrawRequest) (*ledger.Receipt, error) {
	wreq, err := req.Parse()
	if err != nil {
		common.Log.Debugf("rejected relay request; %s", err.Error())
		return nil, err
	}

	tx, err := ledger.SignWithdrawal(ctx, r.signer, wreq)
	if err != nil {
		return nil, errors.Wrap(common.ErrRelayerInternal, err.Error())
	}

	receipt, err := r.ledger.SubmitWithdrawal(ctx, tx)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInsufficientFunds):
			return nil, errors.Wrapf(common.ErrRelayerUnavailable, "relayer %s cannot cover the network fee", r.Address())
		case errors.Is(err, common.ErrInvalidSignature):
			return nil, errors.Wrap(common.ErrRelayerInternal, err.Error())
		}
		return nil, err
	}

	common.Log.Debugf("relayed withdrawal for commitment %s; tx: %s", receipt.Commitment.Short(), receipt.Signature)
	return receipt, nil
}

// Health reports the relayer fee balance; it fails when the ledger is unreachable
func (r *Relayer) Health(ctx context.Context) (*HealthResponse, error) {
	if _, err := r.ledger.Now(ctx); err != nil {
		return nil, errors.Wrap(common.ErrRelayerUnavailable, err.Error())
	}

	balance, err := r.ledger.Balance(ctx, r.Address())
	if err != nil {
		return nil, errors.Wrap(common.ErrRelayerUnavailable, err.Error())
	}

	return &HealthResponse{
		Status:  healthStatusOK,
		Network: common.Network,
		Relayer: r.Address().String(),
		Balance: balance,
	}, nil
}

// errorResponse classifies the error for the wire
func errorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{
		Message: err.Error(),
		Code:    common.CodeOf(err),
		Class:   common.ClassOf(err),
	}

	if resp.Code == "" {
		resp.Message = common.ErrRelayerInternal.Message
		resp.Code = common.ErrRelayerInternal.Code
		resp.Class = common.ErrRelayerInternal.Class
	}

	if remaining, ok := common.RemainingWait(err); ok {
		secs := uint64(math.Ceil(remaining.Seconds()))
		resp.RetryAfter = &secs
	}

	return resp
}

// asError restores the classified error described by a wire response
func (e *ErrorResponse) asError() error {
	sentinel := common.ErrorForCode(e.Code)
	if sentinel == nil {
		return errors.Wrapf(common.ErrMalformedResponse, "unknown error code %q", e.Code)
	}

	if sentinel == common.ErrTooEarly && e.RetryAfter != nil {
		remaining := time.Duration(*e.RetryAfter) * time.Second
		return &common.TooEarlyError{
			EligibleAt: time.Now().Add(remaining),
			Remaining:  remaining,
		}
	}

	if e.Message == "" || e.Message == sentinel.Message {
		return sentinel
	}
	return errors.Wrap(sentinel, strings.TrimSuffix(e.Message, ": "+sentinel.Message))
}
