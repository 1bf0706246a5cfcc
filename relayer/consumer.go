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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	uuid "github.com/kthomas/go.uuid"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/ledger"
)

const natsRelayWithdrawPendingSubject = "mixer.relay.withdraw.pending"
const natsRelayWithdrawSettledSubject = "mixer.relay.withdraw.settled"
const natsRelayWithdrawFailedSubject = "mixer.relay.withdraw.failed"

const natsRelayWithdrawMaxInFlight = 64
const relayWithdrawAckWait = time.Minute * 1
const relayWithdrawMaxDeliveries = 5

// queuedWithdrawal is a relay request delivered over NATS; reference is echoed back
// on the result subjects so the submitter can correlate without any identity
type queuedWithdrawal struct {
	WithdrawRequest
	Reference string `json:"reference"`
}

// Enqueue validates the request locally and publishes it to the relay queue; the returned
// reference correlates the eventual settled or failed result
func Enqueue(req *WithdrawRequest) (string, error) {
	if _, err := req.Parse(); err != nil {
		return "", err
	}

	reference, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	payload, _ := json.Marshal(&queuedWithdrawal{
		WithdrawRequest: *req,
		Reference:       reference.String(),
	})
	_, err = natsutil.NatsJetstreamPublish(natsRelayWithdrawPendingSubject, payload)
	if err != nil {
		return "", fmt.Errorf("%w: failed to enqueue withdrawal; %s", common.ErrRelayerUnreachable, err.Error())
	}

	common.Log.Debugf("enqueued withdrawal %s", reference.String())
	return reference.String(), nil
}

// RequireNatsSubscriptions starts the queued withdrawal consumers
func (r *Relayer) RequireNatsSubscriptions(wg *sync.WaitGroup) {
	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(ledger.DefaultNatsStream, []string{
		fmt.Sprintf("%s.>", ledger.DefaultNatsStream),
	})

	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			relayWithdrawAckWait,
			natsRelayWithdrawPendingSubject,
			natsRelayWithdrawPendingSubject,
			natsRelayWithdrawPendingSubject,
			r.consumeWithdrawMsg,
			relayWithdrawAckWait,
			natsRelayWithdrawMaxInFlight,
			relayWithdrawMaxDeliveries,
			nil,
		)
	}
}

func (r *Relayer) consumeWithdrawMsg(msg *nats.Msg) {
	defer func() {
		if rec := recover(); rec != nil {
			common.Log.Warningf("recovered during queued withdrawal; %s", rec)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS withdrawal message on subject: %s", len(msg.Data), msg.Subject)

	queued := &queuedWithdrawal{}
	err := json.Unmarshal(msg.Data, queued)
	if err != nil {
		common.Log.Warningf("failed to unmarshal queued withdrawal; %s", err.Error())
		msg.Ack()
		return
	}

	if queued.Reference == "" {
		reference, _ := uuid.NewV4()
		queued.Reference = reference.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayWithdrawAckWait)
	defer cancel()

	receipt, err := r.Withdraw(ctx, &queued.WithdrawRequest)
	if err != nil {
		if common.Retryable(err) {
			common.Log.Warningf("queued withdrawal %s failed; will retry; %s", queued.Reference, err.Error())
			msg.Nak()
			return
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"reference": queued.Reference,
			"error":     errorResponse(err),
		})
		natsutil.NatsJetstreamPublish(natsRelayWithdrawFailedSubject, payload)
		msg.Ack()
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"reference": queued.Reference,
		"signature": receipt.Signature,
	})
	natsutil.NatsJetstreamPublish(natsRelayWithdrawSettledSubject, payload)
	msg.Ack()
}
