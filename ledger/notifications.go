package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/withdrawal"
)

// DefaultNatsStream is the jetstream stream carrying all mixer subjects
const DefaultNatsStream = "mixer"

const natsDepositCreatedSubject = "mixer.deposit.created"
const natsDepositClosedSubject = "mixer.deposit.closed"
const natsNullifierConsumedSubject = "mixer.nullifier.consumed"

// NotifyDeposit broadcasts a created deposit; the depositor is never included
func NotifyDeposit(record *deposit.Record, receipt *Receipt) {
	if !common.DispatchNATSNotifications {
		return
	}

	_, err := dispatchNotification(natsDepositCreatedSubject, map[string]interface{}{
		"commitment":    record.Commitment.String(),
		"amount":        record.Amount,
		"delay_seconds": record.DelaySeconds,
		"deposit_time":  record.DepositTime.Unix(),
		"signature":     receipt.Signature,
	})
	if err != nil {
		common.Log.Warningf("failed to dispatch deposit notification for commitment %s; %s", record.Commitment.Short(), err.Error())
	}
}

// NotifyWithdrawal broadcasts the closed deposit and the consumed nullifier
func NotifyWithdrawal(settlement *withdrawal.Settlement, receipt *Receipt) {
	if !common.DispatchNATSNotifications {
		return
	}

	_, err := dispatchNotification(natsDepositClosedSubject, map[string]interface{}{
		"commitment": settlement.Commitment.String(),
		"amount":     settlement.Amount,
		"signature":  receipt.Signature,
	})
	if err != nil {
		common.Log.Warningf("failed to dispatch deposit closed notification for commitment %s; %s", settlement.Commitment.Short(), err.Error())
	}

	_, err = dispatchNotification(natsNullifierConsumedSubject, map[string]interface{}{
		"nullifier_hash": settlement.NullifierHash.String(),
		"consumed_at":    settlement.SettledAt.Format(time.RFC3339),
	})
	if err != nil {
		common.Log.Warningf("failed to dispatch nullifier notification; %s", err.Error())
	}
}

// dispatchNotification publishes the payload to the given subject
func dispatchNotification(subject string, payload map[string]interface{}) (*nats.PubAck, error) {
	if subject == "" {
		return nil, fmt.Errorf("failed to dispatch notification; empty subject")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s notification; %s", subject, err.Error())
	}
	return natsutil.NatsJetstreamPublish(subject, raw)
}
