package deposit

import (
	"fmt"
	"math/bits"

	"github.com/provideplatform/mixer/common"
)

// Params are the deposit acceptance rules enforced by the ledger
type Params struct {
	MinimumDeposit  uint64 `json:"minimum_deposit"`
	ProtocolFee     uint64 `json:"protocol_fee"`
	MinDelaySeconds uint32 `json:"min_delay_seconds"`
	MaxDelaySeconds uint32 `json:"max_delay_seconds"`
}

// DelayOption is a suggested withdrawal delay; longer delays widen the anonymity set
type DelayOption struct {
	Seconds uint32
	Label   string
	Privacy string
}

// DelayOptions are the suggested delays offered to depositors
var DelayOptions = []DelayOption{
	{Seconds: 300, Label: "5 minutes", Privacy: "low"},
	{Seconds: 1800, Label: "30 minutes", Privacy: "medium"},
	{Seconds: 3600, Label: "1 hour", Privacy: "good"},
	{Seconds: 21600, Label: "6 hours", Privacy: "high"},
	{Seconds: 86400, Label: "24 hours", Privacy: "maximum"},
}

// DefaultParams returns the configured deposit params
func DefaultParams() *Params {
	return &Params{
		MinimumDeposit:  common.MinimumDeposit,
		ProtocolFee:     common.ProtocolFee,
		MinDelaySeconds: common.MinDelaySeconds,
		MaxDelaySeconds: common.MaxDelaySeconds,
	}
}

// Validate checks the amount and delay preconditions; each violation is a distinct error
func (p *Params) Validate(amount uint64, delaySeconds uint32) error {
	if amount < p.MinimumDeposit {
		return fmt.Errorf("%w: %d is less than the minimum deposit of %d", common.ErrInsufficientAmount, amount, p.MinimumDeposit)
	}

	if delaySeconds < p.MinDelaySeconds || delaySeconds > p.MaxDelaySeconds {
		return fmt.Errorf("%w: %ds is outside [%d, %d]", common.ErrDelayOutOfRange, delaySeconds, p.MinDelaySeconds, p.MaxDelaySeconds)
	}

	return nil
}

// Total returns the amount debited from the depositor, the net amount plus the protocol fee
func (p *Params) Total(amount uint64) (uint64, error) {
	total, carry := bits.Add64(amount, p.ProtocolFee, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: deposit of %d plus fee %d overflows", common.ErrInsufficientFunds, amount, p.ProtocolFee)
	}
	return total, nil
}
