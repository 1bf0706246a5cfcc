package nullifier

import (
	"fmt"
	"time"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
)

// Entry is the registry state of a single nullifier hash
type Entry struct {
	NullifierHash commitment.NullifierHash `json:"nullifier_hash"`
	Used          bool                     `json:"used"`
	ConsumedAt    *time.Time               `json:"consumed_time,omitempty"`
}

// Consume transitions the entry from unused to used; it never reverses
func (e *Entry) Consume(at time.Time) error {
	if e.Used {
		return fmt.Errorf("%w: %s", common.ErrNullifierReused, e.NullifierHash)
	}

	consumedAt := at.UTC()
	e.Used = true
	e.ConsumedAt = &consumedAt
	return nil
}
