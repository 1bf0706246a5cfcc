package relayer

import (
	"errors"
	"testing"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRejectsBeforePublishing(t *testing.T) {
	_, err := Enqueue(&WithdrawRequest{})
	assert.True(t, errors.Is(err, common.ErrMalformedRequest))

	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)
	other, err := commitment.GenerateCredential()
	require.NoError(t, err)

	_, err = Enqueue(&WithdrawRequest{
		Commitment: other.Commitment.String(),
		Secret:     cred.Secret.String(),
		Nullifier:  cred.Nullifier.String(),
		Recipient:  "11111111111111111111111111111111",
	})
	assert.True(t, errors.Is(err, common.ErrCommitmentMismatch))
}
