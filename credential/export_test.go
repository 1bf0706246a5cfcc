package credential

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCoins(t *testing.T) {
	assert.Equal(t, "0.5", FormatCoins(500000000))
	assert.Equal(t, "1", FormatCoins(1000000000))
	assert.Equal(t, "0.01", FormatCoins(10000000))
	assert.Equal(t, "12.000000001", FormatCoins(12000000001))
	assert.Equal(t, "0", FormatCoins(0))
}

func TestParseCoins(t *testing.T) {
	cases := map[string]uint64{
		"0.5":          500000000,
		"1":            1000000000,
		"1.":           1000000000,
		"0.000000001":  1,
		"12.000000001": 12000000001,
	}
	for str, expected := range cases {
		units, err := ParseCoins(str)
		require.NoError(t, err, str)
		assert.Equal(t, expected, units, str)
	}

	for _, str := range []string{"", ".5", "-1", "1e9", "0.0000000001", "abc", "18446744074"} {
		_, err := ParseCoins(str)
		assert.True(t, errors.Is(err, common.ErrMalformedExport), str)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)
	record := NewRecord("alice", cred, 500000000, 3600)
	record.Signature = common.StringOrNil("5sig")

	raw, err := Export(record)
	require.NoError(t, err)

	doc := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 0.5, doc["amount"])
	assert.Equal(t, "3600", doc["delaySeconds"])
	assert.Equal(t, common.Network, doc["network"])

	imported, err := Import(raw, "restored")
	require.NoError(t, err)
	assert.Equal(t, record.Commitment, imported.Commitment)
	assert.Equal(t, record.Secret, imported.Secret)
	assert.Equal(t, record.Nullifier, imported.Nullifier)
	assert.Equal(t, uint64(500000000), imported.Amount)
	assert.Equal(t, uint32(3600), imported.DelaySeconds)
	assert.Equal(t, "5sig", *imported.Signature)
	assert.Equal(t, "restored", imported.Handle)
}

func TestImportAcceptsStringAmountAndNumericDelay(t *testing.T) {
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)

	raw := []byte(`{
		"amount": "0.25",
		"commitment": "0x` + cred.Commitment.String() + `",
		"secret": "` + cred.Secret.String() + `",
		"nullifier": "` + cred.Nullifier.String() + `",
		"delaySeconds": 1800,
		"network": "` + common.Network + `"
	}`)

	record, err := Import(raw, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(250000000), record.Amount)
	assert.Equal(t, uint32(1800), record.DelaySeconds)
	assert.Nil(t, record.Signature)
}

func TestImportRejections(t *testing.T) {
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)
	other, err := commitment.GenerateCredential()
	require.NoError(t, err)

	template := `{"amount": 1, "commitment": "%C", "secret": "%S", "nullifier": "%N", "delaySeconds": "300", "network": "%W"}`
	render := func(c, s, n, w string) []byte {
		r := strings.NewReplacer("%C", c, "%S", s, "%N", n, "%W", w)
		return []byte(r.Replace(template))
	}

	_, err = Import(render(other.Commitment.String(), cred.Secret.String(), cred.Nullifier.String(), common.Network), "")
	assert.True(t, errors.Is(err, common.ErrCommitmentMismatch))

	_, err = Import(render(cred.Commitment.String(), cred.Secret.String(), cred.Nullifier.String(), "elsewhere"), "")
	assert.True(t, errors.Is(err, common.ErrMalformedExport))

	_, err = Import(render(cred.Commitment.String(), "abc", cred.Nullifier.String(), common.Network), "")
	assert.True(t, errors.Is(err, common.ErrMalformedHex))

	_, err = Import([]byte(`[]`), "")
	assert.True(t, errors.Is(err, common.ErrMalformedExport))
}

func TestExportFilename(t *testing.T) {
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)
	assert.Equal(t, "mixer-deposit-"+cred.Commitment.String()[:8]+".json", ExportFilename(cred.Commitment))
}

func TestSealRoundTrip(t *testing.T) {
	cred, err := commitment.GenerateCredential()
	require.NoError(t, err)
	record := NewRecord("alice", cred, 500000000, 300)

	raw, err := Encode(record, "correct horse")
	require.NoError(t, err)
	assert.True(t, IsSealed(raw))
	assert.NotContains(t, string(raw), cred.Secret.String())

	decoded, err := Decode(raw, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, record.Secret, decoded.Secret)

	_, err = Decode(raw, "wrong")
	assert.True(t, errors.Is(err, common.ErrPersistence))

	_, err = Decode(raw, "")
	assert.True(t, errors.Is(err, common.ErrPersistence))

	plain, err := Encode(record, "")
	require.NoError(t, err)
	assert.False(t, IsSealed(plain))
	decoded, err = Decode(plain, "")
	require.NoError(t, err)
	assert.Equal(t, record.Commitment, decoded.Commitment)
}
