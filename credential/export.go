package credential

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
)

// CoinDecimals is the number of base-unit decimal places in one whole coin
const CoinDecimals = 9

const unitsPerCoin = uint64(1000000000)

// exportFile is the portable backup format; amount is written as a decimal number of
// whole coins and delaySeconds as a string
type exportFile struct {
	Amount       json.Number `json:"amount"`
	Commitment   string      `json:"commitment"`
	Secret       string      `json:"secret"`
	Nullifier    string      `json:"nullifier"`
	DelaySeconds string      `json:"delaySeconds"`
	Network      string      `json:"network"`
	Signature    *string     `json:"signature,omitempty"`
}

// importFile accepts amount and delaySeconds as either JSON strings or numbers
type importFile struct {
	Amount       flexible `json:"amount"`
	Commitment   string   `json:"commitment"`
	Secret       string   `json:"secret"`
	Nullifier    string   `json:"nullifier"`
	DelaySeconds flexible `json:"delaySeconds"`
	Network      string   `json:"network"`
	Signature    *string  `json:"signature,omitempty"`
}

// flexible is the literal text of a JSON string or number
type flexible string

func (f *flexible) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return err
		}
		*f = flexible(strings.TrimSpace(str))
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return err
	}
	*f = flexible(num.String())
	return nil
}

// ExportFilename is the conventional backup file name for the commitment
func ExportFilename(c commitment.Commitment) string {
	return fmt.Sprintf("mixer-deposit-%s.json", c.Short())
}

// Export renders the record in the portable backup format
func Export(record *Record) ([]byte, error) {
	return json.MarshalIndent(&exportFile{
		Amount:       json.Number(FormatCoins(record.Amount)),
		Commitment:   record.Commitment.String(),
		Secret:       record.Secret.String(),
		Nullifier:    record.Nullifier.String(),
		DelaySeconds: strconv.FormatUint(uint64(record.DelaySeconds), 10),
		Network:      record.Network,
		Signature:    record.Signature,
	}, "", "  ")
}

// Import parses a backup; the commitment must be reproduced by the secret and nullifier
// and the credential must belong to the configured network
func Import(raw []byte, handle string) (*Record, error) {
	doc := &importFile{}
	err := json.Unmarshal(raw, doc)
	if err != nil {
		return nil, errors.Wrap(common.ErrMalformedExport, err.Error())
	}

	amount, err := ParseCoins(string(doc.Amount))
	if err != nil {
		return nil, err
	}

	delay, err := strconv.ParseUint(string(doc.DelaySeconds), 10, 32)
	if err != nil {
		return nil, errors.Wrapf(common.ErrMalformedExport, "invalid delaySeconds %q", doc.DelaySeconds)
	}

	secret, err := commitment.ParseSecret(doc.Secret)
	if err != nil {
		return nil, err
	}
	nullifier, err := commitment.ParseNullifier(doc.Nullifier)
	if err != nil {
		return nil, err
	}
	c, err := commitment.ParseCommitment(doc.Commitment)
	if err != nil {
		return nil, err
	}

	if doc.Network != "" && doc.Network != common.Network {
		return nil, errors.Wrapf(common.ErrMalformedExport, "credential belongs to network %s; configured network is %s", doc.Network, common.Network)
	}

	record := &Record{
		Handle:       handle,
		Network:      common.Network,
		Amount:       amount,
		DelaySeconds: uint32(delay),
		Secret:       secret,
		Nullifier:    nullifier,
		Commitment:   c,
		Signature:    doc.Signature,
		CreatedAt:    time.Now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}

// FormatCoins renders base units as an exact decimal number of whole coins
func FormatCoins(units uint64) string {
	whole := units / unitsPerCoin
	frac := units % unitsPerCoin
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%09d", whole, frac), "0")
}

// ParseCoins converts a decimal number of whole coins into base units without loss;
// more than nine decimal places, exponents and signs are rejected
func ParseCoins(str string) (uint64, error) {
	if str == "" {
		return 0, errors.Wrap(common.ErrMalformedExport, "missing amount")
	}

	wholePart, fracPart := str, ""
	if idx := strings.IndexByte(str, '.'); idx >= 0 {
		wholePart, fracPart = str[:idx], str[idx+1:]
	}
	if wholePart == "" || !isDigits(wholePart) || !isDigits(fracPart) {
		return 0, errors.Wrapf(common.ErrMalformedExport, "invalid amount %q", str)
	}
	if len(fracPart) > CoinDecimals {
		return 0, errors.Wrapf(common.ErrMalformedExport, "amount %q has more than %d decimal places", str, CoinDecimals)
	}

	whole, err := strconv.ParseUint(wholePart, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(common.ErrMalformedExport, "invalid amount %q", str)
	}

	var frac uint64
	if fracPart != "" {
		frac, _ = strconv.ParseUint(fracPart+strings.Repeat("0", CoinDecimals-len(fracPart)), 10, 64)
	}

	hi, units := bits.Mul64(whole, unitsPerCoin)
	if hi != 0 {
		return 0, errors.Wrapf(common.ErrMalformedExport, "amount %q overflows", str)
	}
	units, carry := bits.Add64(units, frac, 0)
	if carry != 0 {
		return 0, errors.Wrapf(common.ErrMalformedExport, "amount %q overflows", str)
	}
	return units, nil
}

func isDigits(str string) bool {
	for _, r := range str {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
