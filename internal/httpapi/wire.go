// wire.go isolates the JSON tolerance the original pragma-node applies at
// ingress (spec §9): price/volume fields accept either a decimal number or a
// decimal string, the latter tolerant of a leading "0x" (hex). Signature
// components accept only base-10 decimal strings.
package httpapi

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// tolerantDecimal decodes a JSON number, a plain decimal string, or a
// "0x"-prefixed hex string into a decimal.Decimal.
type tolerantDecimal struct {
	decimal.Decimal
}

func (t *tolerantDecimal) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		var d decimal.Decimal
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("wire: decoding numeric decimal: %w", err)
		}
		t.Decimal = d
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("wire: decoding string decimal: %w", err)
	}
	if hex, ok := strings.CutPrefix(s, "0x"); ok {
		n, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			return fmt.Errorf("wire: %q is not valid hex", s)
		}
		t.Decimal = decimal.NewFromBigInt(n, 0)
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("wire: %q is not a valid decimal string: %w", s, err)
	}
	t.Decimal = d
	return nil
}

// wireEntryBase is the §6 "base" object embedded in every entry.
type wireEntryBase struct {
	Publisher string `json:"publisher"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}

// wireEntry is the §6 `Entry`/`FutureEntry` wire shape; ExpirationTimestamp
// is only populated (and only meaningful) on the publish_future endpoint.
type wireEntry struct {
	Base                wireEntryBase   `json:"base"`
	PairID              string          `json:"pair_id"`
	Price               tolerantDecimal `json:"price"`
	Volume              tolerantDecimal `json:"volume"`
	ExpirationTimestamp int64           `json:"expiration_timestamp"`
}

// wirePublishRequest is the §6 `PublishRequest` wire shape: a 2-element
// decimal-string signature plus a homogeneous entry list.
type wirePublishRequest struct {
	Signature [2]string   `json:"signature"`
	Entries   []wireEntry `json:"entries"`
}

func parseSignatureComponent(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("wire: %q is not a valid decimal-string signature component", s)
	}
	return n, nil
}
