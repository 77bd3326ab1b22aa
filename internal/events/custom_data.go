package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
)

// normalizeCustomData canonicalizes the monetary fields of a custom data
// blob. "value" is parsed as an exact decimal (string or number accepted) and
// re-emitted as its canonical string; "currency" is lowercased. Other keys
// pass through untouched.
func normalizeCustomData(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "custom data must be a JSON object")
	}

	changed := false
	if rawValue, ok := data["value"]; ok {
		value, err := parseMonetaryValue(rawValue)
		if err != nil {
			return nil, err
		}
		data["value"] = value.String()
		changed = true
	}
	if rawCurrency, ok := data["currency"]; ok {
		currency, ok := rawCurrency.(string)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "custom data currency must be a string")
		}
		data["currency"] = strings.ToLower(strings.TrimSpace(currency))
		changed = true
	}

	if !changed {
		return raw, nil
	}
	normalized, err := json.Marshal(data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-encode custom data")
	}
	return normalized, nil
}

func parseMonetaryValue(raw any) (decimal.Decimal, error) {
	var literal string
	switch v := raw.(type) {
	case string:
		literal = strings.TrimSpace(v)
	case json.Number:
		literal = v.String()
	default:
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("custom data value must be a number or numeric string, got %T", raw))
	}

	value, err := decimal.NewFromString(literal)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing custom data value")
	}
	if value.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "custom data value cannot be negative")
	}
	return value, nil
}
