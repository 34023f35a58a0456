// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// hashInput is the canonical hash preimage. Field order is fixed by the
// struct and must never change; doing so invalidates every stored hash.
type hashInput struct {
	ActorID      int64           `json:"actor_id"`
	TargetID     int64           `json:"target_id"`
	ActionType   string          `json:"action_type"`
	Detail       json.RawMessage `json:"detail"`
	PreviousHash *string         `json:"previous_hash"`
	CreatedAt    string          `json:"created_at"`
}

// Timestamp normalizes t to the precision and zone records are stored with.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Hash returns the hex SHA-256 of the record's canonical form. The record's
// ID and Hash fields do not take part.
func Hash(r Record) (string, error) {
	detail, err := CanonicalDetail(r.Detail)
	if err != nil {
		return "", err
	}
	if detail == nil {
		detail = json.RawMessage("null")
	}

	preimage, err := json.Marshal(hashInput{
		ActorID:      r.ActorID,
		TargetID:     r.TargetID,
		ActionType:   r.ActionType,
		Detail:       detail,
		PreviousHash: r.PreviousHash,
		CreatedAt:    Timestamp(r.CreatedAt).Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", oops.Code(CodeAppendFailed).Wrapf(err, "encoding hash preimage")
	}

	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalDetail re-encodes a detail document with sorted object keys, no
// insignificant whitespace and exact plain-decimal numbers, so the same
// logical value hashes identically before and after a round trip through the
// store's jsonb column. Empty input and JSON null both yield nil.
func CanonicalDetail(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, oops.Code(CodeValidation).With("field", "detail").Wrapf(err, "decoding detail")
	}

	v, err := normalizeNumbers(v)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Code(CodeValidation).With("field", "detail").Wrapf(err, "encoding detail")
	}
	return out, nil
}

// maxDecimalExponent bounds the magnitude of detail numbers. It comfortably
// covers the float64 range while keeping plain-decimal renderings short.
const maxDecimalExponent = 400

// normalizeNumbers rewrites every number as an exact plain decimal without
// exponent, leading zeros or trailing fractional zeros. This is the form
// PostgreSQL emits for jsonb numerics, so 1e21, 1000000000000000000000 and
// 1.0e21 all canonicalize to the same text, as do 1.50 and 15e-1.
func normalizeNumbers(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			n, err := normalizeNumbers(e)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, e := range t {
			n, err := normalizeNumbers(e)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case json.Number:
		s, err := canonicalNumber(t.String())
		if err != nil {
			return nil, err
		}
		return json.Number(s), nil
	default:
		return v, nil
	}
}

// canonicalNumber renders a JSON number literal as an exact plain decimal.
func canonicalNumber(lit string) (string, error) {
	neg := strings.HasPrefix(lit, "-")
	lit = strings.TrimPrefix(lit, "-")

	mantissa, expPart, hasExp := strings.Cut(strings.ToLower(lit), "e")
	exp := 0
	if hasExp {
		e, err := strconv.Atoi(expPart)
		if err != nil || e > maxDecimalExponent*2 || e < -maxDecimalExponent*2 {
			return "", numberOutOfRange(lit)
		}
		exp = e
	}

	intPart, fracPart, _ := strings.Cut(mantissa, ".")
	digits := strings.TrimLeft(intPart+fracPart, "0")
	exp -= len(fracPart)
	if digits == "" {
		return "0", nil
	}
	trimmed := strings.TrimRight(digits, "0")
	exp += len(digits) - len(trimmed)
	digits = trimmed

	if exp > maxDecimalExponent || exp+len(digits) < -maxDecimalExponent {
		return "", numberOutOfRange(lit)
	}

	var out string
	switch point := len(digits) + exp; {
	case exp >= 0:
		out = digits + strings.Repeat("0", exp)
	case point > 0:
		out = digits[:point] + "." + digits[point:]
	default:
		out = "0." + strings.Repeat("0", -point) + digits
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

func numberOutOfRange(lit string) error {
	return oops.Code(CodeValidation).
		With("field", "detail").
		With("number", lit).
		Errorf("detail number magnitude exceeds 1e%d", maxDecimalExponent)
}
