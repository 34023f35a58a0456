// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Record is one persisted, hash-linked audit entry. Records are immutable.
type Record struct {
	ID           int64           `json:"id"`
	ActorID      int64           `json:"actor_id"`
	TargetID     int64           `json:"target_id"`
	ActionType   string          `json:"action_type"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	PreviousHash *string         `json:"previous_hash"`
	Hash         string          `json:"hash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Input is the caller-supplied part of a record.
type Input struct {
	ActorID    int64           `json:"actor_id"`
	TargetID   int64           `json:"target_id"`
	ActionType string          `json:"action_type"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// Validate checks that both ids are positive, the action type is not blank
// and the detail, if any, is a JSON document.
func (in Input) Validate() error {
	if in.ActorID <= 0 {
		return validationError("actor_id", "actor_id must be a positive integer")
	}
	if in.TargetID <= 0 {
		return validationError("target_id", "target_id must be a positive integer")
	}
	if strings.TrimSpace(in.ActionType) == "" {
		return validationError("action_type", "action_type must not be blank")
	}
	if len(in.Detail) > 0 && !json.Valid(in.Detail) {
		return validationError("detail", "detail must be valid JSON")
	}
	return nil
}

// UnmarshalJSON decodes an Input from an untrusted payload. Ids that are not
// JSON integers (fractions, exponents, strings, null) are rejected instead of
// being coerced.
func (in *Input) UnmarshalJSON(data []byte) error {
	var w struct {
		ActorID    json.RawMessage `json:"actor_id"`
		TargetID   json.RawMessage `json:"target_id"`
		ActionType *string         `json:"action_type"`
		Detail     json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return oops.Code(CodeValidation).With("field", "payload").Wrapf(err, "decoding audit input")
	}

	actor, err := parseID("actor_id", w.ActorID)
	if err != nil {
		return err
	}
	target, err := parseID("target_id", w.TargetID)
	if err != nil {
		return err
	}

	*in = Input{ActorID: actor, TargetID: target}
	if w.ActionType != nil {
		in.ActionType = *w.ActionType
	}
	if d := bytes.TrimSpace(w.Detail); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		in.Detail = append(json.RawMessage(nil), d...)
	}
	return nil
}

func parseID(field string, raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, nil
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, oops.Code(CodeValidation).
			With("field", field).
			With("value", string(raw)).
			Errorf("%s must be an integer", field)
	}
	return id, nil
}

func validationError(field, msg string) error {
	return oops.Code(CodeValidation).With("field", field).Errorf("%s", msg)
}
