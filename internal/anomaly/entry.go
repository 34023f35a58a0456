// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// MetadataSchemaVersion is the version written into new metadata payloads.
const MetadataSchemaVersion = "1.0.0"

// Metadata is the closed, versioned enrichment payload stored with an entry.
type Metadata struct {
	SchemaVersion string            `json:"schema_version" jsonschema:"required,pattern=^[0-9]+\\.[0-9]+\\.[0-9]+$"`
	Cursor        string            `json:"cursor,omitempty" jsonschema:"maxLength=256"`
	OffHours      bool              `json:"off_hours,omitempty"`
	Origin        string            `json:"origin,omitempty" jsonschema:"maxLength=64"`
	Route         string            `json:"route,omitempty" jsonschema:"maxLength=512"`
	Agent         string            `json:"agent,omitempty" jsonschema:"maxLength=512"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// Entry is one scored action waiting to be persisted. Entries are never
// mutated after they are enqueued.
type Entry struct {
	ActorID        *int64    `json:"actor_id"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	ActionName     string    `json:"action_name"`
	TargetResource string    `json:"target_resource"`
	Signals        []Signal  `json:"signals"`
	TotalScore     float64   `json:"total_score"`
	Exceeded       bool      `json:"exceeded"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
	BatchID        ulid.ULID `json:"batch_id"`
}
