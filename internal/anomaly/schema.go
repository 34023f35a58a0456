// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

// MetadataSchemaID identifies the generated metadata schema.
const MetadataSchemaID = "https://holomush.dev/schemas/warden/anomaly-metadata.schema.json"

var (
	compiledOnce   sync.Once
	compiledSchema *jschema.Schema
	compiledErr    error
)

// GenerateMetadataSchema generates the JSON Schema for Metadata. Unknown
// properties are forbidden.
func GenerateMetadataSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Metadata{})
	schema.ID = jsonschema.ID(MetadataSchemaID)
	schema.Title = "Warden Anomaly Metadata"
	schema.Description = "Enrichment metadata stored with every anomaly log entry"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("ANOMALY_SCHEMA_FAILED").Wrap(err)
	}
	return data, nil
}

func metadataSchema() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := GenerateMetadataSchema()
		if err != nil {
			compiledErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			compiledErr = oops.Code("ANOMALY_SCHEMA_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("metadata.schema.json", doc); err != nil {
			compiledErr = oops.Code("ANOMALY_SCHEMA_FAILED").Wrap(err)
			return
		}
		compiledSchema, compiledErr = c.Compile("metadata.schema.json")
		if compiledErr != nil {
			compiledErr = oops.Code("ANOMALY_SCHEMA_FAILED").Wrap(compiledErr)
		}
	})
	return compiledSchema, compiledErr
}

// ValidateMetadata checks md against the metadata schema and requires its
// schema version to share a major version with MetadataSchemaVersion.
func ValidateMetadata(md Metadata) error {
	v, err := semver.NewVersion(md.SchemaVersion)
	if err != nil {
		return oops.Code("ANOMALY_METADATA_INVALID").
			With("schema_version", md.SchemaVersion).
			Wrapf(err, "parsing metadata schema version")
	}
	current := semver.MustParse(MetadataSchemaVersion)
	if v.Major() != current.Major() {
		return oops.Code("ANOMALY_METADATA_INVALID").
			With("schema_version", md.SchemaVersion).
			With("supported_major", current.Major()).
			Errorf("unsupported metadata schema version")
	}

	sch, err := metadataSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(md)
	if err != nil {
		return oops.Code("ANOMALY_METADATA_INVALID").Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return oops.Code("ANOMALY_METADATA_INVALID").Wrap(err)
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Code("ANOMALY_METADATA_INVALID").Wrapf(err, "metadata schema validation failed")
	}
	return nil
}
