// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"os"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Names of the signals raised on administrative routes.
const (
	SignalAdminEndpoint     = "admin_endpoint"
	SignalNonStandardCursor = "non_standard_cursor"
	SignalOffHoursAccess    = "off_hours_access"
)

// Catalog holds the weights of the named administrative signals.
type Catalog struct {
	AdminEndpoint     float64 `yaml:"admin_endpoint"`
	NonStandardCursor float64 `yaml:"non_standard_cursor"`
	OffHoursAccess    float64 `yaml:"off_hours_access"`
}

// DefaultCatalog returns the built-in signal weights.
func DefaultCatalog() Catalog {
	return Catalog{
		AdminEndpoint:     20,
		NonStandardCursor: 30,
		OffHoursAccess:    25,
	}
}

// LoadCatalog reads signal weights from a YAML file, starting from the
// defaults. Unknown keys are rejected so typos do not silently zero a weight.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return Catalog{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return Catalog{}, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "decoding signal catalog")
	}
	return cat, nil
}

// AdminEndpointSignal is raised for every request to an administrative route.
func (c Catalog) AdminEndpointSignal() Signal {
	return Signal{Name: SignalAdminEndpoint, Score: c.AdminEndpoint}
}

// NonStandardCursorSignal scores a pagination cursor that is present but is not a
// timestamp, which usually means someone is probing the endpoint.
func (c Catalog) NonStandardCursorSignal(cursor string) Signal {
	s := Signal{Name: SignalNonStandardCursor}
	if cursor == "" {
		return s
	}
	if _, err := time.Parse(time.RFC3339Nano, cursor); err != nil {
		s.Score = c.NonStandardCursor
	}
	return s
}

// OffHoursSignal scores access outside working hours.
func (c Catalog) OffHoursSignal(offHours bool) Signal {
	s := Signal{Name: SignalOffHoursAccess}
	if offHours {
		s.Score = c.OffHoursAccess
	}
	return s
}

// IsOffHours reports whether t falls before 06:00 or after 20:59 local time.
func IsOffHours(t time.Time) bool {
	h := t.Hour()
	return h < 6 || h > 20
}
