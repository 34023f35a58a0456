// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/samber/oops"
)

// Scoring defaults.
const (
	DefaultCap       = 100.0
	DefaultThreshold = 50.0
)

// Signal is a named, scored indicator of suspicious behavior.
type Signal struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// MarshalJSON encodes a non-numeric score as null so the entry stays encodable.
func (s Signal) MarshalJSON() ([]byte, error) {
	type wire struct {
		Name  string   `json:"name"`
		Score *float64 `json:"score"`
	}
	w := wire{Name: s.Name}
	if !math.IsNaN(s.Score) && !math.IsInf(s.Score, 0) {
		score := s.Score
		w.Score = &score
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	return data, nil
}

// UnmarshalJSON accepts any score value. Scores that are missing, null or not
// numbers decode to NaN and contribute nothing to the total.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var w struct {
		Name  string          `json:"name"`
		Score json.RawMessage `json:"score"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return oops.Code("ANOMALY_SIGNAL_INVALID").Wrap(err)
	}
	s.Name = w.Name
	s.Score = math.NaN()

	raw := bytes.TrimSpace(w.Score)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || raw[0] == '"' || raw[0] == '{' || raw[0] == '[' {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		s.Score = f
	}
	return nil
}

// Verdict is the outcome of scoring a signal set against a threshold.
type Verdict struct {
	Total    float64 `json:"total"`
	Exceeded bool    `json:"exceeded"`
}

// Score sums min(signal.Score, limit) over all signals. NaN scores contribute 0.
func Score(signals []Signal, limit float64) float64 {
	var total float64
	for _, s := range signals {
		if math.IsNaN(s.Score) {
			continue
		}
		total += math.Min(s.Score, limit)
	}
	return total
}

// ScoreWithThreshold scores signals with DefaultCap. Exceeded includes equality.
func ScoreWithThreshold(signals []Signal, threshold float64) Verdict {
	total := Score(signals, DefaultCap)
	return Verdict{Total: total, Exceeded: total >= threshold}
}

// Scorer bundles a cap and threshold. A non-positive field falls back to its
// default; callers that need a zero threshold pass WithThreshold to the
// Recorder or use ScoreWithThreshold.
type Scorer struct {
	Cap       float64
	Threshold float64
}

// Evaluate scores signals using the scorer's cap and threshold.
func (s Scorer) Evaluate(signals []Signal) Verdict {
	total := Score(signals, s.limit())
	return Verdict{Total: total, Exceeded: total >= s.threshold()}
}

func (s Scorer) limit() float64 {
	if s.Cap <= 0 {
		return DefaultCap
	}
	return s.Cap
}

func (s Scorer) threshold() float64 {
	if s.Threshold <= 0 {
		return DefaultThreshold
	}
	return s.Threshold
}
