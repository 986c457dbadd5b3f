package rules

import (
	"strconv"
	"strings"
	"time"

	"github.com/visionward/sitewatch/internal/detect"
)

// NotifyConfig is the per-rule notification settings carried into the
// orchestrator when the rule fires
type NotifyConfig struct {
	// Enabled turns notification jobs on for this rule
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Endpoint overrides the dispatcher's default webhook when set
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// TimeRange is one [Start, End) clock window in "HH:MM" form
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Schedule restricts when a rule is active. A disabled schedule means
// always active.
type Schedule struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Weekdays []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	Ranges   []TimeRange    `json:"ranges,omitempty" yaml:"ranges,omitempty"`
}

// ActiveAt reports whether the schedule admits the given moment. An
// empty weekday set admits every day, an empty range list admits any
// time of day.
func (s *Schedule) ActiveAt(now time.Time) bool {
	if s == nil || !s.Enabled {
		return true
	}

	if len(s.Weekdays) > 0 {
		weekday := now.Weekday()
		found := false
		for _, day := range s.Weekdays {
			if day == weekday {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(s.Ranges) == 0 {
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	for _, r := range s.Ranges {
		start := parseClock(r.Start)
		end := parseClock(r.End)
		if minute >= start && minute < end {
			return true
		}
	}
	return false
}

// parseClock turns "HH:MM" into minutes since midnight. Malformed
// input parses as midnight.
func parseClock(value string) int {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return 0
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minute < 0 || minute > 59 {
		return 0
	}
	return hour*60 + minute
}

// Rule decides whether a category's detection on a given stream should
// be acted upon. All filters are optional; an empty filter admits
// everything.
type Rule struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`

	// StreamKind filters by protocol kind ("rtsp", "hls", ...); empty
	// admits any kind
	StreamKind string `json:"stream_kind,omitempty" yaml:"stream_kind,omitempty"`

	// StreamIDs is an allowlist of stream ids; empty admits any stream
	StreamIDs []string `json:"stream_ids,omitempty" yaml:"stream_ids,omitempty"`

	// SubjectIDs is an allowlist of subject identities; empty admits
	// any subject. Only consulted for categories that carry a subject.
	SubjectIDs []string `json:"subject_ids,omitempty" yaml:"subject_ids,omitempty"`

	// Categories this rule covers
	Categories []detect.Category `json:"categories" yaml:"categories"`

	// ConfidenceThreshold is the minimum confidence to trigger,
	// boundary inclusive
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// DurationThreshold is the minimum condition duration for
	// categories that measure one (inactivity)
	DurationThreshold time.Duration `json:"duration_threshold,omitempty" yaml:"duration_threshold,omitempty"`

	Schedule *Schedule    `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Notify   NotifyConfig `json:"notify" yaml:"notify"`

	// Priority orders competing rules; higher wins, ties keep the
	// original load order
	Priority int `json:"priority" yaml:"priority"`
}

// HasCategory reports whether the rule covers a category
func (r *Rule) HasCategory(category detect.Category) bool {
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// admitsStream checks the stream-kind filter and stream-id allowlist
func (r *Rule) admitsStream(streamID, streamKind string) bool {
	if r.StreamKind != "" && r.StreamKind != streamKind {
		return false
	}
	if len(r.StreamIDs) == 0 {
		return true
	}
	for _, id := range r.StreamIDs {
		if id == streamID {
			return true
		}
	}
	return false
}

// admitsSubject checks the subject allowlist. An empty subject id is
// treated as "no subject" and only the empty allowlist admits it.
func (r *Rule) admitsSubject(subjectID string) bool {
	if len(r.SubjectIDs) == 0 {
		return true
	}
	for _, id := range r.SubjectIDs {
		if id == subjectID {
			return true
		}
	}
	return false
}
