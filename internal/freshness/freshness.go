// Package freshness decides whether a stored classification is recent
// enough to reuse instead of querying the reputation services again.
package freshness

import (
	"strings"
	"time"

	"github.com/anstrom/ipprism/internal/errors"
)

// State classifies a stored last-check value.
type State string

const (
	Fresh     State = "fresh"
	Stale     State = "stale"
	Never     State = "never"
	Malformed State = "malformed"
)

// legacyLayouts are zone-less ISO-8601 forms written by older versions.
// They are read as local time.
var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// IsFresh reports whether lastCheck is within ttl of now. A nil lastCheck
// is never fresh.
func IsFresh(lastCheck *time.Time, ttl time.Duration, now time.Time) bool {
	if lastCheck == nil {
		return false
	}
	return now.Sub(*lastCheck) < ttl
}

// ParseLastCheck parses a stored last-check value. It returns nil and false
// for missing or unparseable input.
func ParseLastCheck(raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, false
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t, true
	}
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t, true
		}
	}
	return nil, false
}

// Classify returns the freshness state of a stored value.
func Classify(raw *string, ttl time.Duration, now time.Time) State {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return Never
	}
	t, ok := ParseLastCheck(raw)
	if !ok {
		return Malformed
	}
	if IsFresh(t, ttl, now) {
		return Fresh
	}
	return Stale
}

// TTLFromHours converts a configured hour count into a duration.
func TTLFromHours(hours int) (time.Duration, error) {
	if hours < 0 {
		return 0, errors.ErrConfigInvalid("analysis.cache_ttl_hours", hours)
	}
	return time.Duration(hours) * time.Hour, nil
}
