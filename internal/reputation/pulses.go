package reputation

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// PulseCount is the secondary service's report count for one address. An
// unknown count means the lookup failed and is distinct from a known zero.
type PulseCount struct {
	Known bool
	Count int
}

// UnknownPulses is the count for a failed or skipped lookup.
func UnknownPulses() PulseCount {
	return PulseCount{}
}

// KnownPulses returns a known count of n.
func KnownPulses(n int) PulseCount {
	return PulseCount{Known: true, Count: n}
}

// Sentinel converts to the persisted form, where -1 means unknown.
func (p PulseCount) Sentinel() int {
	if !p.Known {
		return -1
	}
	return p.Count
}

// PulsesFromSentinel converts a persisted value back. A nil or negative
// value is unknown.
func PulsesFromSentinel(v *int) PulseCount {
	if v == nil || *v < 0 {
		return UnknownPulses()
	}
	return KnownPulses(*v)
}

// String renders the count for display.
func (p PulseCount) String() string {
	if !p.Known {
		return "n/a"
	}
	return strconv.Itoa(p.Count)
}

// MarshalJSON encodes an unknown count as null.
func (p PulseCount) MarshalJSON() ([]byte, error) {
	if !p.Known {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(p.Count)), nil
}

// UnmarshalJSON accepts null or an integer.
func (p *PulseCount) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = UnknownPulses()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = PulsesFromSentinel(&n)
	return nil
}
