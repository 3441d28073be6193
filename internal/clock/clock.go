// Package clock provides the single UTC time representation used across the
// control plane, plus ID generation for jobs, artifacts, and sessions.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Instant is a UTC instant. It exists so that no package ever has to reason
// about local time zones or naive-vs-aware timestamps: every Instant is
// guaranteed UTC at construction.
type Instant struct {
	t time.Time
}

// Now returns the current Instant.
func Now() Instant {
	return Instant{t: time.Now().UTC()}
}

// From converts an arbitrary time.Time into an Instant, normalizing to UTC.
func From(t time.Time) Instant {
	return Instant{t: t.UTC()}
}

// Zero reports whether the Instant is the zero value.
func (i Instant) Zero() bool { return i.t.IsZero() }

// Time returns the underlying time.Time, always in UTC.
func (i Instant) Time() time.Time { return i.t }

// Before reports whether i is strictly earlier than other.
func (i Instant) Before(other Instant) bool { return i.t.Before(other.t) }

// After reports whether i is strictly later than other.
func (i Instant) After(other Instant) bool { return i.t.After(other.t) }

// Add returns the Instant offset by d.
func (i Instant) Add(d time.Duration) Instant { return Instant{t: i.t.Add(d)} }

// Sub returns the duration between two Instants.
func (i Instant) Sub(other Instant) time.Duration { return i.t.Sub(other.t) }

// MarshalJSON renders RFC3339Nano with a trailing "Z", matching the
// persisted-schema timestamp convention.
func (i Instant) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.t.Format(time.RFC3339Nano) + `"`), nil
}

// UnmarshalJSON accepts any RFC3339-compatible timestamp and normalizes it to UTC.
func (i *Instant) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		i.t = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	i.t = t.UTC()
	return nil
}

func (i Instant) String() string { return i.t.Format(time.RFC3339Nano) }

// Clock abstracts time access so tests can inject deterministic clocks
// instead of depending on Now() directly.
type Clock interface {
	Now() Instant
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() Instant { return Now() }

// Frozen is a test Clock that always returns the same Instant until
// Advance is called.
type Frozen struct {
	at Instant
}

// NewFrozen returns a Frozen clock starting at at.
func NewFrozen(at Instant) *Frozen { return &Frozen{at: at} }

func (f *Frozen) Now() Instant { return f.at }

// Advance moves the frozen clock forward by d and returns the new Instant.
func (f *Frozen) Advance(d time.Duration) Instant {
	f.at = f.at.Add(d)
	return f.at
}

// NewID returns a new random identifier suitable for job_id, artifact_id,
// session_id, and similar primary keys.
func NewID() string {
	return uuid.NewString()
}
