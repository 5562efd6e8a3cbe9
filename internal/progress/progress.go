// Package progress derives elapsed, rate and ETA figures for a running
// drain loop.
package progress

import (
	"fmt"
	"time"
)

// Calculating is shown in place of a rate or ETA that cannot be derived yet.
const Calculating = "calculating"

// Clock abstracts time.Now so tests can drive elapsed time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock. time.Now carries a monotonic reading,
// so Sub between two of its values is immune to wall-clock jumps.
func SystemClock() Clock { return systemClock{} }

// Snapshot is a point-in-time view of an operation.
type Snapshot struct {
	Processed int
	Total     int
	Elapsed   time.Duration
}

func (s Snapshot) defined() bool {
	return s.Processed > 0 && s.Elapsed >= time.Second
}

// Rate returns items per second. ok is false while the rate is undefined.
func (s Snapshot) Rate() (rate float64, ok bool) {
	if !s.defined() {
		return 0, false
	}
	return float64(s.Processed) / s.Elapsed.Seconds(), true
}

// ETA estimates the time left to process the remaining items.
func (s Snapshot) ETA() (time.Duration, bool) {
	rate, ok := s.Rate()
	if !ok {
		return 0, false
	}
	remaining := s.Total - s.Processed
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second)), true
}

// ETAString formats ETA, or Calculating when undefined.
func (s Snapshot) ETAString() string {
	eta, ok := s.ETA()
	if !ok {
		return Calculating
	}
	return FormatDuration(eta)
}

// RatePerMinute formats the rate as "N.N emails/minute".
func (s Snapshot) RatePerMinute() string {
	rate, ok := s.Rate()
	if !ok {
		return Calculating
	}
	return fmt.Sprintf("%.1f emails/minute", rate*60)
}

// Percent returns processed/total as a percentage.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total) * 100
}

// String renders the one-line progress report.
func (s Snapshot) String() string {
	return fmt.Sprintf("Progress: %d/%d (%.1f%%) | Elapsed: %s | ETA: %s",
		s.Processed, s.Total, s.Percent(), FormatDuration(s.Elapsed), s.ETAString())
}

// FormatDuration renders d in seconds below one minute, minutes below one
// hour and hours beyond that.
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 60:
		return fmt.Sprintf("%.0f seconds", secs)
	case secs < 3600:
		return fmt.Sprintf("%.1f minutes", secs/60)
	default:
		return fmt.Sprintf("%.1f hours", secs/3600)
	}
}

// Tracker produces snapshots for one drain loop.
type Tracker struct {
	clock Clock
	start time.Time
	total int
}

// NewTracker starts tracking now.
func NewTracker(clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock()
	}
	return &Tracker{clock: clock, start: clock.Now()}
}

// SetTotal fixes the initial item count used for percent and ETA.
func (t *Tracker) SetTotal(total int) { t.total = total }

// Total returns the initial item count.
func (t *Tracker) Total() int { return t.total }

// Elapsed returns the time since the tracker started.
func (t *Tracker) Elapsed() time.Duration { return t.clock.Now().Sub(t.start) }

// Snapshot derives the current figures for processed items.
func (t *Tracker) Snapshot(processed int) Snapshot {
	return Snapshot{Processed: processed, Total: t.total, Elapsed: t.Elapsed()}
}
