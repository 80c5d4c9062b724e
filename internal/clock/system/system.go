// Package system provides the wall clock used for job timestamps.
package system

import "time"

// DefaultPrecision matches the resolution Postgres keeps for TIMESTAMPTZ, so a
// job's timestamps read back unchanged from every store.
const DefaultPrecision = time.Microsecond

// Clock implements scrape.Clock with UTC wall time truncated to Precision.
type Clock struct {
	Precision time.Duration
}

// New returns a Clock at DefaultPrecision.
func New() *Clock {
	return &Clock{Precision: DefaultPrecision}
}

// Now returns the current UTC time without its monotonic reading.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.Precision > 0 {
		return now.Truncate(c.Precision)
	}
	return now.Round(0)
}
