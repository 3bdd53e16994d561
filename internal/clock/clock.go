package clock

import "time"

// Offset is the fixed civil offset used for every day boundary (Dhaka, UTC+6).
const Offset = 6 * time.Hour

// Zone is the fixed UTC+6 location. It never consults the host tz database.
var Zone = time.FixedZone("UTC+6", int(Offset/time.Second))

// Clock resolves "now" and local day boundaries.
type Clock interface {
	Now() time.Time
	LocalNow() time.Time
	DayRange(t time.Time) Range
	Today() Range
}

// Range describes one local calendar day.
type Range struct {
	StartOfDay time.Time
	EndOfDay   time.Time
	LocalNow   time.Time
}

// Contains reports whether t falls within the day, bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.StartOfDay) && !t.After(r.EndOfDay)
}

// Day returns the local calendar date as a midnight-UTC value, suitable for
// DATE columns.
func (r Range) Day() time.Time {
	y, m, d := r.StartOfDay.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Service is the production clock.
type Service struct {
	now func() time.Time
}

// New returns a clock reading the system time.
func New() *Service {
	return &Service{now: time.Now}
}

// Fixed returns a clock frozen at t. Advance moves it forward.
func Fixed(t time.Time) *Manual {
	return &Manual{at: t}
}

// Now returns the current absolute instant.
func (s *Service) Now() time.Time {
	return s.now()
}

// LocalNow returns the current instant expressed in UTC+6.
func (s *Service) LocalNow() time.Time {
	return s.now().In(Zone)
}

// DayRange returns the UTC+6 day that contains t.
func (s *Service) DayRange(t time.Time) Range {
	return rangeOf(t)
}

// Today returns the UTC+6 day containing the current instant.
func (s *Service) Today() Range {
	return rangeOf(s.now())
}

func rangeOf(t time.Time) Range {
	local := t.In(Zone)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, Zone)
	end := start.Add(24*time.Hour - time.Millisecond)
	return Range{StartOfDay: start, EndOfDay: end, LocalNow: local}
}

// Manual is a clock controlled by tests and CLI tooling.
type Manual struct {
	Service
	at time.Time
}

// Now returns the frozen instant.
func (m *Manual) Now() time.Time { return m.at }

// LocalNow returns the frozen instant in UTC+6.
func (m *Manual) LocalNow() time.Time { return m.at.In(Zone) }

// Today returns the day containing the frozen instant.
func (m *Manual) Today() Range { return rangeOf(m.at) }

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) { m.at = m.at.Add(d) }

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) { m.at = t }
