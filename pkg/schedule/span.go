package schedule

import (
	"sort"
	"time"
)

// DefaultLimit caps the number of suggested slots in one response.
const DefaultLimit = 10

// Span is a time interval, Start inclusive, End exclusive.
type Span struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the span covers no time.
func (s Span) Empty() bool {
	return !s.End.After(s.Start)
}

// Duration returns the span length.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Clamp intersects s with the window.
func (s Span) Clamp(window Span) Span {
	if s.Start.Before(window.Start) {
		s.Start = window.Start
	}
	if s.End.After(window.End) {
		s.End = window.End
	}
	return s
}

// Coalesce sorts spans by start and merges every overlapping or
// touching pair. Empty spans are dropped. The input is not modified.
func Coalesce(spans []Span) []Span {
	busy := make([]Span, 0, len(spans))
	for _, s := range spans {
		if !s.Empty() {
			busy = append(busy, s)
		}
	}
	if len(busy) == 0 {
		return nil
	}
	sort.Slice(busy, func(i, j int) bool {
		return busy[i].Start.Before(busy[j].Start)
	})
	out := busy[:1]
	for _, s := range busy[1:] {
		last := &out[len(out)-1]
		if !s.Start.After(last.End) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// FreeSlots returns the maximal gaps between the busy spans inside the
// window that are at least d long, in chronological order, at most
// limit of them. A gap of exactly d qualifies. Busy time outside the
// window does not shrink it.
func FreeSlots(window Span, busy []Span, d time.Duration, limit int) []Span {
	if window.Empty() || d <= 0 {
		return nil
	}
	clamped := make([]Span, 0, len(busy))
	for _, b := range busy {
		if b = b.Clamp(window); !b.Empty() {
			clamped = append(clamped, b)
		}
	}

	var out []Span
	cursor := window.Start
	emit := func(end time.Time) {
		if end.Sub(cursor) >= d {
			out = append(out, Span{Start: cursor, End: end})
		}
	}
	for _, b := range Coalesce(clamped) {
		emit(b.Start)
		cursor = b.End
	}
	emit(window.End)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
