package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

const defaultMaxOccurrences = 500

// Occurrence is one concrete instance of a VEvent.
type Occurrence struct {
	Start time.Time
	End   time.Time // zero when the event has no end
}

// Expand returns the instances of ev starting within [from, to], capped at
// maxOccurrences (default 500). The bool reports whether the cap was hit.
func Expand(ev VEvent, from, to time.Time, maxOccurrences int) ([]Occurrence, bool, error) {
	if to.Before(from) {
		return nil, false, fmt.Errorf("expand: range end %v before start %v", to, from)
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrences
	}

	var duration time.Duration
	if !ev.End.IsZero() {
		duration = ev.End.Sub(ev.Start)
	}
	occurrence := func(start time.Time) Occurrence {
		o := Occurrence{Start: start.UTC()}
		if duration > 0 {
			o.End = start.Add(duration).UTC()
		}
		return o
	}

	if ev.RawRRule == "" {
		if ev.Start.Before(from) || ev.Start.After(to) {
			return nil, false, nil
		}
		return []Occurrence{occurrence(ev.Start)}, false, nil
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, false, fmt.Errorf("expand %s: invalid RRULE %q: %w", ev.UID, ev.RawRRule, err)
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(from.In(loc), to.In(loc), true)

	truncated := false
	if len(starts) > maxOccurrences {
		starts = starts[:maxOccurrences]
		truncated = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, occurrence(s))
	}
	return out, truncated, nil
}
