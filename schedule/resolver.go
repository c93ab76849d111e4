/*
resolver.go - Rules + overrides -> concrete bookable windows

PURPOSE:
  Pure resolution of a template's weekly rules and date overrides into the
  set of bookable windows inside a query range. No storage, no side effects:
  the same inputs always yield the same windows, which is what lets the
  inventory reconcile materialized slots after a rule edit.

RESOLUTION ORDER (per calendar date, in the template timezone):
  1. Override present?  blocked -> nothing; range -> that single range
  2. Otherwise: all active rules for the weekday, ordered by SlotIndex
  3. Carve each range into granularity-length windows
  4. Gate each window: min notice, booking horizon, per-day cap

OUTPUT:
  Windows in UTC, sorted by start, duplicate-free.
*/
package schedule

import (
	"sort"
	"time"
)

// Resolve computes the bookable windows for [from, to) as of now.
// Overrides strictly dominate rules for their date. Windows shorter than the
// granularity are not emitted.
func Resolve(t Template, rules []Rule, overrides []Override, from, to, now time.Time) []Window {
	if !from.Before(to) || t.SlotGranularityMinutes <= 0 {
		return nil
	}

	loc := t.Location()
	granularity := time.Duration(t.SlotGranularityMinutes) * time.Minute

	notBefore := now.Add(time.Duration(t.MinNoticeHours) * time.Hour)
	var horizon time.Time
	if t.MaxBookingDaysAhead > 0 {
		horizon = now.AddDate(0, 0, t.MaxBookingDaysAhead)
	}

	byDate := make(map[string]Override, len(overrides))
	for _, o := range overrides {
		byDate[o.Date] = o
	}

	byWeekday := make(map[time.Weekday][]Rule)
	for _, r := range rules {
		if r.IsActive {
			byWeekday[r.Weekday] = append(byWeekday[r.Weekday], r)
		}
	}
	for wd := range byWeekday {
		day := byWeekday[wd]
		sort.Slice(day, func(i, j int) bool { return day[i].SlotIndex < day[j].SlotIndex })
		byWeekday[wd] = day
	}

	var windows []Window
	local := from.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		ranges := dayRanges(day, byDate, byWeekday)
		perDay := 0

		for _, rng := range ranges {
			start := day.Add(time.Duration(rng.startMinute) * time.Minute)
			rangeEnd := day.Add(time.Duration(rng.endMinute) * time.Minute)

			for ; !start.Add(granularity).After(rangeEnd); start = start.Add(granularity) {
				end := start.Add(granularity)
				if end.After(to) {
					break
				}
				if start.Before(from) {
					continue
				}
				if start.Before(notBefore) {
					continue
				}
				if !horizon.IsZero() && start.After(horizon) {
					break
				}
				if t.MaxBookingsPerDay > 0 && perDay >= t.MaxBookingsPerDay {
					break
				}
				windows = append(windows, Window{Start: start.UTC(), End: end.UTC()})
				perDay++
			}

			if t.MaxBookingsPerDay > 0 && perDay >= t.MaxBookingsPerDay {
				break
			}
		}
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
	return windows
}

type minuteRange struct {
	startMinute int
	endMinute   int
}

// dayRanges returns the availability ranges for one local calendar day.
func dayRanges(day time.Time, byDate map[string]Override, byWeekday map[time.Weekday][]Rule) []minuteRange {
	if o, ok := byDate[day.Format("2006-01-02")]; ok {
		if o.Blocked {
			return nil
		}
		return []minuteRange{{startMinute: o.StartMinute, endMinute: o.EndMinute}}
	}

	rules := byWeekday[day.Weekday()]
	ranges := make([]minuteRange, 0, len(rules))
	for _, r := range rules {
		ranges = append(ranges, minuteRange{startMinute: r.StartMinute, endMinute: r.EndMinute})
	}
	return ranges
}
