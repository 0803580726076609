// Package calendar resolves the business-hour boundaries used by the
// calendar-bound send windows. Opening hours are configuration, not logic;
// the defaults mirror the support desk (Mon-Fri 08:30-14:30) and general
// daytime (Mon-Sat 09:00-16:00) windows.
package calendar

import "time"

type Window struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

type Business struct {
	Support     Window
	Daytime     Window
	SupportDays map[time.Weekday]bool
	DaytimeDays map[time.Weekday]bool
}

func Default() *Business {
	return &Business{
		Support: Window{OpenHour: 8, OpenMinute: 30, CloseHour: 14, CloseMinute: 30},
		Daytime: Window{OpenHour: 9, CloseHour: 16},
		SupportDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
		DaytimeDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true, time.Saturday: true,
		},
	}
}

// NextSupportOpen returns t unchanged when t is inside the support window,
// otherwise the next opening boundary.
func (b *Business) NextSupportOpen(t time.Time) time.Time {
	return next(t, b.Support, b.SupportDays)
}

// NextDaytimeExclSunday returns t unchanged when t is inside the daytime
// window, otherwise the next opening boundary.
func (b *Business) NextDaytimeExclSunday(t time.Time) time.Time {
	return next(t, b.Daytime, b.DaytimeDays)
}

func next(t time.Time, w Window, days map[time.Weekday]bool) time.Time {
	open := time.Date(t.Year(), t.Month(), t.Day(), w.OpenHour, w.OpenMinute, 0, 0, t.Location())
	closeAt := time.Date(t.Year(), t.Month(), t.Day(), w.CloseHour, w.CloseMinute, 0, 0, t.Location())

	if days[t.Weekday()] && !t.Before(open) && t.Before(closeAt) {
		return t
	}

	day := t
	if !days[t.Weekday()] || !t.Before(closeAt) {
		day = day.AddDate(0, 0, 1)
	} else if t.Before(open) {
		// before today's opening on an open day
		return open
	}

	for i := 0; i < 7; i++ {
		if days[day.Weekday()] {
			return time.Date(day.Year(), day.Month(), day.Day(), w.OpenHour, w.OpenMinute, 0, 0, t.Location())
		}
		day = day.AddDate(0, 0, 1)
	}
	// unreachable with a non-empty day set
	return t
}
