package domain

import "time"

// Calendar supplies the business-calendar boundaries for the two
// calendar-bound window policies. Implementations must be deterministic:
// same input, same boundary.
type Calendar interface {
	NextSupportOpen(t time.Time) time.Time
	NextDaytimeExclSunday(t time.Time) time.Time
}

// EffectiveSendTime maps a window policy to the earliest moment the notice
// may be sent, as of now.
//
// CONTINUOUS is always now. SPECIFIED is the explicit timestamp even when it
// already passed (meaning: send immediately). The calendar policies return
// now when now is inside the window, otherwise the next boundary.
func EffectiveSendTime(policy WindowPolicy, sendTime *time.Time, now time.Time, cal Calendar) time.Time {
	switch policy {
	case WindowContinuous:
		return now
	case WindowSpecified:
		if sendTime == nil {
			return now
		}
		return *sendTime
	case WindowSupportHours:
		return cal.NextSupportOpen(now)
	case WindowDaytimeExclSunday:
		return cal.NextDaytimeExclSunday(now)
	default:
		return now
	}
}
