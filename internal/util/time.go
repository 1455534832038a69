package util

import "time"

// Game servers report dates in Central European time; day boundaries for
// "today"/"yesterday" labels are resolved there, not in the host timezone.
var serverLocation *time.Location

func init() {
	var err error
	serverLocation, err = time.LoadLocation("Europe/Berlin")
	if err != nil {
		serverLocation = time.FixedZone("CET", 1*60*60)
	}
}

func ServerLocation() *time.Location {
	return serverLocation
}

func NowServer() time.Time {
	return time.Now().In(serverLocation)
}

// DateOnly truncates t to midnight in the server timezone.
func DateOnly(t time.Time) time.Time {
	t = t.In(serverLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, serverLocation)
}

func SameDay(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}

// DaysBetween returns the whole-day distance from a to b (negative when b is
// earlier).
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)) / (24 * time.Hour))
}
