package kalshi

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var eventDatePattern = regexp.MustCompile(`(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\w*\s+(\d{1,2})`)

var monthByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseEventDate extracts the settlement date from an event title like
// "Highest temperature in Phoenix on Jul 16?". Month/day titles roll into
// next year when the month has already passed. Falls back to "today" /
// "tomorrow" wording; returns false when no date can be found.
func ParseEventDate(title string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(title)
	now = now.UTC()

	if m := eventDatePattern.FindStringSubmatch(lower); m != nil {
		month := monthByPrefix[m[1][:3]]
		day, err := strconv.Atoi(m[2])
		if err == nil && month != 0 {
			year := now.Year()
			if month < now.Month() {
				year++
			}
			d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
			// Reject impossible dates like Feb 30, which normalize forward.
			if d.Month() == month && d.Day() == day {
				return d, true
			}
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if strings.Contains(lower, "today") {
		return today, true
	}
	if strings.Contains(lower, "tomorrow") {
		return today.AddDate(0, 0, 1), true
	}
	return time.Time{}, false
}
