package scanner

import "time"

// PollInterval returns the delay before the next cycle, tightened around
// the synoptic model update hours (00/06/12/18 UTC runs publish roughly
// 4-5 hours later) and relaxed during quiet periods.
func PollInterval(now time.Time) time.Duration {
	switch now.UTC().Hour() {
	case 4, 5, 10, 11, 16, 17, 22, 23:
		return 5 * time.Minute
	case 6, 7, 12, 13, 18, 19:
		return 10 * time.Minute
	default:
		return 30 * time.Minute
	}
}
