package domain

import (
	"fmt"
	"time"
)

// BreakerStatus is the circuit-breaker state. Transitions are one-way within
// a period: once tripped, nothing re-arms the breaker before the governing
// period rolls over.
type BreakerStatus string

const (
	BreakerArmed         BreakerStatus = "armed"
	BreakerTrippedDaily  BreakerStatus = "tripped_daily"
	BreakerTrippedWeekly BreakerStatus = "tripped_weekly"
)

// DayKey formats t as the daily P&L bucket key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// WeekKey formats t as the ISO-week P&L bucket key.
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// RiskState is the single authoritative risk-accounting object. It is owned
// and mutated exclusively by the risk manager under its coordinator lock and
// snapshotted to the persistence layer on every mutation.
//
// Invariant: GroupOpen and LocationDateOpen always equal the count of
// positions with status open in the corresponding bucket.
type RiskState struct {
	Day  string // DayKey of the trailing daily window
	Week string // WeekKey of the trailing weekly window

	DailyPnLCents  int64
	WeeklyPnLCents int64
	DailyTrades    int
	WeeklyTrades   int

	// OpenExposureCents is the summed entry cost of open positions whose
	// trade was opened today; loss limits count it as at-risk capital.
	OpenExposureCents int64

	Breaker   BreakerStatus
	TrippedAt *time.Time

	GroupOpen        map[string]int // correlation group -> open positions
	LocationDateOpen map[string]int // LocationDateKey  -> open positions
}

// NewRiskState returns an armed, zeroed state for the period containing now.
func NewRiskState(now time.Time) *RiskState {
	return &RiskState{
		Day:              DayKey(now),
		Week:             WeekKey(now),
		Breaker:          BreakerArmed,
		GroupOpen:        make(map[string]int),
		LocationDateOpen: make(map[string]int),
	}
}

// Clone returns a deep copy, used for snapshots.
func (s *RiskState) Clone() *RiskState {
	c := *s
	c.GroupOpen = make(map[string]int, len(s.GroupOpen))
	for k, v := range s.GroupOpen {
		c.GroupOpen[k] = v
	}
	c.LocationDateOpen = make(map[string]int, len(s.LocationDateOpen))
	for k, v := range s.LocationDateOpen {
		c.LocationDateOpen[k] = v
	}
	if s.TrippedAt != nil {
		t := *s.TrippedAt
		c.TrippedAt = &t
	}
	return &c
}
