package models

import (
	"math"

	"github.com/shopspring/decimal"
)

// Event is the summary embedded in ticket payloads.
type Event struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Venue string `json:"venue,omitempty"`
	Date  string `json:"date,omitempty"`
}

// EventStats is one row of GET /admin/stats. Counts are server-authoritative.
type EventStats struct {
	EventID   int64           `json:"event_id"`
	EventName string          `json:"event_name"`
	Venue     string          `json:"venue,omitempty"`
	Revenue   decimal.Decimal `json:"revenue"`
	Sold      int64           `json:"sold"`
	Scanned   int64           `json:"scanned"`
}

func (e EventStats) Capacity() Capacity {
	return Capacity{EventID: e.EventID, Sold: e.Sold, Scanned: e.Scanned}
}

type AdminStats struct {
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalSold    int64           `json:"total_sold"`
	TotalScanned int64           `json:"total_scanned"`
	Events       []EventStats    `json:"events"`
}

// Event returns the row for eventID.
func (s AdminStats) Event(eventID int64) (EventStats, bool) {
	for _, e := range s.Events {
		if e.EventID == eventID {
			return e, true
		}
	}
	return EventStats{}, false
}

// Capacity is the sold/scanned pair of one event. Everything else is derived
// on demand from these two numbers.
type Capacity struct {
	EventID int64 `json:"event_id"`
	Sold    int64 `json:"sold"`
	Scanned int64 `json:"scanned"`
}

// Remaining is the number of sold tickets not yet admitted.
func (c Capacity) Remaining() int64 {
	if c.Scanned >= c.Sold {
		return 0
	}
	return c.Sold - c.Scanned
}

// Percent is the admitted share of sold tickets, rounded to the nearest integer.
func (c Capacity) Percent() int {
	if c.Sold <= 0 {
		return 0
	}
	return int(math.Round(float64(c.Scanned) * 100 / float64(c.Sold)))
}

func (c Capacity) Full() bool {
	return c.Sold > 0 && c.Scanned >= c.Sold
}
