// README: Demand bucket aggregate learned from past booking patterns.
package history

import (
	"fmt"
	"time"

	"ridepool/internal/types"
)

// NeutralProbability is returned when a route has no learned bucket for the
// current weekday/hour, so unknown routes neither rush nor stall dispatch.
const NeutralProbability = 50.0

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// DemandBucket aggregates booking history for one (route, weekday, hour,
// half-hour slot) cell. Rebuilt wholesale per route; upserted by natural key.
type DemandBucket struct {
	RouteID            types.ID
	DayOfWeek          int // 1=Monday .. 7=Sunday
	HourOfDay          int // 0-23
	TimeSlot           string
	TotalBookings      int
	AvgBookingsPer30m  float64
	AvgWaitTimeSeconds int
	ArrivalProbability float64 // 0-100, precomputed at rebuild time
	LastUpdated        time.Time
}

type Prediction struct {
	ETASeconds int
	Confidence Confidence
	Reasoning  string
}

type RebuildStats struct {
	RecordsCreated    int
	RecordsUpdated    int
	BookingsProcessed int
	Buckets           int
}

type BatchStats struct {
	RoutesProcessed   int
	RoutesFailed      int
	RecordsCreated    int
	RecordsUpdated    int
	BookingsProcessed int
}

// Weekday maps Go's Sunday-first weekday onto the 1=Monday..7=Sunday scheme
// the buckets are keyed by.
func Weekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// SlotLabel names the half-hour slot a timestamp falls into, e.g.
// "09:00-09:30" or "09:30-10:00".
func SlotLabel(t time.Time) string {
	h := t.Hour()
	if t.Minute() < 30 {
		return fmt.Sprintf("%02d:00-%02d:30", h, h)
	}
	return fmt.Sprintf("%02d:30-%02d:00", h, (h+1)%24)
}
