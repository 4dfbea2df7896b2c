// README: Decision-log audit record written once per evaluated group per sweep.
package dispatch

import (
	"time"

	"ridepool/internal/types"
)

// DecisionLogEntry is append-only: one row per sweep evaluation, never
// mutated or deleted.
type DecisionLogEntry struct {
	ID                 int64
	GroupID            types.ID
	DecidedAt          time.Time
	GroupSize          int
	WaitTimeSeconds    int
	PendingCount       int
	NearestDistanceM   int
	HistoricalProb     float64
	FinalScore         float64
	Action             Action
	Reasoning          string
	StrategicAdvantage bool
}

type SweepStats struct {
	Analyzed   int
	Dispatched int
	Waiting    int
	Skipped    int
}
