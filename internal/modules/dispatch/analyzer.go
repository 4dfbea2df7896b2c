// README: Proximity analyzer; measures recent unmatched demand near a group's route origin.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"ridepool/internal/geo"
	"ridepool/internal/modules/queue"
	"ridepool/internal/types"
)

const (
	// recentBookingWindow bounds how old a SEARCHING request may be to still
	// count as live nearby demand.
	recentBookingWindow = 120 * time.Second

	// noPendingDistance is the sentinel nearest-distance when no pending
	// request exists.
	noPendingDistance = 9999

	// advisoryProximityMeters feeds only the StrategicAdvantage flag. The
	// rule engine applies its own, tighter strategicDistanceMeters bound;
	// the two thresholds are intentionally distinct.
	advisoryProximityMeters = 1000
)

// PendingSource supplies recent unmatched requests on a route.
type PendingSource interface {
	PendingRequests(ctx context.Context, routeID types.ID, cutoff time.Time) ([]queue.Request, error)
}

type Analyzer struct {
	requests PendingSource
}

func NewAnalyzer(requests PendingSource) *Analyzer {
	return &Analyzer{requests: requests}
}

type ProximityAnalysis struct {
	PendingCount       int
	NearestDistanceM   int
	StrategicAdvantage bool
	Reasoning          string
}

// Analyze counts SEARCHING requests submitted within the recency window and
// measures the nearest one from the route's origin point. Query failures
// yield the zero/sentinel result rather than aborting the caller's sweep;
// per-request distance failures are skipped.
func (a *Analyzer) Analyze(ctx context.Context, route *queue.Route) ProximityAnalysis {
	cutoff := time.Now().UTC().Add(-recentBookingWindow)

	pending, err := a.requests.PendingRequests(ctx, route.ID, cutoff)
	if err != nil {
		log.Printf("dispatch: pending-request query failed for route %s: %v", route.ID, err)
		return ProximityAnalysis{
			NearestDistanceM: noPendingDistance,
			Reasoning:        "error checking pending bookings",
		}
	}
	if len(pending) == 0 {
		return ProximityAnalysis{
			NearestDistanceM: noPendingDistance,
			Reasoning:        "no pending bookings detected",
		}
	}

	nearest := noPendingDistance
	for i := range pending {
		d, err := geo.DistanceMeters(route.Origin.Lat, route.Origin.Lng,
			pending[i].Origin.Lat, pending[i].Origin.Lng)
		if err != nil {
			log.Printf("dispatch: distance to request %s skipped: %v", pending[i].ID, err)
			continue
		}
		if d < nearest {
			nearest = d
		}
	}

	advantage := len(pending) >= 2 && nearest < advisoryProximityMeters

	var reasoning string
	switch {
	case advantage:
		reasoning = fmt.Sprintf("%d riders waiting within %dm, dispatch now to secure them", len(pending), nearest)
	default:
		reasoning = fmt.Sprintf("%d pending booking(s), nearest %dm away", len(pending), nearest)
	}

	return ProximityAnalysis{
		PendingCount:       len(pending),
		NearestDistanceM:   nearest,
		StrategicAdvantage: advantage,
		Reasoning:          reasoning,
	}
}
