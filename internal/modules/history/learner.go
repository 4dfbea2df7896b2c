// README: Historical learner; turns past bookings into per-hour demand buckets and arrival predictions.
package history

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"ridepool/internal/types"
)

type Learner struct {
	store *Store
}

func NewLearner(store *Store) *Learner {
	return &Learner{store: store}
}

// ArrivalProbability estimates (0-100) how likely a new rider is to arrive on
// the route around the given time. Routes with no learned bucket get the
// neutral score.
func (l *Learner) ArrivalProbability(ctx context.Context, routeID types.ID, at time.Time) (float64, error) {
	bucket, err := l.store.BucketFor(ctx, routeID, Weekday(at), at.Hour())
	if err != nil {
		return NeutralProbability, err
	}
	if bucket == nil {
		return NeutralProbability, nil
	}
	return bucket.ArrivalProbability, nil
}

// PredictNextArrival estimates seconds until the next booking from the
// bucket's booking rate. ok is false when the route has no usable history.
// Satisfies the matcher's WaitEstimator.
func (l *Learner) PredictNextArrival(ctx context.Context, routeID types.ID, at time.Time) (int, bool, error) {
	bucket, err := l.store.BucketFor(ctx, routeID, Weekday(at), at.Hour())
	if err != nil {
		return 0, false, err
	}
	if bucket == nil || bucket.AvgBookingsPer30m <= 0 {
		return 0, false, nil
	}
	eta := int(30 * 60 / bucket.AvgBookingsPer30m)
	return eta, true, nil
}

// Predict is PredictNextArrival with confidence and reasoning attached, for
// surfaces that show the estimate to riders.
func (l *Learner) Predict(ctx context.Context, routeID types.ID, at time.Time) (*Prediction, error) {
	bucket, err := l.store.BucketFor(ctx, routeID, Weekday(at), at.Hour())
	if err != nil {
		return nil, err
	}
	if bucket == nil || bucket.AvgBookingsPer30m <= 0 {
		return nil, nil
	}

	confidence := ConfidenceLow
	switch {
	case bucket.ArrivalProbability > 70:
		confidence = ConfidenceHigh
	case bucket.ArrivalProbability > 40:
		confidence = ConfidenceMedium
	}
	return &Prediction{
		ETASeconds: int(30 * 60 / bucket.AvgBookingsPer30m),
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("based on %.1f bookings/30min average", bucket.AvgBookingsPer30m),
	}, nil
}

// Rebuild recomputes every demand bucket for a route from raw bookings in the
// lookback window. Buckets with no recent bookings are left in place.
func (l *Learner) Rebuild(ctx context.Context, routeID types.ID, lookbackDays int) (RebuildStats, error) {
	var stats RebuildStats
	if lookbackDays <= 0 {
		lookbackDays = 30
	}

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -lookbackDays)

	samples, err := l.store.BookingsSince(ctx, routeID, cutoff)
	if err != nil {
		return stats, err
	}
	stats.BookingsProcessed = len(samples)

	type key struct {
		day  int
		hour int
		slot string
	}
	grouped := make(map[key][]BookingSample)
	for _, sample := range samples {
		k := key{
			day:  Weekday(sample.RequestedAt),
			hour: sample.RequestedAt.Hour(),
			slot: SlotLabel(sample.RequestedAt),
		}
		grouped[k] = append(grouped[k], sample)
	}
	stats.Buckets = len(grouped)

	weeks := float64(lookbackDays) / 7.0
	for k, bucket := range grouped {
		total := len(bucket)
		avgPer30m := 0.0
		if weeks > 0 {
			avgPer30m = float64(total) / weeks
		}

		var waitSum float64
		var waitN int
		for _, sample := range bucket {
			if sample.GroupedAt != nil {
				waitSum += sample.GroupedAt.Sub(sample.RequestedAt).Seconds()
				waitN++
			}
		}
		avgWait := 0.0
		if waitN > 0 {
			avgWait = waitSum / float64(waitN)
		}

		created, err := l.store.UpsertBucket(ctx, &DemandBucket{
			RouteID:            routeID,
			DayOfWeek:          k.day,
			HourOfDay:          k.hour,
			TimeSlot:           k.slot,
			TotalBookings:      total,
			AvgBookingsPer30m:  avgPer30m,
			AvgWaitTimeSeconds: int(avgWait),
			ArrivalProbability: BucketScore(avgPer30m, avgWait),
			LastUpdated:        now,
		})
		if err != nil {
			return stats, err
		}
		if created {
			stats.RecordsCreated++
		} else {
			stats.RecordsUpdated++
		}
	}
	return stats, nil
}

// RebuildAll runs Rebuild for every active route. A failing route is logged
// and counted; the batch keeps going.
func (l *Learner) RebuildAll(ctx context.Context, lookbackDays int) (BatchStats, error) {
	var batch BatchStats

	routes, err := l.store.ActiveRouteIDs(ctx)
	if err != nil {
		return batch, err
	}
	for _, routeID := range routes {
		stats, err := l.Rebuild(ctx, routeID, lookbackDays)
		if err != nil {
			log.Printf("history: rebuild failed for route %s: %v", routeID, err)
			batch.RoutesFailed++
			continue
		}
		batch.RoutesProcessed++
		batch.RecordsCreated += stats.RecordsCreated
		batch.RecordsUpdated += stats.RecordsUpdated
		batch.BookingsProcessed += stats.BookingsProcessed
	}
	return batch, nil
}

// Heatmap lists a route's buckets sorted by demand, for visualization.
func (l *Learner) Heatmap(ctx context.Context, routeID types.ID) ([]DemandBucket, error) {
	return l.store.BucketsByRoute(ctx, routeID)
}

// PeakHours returns the route's top-N demand cells.
func (l *Learner) PeakHours(ctx context.Context, routeID types.ID, n int) ([]DemandBucket, error) {
	buckets, err := l.store.BucketsByRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(buckets) > n {
		buckets = buckets[:n]
	}
	return buckets, nil
}

// BucketScore combines booking frequency and grouping speed into the
// precomputed arrival probability (0-100). Frequent bookings dominate; short
// waits indicate fast-moving demand and add a smaller component.
func BucketScore(avgBookingsPer30m, avgWaitSeconds float64) float64 {
	var frequency float64
	switch {
	case avgBookingsPer30m >= 3:
		frequency = 70
	case avgBookingsPer30m >= 2:
		frequency = 60
	case avgBookingsPer30m >= 1:
		frequency = 40
	default:
		frequency = 20
	}

	var wait float64
	switch waitMinutes := avgWaitSeconds / 60; {
	case waitMinutes < 2:
		wait = 30
	case waitMinutes < 5:
		wait = 20
	case waitMinutes < 10:
		wait = 10
	default:
		wait = 5
	}

	return math.Round((frequency+wait)*100) / 100
}
