// README: Demand bucket store backed by PostgreSQL; upserts by natural key, never deletes.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridepool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// BucketFor returns the learned bucket for a (route, weekday, hour) cell, or
// nil when the route has no history there. When both half-hour slots exist
// the earlier one is taken, matching the lookup key of the decision path.
func (s *Store) BucketFor(ctx context.Context, routeID types.ID, dayOfWeek, hourOfDay int) (*DemandBucket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT route_id, day_of_week, hour_of_day, time_slot,
		       total_bookings, avg_bookings_per_30min, avg_wait_time_seconds,
		       arrival_probability_score, last_updated
		FROM demand_buckets
		WHERE route_id = $1 AND day_of_week = $2 AND hour_of_day = $3
		ORDER BY time_slot ASC
		LIMIT 1`,
		string(routeID), dayOfWeek, hourOfDay,
	)
	b, err := scanBucket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpsertBucket writes a bucket by natural key and reports whether a new row
// was created. Stale buckets are never deleted; later rebuilds overwrite them.
func (s *Store) UpsertBucket(ctx context.Context, b *DemandBucket) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE demand_buckets
		SET total_bookings = $5,
		    avg_bookings_per_30min = $6,
		    avg_wait_time_seconds = $7,
		    arrival_probability_score = $8,
		    last_updated = $9
		WHERE route_id = $1 AND day_of_week = $2 AND hour_of_day = $3 AND time_slot = $4`,
		string(b.RouteID), b.DayOfWeek, b.HourOfDay, b.TimeSlot,
		b.TotalBookings, b.AvgBookingsPer30m, b.AvgWaitTimeSeconds,
		b.ArrivalProbability, b.LastUpdated,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return false, nil
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO demand_buckets (
			route_id, day_of_week, hour_of_day, time_slot,
			total_bookings, avg_bookings_per_30min, avg_wait_time_seconds,
			arrival_probability_score, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (route_id, day_of_week, hour_of_day, time_slot) DO UPDATE
		SET total_bookings = EXCLUDED.total_bookings,
		    avg_bookings_per_30min = EXCLUDED.avg_bookings_per_30min,
		    avg_wait_time_seconds = EXCLUDED.avg_wait_time_seconds,
		    arrival_probability_score = EXCLUDED.arrival_probability_score,
		    last_updated = EXCLUDED.last_updated`,
		string(b.RouteID), b.DayOfWeek, b.HourOfDay, b.TimeSlot,
		b.TotalBookings, b.AvgBookingsPer30m, b.AvgWaitTimeSeconds,
		b.ArrivalProbability, b.LastUpdated,
	)
	return true, err
}

func (s *Store) BucketsByRoute(ctx context.Context, routeID types.ID) ([]DemandBucket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT route_id, day_of_week, hour_of_day, time_slot,
		       total_bookings, avg_bookings_per_30min, avg_wait_time_seconds,
		       arrival_probability_score, last_updated
		FROM demand_buckets
		WHERE route_id = $1
		ORDER BY arrival_probability_score DESC`,
		string(routeID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []DemandBucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *b)
	}
	return buckets, rows.Err()
}

// BookingSample is the slice of a request the rebuild cares about.
type BookingSample struct {
	RequestedAt time.Time
	GroupedAt   *time.Time
}

func (s *Store) BookingsSince(ctx context.Context, routeID types.ID, cutoff time.Time) ([]BookingSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT requested_at, grouped_at
		FROM booking_requests
		WHERE route_id = $1 AND requested_at >= $2`,
		string(routeID), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []BookingSample
	for rows.Next() {
		var sample BookingSample
		if err := rows.Scan(&sample.RequestedAt, &sample.GroupedAt); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func (s *Store) ActiveRouteIDs(ctx context.Context) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM routes WHERE is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (*DemandBucket, error) {
	var b DemandBucket
	err := row.Scan(
		&b.RouteID, &b.DayOfWeek, &b.HourOfDay, &b.TimeSlot,
		&b.TotalBookings, &b.AvgBookingsPer30m, &b.AvgWaitTimeSeconds,
		&b.ArrivalProbability, &b.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
