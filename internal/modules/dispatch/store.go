// README: Decision-log store backed by PostgreSQL (write-only sink).
package dispatch

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridepool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) AppendDecision(ctx context.Context, e *DecisionLogEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO dispatch_decision_log (
			group_id, decided_at, group_size, wait_time_seconds,
			pending_count, nearest_distance_m, historical_probability,
			final_score, action, reasoning, strategic_advantage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(e.GroupID),
		e.DecidedAt,
		e.GroupSize,
		e.WaitTimeSeconds,
		e.PendingCount,
		e.NearestDistanceM,
		e.HistoricalProb,
		e.FinalScore,
		string(e.Action),
		e.Reasoning,
		e.StrategicAdvantage,
	)
	return err
}

// RecentDecisions lists the latest audit rows for a group, newest first.
func (s *Store) RecentDecisions(ctx context.Context, groupID types.ID, limit int) ([]DecisionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, group_id, decided_at, group_size, wait_time_seconds,
		       pending_count, nearest_distance_m, historical_probability,
		       final_score, action, reasoning, strategic_advantage
		FROM dispatch_decision_log
		WHERE group_id = $1
		ORDER BY decided_at DESC
		LIMIT $2`,
		string(groupID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DecisionLogEntry
	for rows.Next() {
		var e DecisionLogEntry
		if err := rows.Scan(
			&e.ID, &e.GroupID, &e.DecidedAt, &e.GroupSize, &e.WaitTimeSeconds,
			&e.PendingCount, &e.NearestDistanceM, &e.HistoricalProb,
			&e.FinalScore, &e.Action, &e.Reasoning, &e.StrategicAdvantage,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
