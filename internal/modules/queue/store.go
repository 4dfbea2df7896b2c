// README: Queue store backed by PostgreSQL; all group size/status mutations are conditional updates.
package queue

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

func (s *Store) GetRider(ctx context.Context, id types.ID) (*Rider, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, full_name, gender, is_active
		FROM riders
		WHERE id = $1`, string(id),
	)
	var r Rider
	err := row.Scan(&r.ID, &r.Name, &r.Gender, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetRoute(ctx context.Context, id types.ID) (*Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, origin_lat, origin_lng, origin_name, destination_name, distance_km, is_active
		FROM routes
		WHERE id = $1`, string(id),
	)
	var rt Route
	err := row.Scan(&rt.ID, &rt.Name, &rt.Origin.Lat, &rt.Origin.Lng,
		&rt.OriginName, &rt.Destination, &rt.DistanceKm, &rt.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (s *Store) ActiveRoutes(ctx context.Context) ([]Route, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, origin_lat, origin_lng, origin_name, destination_name, distance_km, is_active
		FROM routes
		WHERE is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var rt Route
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Origin.Lat, &rt.Origin.Lng,
			&rt.OriginName, &rt.Destination, &rt.DistanceKm, &rt.Active); err != nil {
			return nil, err
		}
		routes = append(routes, rt)
	}
	return routes, rows.Err()
}

// ActiveRequestByRider returns the rider's SEARCHING or GROUPED request, if any.
func (s *Store) ActiveRequestByRider(ctx context.Context, riderID types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, rider_id, route_id, origin_lat, origin_lng, status,
		       women_only_pref, requested_at, grouped_at, group_id
		FROM booking_requests
		WHERE rider_id = $1 AND status IN ('SEARCHING','GROUPED')`, string(riderID),
	)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO booking_requests (
			id, rider_id, route_id, origin_lat, origin_lng,
			status, women_only_pref, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(r.ID),
		string(r.RiderID),
		string(r.RouteID),
		r.Origin.Lat, r.Origin.Lng,
		string(r.Status),
		r.WomenOnlyPref,
		r.RequestedAt,
	)
	return err
}

func (s *Store) MarkRequestCancelled(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE booking_requests
		SET status = 'CANCELLED'
		WHERE id = $1`, string(id),
	)
	return err
}

// FindCompatibleForming lists open groups a rider of the given class may
// join, largest first so near-complete groups fill before fresh ones.
func (s *Store) FindCompatibleForming(ctx context.Context, routeID types.ID, womenOnly bool) ([]Group, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+groupColumns+`
		FROM ride_groups
		WHERE route_id = $1
		  AND status = 'FORMING'
		  AND current_size < max_size
		  AND women_only = $2
		ORDER BY current_size DESC, created_at ASC`,
		string(routeID), womenOnly,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGroups(rows)
}

func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_groups (
			id, route_id, status, current_size, max_size, women_only, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(g.ID),
		string(g.RouteID),
		string(g.Status),
		g.CurrentSize,
		g.MaxSize,
		g.WomenOnly,
		g.CreatedAt,
	)
	return err
}

func (s *Store) GetGroup(ctx context.Context, id types.ID) (*Group, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+groupColumns+`
		FROM ride_groups
		WHERE id = $1`, string(id),
	)
	g, err := scanGroup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// JoinGroup atomically claims a seat: the size increment, capacity check, and
// compatibility check run as one conditional UPDATE, so two concurrent joins
// can never push a group past max_size. Returns the assigned seat number and
// false if another writer won the race (group filled, dispatched, or gone).
func (s *Store) JoinGroup(ctx context.Context, groupID types.ID, req *Request, womenOnly bool, now time.Time) (int, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	var newSize int
	row := tx.QueryRow(ctx, `
		UPDATE ride_groups
		SET current_size = current_size + 1,
		    first_member_joined_at = COALESCE(first_member_joined_at, $3)
		WHERE id = $1
		  AND status = 'FORMING'
		  AND current_size < max_size
		  AND women_only = $2
		RETURNING current_size`,
		string(groupID), womenOnly, now,
	)
	if err := row.Scan(&newSize); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}

	seat := newSize
	if _, err := tx.Exec(ctx, `
		INSERT INTO group_members (group_id, rider_id, joined_at, join_lat, join_lng, seat_number)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(groupID), string(req.RiderID), now, req.Origin.Lat, req.Origin.Lng, seat,
	); err != nil {
		return 0, false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE booking_requests
		SET status = 'GROUPED', group_id = $2, grouped_at = $3
		WHERE id = $1`,
		string(req.ID), string(groupID), now,
	); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return seat, true, nil
}

// LeaveGroup removes a member from a FORMING group, renumbers the remaining
// seats in join order, and deletes the group when it empties. Returns the
// remaining size and false when the group was no longer FORMING.
func (s *Store) LeaveGroup(ctx context.Context, groupID, riderID types.ID) (int, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	var remaining int
	row := tx.QueryRow(ctx, `
		UPDATE ride_groups
		SET current_size = current_size - 1
		WHERE id = $1
		  AND status = 'FORMING'
		  AND current_size > 0
		RETURNING current_size`,
		string(groupID),
	)
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM group_members
		WHERE group_id = $1 AND rider_id = $2`,
		string(groupID), string(riderID),
	); err != nil {
		return 0, false, err
	}

	if remaining == 0 {
		// Empty forming groups are deleted outright, not soft-closed.
		if _, err := tx.Exec(ctx, `DELETE FROM ride_groups WHERE id = $1`, string(groupID)); err != nil {
			return 0, false, err
		}
	} else {
		// Seats stay contiguous 1..current_size ordered by join time.
		if _, err := tx.Exec(ctx, `
			UPDATE group_members gm
			SET seat_number = ranked.rn
			FROM (
				SELECT rider_id, ROW_NUMBER() OVER (ORDER BY joined_at, rider_id) AS rn
				FROM group_members
				WHERE group_id = $1
			) ranked
			WHERE gm.group_id = $1 AND gm.rider_id = ranked.rider_id`,
			string(groupID),
		); err != nil {
			return 0, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return remaining, true, nil
}

func (s *Store) FindForming(ctx context.Context) ([]Group, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+groupColumns+`
		FROM ride_groups
		WHERE status = 'FORMING'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGroups(rows)
}

func (s *Store) FormingGroupsByRoute(ctx context.Context, routeID types.ID) ([]Group, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+groupColumns+`
		FROM ride_groups
		WHERE status = 'FORMING' AND route_id = $1
		ORDER BY created_at ASC`, string(routeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGroups(rows)
}

// PendingRequests returns SEARCHING requests on a route submitted at or after
// the cutoff. The decision engine treats these as demand about to walk away.
func (s *Store) PendingRequests(ctx context.Context, routeID types.ID, cutoff time.Time) ([]Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, rider_id, route_id, origin_lat, origin_lng, status,
		       women_only_pref, requested_at, grouped_at, group_id
		FROM booking_requests
		WHERE route_id = $1
		  AND status = 'SEARCHING'
		  AND requested_at >= $2`,
		string(routeID), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func (s *Store) MembersByGroup(ctx context.Context, groupID types.ID) ([]Member, error) {
	rows, err := s.db.Query(ctx, `
		SELECT group_id, rider_id, joined_at, join_lat, join_lng, seat_number
		FROM group_members
		WHERE group_id = $1
		ORDER BY seat_number ASC`, string(groupID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.GroupID, &m.RiderID, &m.JoinedAt,
			&m.Position.Lat, &m.Position.Lng, &m.SeatNumber); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) MemberByGroupAndRider(ctx context.Context, groupID, riderID types.ID) (*Member, error) {
	row := s.db.QueryRow(ctx, `
		SELECT group_id, rider_id, joined_at, join_lat, join_lng, seat_number
		FROM group_members
		WHERE group_id = $1 AND rider_id = $2`,
		string(groupID), string(riderID),
	)
	var m Member
	err := row.Scan(&m.GroupID, &m.RiderID, &m.JoinedAt,
		&m.Position.Lat, &m.Position.Lng, &m.SeatNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DispatchGroup transitions FORMING→READY and stamps the dispatch outcome as
// one conditional update. Member requests are re-marked GROUPED afterwards;
// the matcher already set them at join time, so that write is an idempotent
// no-op kept for parity with the audit trail.
func (s *Store) DispatchGroup(ctx context.Context, groupID types.ID, kind DispatchKind, score float64, rideToken string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_groups
		SET status = 'READY',
		    dispatched_at = $2,
		    dispatch_kind = $3,
		    dispatch_score = $4,
		    ride_token = $5
		WHERE id = $1 AND status = 'FORMING'`,
		string(groupID), now, string(kind), score, rideToken,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	// Only touch requests still in the group; a member who left keeps
	// their CANCELLED request even though group_id is retained on it.
	_, err = s.db.Exec(ctx, `
		UPDATE booking_requests
		SET status = 'GROUPED', grouped_at = COALESCE(grouped_at, $2)
		WHERE group_id = $1 AND status = 'GROUPED'`,
		string(groupID), now,
	)
	return true, err
}

const groupColumns = `id, route_id, status, current_size, max_size, women_only,
	created_at, first_member_joined_at, dispatched_at, dispatch_kind,
	dispatch_score, ride_token, carrier_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var kind, token, carrier *string
	err := row.Scan(
		&g.ID, &g.RouteID, &g.Status, &g.CurrentSize, &g.MaxSize, &g.WomenOnly,
		&g.CreatedAt, &g.FirstMemberJoinedAt, &g.DispatchedAt, &kind,
		&g.DispatchScore, &token, &carrier,
	)
	if err != nil {
		return nil, err
	}
	if kind != nil {
		k := DispatchKind(*kind)
		g.DispatchKind = &k
	}
	g.RideToken = token
	if carrier != nil {
		c := types.ID(*carrier)
		g.CarrierID = &c
	}
	return &g, nil
}

func scanGroups(rows pgx.Rows) ([]Group, error) {
	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var groupID *string
	err := row.Scan(
		&r.ID, &r.RiderID, &r.RouteID, &r.Origin.Lat, &r.Origin.Lng,
		&r.Status, &r.WomenOnlyPref, &r.RequestedAt, &r.GroupedAt, &groupID,
	)
	if err != nil {
		return nil, err
	}
	if groupID != nil {
		id := types.ID(*groupID)
		r.GroupID = &id
	}
	return &r, nil
}
