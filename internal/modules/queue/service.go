// README: Matcher service implements join/leave/status with one-active-booking and seat bookkeeping.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"ridepool/internal/types"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("bad request")
	ErrRouteInactive    = errors.New("route not found or inactive")
	ErrActiveBooking    = errors.New("rider already has an active booking")
	ErrNoActiveBooking  = errors.New("no active booking")
	ErrConflict         = errors.New("group state conflict")
	ErrGroupUnavailable = errors.New("group no longer available")
)

// WaitEstimator predicts how soon the next rider is likely to arrive on a
// route. Implemented by the history learner.
type WaitEstimator interface {
	PredictNextArrival(ctx context.Context, routeID types.ID, at time.Time) (etaSeconds int, ok bool, err error)
}

// Notifier delivers fire-and-forget group events. Failures are the notifier's
// problem; the matcher never rolls back on a missed notification.
type Notifier interface {
	Notify(ctx context.Context, groupID types.ID, event string, payload map[string]any)
}

type Service struct {
	store     *Store
	estimator WaitEstimator
	notifier  Notifier
}

func NewService(store *Store, estimator WaitEstimator, notifier Notifier) *Service {
	return &Service{store: store, estimator: estimator, notifier: notifier}
}

type JoinCommand struct {
	RiderID       types.ID
	RouteID       types.ID
	Origin        types.Point
	WomenOnlyPref bool
}

type JoinResult struct {
	RequestID        types.ID
	GroupID          types.ID
	GroupStatus      GroupStatus
	SeatNumber       int
	CurrentSize      int
	MaxSize          int
	WomenOnly        bool
	EstimatedWaitMin int
}

// Join places the rider into the best-fit compatible forming group on the
// route, creating a fresh group when none fits. A lost seat race is retried
// once against a refreshed candidate set before surfacing.
func (s *Service) Join(ctx context.Context, cmd JoinCommand) (*JoinResult, error) {
	if cmd.RiderID == "" || cmd.RouteID == "" {
		return nil, ErrBadRequest
	}

	rider, err := s.store.GetRider(ctx, cmd.RiderID)
	if err != nil {
		return nil, err
	}
	if !rider.Active {
		return nil, ErrBadRequest
	}

	route, err := s.store.GetRoute(ctx, cmd.RouteID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRouteInactive
	}
	if err != nil {
		return nil, err
	}
	if !route.Active {
		return nil, ErrRouteInactive
	}

	// One active booking per rider, checked before any group mutation.
	if _, err := s.store.ActiveRequestByRider(ctx, cmd.RiderID); err == nil {
		return nil, ErrActiveBooking
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	req := &Request{
		ID:            newID(),
		RiderID:       cmd.RiderID,
		RouteID:       cmd.RouteID,
		Origin:        cmd.Origin,
		Status:        RequestSearching,
		WomenOnlyPref: cmd.WomenOnlyPref,
		RequestedAt:   now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	womenOnly := WomenOnlyClass(rider.Gender, cmd.WomenOnlyPref)

	result, err := s.placeInGroup(ctx, req, womenOnly)
	if errors.Is(err, ErrConflict) {
		result, err = s.placeInGroup(ctx, req, womenOnly)
	}
	if errors.Is(err, ErrConflict) {
		err = ErrGroupUnavailable
	}
	if err != nil {
		// The request committed before placement; without cleanup it would
		// stay SEARCHING and block the rider's next join.
		if cancelErr := s.store.MarkRequestCancelled(ctx, req.ID); cancelErr != nil {
			log.Printf("queue: cancel request %s after failed placement: %v", req.ID, cancelErr)
		}
		return nil, err
	}

	s.notifyGroupUpdate(ctx, result.GroupID, result.CurrentSize, result.MaxSize)

	result.RequestID = req.ID
	result.EstimatedWaitMin = s.estimateWaitMinutes(ctx, cmd.RouteID, result.CurrentSize, result.MaxSize)
	return result, nil
}

// placeInGroup walks the candidate set largest-first and claims the first
// seat it can; when every candidate is gone it opens a new group.
func (s *Service) placeInGroup(ctx context.Context, req *Request, womenOnly bool) (*JoinResult, error) {
	now := time.Now().UTC()

	candidates, err := s.store.FindCompatibleForming(ctx, req.RouteID, womenOnly)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		g := &candidates[i]
		seat, ok, err := s.store.JoinGroup(ctx, g.ID, req, womenOnly, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Benign race: another rider filled the seat first.
			continue
		}
		return &JoinResult{
			GroupID:     g.ID,
			GroupStatus: GroupForming,
			SeatNumber:  seat,
			CurrentSize: seat,
			MaxSize:     g.MaxSize,
			WomenOnly:   g.WomenOnly,
		}, nil
	}

	group := &Group{
		ID:          newID(),
		RouteID:     req.RouteID,
		Status:      GroupForming,
		CurrentSize: 0,
		MaxSize:     DefaultMaxSize,
		WomenOnly:   womenOnly,
		CreatedAt:   now,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	seat, ok, err := s.store.JoinGroup(ctx, group.ID, req, womenOnly, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	return &JoinResult{
		GroupID:     group.ID,
		GroupStatus: GroupForming,
		SeatNumber:  seat,
		CurrentSize: seat,
		MaxSize:     group.MaxSize,
		WomenOnly:   group.WomenOnly,
	}, nil
}

type LeaveResult struct {
	RequestID types.ID
	GroupID   *types.ID
}

// Leave cancels the rider's active booking. Members of a FORMING group free
// their seat and remaining riders are renumbered; a READY or later group is
// untouched, only the request is cancelled.
func (s *Service) Leave(ctx context.Context, riderID types.ID) (*LeaveResult, error) {
	req, err := s.store.ActiveRequestByRider(ctx, riderID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveBooking
	}
	if err != nil {
		return nil, err
	}

	if req.GroupID != nil {
		remaining, ok, err := s.store.LeaveGroup(ctx, *req.GroupID, riderID)
		if err != nil {
			return nil, err
		}
		if ok && remaining > 0 {
			group, err := s.store.GetGroup(ctx, *req.GroupID)
			if err == nil {
				s.notifyGroupUpdate(ctx, group.ID, group.CurrentSize, group.MaxSize)
			}
		}
		// !ok means the group already left FORMING; the booking is still cancelled.
	}

	if err := s.store.MarkRequestCancelled(ctx, req.ID); err != nil {
		return nil, err
	}
	return &LeaveResult{RequestID: req.ID, GroupID: req.GroupID}, nil
}

type StatusResult struct {
	InQueue          bool
	RequestID        types.ID
	RequestStatus    RequestStatus
	GroupID          *types.ID
	GroupStatus      GroupStatus
	CurrentSize      int
	MaxSize          int
	SeatNumber       int
	WaitTimeSeconds  int
	EstimatedWaitMin int
	WomenOnly        bool
	RideToken        *string
	RouteOrigin      string
	RouteDestination string
}

// Status is a read-only projection of the rider's booking and group.
func (s *Service) Status(ctx context.Context, riderID types.ID) (*StatusResult, error) {
	req, err := s.store.ActiveRequestByRider(ctx, riderID)
	if errors.Is(err, ErrNotFound) {
		return &StatusResult{InQueue: false}, nil
	}
	if err != nil {
		return nil, err
	}

	res := &StatusResult{
		InQueue:       true,
		RequestID:     req.ID,
		RequestStatus: req.Status,
		GroupID:       req.GroupID,
	}
	if req.GroupID == nil {
		return res, nil
	}

	group, err := s.store.GetGroup(ctx, *req.GroupID)
	if errors.Is(err, ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.GroupStatus = group.Status
	res.CurrentSize = group.CurrentSize
	res.MaxSize = group.MaxSize
	res.WomenOnly = group.WomenOnly
	res.WaitTimeSeconds = group.WaitTimeSeconds(time.Now().UTC())
	res.EstimatedWaitMin = s.estimateWaitMinutes(ctx, group.RouteID, group.CurrentSize, group.MaxSize)
	if group.Status != GroupForming {
		res.RideToken = group.RideToken
	}

	if member, err := s.store.MemberByGroupAndRider(ctx, group.ID, riderID); err == nil {
		res.SeatNumber = member.SeatNumber
	}
	if route, err := s.store.GetRoute(ctx, group.RouteID); err == nil {
		res.RouteOrigin = route.OriginName
		res.RouteDestination = route.Destination
	}
	return res, nil
}

type FormingGroup struct {
	GroupID         types.ID
	RouteID         types.ID
	CurrentSize     int
	MaxSize         int
	WomenOnly       bool
	WaitTimeSeconds int
	CreatedAt       time.Time
}

// FormingGroups lists open groups, optionally filtered by route.
func (s *Service) FormingGroups(ctx context.Context, routeID types.ID) ([]FormingGroup, error) {
	var (
		groups []Group
		err    error
	)
	if routeID == "" {
		groups, err = s.store.FindForming(ctx)
	} else {
		groups, err = s.store.FormingGroupsByRoute(ctx, routeID)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]FormingGroup, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		out = append(out, FormingGroup{
			GroupID:         g.ID,
			RouteID:         g.RouteID,
			CurrentSize:     g.CurrentSize,
			MaxSize:         g.MaxSize,
			WomenOnly:       g.WomenOnly,
			WaitTimeSeconds: g.WaitTimeSeconds(now),
			CreatedAt:       g.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) estimateWaitMinutes(ctx context.Context, routeID types.ID, currentSize, maxSize int) int {
	if currentSize >= maxSize {
		return 1
	}
	if s.estimator != nil {
		if eta, ok, err := s.estimator.PredictNextArrival(ctx, routeID, time.Now().UTC()); err == nil && ok {
			if mins := eta / 60; mins > 1 {
				return mins
			}
			return 1
		}
	}
	// No learned signal yet: nearly-full groups tend to close quickly.
	switch currentSize {
	case 3:
		return 2
	case 2:
		return 3
	default:
		return 5
	}
}

func (s *Service) notifyGroupUpdate(ctx context.Context, groupID types.ID, size, maxSize int) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, groupID, "group_update", map[string]any{
		"current_size": size,
		"max_size":     maxSize,
	})
}

func newID() types.ID {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		log.Printf("queue: id generation fell back to zero bytes: %v", err)
	}
	return types.ID(hex.EncodeToString(b[:]))
}
