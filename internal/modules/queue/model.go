// README: Group, member, and booking-request aggregates with status definitions.
package queue

import (
	"time"

	"ridepool/internal/types"
)

type RequestStatus string

const (
	RequestSearching RequestStatus = "SEARCHING"
	RequestGrouped   RequestStatus = "GROUPED"
	RequestCancelled RequestStatus = "CANCELLED"
)

type GroupStatus string

const (
	GroupForming    GroupStatus = "FORMING"
	GroupReady      GroupStatus = "READY"
	GroupDispatched GroupStatus = "DISPATCHED"
	GroupCompleted  GroupStatus = "COMPLETED"
	GroupCancelled  GroupStatus = "CANCELLED"
)

type DispatchKind string

const (
	DispatchFullGroup DispatchKind = "FULL_GROUP"
	DispatchEarly     DispatchKind = "EARLY_DISPATCH"
	DispatchForced    DispatchKind = "FORCED"
)

// DefaultMaxSize is the seat capacity of a group unless the route says otherwise.
const DefaultMaxSize = 4

type Rider struct {
	ID     types.ID
	Name   string
	Gender types.Gender
	Active bool
}

type Route struct {
	ID          types.ID
	Name        string
	Origin      types.Point
	OriginName  string
	Destination string
	DistanceKm  float64
	Active      bool
}

type Request struct {
	ID            types.ID
	RiderID       types.ID
	RouteID       types.ID
	Origin        types.Point
	Status        RequestStatus
	WomenOnlyPref bool
	RequestedAt   time.Time
	GroupedAt     *time.Time
	GroupID       *types.ID
}

type Group struct {
	ID                  types.ID
	RouteID             types.ID
	Status              GroupStatus
	CurrentSize         int
	MaxSize             int
	WomenOnly           bool
	CreatedAt           time.Time
	FirstMemberJoinedAt *time.Time
	DispatchedAt        *time.Time
	DispatchKind        *DispatchKind
	DispatchScore       *float64
	RideToken           *string
	CarrierID           *types.ID
}

type Member struct {
	GroupID    types.ID
	RiderID    types.ID
	JoinedAt   time.Time
	Position   types.Point
	SeatNumber int
}

// AllowedTransitions represents the group lifecycle as code. The decision
// engine only performs FORMING→READY; later hops belong to the carrier flow.
var AllowedTransitions = map[GroupStatus][]GroupStatus{
	GroupForming:    {GroupReady, GroupCancelled},
	GroupReady:      {GroupDispatched, GroupCancelled},
	GroupDispatched: {GroupCompleted, GroupCancelled},
}

func CanTransition(from, to GroupStatus) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (g *Group) IsFull() bool {
	return g.CurrentSize >= g.MaxSize
}

// WaitTimeSeconds is the age of the group measured from the first member join.
func (g *Group) WaitTimeSeconds(now time.Time) int {
	if g.FirstMemberJoinedAt == nil {
		return 0
	}
	return int(now.Sub(*g.FirstMemberJoinedAt).Seconds())
}

// WomenOnlyClass returns the group class a rider belongs in: riders who are
// female or explicitly ask for women-only ride in women-only groups, everyone
// else rides in mixed groups.
func WomenOnlyClass(gender types.Gender, womenOnlyPref bool) bool {
	return womenOnlyPref || gender == types.GenderFemale
}
