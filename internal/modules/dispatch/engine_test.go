package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ridepool/internal/config"
	"ridepool/internal/modules/queue"
	"ridepool/internal/types"
)

var testCfg = config.DispatchConfig{
	TickSeconds:        30,
	MinGroupAgeSeconds: 60,
	MinWaitSeconds:     180,
	MaxWaitSeconds:     600,
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		in     ruleInputs
		action Action
		kind   queue.DispatchKind
	}{
		{
			name: "strategic positioning fires with nearby demand after min wait",
			in: ruleInputs{
				FinalScore: 65, WaitTimeSec: 200,
				PendingCount: 2, NearestDistanceM: 350,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionDispatch, kind: queue.DispatchEarly,
		},
		{
			name: "strategic rule needs at least two pending",
			in: ruleInputs{
				FinalScore: 65, WaitTimeSec: 200,
				PendingCount: 1, NearestDistanceM: 100,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionWait,
		},
		{
			name: "strategic rule needs demand strictly inside 500m",
			in: ruleInputs{
				FinalScore: 65, WaitTimeSec: 200,
				PendingCount: 3, NearestDistanceM: 500,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionWait,
		},
		{
			name: "low score after min wait dispatches early",
			in: ruleInputs{
				FinalScore: 12, WaitTimeSec: 181,
				PendingCount: 0, NearestDistanceM: 9999,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionDispatch, kind: queue.DispatchEarly,
		},
		{
			name: "low score before min wait keeps waiting",
			in: ruleInputs{
				FinalScore: 12, WaitTimeSec: 180,
				PendingCount: 0, NearestDistanceM: 9999,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionWait,
		},
		{
			name: "high score waits even past max wait",
			in: ruleInputs{
				FinalScore: 85, WaitTimeSec: 700,
				PendingCount: 1, NearestDistanceM: 9999,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionWait,
		},
		{
			name: "mid score past max wait is forced",
			in: ruleInputs{
				FinalScore: 50, WaitTimeSec: 601,
				PendingCount: 0, NearestDistanceM: 9999,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionDispatch, kind: queue.DispatchForced,
		},
		{
			name: "wait exactly at max is not forced",
			in: ruleInputs{
				FinalScore: 50, WaitTimeSec: 600,
				PendingCount: 0, NearestDistanceM: 9999,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionWait,
		},
		{
			name: "mid score mid wait defaults to wait",
			in: ruleInputs{
				FinalScore: 45, WaitTimeSec: 300,
				PendingCount: 1, NearestDistanceM: 1500,
				MinWaitSec: 180, MaxWaitSec: 600,
			},
			action: ActionWait,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decide(tt.in)
			if got.Action != tt.action {
				t.Fatalf("decide() action = %v, want %v (reasoning: %s)", got.Action, tt.action, got.Reasoning)
			}
			if tt.action == ActionDispatch && got.Kind != tt.kind {
				t.Errorf("decide() kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Reasoning == "" {
				t.Error("decide() produced empty reasoning")
			}
		})
	}
}

// --- fakes ---

type fakeGroups struct {
	mu         sync.Mutex
	groups     []queue.Group
	routes     map[types.ID]*queue.Route
	findErr    error
	dispatchOK bool
	dispatched []dispatchCall
}

type dispatchCall struct {
	GroupID types.ID
	Kind    queue.DispatchKind
	Score   float64
	Token   string
}

func (f *fakeGroups) FindForming(ctx context.Context) ([]queue.Group, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.groups, nil
}

func (f *fakeGroups) GetRoute(ctx context.Context, id types.ID) (*queue.Route, error) {
	if rt, ok := f.routes[id]; ok {
		return rt, nil
	}
	return nil, queue.ErrNotFound
}

func (f *fakeGroups) DispatchGroup(ctx context.Context, groupID types.ID, kind queue.DispatchKind, score float64, rideToken string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, dispatchCall{groupID, kind, score, rideToken})
	return f.dispatchOK, nil
}

type fakeHistory struct{ prob float64 }

func (f fakeHistory) ArrivalProbability(ctx context.Context, routeID types.ID, at time.Time) (float64, error) {
	return f.prob, nil
}

type fakePending struct {
	requests []queue.Request
	err      error
}

func (f fakePending) PendingRequests(ctx context.Context, routeID types.ID, cutoff time.Time) ([]queue.Request, error) {
	return f.requests, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, groupID types.ID, event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeSink struct {
	mu      sync.Mutex
	entries []DecisionLogEntry
	err     error
}

func (f *fakeSink) AppendDecision(ctx context.Context, e *DecisionLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return f.err
}

func testRoute() *queue.Route {
	return &queue.Route{
		ID:          "route-1",
		Name:        "NTU Main Gate - Taipei Main Station",
		Origin:      types.Point{Lat: 25.0170, Lng: 121.5397},
		OriginName:  "NTU Main Gate",
		Destination: "Taipei Main Station",
		Active:      true,
	}
}

func formingGroup(size, maxSize int, age time.Duration) queue.Group {
	joined := time.Now().UTC().Add(-age)
	return queue.Group{
		ID:                  types.ID(fmt.Sprintf("grp-%d-%d", size, int(age.Seconds()))),
		RouteID:             "route-1",
		Status:              queue.GroupForming,
		CurrentSize:         size,
		MaxSize:             maxSize,
		CreatedAt:           joined,
		FirstMemberJoinedAt: &joined,
	}
}

func newTestEngine(groups *fakeGroups, pending fakePending, prob float64, sink *fakeSink, notifier *fakeNotifier) *Engine {
	return NewEngine(
		groups,
		fakeHistory{prob: prob},
		NewAnalyzer(pending),
		WeightedScorer{},
		sink,
		notifier,
		nil,
		func(id types.ID) string { return "RQ-" + string(id) + "-token" },
		testCfg,
	)
}

func TestSweep_FullGroupDispatchesImmediately(t *testing.T) {
	groups := &fakeGroups{
		groups:     []queue.Group{formingGroup(4, 4, 10*time.Second)},
		routes:     map[types.ID]*queue.Route{"route-1": testRoute()},
		dispatchOK: true,
	}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	eng := newTestEngine(groups, fakePending{}, 0, sink, notifier)

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Dispatched != 1 {
		t.Fatalf("Dispatched = %d, want 1", stats.Dispatched)
	}
	call := groups.dispatched[0]
	if call.Kind != queue.DispatchFullGroup {
		t.Errorf("kind = %v, want FULL_GROUP", call.Kind)
	}
	if call.Score != 100 {
		t.Errorf("score = %v, want 100", call.Score)
	}
	if call.Token == "" {
		t.Error("no ride token issued")
	}
	if len(sink.entries) != 1 || sink.entries[0].Action != ActionDispatch {
		t.Errorf("decision log entries = %+v, want one DISPATCH", sink.entries)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "group_ready" {
		t.Errorf("notifier events = %v, want [group_ready]", notifier.events)
	}
}

func TestSweep_YoungGroupSkippedWithoutLog(t *testing.T) {
	groups := &fakeGroups{
		groups: []queue.Group{formingGroup(2, 4, 30*time.Second)},
		routes: map[types.ID]*queue.Route{"route-1": testRoute()},
	}
	sink := &fakeSink{}
	eng := newTestEngine(groups, fakePending{}, 50, sink, &fakeNotifier{})

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Skipped != 1 || stats.Dispatched != 0 || stats.Waiting != 0 {
		t.Errorf("stats = %+v, want 1 skipped", stats)
	}
	if len(sink.entries) != 0 {
		t.Errorf("young group produced %d log entries, want 0", len(sink.entries))
	}
	if len(groups.dispatched) != 0 {
		t.Errorf("young group was dispatched")
	}
}

func TestSweep_GroupAtMinimumAgeIsEvaluated(t *testing.T) {
	// Exactly MinGroupAgeSeconds old: no longer too young.
	groups := &fakeGroups{
		groups: []queue.Group{formingGroup(1, 4, 60*time.Second)},
		routes: map[types.ID]*queue.Route{"route-1": testRoute()},
	}
	sink := &fakeSink{}
	eng := newTestEngine(groups, fakePending{}, 50, sink, &fakeNotifier{})

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Waiting != 1 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want the group evaluated and waiting", stats)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(sink.entries))
	}
	if sink.entries[0].Action != ActionWait {
		t.Errorf("action = %s, want %s", sink.entries[0].Action, ActionWait)
	}
}

func TestSweep_StrategicEarlyDispatch(t *testing.T) {
	route := testRoute()
	// Two fresh requests ~220m from the origin.
	near := types.Point{Lat: route.Origin.Lat + 0.002, Lng: route.Origin.Lng}
	pending := fakePending{requests: []queue.Request{
		{ID: "req-1", Origin: near, RequestedAt: time.Now().UTC()},
		{ID: "req-2", Origin: near, RequestedAt: time.Now().UTC()},
	}}
	groups := &fakeGroups{
		groups:     []queue.Group{formingGroup(2, 4, 200*time.Second)},
		routes:     map[types.ID]*queue.Route{"route-1": route},
		dispatchOK: true,
	}
	sink := &fakeSink{}
	eng := newTestEngine(groups, pending, 50, sink, &fakeNotifier{})

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Dispatched != 1 {
		t.Fatalf("stats = %+v, want 1 dispatched", stats)
	}
	if groups.dispatched[0].Kind != queue.DispatchEarly {
		t.Errorf("kind = %v, want EARLY_DISPATCH", groups.dispatched[0].Kind)
	}
	if !sink.entries[0].StrategicAdvantage {
		t.Error("strategic advantage not logged")
	}
}

func TestSweep_LowScoreEarlyDispatch(t *testing.T) {
	// Dead route: low probability, nothing pending, aged past min wait.
	groups := &fakeGroups{
		groups:     []queue.Group{formingGroup(1, 4, 400*time.Second)},
		routes:     map[types.ID]*queue.Route{"route-1": testRoute()},
		dispatchOK: true,
	}
	sink := &fakeSink{}
	eng := newTestEngine(groups, fakePending{}, 10, sink, &fakeNotifier{})

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Dispatched != 1 {
		t.Fatalf("stats = %+v, want 1 dispatched", stats)
	}
	if groups.dispatched[0].Kind != queue.DispatchEarly {
		t.Errorf("kind = %v, want EARLY_DISPATCH", groups.dispatched[0].Kind)
	}
}

func TestSweep_HighScoreWaits(t *testing.T) {
	route := testRoute()
	near := types.Point{Lat: route.Origin.Lat + 0.001, Lng: route.Origin.Lng}
	// Three nearby riders, strong history, fresh group past the age floor:
	// score lands above 80, but the strategic rule cannot fire before min wait.
	pending := fakePending{requests: []queue.Request{
		{ID: "req-1", Origin: near}, {ID: "req-2", Origin: near}, {ID: "req-3", Origin: near},
	}}
	groups := &fakeGroups{
		groups: []queue.Group{formingGroup(2, 4, 120*time.Second)},
		routes: map[types.ID]*queue.Route{"route-1": route},
	}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	eng := newTestEngine(groups, pending, 85, sink, notifier)

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("stats = %+v, want 1 waiting", stats)
	}
	if len(sink.entries) != 1 || sink.entries[0].Action != ActionWait {
		t.Errorf("decision log = %+v, want one WAIT", sink.entries)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "group_waiting" {
		t.Errorf("notifier events = %v, want [group_waiting]", notifier.events)
	}
}

func TestSweep_ForcedDispatchPastMaxWait(t *testing.T) {
	groups := &fakeGroups{
		groups:     []queue.Group{formingGroup(2, 4, 601*time.Second)},
		routes:     map[types.ID]*queue.Route{"route-1": testRoute()},
		dispatchOK: true,
	}
	sink := &fakeSink{}
	eng := newTestEngine(groups, fakePending{}, 50, sink, &fakeNotifier{})

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Dispatched != 1 {
		t.Fatalf("stats = %+v, want 1 dispatched", stats)
	}
	if groups.dispatched[0].Kind != queue.DispatchForced {
		t.Errorf("kind = %v, want FORCED", groups.dispatched[0].Kind)
	}
}

func TestSweep_LostDispatchRaceIsBenign(t *testing.T) {
	// The conditional update reports the group already left FORMING.
	groups := &fakeGroups{
		groups:     []queue.Group{formingGroup(4, 4, 10*time.Second)},
		routes:     map[types.ID]*queue.Route{"route-1": testRoute()},
		dispatchOK: false,
	}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	eng := newTestEngine(groups, fakePending{}, 0, sink, notifier)

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Skipped != 1 || stats.Dispatched != 0 {
		t.Errorf("stats = %+v, want 1 skipped", stats)
	}
	if len(notifier.events) != 0 {
		t.Errorf("notified for a dropped dispatch: %v", notifier.events)
	}
	if len(sink.entries) != 0 {
		t.Errorf("logged a dropped dispatch: %+v", sink.entries)
	}
}

func TestSweep_GroupErrorDoesNotAbortOthers(t *testing.T) {
	// First group's route lookup fails; the second still dispatches.
	broken := formingGroup(2, 4, 700*time.Second)
	broken.ID = "grp-broken"
	broken.RouteID = "route-missing"
	full := formingGroup(4, 4, 10*time.Second)

	groups := &fakeGroups{
		groups:     []queue.Group{broken, full},
		routes:     map[types.ID]*queue.Route{"route-1": testRoute()},
		dispatchOK: true,
	}
	eng := newTestEngine(groups, fakePending{}, 50, &fakeSink{}, &fakeNotifier{})

	stats, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.Skipped != 1 || stats.Dispatched != 1 {
		t.Errorf("stats = %+v, want 1 skipped + 1 dispatched", stats)
	}
}

func TestSweep_FindFormingFailure(t *testing.T) {
	groups := &fakeGroups{findErr: errors.New("db down")}
	eng := newTestEngine(groups, fakePending{}, 50, &fakeSink{}, &fakeNotifier{})

	if _, err := eng.Sweep(context.Background()); err == nil {
		t.Fatal("Sweep() returned nil error on group listing failure")
	}
}

func TestAnalyzer_NoPendingSentinel(t *testing.T) {
	a := NewAnalyzer(fakePending{})
	got := a.Analyze(context.Background(), testRoute())
	if got.PendingCount != 0 || got.NearestDistanceM != noPendingDistance {
		t.Errorf("Analyze() = %+v, want 0 pending with sentinel distance", got)
	}
	if got.StrategicAdvantage {
		t.Error("advantage flagged with no pending demand")
	}
}

func TestAnalyzer_QueryFailureYieldsSentinel(t *testing.T) {
	a := NewAnalyzer(fakePending{err: errors.New("db down")})
	got := a.Analyze(context.Background(), testRoute())
	if got.PendingCount != 0 || got.NearestDistanceM != noPendingDistance {
		t.Errorf("Analyze() = %+v, want zero result on query failure", got)
	}
}

func TestAnalyzer_StrategicAdvantage(t *testing.T) {
	route := testRoute()
	near := types.Point{Lat: route.Origin.Lat + 0.003, Lng: route.Origin.Lng} // ~330m
	a := NewAnalyzer(fakePending{requests: []queue.Request{
		{ID: "req-1", Origin: near},
		{ID: "req-2", Origin: near},
	}})
	got := a.Analyze(context.Background(), route)
	if got.PendingCount != 2 {
		t.Fatalf("PendingCount = %d, want 2", got.PendingCount)
	}
	if got.NearestDistanceM <= 0 || got.NearestDistanceM >= 1000 {
		t.Fatalf("NearestDistanceM = %d, want within (0, 1000)", got.NearestDistanceM)
	}
	if !got.StrategicAdvantage {
		t.Error("advantage not flagged for 2 riders inside 1000m")
	}
}

func TestAnalyzer_BadCoordinateSkipped(t *testing.T) {
	route := testRoute()
	near := types.Point{Lat: route.Origin.Lat + 0.001, Lng: route.Origin.Lng}
	a := NewAnalyzer(fakePending{requests: []queue.Request{
		{ID: "req-bad", Origin: types.Point{Lat: 999, Lng: 0}},
		{ID: "req-ok", Origin: near},
	}})
	got := a.Analyze(context.Background(), route)
	if got.PendingCount != 2 {
		t.Fatalf("PendingCount = %d, want 2", got.PendingCount)
	}
	if got.NearestDistanceM >= noPendingDistance {
		t.Errorf("NearestDistanceM = %d, want real distance from the valid request", got.NearestDistanceM)
	}
}
