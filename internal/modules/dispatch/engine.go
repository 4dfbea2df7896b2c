// README: Dispatch decision engine; scores every forming group per sweep and applies the ordered rule set.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"ridepool/internal/config"
	"ridepool/internal/modules/queue"
	"ridepool/internal/types"
)

// strategicDistanceMeters is the rule engine's own proximity bound for the
// strategic-positioning rule. Deliberately tighter than the analyzer's
// advisory 1000m flag; see advisoryProximityMeters.
const strategicDistanceMeters = 500

// GroupSource is the slice of the queue store the engine needs.
type GroupSource interface {
	FindForming(ctx context.Context) ([]queue.Group, error)
	GetRoute(ctx context.Context, id types.ID) (*queue.Route, error)
	DispatchGroup(ctx context.Context, groupID types.ID, kind queue.DispatchKind, score float64, rideToken string, now time.Time) (bool, error)
}

// HistorySource supplies the learned arrival probability.
type HistorySource interface {
	ArrivalProbability(ctx context.Context, routeID types.ID, at time.Time) (float64, error)
}

// Notifier delivers fire-and-forget group events; failures never roll back a
// dispatch.
type Notifier interface {
	Notify(ctx context.Context, groupID types.ID, event string, payload map[string]any)
}

// TravelEstimator optionally enriches ready notifications with a road ETA.
type TravelEstimator interface {
	EstimateSeconds(ctx context.Context, origin, destination string) (int, error)
}

// DecisionSink receives the append-only audit entries.
type DecisionSink interface {
	AppendDecision(ctx context.Context, e *DecisionLogEntry) error
}

type Engine struct {
	groups   GroupSource
	history  HistorySource
	analyzer *Analyzer
	scorer   Scorer
	logs     DecisionSink
	notifier Notifier
	eta      TravelEstimator // may be nil
	issue    func(types.ID) string
	cfg      config.DispatchConfig
}

func NewEngine(
	groups GroupSource,
	history HistorySource,
	analyzer *Analyzer,
	scorer Scorer,
	logs DecisionSink,
	notifier Notifier,
	eta TravelEstimator,
	issueToken func(types.ID) string,
	cfg config.DispatchConfig,
) *Engine {
	if scorer == nil {
		scorer = WeightedScorer{}
	}
	return &Engine{
		groups:   groups,
		history:  history,
		analyzer: analyzer,
		scorer:   scorer,
		logs:     logs,
		notifier: notifier,
		eta:      eta,
		issue:    issueToken,
		cfg:      cfg,
	}
}

// Sweep evaluates every forming group once. A failure in one group is logged
// and counted, never aborts the rest.
func (e *Engine) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	groups, err := e.groups.FindForming(ctx)
	if err != nil {
		return stats, err
	}
	stats.Analyzed = len(groups)

	for i := range groups {
		outcome, err := e.evaluateGroup(ctx, &groups[i])
		if err != nil {
			log.Printf("dispatch: group %s evaluation failed: %v", groups[i].ID, err)
			stats.Skipped++
			continue
		}
		switch outcome {
		case outcomeDispatched:
			stats.Dispatched++
		case outcomeWaiting:
			stats.Waiting++
		default:
			stats.Skipped++
		}
	}

	log.Printf("dispatch: sweep analyzed=%d dispatched=%d waiting=%d skipped=%d",
		stats.Analyzed, stats.Dispatched, stats.Waiting, stats.Skipped)
	return stats, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDispatched
	outcomeWaiting
)

func (e *Engine) evaluateGroup(ctx context.Context, g *queue.Group) (outcome, error) {
	now := time.Now().UTC()

	// Full groups bypass scoring entirely.
	if g.IsFull() {
		return e.dispatch(ctx, g, queue.DispatchFullGroup, 100, DecisionLogEntry{
			GroupID:          g.ID,
			DecidedAt:        now,
			GroupSize:        g.CurrentSize,
			WaitTimeSeconds:  g.WaitTimeSeconds(now),
			NearestDistanceM: noPendingDistance,
			FinalScore:       100,
			Action:           ActionDispatch,
			Reasoning:        "group full, dispatching immediately",
		})
	}

	waitTime := g.WaitTimeSeconds(now)
	if waitTime < e.cfg.MinGroupAgeSeconds {
		// Too young; let it form. No log entry.
		return outcomeSkipped, nil
	}

	route, err := e.groups.GetRoute(ctx, g.RouteID)
	if err != nil {
		return outcomeSkipped, err
	}

	historicalProb, err := e.history.ArrivalProbability(ctx, g.RouteID, now)
	if err != nil {
		// Neutral probability is already the learner's fallback; keep going.
		log.Printf("dispatch: arrival probability lookup failed for route %s: %v", g.RouteID, err)
	}

	analysis := e.analyzer.Analyze(ctx, route)

	finalScore := e.scorer.FinalScore(ScoreInputs{
		HistoricalProb:   historicalProb,
		PendingCount:     analysis.PendingCount,
		NearestDistanceM: analysis.NearestDistanceM,
		WaitTimeSec:      waitTime,
		CurrentSize:      g.CurrentSize,
		MaxSize:          g.MaxSize,
	})

	decision := decide(ruleInputs{
		FinalScore:       finalScore,
		WaitTimeSec:      waitTime,
		PendingCount:     analysis.PendingCount,
		NearestDistanceM: analysis.NearestDistanceM,
		MinWaitSec:       e.cfg.MinWaitSeconds,
		MaxWaitSec:       e.cfg.MaxWaitSeconds,
	})

	entry := DecisionLogEntry{
		GroupID:            g.ID,
		DecidedAt:          now,
		GroupSize:          g.CurrentSize,
		WaitTimeSeconds:    waitTime,
		PendingCount:       analysis.PendingCount,
		NearestDistanceM:   analysis.NearestDistanceM,
		HistoricalProb:     historicalProb,
		FinalScore:         finalScore,
		Action:             decision.Action,
		Reasoning:          decision.Reasoning,
		StrategicAdvantage: analysis.StrategicAdvantage,
	}

	if decision.Action == ActionDispatch {
		return e.dispatch(ctx, g, decision.Kind, finalScore, entry)
	}

	e.notify(ctx, g.ID, "group_waiting", map[string]any{
		"current_size": g.CurrentSize,
		"max_size":     g.MaxSize,
		"reasoning":    decision.Reasoning,
	})
	e.appendLog(ctx, entry)
	return outcomeWaiting, nil
}

type ruleInputs struct {
	FinalScore       float64
	WaitTimeSec      int
	PendingCount     int
	NearestDistanceM int
	MinWaitSec       int
	MaxWaitSec       int
}

type ruleDecision struct {
	Action    Action
	Kind      queue.DispatchKind
	Reasoning string
}

// decide applies the ordered rule set; the first matching rule wins, and
// exactly one action results.
func decide(in ruleInputs) ruleDecision {
	// Strategic positioning: enough nearby demand to secure before it walks.
	if in.PendingCount >= 2 && in.NearestDistanceM < strategicDistanceMeters && in.WaitTimeSec > in.MinWaitSec {
		return ruleDecision{
			Action: ActionDispatch,
			Kind:   queue.DispatchEarly,
			Reasoning: fmt.Sprintf("strategic: %d riders waiting within %dm",
				in.PendingCount, in.NearestDistanceM),
		}
	}

	// Low confidence of further arrivals after a significant wait.
	if in.FinalScore < 20 && in.WaitTimeSec > in.MinWaitSec {
		return ruleDecision{
			Action: ActionDispatch,
			Kind:   queue.DispatchEarly,
			Reasoning: fmt.Sprintf("low arrival probability (%.1f%%) after %ds wait",
				in.FinalScore, in.WaitTimeSec),
		}
	}

	// Strong confidence more riders will arrive.
	if in.FinalScore > 80 {
		return ruleDecision{
			Action:    ActionWait,
			Reasoning: fmt.Sprintf("high arrival probability (%.1f%%)", in.FinalScore),
		}
	}

	// Safety net for persistently mid-range scores.
	if in.WaitTimeSec > in.MaxWaitSec {
		return ruleDecision{
			Action:    ActionDispatch,
			Kind:      queue.DispatchForced,
			Reasoning: fmt.Sprintf("maximum wait time exceeded (%ds)", in.WaitTimeSec),
		}
	}

	return ruleDecision{
		Action:    ActionWait,
		Reasoning: fmt.Sprintf("uncertain probability (%.1f%%), continuing to wait", in.FinalScore),
	}
}

func (e *Engine) dispatch(ctx context.Context, g *queue.Group, kind queue.DispatchKind, score float64, entry DecisionLogEntry) (outcome, error) {
	rideToken := e.issue(g.ID)

	ok, err := e.groups.DispatchGroup(ctx, g.ID, kind, score, rideToken, entry.DecidedAt)
	if err != nil {
		return outcomeSkipped, err
	}
	if !ok {
		// Benign race: the group emptied or was already transitioned.
		log.Printf("dispatch: group %s no longer FORMING, dispatch dropped", g.ID)
		return outcomeSkipped, nil
	}

	log.Printf("dispatch: group %s dispatched size=%d kind=%s score=%.1f",
		g.ID, g.CurrentSize, kind, score)

	payload := map[string]any{
		"ride_token":      rideToken,
		"passenger_count": g.CurrentSize,
		"decision_kind":   string(kind),
	}
	if e.eta != nil {
		if route, err := e.groups.GetRoute(ctx, g.RouteID); err == nil {
			if sec, err := e.eta.EstimateSeconds(ctx, route.OriginName, route.Destination); err == nil {
				payload["trip_eta_seconds"] = sec
			}
		}
	}
	e.notify(ctx, g.ID, "group_ready", payload)

	e.appendLog(ctx, entry)
	return outcomeDispatched, nil
}

func (e *Engine) notify(ctx context.Context, groupID types.ID, event string, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, groupID, event, payload)
}

func (e *Engine) appendLog(ctx context.Context, entry DecisionLogEntry) {
	if e.logs == nil {
		return
	}
	if err := e.logs.AppendDecision(ctx, &entry); err != nil {
		log.Printf("dispatch: decision log append failed for group %s: %v", entry.GroupID, err)
	}
}
