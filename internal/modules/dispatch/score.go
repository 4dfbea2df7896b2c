// README: Weighted arrival-probability scorer and WAIT/DISPATCH recommendation thresholds.
package dispatch

import "math"

// Factor weights, totalling 1.0. Past patterns dominate; live pending
// bookings are next; wait urgency and fill ratio refine the estimate.
const (
	weightHistorical = 0.40
	weightProximity  = 0.35
	weightWaitTime   = 0.15
	weightFillRatio  = 0.10
)

type Action string

const (
	ActionWait     Action = "WAIT"
	ActionDispatch Action = "DISPATCH"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

type ScoreInputs struct {
	HistoricalProb   float64
	PendingCount     int
	NearestDistanceM int
	WaitTimeSec      int
	CurrentSize      int
	MaxSize          int
}

// Scorer turns the gathered signals into a 0-100 arrival probability.
type Scorer interface {
	FinalScore(in ScoreInputs) float64
}

// WeightedScorer is the default deterministic heuristic.
type WeightedScorer struct{}

func (WeightedScorer) FinalScore(in ScoreInputs) float64 {
	maxSize := in.MaxSize
	if maxSize <= 0 {
		maxSize = 4
	}

	final := historicalScore(in.HistoricalProb)*weightHistorical +
		proximityScore(in.PendingCount, in.NearestDistanceM)*weightProximity +
		waitTimeScore(in.WaitTimeSec)*weightWaitTime +
		fillScore(in.CurrentSize, maxSize)*weightFillRatio

	return round2(clamp(final, 0, 100))
}

// TemporalScorer wraps a base scorer with time-of-day and day-of-week
// multipliers (rush hour boosts, weekend damping). Composed, not inherited.
type TemporalScorer struct {
	Base            Scorer
	TimeOfDayFactor float64
	DayOfWeekFactor float64
}

func (t TemporalScorer) FinalScore(in ScoreInputs) float64 {
	base := t.Base.FinalScore(in)
	tod := t.TimeOfDayFactor
	if tod <= 0 {
		tod = 1
	}
	dow := t.DayOfWeekFactor
	if dow <= 0 {
		dow = 1
	}
	return round2(clamp(base*tod*dow, 0, 100))
}

// historicalScore clamps the learned probability; upstream data can be out of
// range when buckets were hand-seeded.
func historicalScore(prob float64) float64 {
	return clamp(prob, 0, 100)
}

// proximityScore rewards pending bookings by count and closeness. No pending
// demand scores zero outright.
func proximityScore(pendingCount, nearestDistanceM int) float64 {
	if pendingCount == 0 {
		return 0
	}

	countScore := math.Min(float64(pendingCount)*20, 50)

	var distanceScore float64
	switch {
	case nearestDistanceM < 200:
		distanceScore = 50
	case nearestDistanceM < 500:
		distanceScore = 30
	case nearestDistanceM < 1000:
		distanceScore = 10
	}

	return countScore + distanceScore
}

// waitTimeScore decays as the group ages: long-waiting groups are evidence
// that demand dried up.
func waitTimeScore(waitTimeSec int) float64 {
	switch waitMinutes := float64(waitTimeSec) / 60; {
	case waitMinutes < 1:
		return 80
	case waitMinutes < 3:
		return 60
	case waitMinutes < 5:
		return 40
	case waitMinutes < 10:
		return 20
	default:
		return 5
	}
}

// fillScore models social proof: a 3/4 group attracts its last rider far more
// readily than an empty one attracts its first.
func fillScore(currentSize, maxSize int) float64 {
	switch fillRatio := float64(currentSize) / float64(maxSize); {
	case fillRatio >= 0.75:
		return 90
	case fillRatio >= 0.5:
		return 60
	case fillRatio >= 0.25:
		return 30
	default:
		return 10
	}
}

type Recommendation struct {
	Action     Action
	Confidence Confidence
}

// Recommend maps a final score to an advisory action. The rule engine applies
// stricter ordered rules; this is the coarse reading of the score alone.
func Recommend(score float64) Recommendation {
	switch {
	case score >= 80:
		return Recommendation{Action: ActionWait, Confidence: ConfidenceHigh}
	case score >= 50:
		return Recommendation{Action: ActionWait, Confidence: ConfidenceMedium}
	case score >= 20:
		return Recommendation{Action: ActionDispatch, Confidence: ConfidenceMedium}
	default:
		return Recommendation{Action: ActionDispatch, Confidence: ConfidenceHigh}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
