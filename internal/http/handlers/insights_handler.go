// README: Demand insight handlers: heatmap, peak hours, arrival prediction, decision history.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridepool/internal/modules/dispatch"
	"ridepool/internal/modules/history"
	"ridepool/internal/types"
)

// DemandInsights is the slice of the history learner the handler needs.
type DemandInsights interface {
	Heatmap(ctx context.Context, routeID types.ID) ([]history.DemandBucket, error)
	PeakHours(ctx context.Context, routeID types.ID, n int) ([]history.DemandBucket, error)
	Predict(ctx context.Context, routeID types.ID, at time.Time) (*history.Prediction, error)
}

// DecisionLog supplies a group's recent sweep evaluations.
type DecisionLog interface {
	RecentDecisions(ctx context.Context, groupID types.ID, limit int) ([]dispatch.DecisionLogEntry, error)
}

type InsightsHandler struct {
	learner   DemandInsights
	decisions DecisionLog
}

func NewInsightsHandler(learner DemandInsights, decisions DecisionLog) *InsightsHandler {
	return &InsightsHandler{learner: learner, decisions: decisions}
}

func (h *InsightsHandler) Heatmap(c *gin.Context) {
	routeID := c.Param("route_id")
	if !isValidID(routeID) {
		writeError(c, http.StatusBadRequest, "missing route_id")
		return
	}
	buckets, err := h.learner.Heatmap(c.Request.Context(), types.ID(routeID))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"route_id": routeID, "buckets": buckets})
}

func (h *InsightsHandler) PeakHours(c *gin.Context) {
	routeID := c.Param("route_id")
	if !isValidID(routeID) {
		writeError(c, http.StatusBadRequest, "missing route_id")
		return
	}
	n, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	buckets, err := h.learner.PeakHours(c.Request.Context(), types.ID(routeID), n)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"route_id": routeID, "peak_hours": buckets})
}

func (h *InsightsHandler) Predict(c *gin.Context) {
	routeID := c.Param("route_id")
	if !isValidID(routeID) {
		writeError(c, http.StatusBadRequest, "missing route_id")
		return
	}
	pred, err := h.learner.Predict(c.Request.Context(), types.ID(routeID), time.Now().UTC())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	// New routes have no demand bucket yet; that is an answer, not an error.
	if pred == nil {
		writeJSON(c, http.StatusOK, map[string]any{
			"route_id":  routeID,
			"available": false,
			"reasoning": "no demand history for this route and time",
		})
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"route_id":    routeID,
		"available":   true,
		"eta_seconds": pred.ETASeconds,
		"confidence":  pred.Confidence,
		"reasoning":   pred.Reasoning,
	})
}

func (h *InsightsHandler) GroupDecisions(c *gin.Context) {
	groupID := c.Param("group_id")
	if !isValidID(groupID) {
		writeError(c, http.StatusBadRequest, "missing group_id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := h.decisions.RecentDecisions(c.Request.Context(), types.ID(groupID), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"group_id": groupID, "decisions": entries})
}
