// README: Operator handlers for manual sweep and demand-model rebuild triggers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridepool/internal/modules/dispatch"
	"ridepool/internal/modules/history"
	"ridepool/internal/types"
)

type AdminHandler struct {
	scheduler    *dispatch.Scheduler
	learner      *history.Learner
	lookbackDays int
}

func NewAdminHandler(scheduler *dispatch.Scheduler, learner *history.Learner, lookbackDays int) *AdminHandler {
	return &AdminHandler{scheduler: scheduler, learner: learner, lookbackDays: lookbackDays}
}

// TriggerSweep runs one dispatch sweep outside the tick loop. Returns 409
// when a sweep is already in flight.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	stats, ran, err := h.scheduler.TriggerSweep(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "sweep failed")
		return
	}
	if !ran {
		writeError(c, http.StatusConflict, "sweep already in progress")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"analyzed":   stats.Analyzed,
		"dispatched": stats.Dispatched,
		"waiting":    stats.Waiting,
		"skipped":    stats.Skipped,
	})
}

// Rebuild recomputes demand buckets, either for one route (?route_id=) or
// for every active route.
func (h *AdminHandler) Rebuild(c *gin.Context) {
	if routeID := c.Query("route_id"); routeID != "" {
		if !isValidID(routeID) {
			writeError(c, http.StatusBadRequest, "malformed route_id")
			return
		}
		stats, err := h.learner.Rebuild(c.Request.Context(), types.ID(routeID), h.lookbackDays)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "rebuild failed")
			return
		}
		writeJSON(c, http.StatusOK, map[string]any{
			"route_id":           routeID,
			"records_created":    stats.RecordsCreated,
			"records_updated":    stats.RecordsUpdated,
			"bookings_processed": stats.BookingsProcessed,
			"buckets":            stats.Buckets,
		})
		return
	}

	stats, err := h.learner.RebuildAll(c.Request.Context(), h.lookbackDays)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"routes_processed":   stats.RoutesProcessed,
		"routes_failed":      stats.RoutesFailed,
		"records_created":    stats.RecordsCreated,
		"records_updated":    stats.RecordsUpdated,
		"bookings_processed": stats.BookingsProcessed,
	})
}
