// README: Rider-facing queue handlers for join, leave, status, and open groups.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridepool/internal/modules/queue"
	"ridepool/internal/types"
)

type QueueHandler struct {
	queue *queue.Service
}

func NewQueueHandler(svc *queue.Service) *QueueHandler {
	return &QueueHandler{queue: svc}
}

type joinReq struct {
	RiderID       string  `json:"rider_id"`
	RouteID       string  `json:"route_id"`
	OriginLat     float64 `json:"origin_lat"`
	OriginLng     float64 `json:"origin_lng"`
	WomenOnlyPref bool    `json:"women_only_pref"`
}

func (h *QueueHandler) Join(c *gin.Context) {
	var req joinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.RiderID) || !isValidID(req.RouteID) {
		writeError(c, http.StatusBadRequest, "missing or malformed rider_id/route_id")
		return
	}
	res, err := h.queue.Join(c.Request.Context(), queue.JoinCommand{
		RiderID:       types.ID(req.RiderID),
		RouteID:       types.ID(req.RouteID),
		Origin:        types.Point{Lat: req.OriginLat, Lng: req.OriginLng},
		WomenOnlyPref: req.WomenOnlyPref,
	})
	if err != nil {
		writeQueueError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{
		"request_id":         res.RequestID,
		"group_id":           res.GroupID,
		"group_status":       res.GroupStatus,
		"seat_number":        res.SeatNumber,
		"current_size":       res.CurrentSize,
		"max_size":           res.MaxSize,
		"women_only":         res.WomenOnly,
		"estimated_wait_min": res.EstimatedWaitMin,
	})
}

func (h *QueueHandler) Leave(c *gin.Context) {
	riderID := c.Query("rider_id")
	if !isValidID(riderID) {
		writeError(c, http.StatusBadRequest, "missing rider_id")
		return
	}
	res, err := h.queue.Leave(c.Request.Context(), types.ID(riderID))
	if err != nil {
		writeQueueError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"request_id": res.RequestID,
		"status":     queue.RequestCancelled,
	})
}

func (h *QueueHandler) Status(c *gin.Context) {
	riderID := c.Param("rider_id")
	if !isValidID(riderID) {
		writeError(c, http.StatusBadRequest, "missing rider_id")
		return
	}
	res, err := h.queue.Status(c.Request.Context(), types.ID(riderID))
	if err != nil {
		writeQueueError(c, err)
		return
	}
	if !res.InQueue {
		writeJSON(c, http.StatusOK, map[string]any{"in_queue": false})
		return
	}
	body := map[string]any{
		"in_queue":           true,
		"request_id":         res.RequestID,
		"request_status":     res.RequestStatus,
		"group_id":           res.GroupID,
		"group_status":       res.GroupStatus,
		"current_size":       res.CurrentSize,
		"max_size":           res.MaxSize,
		"seat_number":        res.SeatNumber,
		"wait_time_seconds":  res.WaitTimeSeconds,
		"estimated_wait_min": res.EstimatedWaitMin,
		"women_only":         res.WomenOnly,
		"route_origin":       res.RouteOrigin,
		"route_destination":  res.RouteDestination,
	}
	if res.RideToken != nil {
		body["ride_token"] = *res.RideToken
	}
	writeJSON(c, http.StatusOK, body)
}

func (h *QueueHandler) FormingGroups(c *gin.Context) {
	routeID := c.Query("route_id")
	if routeID != "" && !isValidID(routeID) {
		writeError(c, http.StatusBadRequest, "malformed route_id")
		return
	}
	groups, err := h.queue.FormingGroups(c.Request.Context(), types.ID(routeID))
	if err != nil {
		writeQueueError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"groups": groups})
}
