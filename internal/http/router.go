// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridepool/internal/http/handlers"
	"ridepool/internal/http/middleware"
	"ridepool/internal/modules/dispatch"
	"ridepool/internal/modules/history"
	"ridepool/internal/modules/queue"
)

type RouterDeps struct {
	Queue        *queue.Service
	Learner      *history.Learner
	Decisions    *dispatch.Store
	Scheduler    *dispatch.Scheduler
	LookbackDays int
}

func NewRouter(deps RouterDeps) http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	queueHandler := handlers.NewQueueHandler(deps.Queue)
	r.POST("/api/queue/join", queueHandler.Join)
	r.POST("/api/queue/leave", queueHandler.Leave)
	r.GET("/api/queue/status/:rider_id", queueHandler.Status)
	r.GET("/api/groups/forming", queueHandler.FormingGroups)

	insightsHandler := handlers.NewInsightsHandler(deps.Learner, deps.Decisions)
	r.GET("/api/routes/:route_id/heatmap", insightsHandler.Heatmap)
	r.GET("/api/routes/:route_id/peak-hours", insightsHandler.PeakHours)
	r.GET("/api/routes/:route_id/prediction", insightsHandler.Predict)
	r.GET("/api/groups/:group_id/decisions", insightsHandler.GroupDecisions)

	adminHandler := handlers.NewAdminHandler(deps.Scheduler, deps.Learner, deps.LookbackDays)
	r.POST("/api/admin/sweep", adminHandler.TriggerSweep)
	r.POST("/api/admin/rebuild", adminHandler.Rebuild)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
