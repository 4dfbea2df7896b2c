// README: Entry point; loads config, wires services, starts HTTP server and background schedulers.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridepool/internal/config"
	httptransport "ridepool/internal/http"
	"ridepool/internal/infra"
	"ridepool/internal/maps"
	"ridepool/internal/modules/dispatch"
	"ridepool/internal/modules/history"
	"ridepool/internal/modules/notify"
	"ridepool/internal/modules/queue"
	"ridepool/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	publisher := notify.NewPublisher(redisClient)

	historyStore := history.NewStore(dbPool)
	learner := history.NewLearner(historyStore)

	queueStore := queue.NewStore(dbPool)
	queueSvc := queue.NewService(queueStore, learner, publisher)

	var eta dispatch.TravelEstimator
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Region, cfg.Maps.Language)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		eta = routeSvc
	}

	decisionStore := dispatch.NewStore(dbPool)
	engine := dispatch.NewEngine(
		queueStore,
		learner,
		dispatch.NewAnalyzer(queueStore),
		dispatch.WeightedScorer{},
		decisionStore,
		publisher,
		eta,
		token.Issue,
		cfg.Dispatch,
	)

	scheduler := dispatch.NewScheduler(engine, time.Duration(cfg.Dispatch.TickSeconds)*time.Second)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	rebuildCron, err := history.StartRebuildScheduler(ctx, learner, cfg.History.RebuildCron, cfg.History.LookbackDays)
	if err != nil {
		log.Fatalf("rebuild scheduler: %v", err)
	}
	defer rebuildCron.Stop()

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Queue:        queueSvc,
		Learner:      learner,
		Decisions:    decisionStore,
		Scheduler:    scheduler,
		LookbackDays: cfg.History.LookbackDays,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("ridepool-api listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
