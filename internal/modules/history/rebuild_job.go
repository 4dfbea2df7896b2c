// README: Cron-driven daily rebuild of demand buckets across all active routes.
package history

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// StartRebuildScheduler schedules RebuildAll on a standard 5-field cron
// expression (minute hour day-of-month month day-of-week). The returned cron
// keeps running until Stop is called.
func StartRebuildScheduler(ctx context.Context, learner *Learner, schedule string, lookbackDays int) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))

	_, err := c.AddFunc(schedule, func() {
		stats, err := learner.RebuildAll(ctx, lookbackDays)
		if err != nil {
			log.Printf("history: scheduled rebuild failed: %v", err)
			return
		}
		log.Printf("history: rebuild done routes=%d failed=%d created=%d updated=%d bookings=%d",
			stats.RoutesProcessed, stats.RoutesFailed,
			stats.RecordsCreated, stats.RecordsUpdated, stats.BookingsProcessed)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid rebuild schedule %q: %w", schedule, err)
	}

	c.Start()
	log.Printf("history: rebuild scheduled (cron: %s, lookback: %dd)", schedule, lookbackDays)
	return c, nil
}
