// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartScheduler runs the recurring jobs: the nightly pairing run for the
// next tournament day and the result sweep for matches that finished without
// being scored. Returns the scheduler so the caller can shut it down.
func StartScheduler(matches *MatchScheduler, results *MatchResultService, scheduleHourUTC int, sweepEvery time.Duration) (gocron.Scheduler, error) {
	// job times are configured in UTC, keep the scheduler off the host zone
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	sched.Start()

	// Nightly: pair players for tomorrow's slots.
	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(scheduleHourUTC), 0, 0))),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			tomorrow := time.Now().UTC().Add(24 * time.Hour)
			if _, err := matches.SchedulePairings(ctx, tomorrow); err != nil {
				log.Printf("[Scheduler] Pairing run failed: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	// Sweep: score matches whose transcripts never made it through the
	// pipeline.
	_, err = sched.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := results.ProcessPending(ctx); err != nil {
				log.Printf("[Scheduler] Result sweep failed: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	return sched, nil
}
