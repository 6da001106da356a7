package cache

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically runs CleanupExpired on a cron schedule.
type Janitor struct {
	runner *cron.Cron
	logger *log.Logger
}

// NewJanitor schedules cleanup of the given cache. The schedule accepts
// standard 5-field cron expressions and @every forms, e.g. "@every 5m".
func NewJanitor(metadataCache *MetadataCache, schedule string, logger *log.Logger) (*Janitor, error) {
	if logger == nil {
		logger = log.Default()
	}
	runner := cron.New()
	_, err := runner.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		metadataCache.CleanupExpired(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &Janitor{runner: runner, logger: logger}, nil
}

// Start begins running the schedule on its own goroutine.
func (j *Janitor) Start() {
	j.runner.Start()
	j.logger.Printf("cache janitor started")
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	ctx := j.runner.Stop()
	<-ctx.Done()
	j.logger.Printf("cache janitor stopped")
}
