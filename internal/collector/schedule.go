package collector

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@every 5m" or "@hourly".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a collection schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("collector: invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Schedule runs Collect on the given cron schedule until ctx is cancelled.
// Sweeps run one at a time; a tick that arrives while a sweep is still
// running is dropped. Ticks are skipped while Options.Active reports false.
// onResult, if non-nil, sees every sweep's outcome.
func (c *Collector) Schedule(ctx context.Context, expr string, onResult func(Result, error)) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	timer := time.NewTimer(time.Until(sched.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if c.active != nil && !c.active() {
				timer.Reset(time.Until(sched.Next(time.Now())))
				continue
			}
			res, err := c.Collect(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("collector: scheduled sweep: %v", err)
			}
			if onResult != nil {
				onResult(res, err)
			}
			timer.Reset(time.Until(sched.Next(time.Now())))
		}
	}
}
