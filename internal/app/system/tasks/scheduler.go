// internal/app/system/tasks/scheduler.go
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is a named periodic function.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run; zero means Interval.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs Jobs on a gocron scheduler. A job never overlaps itself;
// a run that is still going when the next one is due reschedules.
type Scheduler struct {
	s   gocron.Scheduler
	log *zap.Logger
}

func NewScheduler(logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &Scheduler{s: s, log: logger}, nil
}

// Add registers j. Call before Start.
func (sc *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Interval <= 0 || j.Run == nil {
		return errors.New("tasks: job needs a name, a positive interval and a run func")
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = j.Interval
	}
	_, err := sc.s.NewJob(
		gocron.DurationJob(j.Interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			start := time.Now()
			if err := j.Run(ctx); err != nil {
				sc.log.Error("job failed", zap.String("job", j.Name), zap.Error(err))
				return
			}
			sc.log.Debug("job finished", zap.String("job", j.Name), zap.Duration("took", time.Since(start)))
		}),
		gocron.WithName(j.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	sc.log.Info("job scheduled", zap.String("job", j.Name), zap.Duration("interval", j.Interval))
	return nil
}

func (sc *Scheduler) Start() { sc.s.Start() }

// Stop waits for running jobs to return.
func (sc *Scheduler) Stop() error { return sc.s.Shutdown() }
