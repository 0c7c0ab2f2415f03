package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a periodic housekeeping task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs housekeeping jobs on fixed intervals.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	jobs   []Job
}

// NewScheduler builds a scheduler whose jobs never overlap themselves and recover from panics.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := zapCronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
	}
}

// Add registers job. Intervals are rounded down to whole seconds, minimum one.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("maintenance: job %q has no function", job.Name)
	}
	if job.Interval <= 0 {
		return fmt.Errorf("maintenance: job %q interval must be positive", job.Name)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Run starts every registered job and blocks until ctx ends, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		seconds := int(job.Interval.Seconds())
		if seconds <= 0 {
			seconds = 1
		}
		run := job.Run
		name := job.Name
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), func() {
			run(ctx)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %q: %w", name, err)
		}
		s.logger.Debug("maintenance job scheduled", zap.String("job", name), zap.Int("every_s", seconds))
	}

	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return nil
}

type zapCronLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
