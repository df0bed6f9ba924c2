package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals. Runs of one job never overlap.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New constructs a Scheduler. Jobs receive a context that is cancelled by Shutdown.
func New(logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{scheduler: inner, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// Register adds a job. A non-positive interval skips the job.
func (s *Scheduler) Register(job Job) error {
	if job.Run == nil {
		return errors.New("scheduler: job function required")
	}
	if job.Interval <= 0 {
		s.logger.Info("scheduled job disabled", zap.String("job", job.Name))
		return nil
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(job.Interval),
		gocron.NewTask(func() {
			started := time.Now()
			if err := job.Run(s.ctx); err != nil {
				s.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
				return
			}
			s.logger.Debug("scheduled job finished", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(started)))
		}),
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	return err
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.scheduler.Shutdown()
}
