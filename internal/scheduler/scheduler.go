package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-quilt/internal/weather"
)

// Syncer runs an incremental sync for one city.
type Syncer interface {
	SyncForward(ctx context.Context, city string) (weather.SyncResult, error)
}

// Options configures a Scheduler.
type Options struct {
	Cities   []string
	Interval time.Duration
	// RunOnStart runs the first sync immediately instead of waiting a full interval.
	RunOnStart bool
	Logger     *slog.Logger
}

// Scheduler periodically syncs the configured cities forward.
type Scheduler struct {
	scheduler *gocron.Scheduler
	syncer    Syncer
	opts      Options
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(syncer Syncer, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := gocron.NewScheduler(time.UTC)
	// A run that outlasts the interval delays the next one instead of overlapping it.
	s.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		syncer:    syncer,
		opts:      opts,
		logger:    opts.Logger.With("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.opts.Cities) == 0 {
		s.logger.Info("no cities configured; nothing to schedule")
		return nil
	}

	job := s.scheduler.Every(s.opts.Interval)
	if !s.opts.RunOnStart {
		job = job.WaitForSchedule()
	}
	if _, err := job.Do(func() { s.RunOnce(s.ctx) }); err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "interval", s.opts.Interval.String(), "cities", len(s.opts.Cities))
	return nil
}

// RunOnce syncs every configured city in order. A failing city is logged and never stops the rest.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Info("running weather sync job")
	for _, city := range s.opts.Cities {
		if ctx.Err() != nil {
			s.logger.Info("sync job cancelled", "remaining_from", city)
			return
		}
		res, err := s.syncer.SyncForward(ctx, city)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("scheduled sync failed", "city", city, "error", err)
			}
			continue
		}
		s.logger.Info("scheduled sync finished", "city", city, "run_id", res.RunID, "added", res.Added)
	}
	s.logger.Info("completed weather sync job")
}

// Stop cancels a running job's upstream calls and stops future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
