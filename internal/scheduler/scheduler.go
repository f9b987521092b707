package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

const (
	defaultInterval          = 15 * time.Minute
	defaultRetentionInterval = time.Hour
	defaultJobTimeout        = 2 * time.Minute

	// RetentionTag is the tag of the retention job.
	RetentionTag = "retention"
)

// Job is one periodically fetched source.
type Job struct {
	Adapter  data.Adapter
	Interval time.Duration
}

// Scheduler periodically runs fetch-and-store cycles, one job per source,
// and optionally prunes old data points.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *data.Service
	jobs      []Job
	log       logger.Logger

	jobTimeout        time.Duration
	retentionMaxAge   time.Duration
	retentionInterval time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithJobTimeout bounds a single job run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithRetention deletes points older than maxAge every interval. A zero maxAge disables it.
func WithRetention(maxAge, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.retentionMaxAge = maxAge
		if interval > 0 {
			s.retentionInterval = interval
		}
	}
}

// New creates a new Scheduler.
func New(service *data.Service, jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		scheduler:         gocron.NewScheduler(time.UTC),
		service:           service,
		jobs:              jobs,
		log:               logger.Named("scheduler"),
		jobTimeout:        defaultJobTimeout,
		retentionInterval: defaultRetentionInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the jobs and starts the underlying scheduler. Each job first
// runs one interval after start; overlapping runs of the same job are skipped.
func (s *Scheduler) Start() error {
	ctx := context.Background()
	if len(s.jobs) == 0 {
		s.log.Warn(ctx, "no sources configured; nothing to schedule")
	}

	for _, job := range s.jobs {
		interval := job.Interval
		if interval <= 0 {
			interval = defaultInterval
		}
		name := job.Adapter.SourceName()
		_, err := s.scheduler.Every(interval).Tag(name).SingletonMode().WaitForSchedule().Do(s.runFetch, job.Adapter)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		s.log.Info(ctx, "scheduled source", logger.String("source", name), logger.Duration("interval", interval))
	}

	if s.retentionMaxAge > 0 {
		_, err := s.scheduler.Every(s.retentionInterval).Tag(RetentionTag).SingletonMode().WaitForSchedule().Do(s.runPrune)
		if err != nil {
			return fmt.Errorf("schedule retention: %w", err)
		}
		s.log.Info(ctx, "scheduled retention",
			logger.Duration("max_age", s.retentionMaxAge),
			logger.Duration("interval", s.retentionInterval))
	}

	s.scheduler.StartAsync()
	return nil
}

// RunNow triggers the job tagged tag (a source name or RetentionTag) immediately.
func (s *Scheduler) RunNow(tag string) error {
	return s.scheduler.RunByTag(tag)
}

// Tags lists the scheduled job tags.
func (s *Scheduler) Tags() []string {
	var tags []string
	for _, j := range s.scheduler.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) runFetch(a data.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	res := s.service.FetchAndStore(ctx, a)
	if res.Err != nil {
		s.log.Warn(ctx, "scheduled fetch failed", logger.String("source", res.Source), logger.String("run_id", res.RunID), logger.Error(res.Err))
	}
}

func (s *Scheduler) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	deleted, err := s.service.Prune(ctx, s.retentionMaxAge)
	if err != nil {
		s.log.Error(ctx, "retention failed", logger.Error(err))
		return
	}
	s.log.Debug(ctx, "retention completed", logger.Int("deleted", deleted))
}
