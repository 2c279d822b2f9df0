package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	JobRecalculate = "recalculate"
	JobRefresh     = "refresh"
	JobPrune       = "prune"
	JobDigest      = "digest"

	defaultTimeout = 10 * time.Minute
	pruneSchedule  = "15 3 * * *"
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// New creates a new scheduler with the given timezone. A run that is still
// going when its next tick arrives makes that tick a no-op.
func New(timezone string, log zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	log = log.With().Str("component", "scheduler").Logger()
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
	)

	return &Scheduler{
		cron:     c,
		jobs:     make(map[string]cron.EntryID),
		timezone: loc,
		timeout:  defaultTimeout,
		log:      log,
	}, nil
}

// AddJob adds a job with a cron schedule, replacing any job of the same name.
// schedule format: "*/30 * * * *" or "@every 15m"
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(name, job); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = entryID
	s.mu.Unlock()

	s.log.Info().Str("job", name).Str("schedule", schedule).Msg("added job")
	return nil
}

// AddRecalculationJob schedules affinity recalculation.
func (s *Scheduler) AddRecalculationJob(schedule string, job Job) error {
	return s.AddJob(JobRecalculate, schedule, job)
}

// AddRefreshJob schedules a timeline refresh every intervalMinutes.
func (s *Scheduler) AddRefreshJob(intervalMinutes int, job Job) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("invalid refresh interval %d", intervalMinutes)
	}
	return s.AddJob(JobRefresh, fmt.Sprintf("@every %dm", intervalMinutes), job)
}

// AddPruneJob schedules candidate pruning once a day.
func (s *Scheduler) AddPruneJob(job Job) error {
	return s.AddJob(JobPrune, pruneSchedule, job)
}

// AddDigestJob schedules a job once a day at timeStr ("15:04") in the
// scheduler's timezone.
func (s *Scheduler) AddDigestJob(timeStr string, job Job) error {
	t, err := time.Parse("15:04", timeStr)
	if err != nil {
		return fmt.Errorf("invalid digest time %q: %w", timeStr, err)
	}
	return s.AddJob(JobDigest, fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), job)
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.log.Info().Str("job", name).Msg("removed job")
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.log.Info().Str("timezone", s.timezone.String()).Msg("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a job outside the schedule.
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Debug().Str("job", name).Msg("starting job")
	start := time.Now()
	if err := job(ctx); err != nil {
		return err
	}
	s.log.Info().Str("job", name).Dur("duration_ms", time.Since(start)).Msg("job completed")
	return nil
}

// ListJobs returns info about scheduled jobs, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()

	s.mu.Lock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
