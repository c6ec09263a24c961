// Package scheduler runs named jobs on cron schedules without ever
// overlapping two runs of the same job.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions and descriptors such as
// "@every 10s" or "@hourly".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name string
	Spec string
	Next time.Time
}

// Scheduler wraps a cron runner. Jobs receive the context passed to Run.
type Scheduler struct {
	cron  *cron.Cron
	chain cron.Chain
	log   *log.Logger

	mu    sync.Mutex
	ctx   context.Context
	names map[cron.EntryID]string
	specs map[cron.EntryID]string
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Logger   *log.Logger
	Location *time.Location // default time.Local
}

// New creates a Scheduler.
func New(opts Opts) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: logger}
	return &Scheduler{
		cron:  cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithLogger(cl)),
		chain: cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		log:   logger,
		ctx:   context.Background(),
		names: make(map[cron.EntryID]string),
		specs: make(map[cron.EntryID]string),
	}
}

// ValidateSpec reports whether spec is a schedule the Scheduler accepts.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers job under name on spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	sched, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("scheduler: add %s: invalid schedule %q: %w", name, spec, err)
	}
	id := s.cron.Schedule(sched, s.wrap(name, job))

	s.mu.Lock()
	s.names[id] = name
	s.specs[id] = spec
	s.mu.Unlock()

	s.log.Debug("job scheduled", "job", name, "schedule", spec)
	return nil
}

// Entries lists the registered jobs with their next fire times. Next is
// zero until Run has started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.cron.Entries() {
		out = append(out, Entry{Name: s.names[e.ID], Spec: s.specs[e.ID], Next: e.Next})
	}
	return out
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits
// for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// wrap turns job into a cron.Job that logs each run under a fresh run id.
// A run that is still going when the next fire time arrives causes that
// fire to be skipped.
func (s *Scheduler) wrap(name string, job Job) cron.Job {
	return s.chain.Then(cron.FuncJob(func() {
		ctx := s.context()
		if ctx.Err() != nil {
			return
		}
		logger := s.log.With("job", name, "run", uuid.NewString())
		start := time.Now()
		logger.Debug("job started")
		if err := job(ctx); err != nil {
			logger.Error("job failed", "err", err, "duration", time.Since(start))
			return
		}
		logger.Debug("job finished", "duration", time.Since(start))
	}))
}

// cronLogger adapts a charm logger to cron.Logger.
type cronLogger struct {
	log *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
