// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/user/assetlink/internal/state"
)

// Handler is called each time a scheduled job fires.
type Handler func(job *state.Job)

// Scheduler evaluates the cron schedules of stored jobs and fires them
// through a handler.
type Scheduler struct {
	store   *state.JobStore
	handler Handler

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule parses as a cron expression.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

func New(store *state.JobStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every enabled job that has a schedule and starts the
// cron ticker. Jobs with an unparsable schedule are logged and skipped.
func (s *Scheduler) Start() error {
	jobs, err := s.store.List()
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cron.EntryID)
	for _, job := range jobs {
		if job.Schedule == "" || !job.Enabled {
			continue
		}
		job := job
		id, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Info("cron firing job", "job", job.Name, "asset", job.Asset)
			s.handler(job)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		s.entries[job.Name] = id
		slog.Info("scheduled job", "job", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload drops every registered job and starts again from the store.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	<-s.cron.Stop().Done()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Scheduled returns the names of the registered jobs.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Stop stops the cron ticker. Jobs already firing keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}
