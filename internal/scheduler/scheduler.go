// Package scheduler triggers workflows on cron schedules.
//
// Flows in the catalog may carry a standard 5-field cron expression (or a
// descriptor such as "@daily"); each one becomes a job that calls Trigger.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a schedule the Scheduler accepts.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Triggerer starts a flow run by id.
type Triggerer interface {
	Trigger(id string) (models.Flow, error)
}

// Entry describes one registered job.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	location *time.Location
}

// WithLocation evaluates schedules in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron

	mu    sync.Mutex
	names map[cron.EntryID]Entry
}

// NewScheduler creates and starts a cron scheduler. Panicking jobs are
// recovered and logged.
func NewScheduler(opts ...Option) *Scheduler {
	o := options{location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	logger := cron.VerbosePrintfLogger(slogPrintf{})
	c := cron.New(cron.WithParser(parser), cron.WithLocation(o.location), cron.WithChain(cron.Recover(logger)))
	c.Start()
	return &Scheduler{cron: c, names: make(map[cron.EntryID]Entry)}
}

// AddJob schedules task under name. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", expr, name, err)
	}
	s.mu.Lock()
	s.names[id] = Entry{Name: name, Schedule: expr}
	s.mu.Unlock()
	slog.Debug("Scheduler.AddJob: job scheduled", "name", name, "schedule", expr)
	return nil
}

// ScheduleFlows registers a job for every flow with a schedule and returns how
// many were added. A scheduled run that finds its flow still running is skipped.
func (s *Scheduler) ScheduleFlows(t Triggerer, flows []models.Flow) (int, error) {
	var errs []error
	added := 0
	for _, f := range flows {
		if f.Schedule == "" {
			continue
		}
		id := f.ID
		err := s.AddJob(id, f.Schedule, func() {
			if _, err := t.Trigger(id); err != nil {
				slog.Warn("Scheduler: scheduled flow not started", "flow", id, "error", err)
				return
			}
			slog.Info("Scheduler: scheduled flow started", "flow", id)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}

// Entries lists the registered jobs with their next activation.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.cron.Entries() {
		entry := s.names[e.ID]
		entry.Next = e.Next
		out = append(out, entry)
	}
	return out
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

type slogPrintf struct{}

func (slogPrintf) Printf(format string, args ...interface{}) {
	slog.Error("Scheduler: " + fmt.Sprintf(format, args...))
}
