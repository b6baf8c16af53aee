// Package scheduler wraps robfig/cron behind an explicit object so jobs are
// registered, inspected, and triggered through the instance the caller owns.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

// Job is a named unit of scheduled work.
type Job func()

type entry struct {
	id   cron.EntryID
	spec string
	fn   Job
}

// Scheduler runs registered jobs on cron schedules. All methods are safe for
// concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]*entry
	running bool
}

func New() *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]*entry),
	}
}

// Register adds a named job. The spec uses standard 5-field cron syntax.
// Registering a duplicate name is an error; jobs are wired once at startup.
func (s *Scheduler) Register(name, spec string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %q is already registered", name)
	}

	wrapped := func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("scheduled job %q panicked: %v", name, rec)
			}
		}()
		start := time.Now()
		log.Infof("scheduled job %q starting", name)
		fn()
		log.Infof("scheduled job %q finished in %s", name, time.Since(start).Round(time.Millisecond))
	}

	id, err := s.cron.AddFunc(spec, wrapped)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", spec, name, err)
	}
	s.entries[name] = &entry{id: id, spec: spec, fn: wrapped}
	return nil
}

// Start begins running schedules. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	log.Infof("scheduler started with %d job(s)", len(s.entries))
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	log.Info("scheduler stopped")
}

// RunNow triggers a registered job immediately, off-schedule, in the calling
// goroutine's background. Used by the admin trigger endpoint.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job registered as %q", name)
	}
	go e.fn()
	return nil
}

// JobStatus describes one registered job for the status endpoint.
type JobStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	PrevRun  *time.Time `json:"prev_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// Status lists all registered jobs with their last and next run times.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for name, e := range s.entries {
		st := JobStatus{Name: name, Schedule: e.spec}
		ce := s.cron.Entry(e.id)
		if !ce.Prev.IsZero() {
			prev := ce.Prev
			st.PrevRun = &prev
		}
		if s.running && !ce.Next.IsZero() {
			next := ce.Next
			st.NextRun = &next
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Names returns the registered job names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}
