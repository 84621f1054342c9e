// Package scheduler runs the daily publish timer.
//
// A Scheduler is either paused (no pending timer) or armed (exactly one
// pending timer for the next occurrence of the configured UTC post time).
// Every change to active or post time is written to the schedule file
// before the in-memory state changes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryan-buckman/roadtrip/internal/logging"
	"github.com/bryan-buckman/roadtrip/internal/metrics"
)

// Publisher is called once per timer fire.
type Publisher interface {
	Publish(ctx context.Context) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context) error { return f(ctx) }

// Options configures a Scheduler.
type Options struct {
	Path           string // schedule file
	Clock          Clock
	Logger         logging.Logger
	Metrics        *metrics.Collector
	PublishTimeout time.Duration // zero means no limit
}

// Status is a snapshot of the scheduler.
type Status struct {
	Active   bool       `json:"active"`
	PostTime string     `json:"post_time"`
	NextFire *time.Time `json:"next_fire,omitempty"`
}

// Scheduler owns the daily post timer.
type Scheduler struct {
	publisher Publisher
	path      string
	clock     Clock
	logger    logging.Logger
	metrics   *metrics.Collector
	timeout   time.Duration

	mu       sync.Mutex
	ctx      context.Context
	active   bool
	postTime TimeOfDay
	pending  Timer
	next     time.Time
	gen      uint64
	stopped  bool
	inflight sync.WaitGroup
}

// New creates a paused scheduler. Call Start to load the schedule file.
func New(publisher Publisher, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Scheduler{
		publisher: publisher,
		path:      opts.Path,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		timeout:   opts.PublishTimeout,
		ctx:       context.Background(),
		postTime:  DefaultPostTime,
	}
}

// Start loads the schedule file and arms the timer if the schedule is
// active. ctx is passed to every scheduled publish.
func (s *Scheduler) Start(ctx context.Context) error {
	cfg, err := LoadConfig(s.path)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.active = cfg.Active
	s.postTime = cfg.PostTime
	if s.active {
		s.armLocked(s.clock.Now())
	}
	s.logger.WithFields(logging.Fields{
		"active":    s.active,
		"post_time": s.postTime.String(),
		"next_fire": s.next,
	}).Info("scheduler started")
	return nil
}

// Stop cancels the pending timer and waits for an in-flight publish to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelLocked()
	s.mu.Unlock()
	s.inflight.Wait()
}

// Status returns the current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Active: s.active, PostTime: s.postTime.String()}
	if s.pending != nil {
		next := s.next
		st.NextFire = &next
	}
	return st
}

// SetActive persists the active flag and arms or cancels the timer.
// Activating an already armed scheduler keeps the existing timer.
// Deactivating never aborts a publish that is already running.
func (s *Scheduler) SetActive(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := SaveConfig(s.path, Config{Active: active, PostTime: s.postTime}); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	s.active = active
	if active {
		if s.pending == nil {
			s.armLocked(s.clock.Now())
		}
	} else {
		s.cancelLocked()
	}
	s.logger.WithFields(logging.Fields{"active": active, "next_fire": s.next}).Info("scheduler status changed")
	return nil
}

// Resume is SetActive(true).
func (s *Scheduler) Resume() error { return s.SetActive(true) }

// Pause is SetActive(false).
func (s *Scheduler) Pause() error { return s.SetActive(false) }

// Reschedule changes the daily post time. Invalid input is rejected before
// anything is persisted. An active scheduler is re-armed for the new time.
func (s *Scheduler) Reschedule(text string) error {
	t, err := ParseTimeOfDay(text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := SaveConfig(s.path, Config{Active: s.active, PostTime: t}); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	s.postTime = t
	if s.active {
		s.cancelLocked()
		s.armLocked(s.clock.Now())
	}
	s.logger.WithFields(logging.Fields{"post_time": t.String(), "next_fire": s.next}).Info("scheduler rescheduled")
	return nil
}

// armLocked schedules a fire for the first post time after from.
func (s *Scheduler) armLocked(from time.Time) {
	next := s.postTime.Next(from)
	s.gen++
	gen := s.gen
	s.next = next
	s.pending = s.clock.AfterFunc(next.Sub(s.clock.Now()), func() { s.fire(gen) })
	s.metrics.SetArmed(true)
}

func (s *Scheduler) cancelLocked() {
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = nil
	s.next = time.Time{}
	s.gen++
	s.metrics.SetArmed(false)
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.pending == nil {
		s.mu.Unlock()
		return
	}
	target := s.next
	s.pending = nil
	s.next = time.Time{}
	s.metrics.SetArmed(false)
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.metrics.SchedulerFired()
	s.runPublish(ctx, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.active || s.pending != nil {
		return
	}
	// An early wake-up must not fire again for the same day.
	from := s.clock.Now()
	if target.After(from) {
		from = target
	}
	s.armLocked(from)
	s.logger.WithField("next_fire", s.next).Debug("scheduler re-armed")
}

func (s *Scheduler) runPublish(ctx context.Context, target time.Time) {
	log := s.logger.WithField("scheduled_for", target)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("scheduled publish panicked")
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	log.Info("scheduled publish starting")
	if err := s.publisher.Publish(ctx); err != nil {
		log.WithError(err).Error("scheduled publish failed")
		return
	}
	log.Info("scheduled publish finished")
}
