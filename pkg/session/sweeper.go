package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSweepSchedule runs the retention sweep nightly at 04:00.
const DefaultSweepSchedule = "0 4 * * *"

// Sweeper deletes stale records from a Store on a cron schedule.
type Sweeper struct {
	store    *Store
	maxAge   time.Duration
	schedule string
	stopCh   chan struct{}
	running  bool
	onSweep  func(deleted int)
}

// NewSweeper creates a sweeper that removes records older than maxAge.
// An empty schedule falls back to DefaultSweepSchedule.
func NewSweeper(store *Store, maxAge time.Duration, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop. A non-positive maxAge disables sweeping
// entirely and Start is a no-op.
func (sw *Sweeper) Start() error {
	if sw.running {
		return fmt.Errorf("sweeper is already running")
	}

	if sw.maxAge <= 0 {
		log.Info().Msg("Session sweeping disabled, retention is off")
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(sw.schedule)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", sw.schedule, err)
	}

	sw.running = true
	go sw.run(sched)

	log.Info().
		Str("schedule", sw.schedule).
		Dur("max_age", sw.maxAge).
		Msg("Session sweeper started")

	return nil
}

// Stop stops the sweep loop.
func (sw *Sweeper) Stop() error {
	if !sw.running {
		return fmt.Errorf("sweeper is not running")
	}

	close(sw.stopCh)
	sw.running = false

	log.Info().Msg("Session sweeper stopped")

	return nil
}

// run fires the sweep at each schedule boundary until stopped.
func (sw *Sweeper) run(sched cron.Schedule) {
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			if _, err := sw.SweepNow(); err != nil {
				log.Error().Err(err).Msg("Failed to sweep session records")
			}
		case <-sw.stopCh:
			timer.Stop()
			return
		}
	}
}

// SweepNow immediately runs one sweep.
func (sw *Sweeper) SweepNow() (int, error) {
	deleted, err := sw.store.Sweep(sw.maxAge)
	if err == nil && sw.onSweep != nil {
		sw.onSweep(deleted)
	}
	return deleted, err
}

// OnSweep registers a callback invoked after every successful sweep with
// the number of records deleted. Must be set before Start.
func (sw *Sweeper) OnSweep(fn func(deleted int)) {
	sw.onSweep = fn
}

// IsRunning returns whether the sweep loop is active.
func (sw *Sweeper) IsRunning() bool {
	return sw.running
}

// NextRun returns the next scheduled sweep time.
func (sw *Sweeper) NextRun() (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(sw.schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid sweep schedule %q: %w", sw.schedule, err)
	}
	return sched.Next(time.Now()), nil
}
