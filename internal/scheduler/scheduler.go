package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marminbh/partner-sync-svc/internal/models"
	"github.com/marminbh/partner-sync-svc/internal/registry"
)

// Trigger fires a compensation run without blocking the caller.
// Implemented by the compensation engine.
type Trigger interface {
	TriggerAsync(topic string)
}

// ConfigSource supplies the desired trigger set. Implemented by the
// topic registry.
type ConfigSource interface {
	List() ([]models.TopicConfig, error)
}

// topicTimer is one live timer goroutine. Closing cancel asks it to
// exit; done is closed once it has, so Reload can wait for the old
// timer before installing a replacement.
type topicTimer struct {
	spec   string
	cancel chan struct{}
	done   chan struct{}
}

// Scheduler keeps exactly one live timer per enabled topic. Reload is
// the single mutating entry point: it diffs the stored configuration
// against the running timers and reconciles, never blocking on an
// in-flight compensation run.
type Scheduler struct {
	source  ConfigSource
	trigger Trigger
	logger  *zap.Logger

	mu      sync.Mutex
	timers  map[string]*topicTimer
	stopped bool
}

// New creates a Scheduler with no timers installed; call Reload to
// install the initial set.
func New(source ConfigSource, trigger Trigger, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		source:  source,
		trigger: trigger,
		logger:  logger,
		timers:  make(map[string]*topicTimer),
	}
}

// Reload reconciles the running timers with the stored configuration.
// Timers for disabled topics or changed cron expressions are stopped
// and fully drained before any replacement starts, so at most one live
// timer exists per topic at any instant.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	configs, err := s.source.List()
	if err != nil {
		return fmt.Errorf("failed to load topic configs: %w", err)
	}

	desired := make(map[string]string)
	for _, cfg := range configs {
		if cfg.Enabled {
			desired[cfg.Topic] = cfg.CronExpression
		}
	}

	// Stop timers that are no longer wanted or whose schedule changed.
	for topic, timer := range s.timers {
		spec, want := desired[topic]
		if want && spec == timer.spec {
			continue
		}
		s.stopTimer(topic, timer)
	}

	// Install timers for the rest.
	for topic, spec := range desired {
		if _, running := s.timers[topic]; running {
			continue
		}
		schedule, err := registry.ParseCron(spec)
		if err != nil {
			// A bad expression reaches here only if it bypassed SetCron
			// validation (hand-edited row); skip it rather than failing
			// every other topic.
			s.logger.Error("Skipping topic with unparsable cron expression",
				zap.String("topic", topic),
				zap.String("cron", spec),
				zap.Error(err),
			)
			continue
		}
		s.startTimer(topic, spec, schedule)
	}

	s.logger.Info("Scheduler reconciled",
		zap.Int("live_timers", len(s.timers)),
	)
	return nil
}

// Stop cancels all timers and waits for their goroutines to exit.
// In-flight compensation runs are not aborted; they finish on their own
// so watermark bookkeeping stays consistent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, timer := range s.timers {
		s.stopTimer(topic, timer)
	}
	s.stopped = true
	s.logger.Info("Scheduler stopped")
}

// Entries returns a snapshot of the live timers as topic -> cron spec.
func (s *Scheduler) Entries() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]string, len(s.timers))
	for topic, timer := range s.timers {
		entries[topic] = timer.spec
	}
	return entries
}

// startTimer launches the timer goroutine for one topic. Caller holds s.mu.
func (s *Scheduler) startTimer(topic, spec string, schedule cron.Schedule) {
	timer := &topicTimer{
		spec:   spec,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.timers[topic] = timer
	go s.run(topic, schedule, timer)

	s.logger.Info("Timer installed",
		zap.String("topic", topic),
		zap.String("cron", spec),
	)
}

// stopTimer cancels one timer and waits for its goroutine to exit.
// Caller holds s.mu.
func (s *Scheduler) stopTimer(topic string, timer *topicTimer) {
	close(timer.cancel)
	<-timer.done
	delete(s.timers, topic)

	s.logger.Info("Timer removed",
		zap.String("topic", topic),
	)
}

// run is the per-topic timer loop. Each fire hands off to the engine
// asynchronously; if the previous run is still active the engine skips
// the fire instead of queueing it.
func (s *Scheduler) run(topic string, schedule cron.Schedule, timer *topicTimer) {
	defer close(timer.done)

	for {
		next := schedule.Next(time.Now())
		wait := time.NewTimer(time.Until(next))

		select {
		case <-timer.cancel:
			wait.Stop()
			return
		case <-wait.C:
			s.logger.Debug("Timer fired",
				zap.String("topic", topic),
				zap.Time("scheduled_for", next),
			)
			s.trigger.TriggerAsync(topic)
		}
	}
}
