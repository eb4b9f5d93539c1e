package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

// everySecond fires at each whole second, the fastest expression the
// parser accepts; tests wait a bounded real-time window around it.
const everySecond = "* * * * * *"

type fakeSource struct {
	mu      sync.Mutex
	configs []models.TopicConfig
}

func (f *fakeSource) List() ([]models.TopicConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TopicConfig, len(f.configs))
	copy(out, f.configs)
	return out, nil
}

func (f *fakeSource) set(topic, cronExpr string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.configs {
		if f.configs[i].Topic == topic {
			f.configs[i].CronExpression = cronExpr
			f.configs[i].Enabled = enabled
			return
		}
	}
	f.configs = append(f.configs, models.TopicConfig{
		Topic:          topic,
		CronExpression: cronExpr,
		Enabled:        enabled,
	})
}

type countingTrigger struct {
	fires atomic.Int64
}

func (c *countingTrigger) TriggerAsync(string) {
	c.fires.Add(1)
}

func TestReloadInstallsAndRemovesTimers(t *testing.T) {
	source := &fakeSource{}
	trigger := &countingTrigger{}
	sched := New(source, trigger, zap.NewNop())
	defer sched.Stop()

	source.set("maintenance.task", "0 */10 * * * *", true)
	source.set("fault.report", "0 */5 * * * *", false)

	require.NoError(t, sched.Reload())
	require.Equal(t, map[string]string{
		"maintenance.task": "0 */10 * * * *",
	}, sched.Entries(), "only enabled topics get timers")

	// Reloading twice in a row must not duplicate or orphan timers.
	require.NoError(t, sched.Reload())
	require.Len(t, sched.Entries(), 1)

	source.set("maintenance.task", "0 */10 * * * *", false)
	require.NoError(t, sched.Reload())
	require.Empty(t, sched.Entries())
}

func TestCronChangeReinstallsTimer(t *testing.T) {
	source := &fakeSource{}
	trigger := &countingTrigger{}
	sched := New(source, trigger, zap.NewNop())
	defer sched.Stop()

	source.set("halt.task", "0 */30 * * * *", true)
	require.NoError(t, sched.Reload())

	source.set("halt.task", "0 0 * * * *", true)
	require.NoError(t, sched.Reload())
	require.Equal(t, map[string]string{"halt.task": "0 0 * * * *"}, sched.Entries())
}

func TestDisabledTopicStopsFiring(t *testing.T) {
	source := &fakeSource{}
	trigger := &countingTrigger{}
	sched := New(source, trigger, zap.NewNop())
	defer sched.Stop()

	source.set("rotation.task", everySecond, true)
	require.NoError(t, sched.Reload())

	// Wait for at least one fire.
	deadline := time.After(3 * time.Second)
	for trigger.fires.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timer never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}

	// Disable and reconcile: reload returns only after the timer
	// goroutine exited, so no further fires can happen.
	source.set("rotation.task", everySecond, false)
	require.NoError(t, sched.Reload())
	require.Empty(t, sched.Entries())

	firesAfterDisable := trigger.fires.Load()
	time.Sleep(1500 * time.Millisecond)
	require.Equal(t, firesAfterDisable, trigger.fires.Load(), "disabled topic must not fire")

	// Re-enabling installs exactly one live timer again.
	source.set("rotation.task", everySecond, true)
	require.NoError(t, sched.Reload())
	require.NoError(t, sched.Reload())
	require.Len(t, sched.Entries(), 1)
}

func TestReloadSkipsUnparsableCron(t *testing.T) {
	source := &fakeSource{}
	trigger := &countingTrigger{}
	sched := New(source, trigger, zap.NewNop())
	defer sched.Stop()

	source.set("maintenance.task", "garbage", true)
	source.set("fault.report", "0 */5 * * * *", true)

	require.NoError(t, sched.Reload())
	require.Equal(t, map[string]string{
		"fault.report": "0 */5 * * * *",
	}, sched.Entries(), "valid topics still get timers")
}

func TestStopPreventsFurtherReload(t *testing.T) {
	source := &fakeSource{}
	sched := New(source, &countingTrigger{}, zap.NewNop())

	sched.Stop()
	require.Error(t, sched.Reload())
}
