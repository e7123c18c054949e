package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	at    []time.Time
}

func (r *recorder) action(name string) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		r.at = append(r.at, time.Now())
	}
}

func (r *recorder) snapshot() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]time.Time(nil), r.at...)
}

func TestSchedule_CoalescesToLatest(t *testing.T) {
	s := NewScheduler()
	rec := &recorder{}

	s.Schedule("X", 500*time.Millisecond, rec.action("a1"))
	time.Sleep(100 * time.Millisecond)
	second := time.Now()
	s.Schedule("X", 500*time.Millisecond, rec.action("a2"))

	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return len(calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// nothing else may arrive afterwards
	time.Sleep(600 * time.Millisecond)
	calls, at := rec.snapshot()
	require.Equal(t, []string{"a2"}, calls)

	elapsed := at[0].Sub(second)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 800*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestSchedule_KeysAreIndependent(t *testing.T) {
	s := NewScheduler()
	rec := &recorder{}

	s.Schedule("A", 80*time.Millisecond, rec.action("A"))
	s.Schedule("B", 20*time.Millisecond, rec.action("B"))

	// re-arming A must not hold back B
	time.Sleep(10 * time.Millisecond)
	s.Schedule("A", 80*time.Millisecond, rec.action("A2"))

	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return len(calls) == 2
	}, time.Second, 5*time.Millisecond)

	calls, _ := rec.snapshot()
	assert.Equal(t, []string{"B", "A2"}, calls)
}

func TestCancel(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	s.Schedule("X", 30*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, s.Pending("X"))
	assert.True(t, s.Cancel("X"))
	assert.False(t, s.Cancel("X"), "cancelling twice is a no-op")
	assert.False(t, s.Cancel("missing"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, s.Pending("X"))
}

func TestCancelAll(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	for _, key := range []string{"a", "b", "c"} {
		s.Schedule(key, 30*time.Millisecond, func() { fired.Add(1) })
	}
	assert.Equal(t, 3, s.CancelAll())
	assert.Equal(t, 0, s.CancelAll())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestFlush(t *testing.T) {
	s := NewScheduler()
	rec := &recorder{}

	s.Schedule("X", time.Hour, rec.action("x"))
	s.Schedule("Y", time.Hour, rec.action("y"))

	assert.True(t, s.Flush("X"))
	assert.False(t, s.Flush("X"))
	calls, _ := rec.snapshot()
	assert.Equal(t, []string{"x"}, calls)

	assert.Equal(t, 1, s.FlushAll())
	calls, _ = rec.snapshot()
	assert.Equal(t, []string{"x", "y"}, calls)
	assert.Equal(t, 0, s.Len())
}

func TestSchedule_ActionMayReschedule(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	var again func()
	again = func() {
		if fired.Add(1) < 3 {
			s.Schedule("X", 5*time.Millisecond, again)
		}
	}
	s.Schedule("X", 5*time.Millisecond, again)

	require.Eventually(t, func() bool { return fired.Load() == 3 }, time.Second, 5*time.Millisecond)
}
