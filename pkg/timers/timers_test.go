package timers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnceFiresExactlyOnceWithArgs(t *testing.T) {
	r := New()
	var got []any
	done := make(chan struct{})
	r.Once(func(args []any) {
		got = args
		close(done)
	}, 5*time.Millisecond, "x", 1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	require.Equal(t, []any{"x", 1}, got)
}

func TestRepeatFiresBoundedCount(t *testing.T) {
	r := New()
	var count int32
	done := make(chan struct{})
	r.Repeat(func(args []any) {
		n := atomic.AddInt32(&count, 1)
		if n == 3 {
			close(done)
		}
	}, 2*time.Millisecond, 0, 3)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not reach 3 fires")
	}
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 3, atomic.LoadInt32(&count))
}

func TestCancelStopsFutureFires(t *testing.T) {
	r := New()
	var count int32
	h := r.Repeat(func(args []any) {
		atomic.AddInt32(&count, 1)
	}, 5*time.Millisecond, 5*time.Millisecond, 0)

	time.Sleep(12 * time.Millisecond)
	h.Cancel()
	after := atomic.LoadInt32(&count)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&count))
}

func TestCancelAllStopsEveryTimer(t *testing.T) {
	r := New()
	var count int32
	r.Repeat(func(args []any) { atomic.AddInt32(&count, 1) }, 5*time.Millisecond, 5*time.Millisecond, 0)
	r.Once(func(args []any) { atomic.AddInt32(&count, 1) }, 50*time.Millisecond)

	time.Sleep(12 * time.Millisecond)
	r.CancelAll()
	after := atomic.LoadInt32(&count)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&count))
}

func TestPauseResumeDelaysNextFire(t *testing.T) {
	r := New()
	var count int32
	h := r.Once(func(args []any) { atomic.AddInt32(&count, 1) }, 10*time.Millisecond)

	h.Pause(0)
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&count), "should not fire while paused")

	done := make(chan struct{})
	r2 := New()
	h2 := r2.Once(func(args []any) { close(done) }, 200*time.Millisecond)
	h2.Pause(0)
	h2.Resume(5 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resumed timer never fired")
	}
}

func TestScheduleAfterCancelAllIsNoop(t *testing.T) {
	r := New()
	r.CancelAll()
	var fired int32
	r.Once(func(args []any) { atomic.AddInt32(&fired, 1) }, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&fired))
}
