package wrapper

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/timers"
	"github.com/stretchr/testify/require"
)

type counter struct {
	activated   bool
	deactivated bool
	n           int64
}

func (c *counter) Activate(ctx context.Context) error {
	c.activated = true
	return nil
}

func (c *counter) Deactivate(ctx context.Context) error {
	c.deactivated = true
	return nil
}

func (c *counter) Invoke(ctx context.Context, action string, args []any) (any, error) {
	switch action {
	case "inc":
		return atomic.AddInt64(&c.n, 1), nil
	case "get":
		return atomic.LoadInt64(&c.n), nil
	case "selfcall":
		// reentrant self-invocation through the same wrapper.
		w := ctx.Value(testWrapperKey{}).(*Wrapper)
		return w.Invoke(ctx, "inc", nil)
	case "boom":
		panic("kaboom")
	}
	return nil, nil
}

type testWrapperKey struct{}

func newCounterReg() *Registration {
	return &Registration{
		ActorType: "counter",
		Kind:      actor.Singular,
		Actions: map[string]actor.ActionDescriptor{
			"inc":      {Name: "inc", Locking: actor.LockExclusive, Kind: actor.KindAction},
			"get":      {Name: "get", Locking: actor.LockShared, Kind: actor.KindAction},
			"selfcall": {Name: "selfcall", Locking: actor.LockExclusive, Kind: actor.KindAction},
			"boom":     {Name: "boom", Locking: actor.LockExclusive, Kind: actor.KindAction},
		},
		Constructor: func(id actor.ID) (Instance, error) { return &counter{}, nil },
	}
}

func TestActivationAndInvoke(t *testing.T) {
	reg := newCounterReg()
	w := New(actor.NewID("counter", "a"), reg, nil)
	require.Equal(t, StateNew, w.State())

	v, err := w.Invoke(context.Background(), "inc", nil)
	require.Nil(t, err)
	require.Equal(t, int64(1), v)
	require.Equal(t, StateActive, w.State())
}

func TestUnknownAction(t *testing.T) {
	reg := newCounterReg()
	w := New(actor.NewID("counter", "a"), reg, nil)
	_, err := w.Invoke(context.Background(), "nope", nil)
	require.NotNil(t, err)
	require.Equal(t, actorerror.CodeUnknownAction, err.Code)
}

func TestDeactivateRejectsFutureCalls(t *testing.T) {
	reg := newCounterReg()
	w := New(actor.NewID("counter", "a"), reg, nil)
	_, err := w.Invoke(context.Background(), "inc", nil)
	require.Nil(t, err)

	require.NoError(t, w.Deactivate(context.Background()))

	_, err = w.Invoke(context.Background(), "inc", nil)
	require.NotNil(t, err)
	require.Equal(t, actorerror.CodeDeactivated, err.Code)
}

func TestPanicBecomesApplicationError(t *testing.T) {
	reg := newCounterReg()
	w := New(actor.NewID("counter", "a"), reg, nil)
	_, err := w.Invoke(context.Background(), "boom", nil)
	require.NotNil(t, err)
	require.Equal(t, actorerror.KindApplication, err.Kind)
}

func TestExclusiveExcludesShared(t *testing.T) {
	reg := newCounterReg()
	reg.Actions["exclusive-sleep"] = actor.ActionDescriptor{Name: "exclusive-sleep", Locking: actor.LockExclusive, Kind: actor.KindAction}
	w := New(actor.NewID("counter", "a"), reg, nil)

	var (
		mu      sync.Mutex
		overlap bool
		inExcl  bool
	)
	reg.Constructor = func(id actor.ID) (Instance, error) {
		return &lockObserverActor{
			onExclusive: func(inside func()) {
				mu.Lock()
				inExcl = true
				mu.Unlock()
				inside()
				mu.Lock()
				inExcl = false
				mu.Unlock()
			},
			onShared: func() {
				mu.Lock()
				if inExcl {
					overlap = true
				}
				mu.Unlock()
			},
		}, nil
	}
	w = New(actor.NewID("counter", "a"), reg, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Invoke(context.Background(), "exclusive-sleep", nil)
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		defer wg.Done()
		w.Invoke(context.Background(), "get", nil)
	}()
	wg.Wait()
	require.False(t, overlap)
}

func TestConcurrentFirstCallsBothActivate(t *testing.T) {
	reg := newCounterReg()
	w := New(actor.NewID("counter", "a"), reg, nil)

	var wg sync.WaitGroup
	results := make([]*actorerror.ActionError, 2)
	wg.Add(2)
	for i := range results {
		i := i
		go func() {
			defer wg.Done()
			_, err := w.Invoke(context.Background(), "get", nil)
			results[i] = err
		}()
	}
	wg.Wait()

	require.Nil(t, results[0])
	require.Nil(t, results[1])
	require.Equal(t, StateActive, w.State())
}

type timerActor struct {
	t     *timers.Registry
	fired int64
}

func (t *timerActor) SetTimers(r *timers.Registry) { t.t = r }

func (t *timerActor) Invoke(ctx context.Context, action string, args []any) (any, error) {
	switch action {
	case "schedule":
		t.t.Repeat(func(args []any) { atomic.AddInt64(&t.fired, 1) }, 3*time.Millisecond, 3*time.Millisecond, 0)
		return nil, nil
	}
	return nil, nil
}

func TestTimersCancelledOnDeactivate(t *testing.T) {
	ta := &timerActor{}
	reg := &Registration{
		ActorType: "timed",
		Kind:      actor.Singular,
		Actions: map[string]actor.ActionDescriptor{
			"schedule": {Name: "schedule", Locking: actor.LockExclusive, Kind: actor.KindAction},
		},
		Constructor: func(id actor.ID) (Instance, error) { return ta, nil },
	}
	w := New(actor.NewID("timed", "a"), reg, nil)

	_, err := w.Invoke(context.Background(), "schedule", nil)
	require.Nil(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, w.Deactivate(context.Background()))

	after := atomic.LoadInt64(&ta.fired)
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt64(&ta.fired))
}

type lockObserverActor struct {
	onExclusive func(func())
	onShared    func()
}

func (l *lockObserverActor) Invoke(ctx context.Context, action string, args []any) (any, error) {
	switch action {
	case "exclusive-sleep":
		l.onExclusive(func() { time.Sleep(20 * time.Millisecond) })
		return nil, nil
	case "get":
		l.onShared()
		return nil, nil
	}
	return nil, nil
}

func TestReentrantSelfCallDoesNotDeadlock(t *testing.T) {
	reg := newCounterReg()
	w := New(actor.NewID("counter", "a"), reg, nil)

	ctx := context.WithValue(context.Background(), testWrapperKey{}, w)
	done := make(chan struct{})
	go func() {
		_, err := w.Invoke(ctx, "selfcall", nil)
		require.Nil(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant self-call deadlocked")
	}
}
