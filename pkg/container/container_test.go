package container

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/wrapper"
	"github.com/stretchr/testify/require"
)

type noopActor struct{}

func (noopActor) Invoke(ctx context.Context, action string, args []any) (any, error) { return "ok", nil }

func newReg() *wrapper.Registration {
	return &wrapper.Registration{
		ActorType: "t",
		Kind:      actor.Multiplar,
		Actions: map[string]actor.ActionDescriptor{
			"ping": {Name: "ping", Locking: actor.LockShared, Kind: actor.KindAction},
		},
		Constructor: func(id actor.ID) (wrapper.Instance, error) { return noopActor{}, nil },
	}
}

func TestObtainLazyFailsWhenAbsent(t *testing.T) {
	c := New(newReg(), Options{}, nil)
	_, err := c.Obtain(context.Background(), actor.NewID("t", "x"), true)
	require.NotNil(t, err)
	require.Equal(t, actorerror.CodeUnknownInstance, err.Code)
}

func TestObtainCreatesLazily(t *testing.T) {
	c := New(newReg(), Options{}, nil)
	w, err := c.Obtain(context.Background(), actor.NewID("t", "x"), false)
	require.Nil(t, err)
	require.NotNil(t, w)

	w2, err := c.Obtain(context.Background(), actor.NewID("t", "x"), true)
	require.Nil(t, err)
	require.Same(t, w, w2)
}

func TestLRUEviction(t *testing.T) {
	c := New(newReg(), Options{Capacity: 10}, nil)

	var wrappers []*wrapper.Wrapper
	for i := 0; i < 10; i++ {
		w, err := c.Obtain(context.Background(), actor.NewID("t", fmt.Sprint(i)), false)
		require.Nil(t, err)
		wrappers = append(wrappers, w)
	}

	// Obtaining an 11th id should evict the least-recently-used (id "0").
	_, err := c.Obtain(context.Background(), actor.NewID("t", "10"), false)
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		return wrappers[0].State() == wrapper.StateDead
	}, time.Second, 5*time.Millisecond)

	_, invokeErr := wrappers[0].Invoke(context.Background(), "ping", nil)
	require.NotNil(t, invokeErr)
	require.Equal(t, actorerror.CodeDeactivated, invokeErr.Code)
}

func TestPerformFinalization(t *testing.T) {
	c := New(newReg(), Options{}, nil)
	id := actor.NewID("t", "x")
	w, err := c.Obtain(context.Background(), id, false)
	require.Nil(t, err)

	require.NoError(t, c.PerformFinalization(context.Background(), id))
	require.Equal(t, wrapper.StateDead, w.State())

	_, err2 := c.Obtain(context.Background(), id, true)
	require.NotNil(t, err2)
}

func TestMultiTypeUnknownType(t *testing.T) {
	m := NewMultiType(nil)
	_, err := m.Obtain(context.Background(), "missing", actor.NewID("missing", "x"), false)
	require.NotNil(t, err)
	require.Equal(t, actorerror.CodeUnknownActorType, err.Code)
}

func TestMultiTypeFinalizeReverseOrder(t *testing.T) {
	m := NewMultiType(nil)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		reg := &wrapper.Registration{
			ActorType: name,
			Kind:      actor.Multiplar,
			Actions:   map[string]actor.ActionDescriptor{"ping": {Name: "ping", Kind: actor.KindAction}},
			Constructor: func(id actor.ID) (wrapper.Instance, error) {
				return deactivateRecorder{name: name, order: &order}, nil
			},
		}
		c := m.Register(reg, Options{})
		w, err := c.Obtain(context.Background(), actor.NewID(name, "1"), false)
		require.Nil(t, err)
		// Obtain does not construct the instance; the first call does.
		_, invErr := w.Invoke(context.Background(), "ping", nil)
		require.Nil(t, invErr)
	}

	m.Finalize(context.Background())
	require.Equal(t, []string{"c", "b", "a"}, order)
}

type deactivateRecorder struct {
	name  string
	order *[]string
}

func (d deactivateRecorder) Invoke(ctx context.Context, action string, args []any) (any, error) {
	return nil, nil
}

func (d deactivateRecorder) Deactivate(ctx context.Context) error {
	*d.order = append(*d.order, d.name)
	return nil
}
