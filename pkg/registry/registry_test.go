package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushThenObtainSeesApplication(t *testing.T) {
	r := New(time.Second)
	r.Push("app-a", map[string]ActorInfo{
		"greeter": {Placement: Placement{Version: "1"}},
	})
	snap := r.Obtain(context.Background(), nil, "")
	require.Contains(t, snap.ActorInfo, "greeter")
	require.Equal(t, []string{"app-a"}, snap.ActorInfo["greeter"].Applications)
}

func TestObtainFiltersByActorType(t *testing.T) {
	r := New(time.Second)
	r.Push("app-a", map[string]ActorInfo{
		"greeter": {},
		"counter": {},
	})
	snap := r.Obtain(context.Background(), []string{"greeter"}, "")
	require.Contains(t, snap.ActorInfo, "greeter")
	require.NotContains(t, snap.ActorInfo, "counter")
}

func TestObtainLongPollWakesOnPush(t *testing.T) {
	r := New(5 * time.Second)
	first := r.Obtain(context.Background(), nil, "")

	done := make(chan Snapshot, 1)
	go func() {
		done <- r.Obtain(context.Background(), nil, first.Nonce)
	}()

	time.Sleep(10 * time.Millisecond)
	r.Push("app-a", map[string]ActorInfo{"greeter": {}})

	select {
	case snap := <-done:
		require.NotEqual(t, first.Nonce, snap.Nonce)
	case <-time.After(time.Second):
		t.Fatal("Obtain did not wake on push")
	}
}

func TestObtainLongPollTimesOut(t *testing.T) {
	r := New(10 * time.Millisecond)
	first := r.Obtain(context.Background(), nil, "")
	snap := r.Obtain(context.Background(), nil, first.Nonce)
	require.Equal(t, first.Nonce, snap.Nonce)
}

func TestNewerVersionSupersedesPlacement(t *testing.T) {
	r := New(time.Second)
	r.Push("app-a", map[string]ActorInfo{"greeter": {Placement: Placement{Version: "1", Sticky: false}}})
	r.Push("app-b", map[string]ActorInfo{"greeter": {Placement: Placement{Version: "2", Sticky: true}}})
	snap := r.Obtain(context.Background(), nil, "")
	require.True(t, snap.ActorInfo["greeter"].Placement.Sticky)
	require.ElementsMatch(t, []string{"app-a", "app-b"}, snap.ActorInfo["greeter"].Applications)
}

func TestIncGeneration(t *testing.T) {
	r := New(time.Second)
	require.EqualValues(t, 0, r.Generation("greeter", "42"))
	require.EqualValues(t, 1, r.IncGeneration("greeter", "42"))
	require.EqualValues(t, 2, r.IncGeneration("greeter", "42"))
	require.EqualValues(t, 2, r.Generation("greeter", "42"))
}

func TestResolveBindIdx(t *testing.T) {
	idx := -1
	info := ActorInfo{Applications: []string{"app-a"}, Placement: Placement{BindIdx: &idx}}
	app, err := Resolve(info, []string{"tenant-1", "app-a"}, "")
	require.Nil(t, err)
	require.Equal(t, "app-a", app)

	_, err2 := Resolve(info, []string{"tenant-1", "app-b"}, "")
	require.NotNil(t, err2)
}

func TestResolveStickyPrefersLastUsed(t *testing.T) {
	info := ActorInfo{Applications: []string{"app-a", "app-b"}, Placement: Placement{Sticky: true}}
	app, err := Resolve(info, []string{"42"}, "app-b")
	require.Nil(t, err)
	require.Equal(t, "app-b", app)
}

func TestResolveNoApplicationsFails(t *testing.T) {
	_, err := Resolve(ActorInfo{}, []string{"42"}, "")
	require.NotNil(t, err)
}
