// Package portal implements the remote portal/proxy of spec §4.6: resolve
// a destination via the registry's placement rules, invoke through a
// transport with backoff/redirect/deadline handling, and report a
// structured INVOKE_ERROR with the full attempt list on exhaustion.
//
// Grounded on nola's InvokeActor/InvokeActorDirect (virtual/environment.go)
// for the overall "resolve, call, on certain errors retry" shape, and on
// nola's ristretto-backed activation cache (environment.go's
// activationCache field) for the resolve cache below.
package portal

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/backoff"
	"github.com/darlean-io/darlean-go/pkg/registry"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

const redirectCap = 3

// Resolver is the subset of the registry a Portal needs: the current
// placement snapshot for an actor type, and which application this
// (type,id) was last successfully invoked on (for sticky placement).
type Resolver interface {
	Snapshot(actorType string) (registry.ActorInfo, bool)
	LastUsed(actorType, idKey string) string
	RecordUsed(actorType, idKey, app string)
}

// Options configures a Portal.
type Options struct {
	AttemptTimeout time.Duration
	Deadline       time.Duration
	Backoff        backoff.Options
	CacheCapacity  int64
}

func (o Options) withDefaults() Options {
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 5 * time.Second
	}
	if o.Deadline <= 0 {
		o.Deadline = 30 * time.Second
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 1 << 16
	}
	return o
}

// Portal is the application-facing entry point: retrieve(type,id) ->
// Proxy, per spec §4.6.
type Portal struct {
	transport transport.Transport
	resolver  Resolver
	opts      Options
	cache     *ristretto.Cache
}

// New constructs a Portal.
func New(tp transport.Transport, resolver Resolver, opts Options) (*Portal, error) {
	opts = opts.withDefaults()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheCapacity * 10,
		MaxCost:     opts.CacheCapacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Portal{transport: tp, resolver: resolver, opts: opts, cache: cache}, nil
}

// Retrieve returns a stateless Proxy for (actorType, id).
func (p *Portal) Retrieve(actorType string, id actor.ID) *Proxy {
	return &Proxy{portal: p, actorType: actorType, id: id}
}

// Typed returns a sub-view bound to one actor type, mirroring spec §4.6's
// `typed(type)`.
func (p *Portal) Typed(actorType string) *TypedPortal {
	return &TypedPortal{portal: p, actorType: actorType}
}

// Prefix returns a sub-view that prepends prefix to every id it is asked
// to retrieve, mirroring spec §4.6's `prefix(prefix)`.
func (p *Portal) Prefix(prefix []string) *PrefixPortal {
	return &PrefixPortal{portal: p, prefix: append([]string(nil), prefix...)}
}

// TypedPortal is Portal restricted to one actor type.
type TypedPortal struct {
	portal    *Portal
	actorType string
}

func (t *TypedPortal) Retrieve(id actor.ID) *Proxy {
	return t.portal.Retrieve(t.actorType, id)
}

// PrefixPortal is Portal that prepends a fixed id prefix.
type PrefixPortal struct {
	portal *Portal
	prefix []string
}

func (p *PrefixPortal) Retrieve(actorType string, id actor.ID) *Proxy {
	full := actor.NewID(id.Type, append(append([]string(nil), p.prefix...), id.Parts...)...)
	return p.portal.Retrieve(actorType, full)
}

func cacheKey(actorType, idKey string) string {
	return actorType + "\x00" + idKey
}

func (p *Portal) cachedDestination(actorType, idKey string) (string, bool) {
	v, ok := p.cache.Get(cacheKey(actorType, idKey))
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (p *Portal) cacheDestination(actorType, idKey, app string) {
	p.cache.SetWithTTL(cacheKey(actorType, idKey), app, 1, time.Minute)
}

func (p *Portal) invalidateDestination(actorType, idKey string) {
	p.cache.Del(cacheKey(actorType, idKey))
}

func normalizeAction(name string) string {
	return strings.ToLower(name)
}
