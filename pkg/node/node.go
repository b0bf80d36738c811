package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darlean-io/darlean-go/pkg/actor"
	"github.com/darlean-io/darlean-go/pkg/container"
	"github.com/darlean-io/darlean-go/pkg/dlog"
	"github.com/darlean-io/darlean-go/pkg/lock"
	"github.com/darlean-io/darlean-go/pkg/persistence"
	"github.com/darlean-io/darlean-go/pkg/portal"
	"github.com/darlean-io/darlean-go/pkg/registry"
	"github.com/darlean-io/darlean-go/pkg/tables"
	"github.com/darlean-io/darlean-go/pkg/transport"
	"github.com/darlean-io/darlean-go/pkg/transport/grpctransport"
	"github.com/darlean-io/darlean-go/pkg/wrapper"
)

// Node is one running application: its own registry/lock/persistence
// views plus the actor container hosting whatever types the embedding
// program registers with it before calling Run.
type Node struct {
	cfg Config
	log *dlog.Logger

	transport transport.Transport
	local     *transport.Local
	grpcSrv   *grpctransport.Server

	metricsSrv *http.Server

	Registry   *registry.Registry
	registryCl *registry.Client
	resolver   *portal.RegistryResolver

	lockReplica *lock.Replica
	LockService *lock.Service

	Persistence *persistence.Service
	Tables      *tables.Service

	Portal *portal.Portal
	Types  *container.MultiType

	byActorType map[string]transport.Handler
	hostedTypes []string
}

// RegisterActor registers an application actor type with this node's
// container and records it as one this application hosts, so it is
// advertised on the next registry push.
func (n *Node) RegisterActor(reg *wrapper.Registration, opts container.Options) *container.Container {
	n.hostedTypes = append(n.hostedTypes, reg.ActorType)
	return n.Types.Register(reg, opts)
}

// New builds a Node from cfg but does not yet start listening; callers
// register their own actor types against Types before calling Run.
func New(cfg Config, metricsAddr string) (*Node, error) {
	log, err := dlog.New(cfg.AppID)
	if err != nil {
		return nil, fmt.Errorf("node: logger: %w", err)
	}

	n := &Node{cfg: cfg, log: log, byActorType: make(map[string]transport.Handler)}
	n.Types = container.NewMultiType(log)

	if err := n.wireTransport(); err != nil {
		return nil, err
	}
	n.wireRegistry()
	n.wireLock()
	n.wirePersistence()
	n.wirePortal()
	n.wireMetrics(metricsAddr)

	return n, nil
}

// wireTransport builds either a process-local router (single-node mode,
// RuntimeApps empty) or the grpctransport binding addressed directly by
// application id, mirroring nola's localEnvironmentsRouter-vs-real-network
// distinction (virtual/environment.go).
func (n *Node) wireTransport() error {
	for _, p := range n.cfg.Messaging.Providers {
		if p == "nats" {
			return fmt.Errorf("node: messaging provider %q is not implemented by this core (external collaborator per spec.md)", p)
		}
	}

	if len(n.cfg.RuntimeApps) == 0 {
		n.local = transport.NewLocal()
		n.transport = n.local
		return nil
	}

	client := grpctransport.NewClient(func(appID string) (string, bool) {
		if appID == n.cfg.AppID {
			return n.listenAddr(), true
		}
		for _, peer := range n.cfg.RuntimeApps {
			if peer == appID {
				return peer, true
			}
		}
		return "", false
	})
	n.transport = client

	cfg := grpctransport.DefaultServerConfig(n.listenAddr())
	n.grpcSrv = grpctransport.NewServer(cfg, n.routeInbound, n.log)
	return nil
}

// listenAddr treats this node's own appId as its dialable address
// (host:port), the simplest scheme that lets RuntimeApps double as both
// the registry/lock/portal destination name and the gRPC dial target.
func (n *Node) listenAddr() string { return n.cfg.AppID }

// routeInbound dispatches an inbound InvokeRequest by ActorType to
// whichever in-process service understands it: the registry and lock peer
// protocols registered by client.go/remote.go under their own well-known
// ActorType, or application actor invocation through Types for anything
// else.
func (n *Node) routeInbound(ctx context.Context, req transport.InvokeRequest) transport.InvokeResponse {
	if h, ok := n.byActorType[req.ActorType]; ok {
		return h(ctx, req)
	}

	id := actor.NewID(req.ActorType, req.ActorID...)
	w, actionErr := n.Types.Obtain(ctx, req.ActorType, id, false)
	if actionErr != nil {
		return transport.InvokeResponse{Error: actionErr}
	}
	result, actionErr := w.Invoke(ctx, req.ActionName, req.Arguments)
	if actionErr != nil {
		return transport.InvokeResponse{Error: actionErr}
	}
	return transport.InvokeResponse{Result: result}
}

func (n *Node) registerLocal(appID string, h transport.Handler) {
	if n.local != nil {
		n.local.Register(appID, h)
	}
}

func (n *Node) wireRegistry() {
	rc := n.cfg.Runtime.ActorRegistry
	if !n.cfg.Runtime.Enabled || !rc.Enabled {
		return
	}

	hosts := len(rc.Apps) == 0 || containsApp(rc.Apps, n.cfg.AppID)
	if hosts {
		n.Registry = registry.New(30 * time.Second)
		n.registerLocal(n.cfg.AppID, n.routeInbound)
		n.byActorType["darlean.registry"] = registry.Handler(n.Registry)
	}
	if !hosts && len(rc.Apps) > 0 {
		n.registryCl = registry.NewClient(n.transport, rc.Apps[0])
	}

	n.resolver = portal.NewRegistryResolver()
}

func containsApp(apps []string, app string) bool {
	for _, a := range apps {
		if a == app {
			return true
		}
	}
	return false
}

func (n *Node) wireLock() {
	lc := n.cfg.Runtime.ActorLock
	if !n.cfg.Runtime.Enabled || !lc.Enabled || len(lc.Apps) == 0 {
		return
	}

	n.lockReplica = lock.NewReplica()
	if containsApp(lc.Apps, n.cfg.AppID) {
		n.registerLocal(n.cfg.AppID, n.routeInbound)
		n.byActorType["darlean.lockreplica"] = lock.Handler(n.lockReplica)
	}

	clients := make(map[string]lock.ReplicaClient, len(lc.Apps))
	for _, app := range lc.Apps {
		if app == n.cfg.AppID {
			clients[app] = &lock.LocalReplicaClient{Replica: n.lockReplica}
			continue
		}
		clients[app] = &lock.RemoteReplicaClient{Transport: n.transport, Destination: app}
	}
	n.LockService = lock.NewService(lc.Apps, clients, lc.redundancyOrDefault())
}

func (n *Node) wirePersistence() {
	pc := n.cfg.Runtime.Persistence
	if !n.cfg.Runtime.Enabled || !pc.Enabled {
		return
	}

	mem := persistence.NewMemHandler()
	handlerByType := make(map[string]persistence.Handler)
	for _, h := range pc.Handlers {
		handlerByType[h.ActorType] = mem
	}

	n.Persistence = persistence.New(persistence.Options{
		Compartments: pc.compartmentRules(),
		Handlers:     pc.handlerRules(),
	}, handlerByType)
	n.Tables = tables.New(n.Persistence)
}

func (n *Node) wirePortal() {
	p, err := portal.New(n.transport, n.resolverOrEmpty(), portal.Options{})
	if err != nil {
		// ristretto cache construction only fails on invalid Config
		// constants, which Options.withDefaults never produces.
		panic(fmt.Errorf("node: portal: %w", err))
	}
	n.Portal = p
}

func (n *Node) resolverOrEmpty() portal.Resolver {
	if n.resolver != nil {
		return n.resolver
	}
	return portal.NewRegistryResolver()
}

func (n *Node) wireMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	n.metricsSrv = &http.Server{Addr: addr, Handler: mux}
}

// Run starts the transport server, registry push/poll loop and metrics
// endpoint, and blocks until ctx is cancelled, then drains every
// registered actor type in reverse registration order before returning.
func (n *Node) Run(ctx context.Context) error {
	if n.grpcSrv != nil {
		if err := n.grpcSrv.Start(); err != nil {
			return fmt.Errorf("node: start transport: %w", err)
		}
		defer n.grpcSrv.Stop()
	}

	if n.metricsSrv != nil {
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.log.Warn("metrics server stopped")
			}
		}()
		defer n.metricsSrv.Shutdown(context.Background())
	}

	if n.registryCl != nil {
		go n.registryCl.PollLoop(ctx, nil, n.resolver.Update)
	}
	if n.Registry != nil && n.resolver != nil {
		go n.pollOwnRegistry(ctx)
	}
	if (n.registryCl != nil || n.Registry != nil) && len(n.hostedTypes) > 0 {
		go n.pushHostedTypesLoop(ctx)
	}
	if n.lockReplica != nil {
		go n.lockReplica.RunCleanupLoop(ctx, 30*time.Second, time.Minute)
	}

	n.log.Info("node running")
	<-ctx.Done()
	n.log.Info("node stopping")
	n.Types.Finalize(context.Background())
	return nil
}

// pushHostedTypesLoop periodically advertises the actor types this
// application hosts, either straight into the in-process registry or
// through registryCl to a remote one, so placement info survives a
// registry restart without this node ever noticing.
func (n *Node) pushHostedTypesLoop(ctx context.Context) {
	info := make(map[string]registry.ActorInfo, len(n.hostedTypes))
	for _, t := range n.hostedTypes {
		info[t] = registry.ActorInfo{Applications: []string{n.cfg.AppID}}
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	push := func() {
		if n.Registry != nil {
			n.Registry.Push(n.cfg.AppID, info)
			return
		}
		_ = n.registryCl.Push(ctx, n.cfg.AppID, info)
	}
	push()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			push()
		}
	}
}

// pollOwnRegistry keeps resolver fresh even when this node hosts its own
// registry (no remote Client involved), by long-polling it in-process.
func (n *Node) pollOwnRegistry(ctx context.Context) {
	nonce := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		snap := n.Registry.Obtain(ctx, nil, nonce)
		nonce = snap.Nonce
		n.resolver.Update(snap)
	}
}
