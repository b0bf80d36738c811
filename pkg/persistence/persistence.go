// Package persistence implements the routing and batch-coalescing layer
// of spec §4.7: application code calls store/storeBatch/load/query against
// a free-form specifier string, which this package resolves to a
// compartment and then to a handler actor.
//
// Grounded on nola's kvTransaction/kv abstraction (virtual/registry/
// kv_registry.go) for the "thin routing layer in front of a storage
// interface" shape, generalized from the registry's single fixed keyspace
// to spec §4.7's configurable glob-routed compartments/handlers.
package persistence

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/keycodec"
	"github.com/darlean-io/darlean-go/pkg/metrics"
)

// CompartmentRule maps a specifier glob to a compartment name template,
// spec §4.7's `compartments: [{specifier-glob, compartment-template}]`.
// The template may reference captures as `${*}`/`${**}` from the glob
// match, substituted positionally.
type CompartmentRule struct {
	SpecifierGlob      string
	CompartmentTemplate string
}

// HandlerRule maps a compartment glob to the actor type that implements
// storage for matching compartments, spec §4.7's `handlers`.
type HandlerRule struct {
	CompartmentGlob string
	ActorType       string
}

// Handler is what a storage-implementing actor (or, for the in-process
// default, internal/memstore) exposes to the Service.
type Handler interface {
	Store(ctx context.Context, compartment string, item Item) *actorerror.ActionError
	StoreBatch(ctx context.Context, compartment string, items []Item) *actorerror.ActionError
	Load(ctx context.Context, compartment string, partitionKey, sortKey []string) (*LoadResult, *actorerror.ActionError)
	Query(ctx context.Context, compartment string, req QueryRequest) (*QueryResult, *actorerror.ActionError)
}

// Item is one store/storeBatch write.
type Item struct {
	PartitionKey []string
	SortKey      []string
	Value        any // nil means idempotent delete
	Version      string
}

// LoadResult is what Load returns on a hit.
type LoadResult struct {
	Value   any
	Version string
}

// QueryRequest is a §4.8 sort-key query plus an optional filter/projection,
// scoped to one partition.
type QueryRequest struct {
	PartitionKey      []string
	Constraint        keycodec.RangeConstraint
	Filter            Filter
	ProjectionFilter  []string
	MaxItems          int
	ContinuationToken string
}

// QueryResultRow is one record returned by Query, after filter/projection.
type QueryResultRow struct {
	SortKey []string
	Value   any
	Version string
}

// QueryResult is one page of query results.
type QueryResult struct {
	Rows              []QueryResultRow
	ContinuationToken string
}

// Service is the persistence routing layer.
type Service struct {
	compartments []CompartmentRule
	handlerRules []HandlerRule
	handlers     map[string]Handler // actor type -> handler

	batchMu  sync.Mutex
	pending  map[string][]pendingItem // compartment -> queued items
	draining map[string]bool
	batchCap int // ~bytes, as estimated per item by approxSize
}

type pendingItem struct {
	item Item
	done chan *actorerror.ActionError
}

// Options configures a Service.
type Options struct {
	Compartments []CompartmentRule
	Handlers     []HandlerRule
	// BatchSizeBytes bounds each storeBatch subdivision; spec §4.7 default
	// is approximately 500 kB.
	BatchSizeBytes int
}

// New constructs a Service. handlerByType maps an actor type named in
// Handlers to its concrete Handler (in the default run mode, a thin
// wrapper around internal/memstore; in a cluster, a portal proxy to the
// actor implementing storage for that compartment).
func New(opts Options, handlerByType map[string]Handler) *Service {
	cap := opts.BatchSizeBytes
	if cap <= 0 {
		cap = 500 * 1024
	}
	return &Service{
		compartments: opts.Compartments,
		handlerRules: opts.Handlers,
		handlers:     handlerByType,
		pending:      make(map[string][]pendingItem),
		draining:     make(map[string]bool),
		batchCap:     cap,
	}
}

// resolveCompartment implements spec §4.7's compartments routing: first
// glob match wins, template captures substituted positionally.
func (s *Service) resolveCompartment(specifier string) (string, *actorerror.ActionError) {
	for _, rule := range s.compartments {
		captures, ok := globCaptures(rule.SpecifierGlob, specifier)
		if !ok {
			continue
		}
		return substituteTemplate(rule.CompartmentTemplate, captures), nil
	}
	return "", actorerror.New(actorerror.CodeNoCompartment, "No compartment matches specifier [specifier]", map[string]any{"specifier": specifier})
}

// resolveHandler implements spec §4.7's handlers routing.
func (s *Service) resolveHandler(compartment string) (Handler, *actorerror.ActionError) {
	for _, rule := range s.handlerRules {
		if _, ok := globCaptures(rule.CompartmentGlob, compartment); ok {
			h, ok := s.handlers[rule.ActorType]
			if !ok {
				return nil, actorerror.New(actorerror.CodeNoHandler, "No handler registered for actor type [type]", map[string]any{"type": rule.ActorType})
			}
			return h, nil
		}
	}
	return nil, actorerror.New(actorerror.CodeNoHandler, "No handler matches compartment [compartment]", map[string]any{"compartment": compartment})
}

// globCaptures matches specifier (or compartment) against a glob pattern
// using `*` (one path segment) and `**` (any number of segments,
// including zero), returning the literal text each wildcard captured.
// Segments are '/'-separated, matching path.Match's own segment notion
// but extended with '**'.
func globCaptures(pattern, value string) ([]string, bool) {
	patternSegs := strings.Split(pattern, "/")
	valueSegs := strings.Split(value, "/")
	var captures []string
	var match func(pi, vi int) bool
	match = func(pi, vi int) bool {
		if pi == len(patternSegs) {
			return vi == len(valueSegs)
		}
		seg := patternSegs[pi]
		switch seg {
		case "**":
			for j := vi; j <= len(valueSegs); j++ {
				saved := captures
				captures = append(captures, strings.Join(valueSegs[vi:j], "/"))
				if match(pi+1, j) {
					return true
				}
				captures = saved
			}
			return false
		case "*":
			if vi >= len(valueSegs) {
				return false
			}
			captures = append(captures, valueSegs[vi])
			return match(pi+1, vi+1)
		default:
			if vi >= len(valueSegs) {
				return false
			}
			ok, err := path.Match(seg, valueSegs[vi])
			if err != nil || !ok {
				return false
			}
			return match(pi+1, vi+1)
		}
	}
	if match(0, 0) {
		return captures, true
	}
	return nil, false
}

func substituteTemplate(template string, captures []string) string {
	out := template
	for _, c := range captures {
		i := strings.Index(out, "${*}")
		j := strings.Index(out, "${**}")
		switch {
		case i >= 0 && (j < 0 || i < j):
			out = out[:i] + c + out[i+len("${*}"):]
		case j >= 0:
			out = out[:j] + c + out[j+len("${**}"):]
		}
	}
	return out
}

// Store enqueues item for the compartment resolved from specifier and
// schedules a micro-task to drain the queue, per spec §4.7's batch
// coalescing. It blocks until this item's own outcome arrives, once the
// batch it ends up in has been submitted, or until ctx is done.
func (s *Service) Store(ctx context.Context, specifier string, item Item) *actorerror.ActionError {
	compartment, cerr := s.resolveCompartment(specifier)
	if cerr != nil {
		return cerr
	}
	done := make(chan *actorerror.ActionError, 1)
	s.enqueue(compartment, item, done)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return actorerror.New(actorerror.CodeFrameworkError, "Store cancelled", nil)
	}
}

func (s *Service) enqueue(compartment string, item Item, done chan *actorerror.ActionError) {
	s.batchMu.Lock()
	s.pending[compartment] = append(s.pending[compartment], pendingItem{item: item, done: done})
	shouldDrain := !s.draining[compartment]
	if shouldDrain {
		s.draining[compartment] = true
	}
	s.batchMu.Unlock()

	if shouldDrain {
		go s.drain(compartment)
	}
}

// drain is the micro-task: it keeps draining compartment's queue
// (including anything enqueued while it was running) until empty.
func (s *Service) drain(compartment string) {
	for {
		s.batchMu.Lock()
		batch := s.pending[compartment]
		s.pending[compartment] = nil
		if len(batch) == 0 {
			s.draining[compartment] = false
			s.batchMu.Unlock()
			return
		}
		s.batchMu.Unlock()

		s.submitBatch(compartment, batch)
	}
}

// submitBatch subdivides batch so no chunk exceeds batchCap (approximated
// by summing a rough per-item size) and calls the handler's StoreBatch for
// each chunk, reporting each item's own outcome back to its waiter.
func (s *Service) submitBatch(compartment string, batch []pendingItem) {
	handler, herr := s.resolveHandler(compartment)
	if herr != nil {
		metrics.PersistenceStoreErrors.WithLabelValues(compartment).Inc()
		for _, pi := range batch {
			pi.done <- herr
		}
		return
	}

	chunks := subdivide(batch, s.batchCap)
	for _, chunk := range chunks {
		items := make([]Item, len(chunk))
		for i, pi := range chunk {
			items[i] = pi.item
		}
		metrics.PersistenceBatchSize.Observe(float64(len(items)))
		err := handler.StoreBatch(context.Background(), compartment, items)
		if err != nil {
			metrics.PersistenceStoreErrors.WithLabelValues(compartment).Inc()
		}
		for _, pi := range chunk {
			pi.done <- err
		}
	}
}

func subdivide(batch []pendingItem, capBytes int) [][]pendingItem {
	var chunks [][]pendingItem
	var current []pendingItem
	size := 0
	for _, pi := range batch {
		itemSize := approxSize(pi.item)
		if size+itemSize > capBytes && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, pi)
		size += itemSize
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func approxSize(item Item) int {
	size := 32
	for _, p := range item.PartitionKey {
		size += len(p)
	}
	for _, p := range item.SortKey {
		size += len(p)
	}
	if s, ok := item.Value.(string); ok {
		size += len(s)
	} else if item.Value != nil {
		size += 64
	}
	return size
}

// StoreBatch submits items (already grouped by the caller under one
// specifier) directly, bypassing the coalescing queue — used when a
// caller already has a batch ready (e.g. pkg/tables's multi-row put).
func (s *Service) StoreBatch(ctx context.Context, specifier string, items []Item) *actorerror.ActionError {
	compartment, cerr := s.resolveCompartment(specifier)
	if cerr != nil {
		return cerr
	}
	handler, herr := s.resolveHandler(compartment)
	if herr != nil {
		return herr
	}
	return handler.StoreBatch(ctx, compartment, items)
}

// Load forwards to the resolved handler unchanged.
func (s *Service) Load(ctx context.Context, specifier string, partitionKey, sortKey []string) (*LoadResult, *actorerror.ActionError) {
	compartment, cerr := s.resolveCompartment(specifier)
	if cerr != nil {
		return nil, cerr
	}
	handler, herr := s.resolveHandler(compartment)
	if herr != nil {
		return nil, herr
	}
	return handler.Load(ctx, compartment, partitionKey, sortKey)
}

// Query forwards to the resolved handler unchanged.
func (s *Service) Query(ctx context.Context, specifier string, req QueryRequest) (*QueryResult, *actorerror.ActionError) {
	compartment, cerr := s.resolveCompartment(specifier)
	if cerr != nil {
		return nil, cerr
	}
	handler, herr := s.resolveHandler(compartment)
	if herr != nil {
		return nil, herr
	}
	return handler.Query(ctx, compartment, req)
}
