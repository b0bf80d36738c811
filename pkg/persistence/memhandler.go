package persistence

import (
	"context"

	"github.com/darlean-io/darlean-go/pkg/actorerror"

	"github.com/darlean-io/darlean-go/internal/memstore"
)

// MemHandler adapts one internal/memstore.Store per compartment into a
// Handler, the default (non-clustered) storage implementation.
type MemHandler struct {
	stores func(compartment string) *memstore.Store
}

// NewMemHandler constructs a MemHandler backed by a fresh memstore.Store
// per distinct compartment name it is asked to serve.
func NewMemHandler() *MemHandler {
	byCompartment := make(map[string]*memstore.Store)
	return &MemHandler{stores: func(compartment string) *memstore.Store {
		s, ok := byCompartment[compartment]
		if !ok {
			s = memstore.New()
			byCompartment[compartment] = s
		}
		return s
	}}
}

func (m *MemHandler) Store(_ context.Context, compartment string, item Item) *actorerror.ActionError {
	m.stores(compartment).Store(memstore.StoreItem{
		PartitionKey: item.PartitionKey, SortKey: item.SortKey, Value: item.Value, Version: item.Version,
	})
	return nil
}

func (m *MemHandler) StoreBatch(_ context.Context, compartment string, items []Item) *actorerror.ActionError {
	converted := make([]memstore.StoreItem, len(items))
	for i, item := range items {
		converted[i] = memstore.StoreItem{PartitionKey: item.PartitionKey, SortKey: item.SortKey, Value: item.Value, Version: item.Version}
	}
	m.stores(compartment).StoreBatch(converted)
	return nil
}

func (m *MemHandler) Load(_ context.Context, compartment string, partitionKey, sortKey []string) (*LoadResult, *actorerror.ActionError) {
	value, version, found := m.stores(compartment).Load(partitionKey, sortKey)
	if !found {
		return nil, nil
	}
	return &LoadResult{Value: value, Version: version}, nil
}

func (m *MemHandler) Query(_ context.Context, compartment string, req QueryRequest) (*QueryResult, *actorerror.ActionError) {
	res := m.stores(compartment).Query(req.PartitionKey, memstore.QueryOptions{
		Constraint:        req.Constraint,
		MaxItems:          req.MaxItems,
		ContinuationToken: req.ContinuationToken,
	})
	rows := make([]QueryResultRow, 0, len(res.Records))
	for _, rec := range res.Records {
		value := rec.Value
		if req.Filter != nil && !req.Filter.Eval(FilterContext{Value: value, PartitionKey: rec.PartitionKey, SortKey: rec.SortKey}) {
			continue
		}
		if len(req.ProjectionFilter) > 0 {
			value = applyProjection(value, req.ProjectionFilter)
		}
		rows = append(rows, QueryResultRow{SortKey: rec.SortKey, Value: value, Version: rec.Version})
	}
	return &QueryResult{Rows: rows, ContinuationToken: res.ContinuationToken}, nil
}

// applyProjection implements spec §4.8's projectionFilter: with any
// +field, only listed fields survive; any -field subtracts after. Only
// applies to map-shaped values; opaque values pass through unchanged.
func applyProjection(value any, projection []string) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	var includes, excludes []string
	for _, p := range projection {
		if len(p) == 0 {
			continue
		}
		if p[0] == '+' {
			includes = append(includes, p[1:])
		} else if p[0] == '-' {
			excludes = append(excludes, p[1:])
		}
	}
	out := make(map[string]any, len(m))
	if len(includes) > 0 {
		for _, f := range includes {
			if v, ok := m[f]; ok {
				out[f] = v
			}
		}
	} else {
		for k, v := range m {
			out[k] = v
		}
	}
	for _, f := range excludes {
		delete(out, f)
	}
	return out
}
