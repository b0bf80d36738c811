// Package tables implements the primary-table-plus-secondary-indexes
// service of spec §4.9: baseline-checked put, monotonic versions, and
// atomic (from the caller's point of view) multi-row batch writes with
// index tombstoning, built on top of pkg/persistence.
//
// Grounded on nola's registry CreateActor/EnsureActivation pattern
// (virtual/registry/kv_registry.go) for the "load current row, validate
// against expectations, write a new row" shape (there: generation/server
// checks before creating an ActorReference; here: baseline/version checks
// before a put), generalized to the explicit baseline token and secondary
// index rewrite spec §4.9 calls for.
package tables

import (
	"context"

	"github.com/google/uuid"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/keycodec"
	"github.com/darlean-io/darlean-go/pkg/metrics"
	"github.com/darlean-io/darlean-go/pkg/persistence"
)

// IndexSpec names one secondary index and the (possibly composite) key a
// row contributes to it.
type IndexSpec struct {
	Name string
	Keys []string
}

// storedRow is the serialized value of the primary row, spec §4.9 step 5.
type storedRow struct {
	Data     any         `json:"data"`
	Version  string      `json:"version"`
	Baseline string      `json:"baseline"`
	Indexes  []IndexSpec `json:"indexes"`
}

// PutRequest is spec §4.9's put{id, baseline?, version, data?, indexes[],
// specifier?}.
type PutRequest struct {
	ID        []string
	Baseline  string // only consulted when HasBaseline is true
	HasBaseline bool // false means "no baseline supplied" (must be a fresh row)
	Version   string
	Data      any
	Indexes   []IndexSpec
	Specifier string
}

// PutResult is returned on a successful put.
type PutResult struct {
	Baseline string
}

// GetResult is a point-read result.
type GetResult struct {
	Data     any
	Version  string
	Baseline string
}

// Service is the tables service.
type Service struct {
	persistence *persistence.Service
}

// New constructs a Service over a persistence.Service.
func New(p *persistence.Service) *Service {
	return &Service{persistence: p}
}

// primaryPartitionKey is the one partition every id in specifier's primary
// table lives in; rows are distinguished by sort key (their own id), the
// same "one partition, id as sort key" layout the index rows below use.
func primaryPartitionKey(specifier string) []string {
	return []string{specifier, "t"}
}

func indexPartitionKey(specifier, indexName string, indexKeys []string) []string {
	return append([]string{specifier, "i", indexName}, indexKeys...)
}

// Put implements spec §4.9's 6-step put protocol.
func (s *Service) Put(ctx context.Context, req PutRequest) (*PutResult, *actorerror.ActionError) {
	primaryPK := primaryPartitionKey(req.Specifier)

	existing, lerr := s.persistence.Load(ctx, req.Specifier, primaryPK, req.ID)
	if lerr != nil {
		return nil, lerr
	}

	var existingRow *storedRow
	if existing != nil {
		row, ok := existing.Value.(storedRow)
		if ok {
			existingRow = &row
		}
	}

	// Step 2: baseline check.
	if req.HasBaseline {
		if existingRow == nil || existingRow.Baseline != req.Baseline {
			metrics.TablePutConflicts.WithLabelValues("baseline_mismatch").Inc()
			return nil, actorerror.New(actorerror.CodeBaselineMismatch, "Baseline does not match current row for id [id]", map[string]any{"id": req.ID})
		}
	} else if existingRow != nil {
		metrics.TablePutConflicts.WithLabelValues("baseline_mismatch").Inc()
		return nil, actorerror.New(actorerror.CodeBaselineMismatch, "Row for id [id] already exists", map[string]any{"id": req.ID})
	}

	// Step 3: monotonic version check.
	if existingRow != nil && keycodec.Compare(existingRow.Version, req.Version) >= 0 {
		metrics.TablePutConflicts.WithLabelValues("version_conflict").Inc()
		return nil, actorerror.New(actorerror.CodeVersionConflict, "Version [version] is not newer than stored version", map[string]any{"version": req.Version})
	}

	// Step 4: fresh baseline token.
	newBaseline := uuid.NewString()

	newRow := storedRow{Data: req.Data, Version: req.Version, Baseline: newBaseline, Indexes: req.Indexes}

	// Step 5: build the batch — primary row, tombstones for removed/changed
	// index rows, writes for current index rows.
	var items []persistence.Item
	items = append(items, persistence.Item{PartitionKey: primaryPK, SortKey: req.ID, Value: newRow, Version: req.Version})

	oldIndexKeys := map[string]IndexSpec{}
	if existingRow != nil {
		for _, idx := range existingRow.Indexes {
			oldIndexKeys[indexIdentity(idx)] = idx
		}
	}
	newIndexKeys := map[string]IndexSpec{}
	for _, idx := range req.Indexes {
		newIndexKeys[indexIdentity(idx)] = idx
	}

	for key, idx := range oldIndexKeys {
		if _, stillPresent := newIndexKeys[key]; !stillPresent {
			items = append(items, persistence.Item{
				PartitionKey: indexPartitionKey(req.Specifier, idx.Name, idx.Keys),
				SortKey:      req.ID,
				Value:        nil,
				Version:      req.Version,
			})
		}
	}
	for _, idx := range req.Indexes {
		items = append(items, persistence.Item{
			PartitionKey: indexPartitionKey(req.Specifier, idx.Name, idx.Keys),
			SortKey:      req.ID,
			Value:        req.Data,
			Version:      req.Version,
		})
	}

	// Step 6: submit as a single batch.
	if berr := s.persistence.StoreBatch(ctx, req.Specifier, items); berr != nil {
		return nil, berr
	}

	return &PutResult{Baseline: newBaseline}, nil
}

func indexIdentity(idx IndexSpec) string {
	return idx.Name + "\x00" + keycodec.EncodeSortKey(idx.Keys)
}

// Get is a point read by id.
func (s *Service) Get(ctx context.Context, specifier string, id []string) (*GetResult, *actorerror.ActionError) {
	res, lerr := s.persistence.Load(ctx, specifier, primaryPartitionKey(specifier), id)
	if lerr != nil {
		return nil, lerr
	}
	if res == nil {
		return nil, nil
	}
	row, ok := res.Value.(storedRow)
	if !ok {
		return nil, actorerror.New(actorerror.CodeUnexpectedError, "Corrupt primary row for id [id]", map[string]any{"id": id})
	}
	return &GetResult{Data: row.Data, Version: row.Version, Baseline: row.Baseline}, nil
}

// KeyOp is a search constraint operator from spec §4.9.
type KeyOp int

const (
	OpEq KeyOp = iota
	OpLte
	OpGte
	OpPrefix
	OpBetween
	OpContains
	OpContainsNI
)

// KeyConstraint is one ITableKeyConstraint.
type KeyConstraint struct {
	Op     KeyOp
	Value  string
	Value2 string // only for OpBetween
}

// SearchRequest is spec §4.9's ITableSearchRequest, restricted to the
// core fields this service implements.
type SearchRequest struct {
	Index             string // "" means search the primary table by id prefix
	Keys              []KeyConstraint
	Order             keycodec.Order
	Filter            persistence.Filter
	TableProjection   []string
	IndexProjection   []string
	Specifier         string
	MaxItems          int
	ContinuationToken string
}

// SearchResult is one page of search results.
type SearchResult struct {
	Rows              []SearchRow
	ContinuationToken string
}

// SearchRow is one joined result row.
type SearchRow struct {
	ID   []string
	Data any
}

// Search implements spec §4.9's search: eq constraints on the leading key
// positions plus a range on the last become a §4.8 sort-key query against
// the index (or primary) compartment; when tableProjection needs fields
// not carried in the index row, the primary row is joined back in.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, *actorerror.ActionError) {
	prefix, rc, keyFilter := constraintsToRange(req.Keys, req.Order)

	var partitionKey []string
	if req.Index == "" {
		partitionKey = primaryPartitionKey(req.Specifier)
	} else {
		partitionKey = append([]string{req.Specifier, "i", req.Index}, prefix...)
	}

	filter := req.Filter
	if keyFilter != nil {
		if filter != nil {
			filter = andFilter{a: keyFilter, b: filter}
		} else {
			filter = keyFilter
		}
	}

	qres, qerr := s.persistence.Query(ctx, req.Specifier, persistence.QueryRequest{
		PartitionKey:      partitionKey,
		Constraint:        rc,
		Filter:            filter,
		ProjectionFilter:  req.IndexProjection,
		MaxItems:          req.MaxItems,
		ContinuationToken: req.ContinuationToken,
	})
	if qerr != nil {
		return nil, qerr
	}

	needsJoin := len(req.TableProjection) > 0 && req.Index != ""
	rows := make([]SearchRow, 0, len(qres.Rows))
	for _, row := range qres.Rows {
		id := row.SortKey
		data := row.Value
		if needsJoin {
			primary, gerr := s.Get(ctx, req.Specifier, id)
			if gerr != nil {
				return nil, gerr
			}
			if primary != nil {
				data = primary.Data
			}
		}
		rows = append(rows, SearchRow{ID: id, Data: data})
	}

	return &SearchResult{Rows: rows, ContinuationToken: qres.ContinuationToken}, nil
}

// andFilter ANDs two already-compiled filters, used to combine a `contains`/
// `containsni` key constraint (translated into a Filter below, since
// RangeConstraint has no way to express substring containment) with
// whatever Filter the caller already supplied.
type andFilter struct{ a, b persistence.Filter }

func (f andFilter) Eval(ctx persistence.FilterContext) bool {
	return f.a.Eval(ctx) && f.b.Eval(ctx)
}

// constraintsToRange translates the leading run of `eq` constraints into a
// fixed key prefix and the final constraint (if any) into either a
// RangeConstraint over the remaining position (lte/gte/prefix/between) or,
// for contains/containsni — which a sort-key range cannot express — a
// Filter evaluated against that same position, per spec §4.9: "the engine
// translates eq on prefix positions plus a range on the last position
// into a §4.8 sort-key query".
func constraintsToRange(keys []KeyConstraint, order keycodec.Order) ([]string, keycodec.RangeConstraint, persistence.Filter) {
	var prefix []string
	i := 0
	for ; i < len(keys); i++ {
		if keys[i].Op != OpEq {
			break
		}
		prefix = append(prefix, keys[i].Value)
	}
	if i >= len(keys) {
		return prefix, keycodec.RangeConstraint{Order: order}, nil
	}

	last := keys[i]
	switch last.Op {
	case OpLte:
		return prefix, keycodec.RangeConstraint{To: append(append([]string(nil), prefix...), last.Value), Match: keycodec.Strict, Order: order}, nil
	case OpGte:
		return prefix, keycodec.RangeConstraint{From: append(append([]string(nil), prefix...), last.Value), Order: order}, nil
	case OpPrefix:
		return prefix, keycodec.RangeConstraint{To: append(append([]string(nil), prefix...), last.Value), Match: keycodec.Loose, Order: order}, nil
	case OpBetween:
		return prefix, keycodec.RangeConstraint{
			From:  append(append([]string(nil), prefix...), last.Value),
			To:    append(append([]string(nil), prefix...), last.Value2),
			Match: keycodec.Strict,
			Order: order,
		}, nil
	case OpContains, OpContainsNI:
		op := "contains"
		if last.Op == OpContainsNI {
			op = "containsni"
		}
		filter := persistence.Compile(persistence.Expr{
			Op: op,
			Args: []any{
				persistence.Expr{Op: "sk", Args: []any{len(prefix)}},
				persistence.Expr{Op: "literal", Args: []any{last.Value}},
			},
		}, nil, 0, 0)
		return prefix, keycodec.RangeConstraint{Order: order}, filter
	default:
		return prefix, keycodec.RangeConstraint{Order: order}, nil
	}
}
