package tables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/keycodec"
	"github.com/darlean-io/darlean-go/pkg/persistence"
)

func newTestTables() *Service {
	mem := persistence.NewMemHandler()
	p := persistence.New(persistence.Options{
		Compartments: []persistence.CompartmentRule{{SpecifierGlob: "**", CompartmentTemplate: "default"}},
		Handlers:     []persistence.HandlerRule{{CompartmentGlob: "*", ActorType: "store"}},
	}, map[string]persistence.Handler{"store": mem})
	return New(p)
}

func TestTableBaselineScenario(t *testing.T) {
	s := newTestTables()
	ctx := context.Background()

	res, err := s.Put(ctx, PutRequest{
		ID: []string{"s"}, HasBaseline: false, Version: "1", Data: map[string]any{"a": 1},
		Indexes: []IndexSpec{{Name: "i", Keys: []string{"k"}}}, Specifier: "t1",
	})
	require.Nil(t, err)
	require.NotEmpty(t, res.Baseline)

	got, gerr := s.Get(ctx, "t1", []string{"s"})
	require.Nil(t, gerr)
	require.Equal(t, map[string]any{"a": 1}, got.Data)
	require.Equal(t, "1", got.Version)
	b1 := got.Baseline

	_, err2 := s.Put(ctx, PutRequest{ID: []string{"s"}, HasBaseline: false, Version: "2", Data: map[string]any{"a": 9}, Specifier: "t1"})
	require.NotNil(t, err2)
	require.Equal(t, actorerror.CodeBaselineMismatch, err2.Code)

	_, err3 := s.Put(ctx, PutRequest{
		ID: []string{"s"}, HasBaseline: true, Baseline: b1, Version: "2", Data: map[string]any{"a": 2}, Indexes: nil, Specifier: "t1",
	})
	require.Nil(t, err3)

	searchRes, serr := s.Search(ctx, SearchRequest{
		Index: "i", Keys: []KeyConstraint{{Op: OpEq, Value: "k"}}, Specifier: "t1",
	})
	require.Nil(t, serr)
	require.Empty(t, searchRes.Rows)
}

func TestPutStaleVersionConflict(t *testing.T) {
	s := newTestTables()
	ctx := context.Background()
	res, err := s.Put(ctx, PutRequest{ID: []string{"x"}, Version: "2", Data: "v2", Specifier: "t1"})
	require.Nil(t, err)

	_, err2 := s.Put(ctx, PutRequest{ID: []string{"x"}, HasBaseline: true, Baseline: res.Baseline, Version: "1", Data: "v1", Specifier: "t1"})
	require.NotNil(t, err2)
	require.Equal(t, actorerror.CodeVersionConflict, err2.Code)
}

func TestSearchFindsIndexedRow(t *testing.T) {
	s := newTestTables()
	ctx := context.Background()
	_, err := s.Put(ctx, PutRequest{
		ID: []string{"order-1"}, Version: "1", Data: map[string]any{"status": "open"},
		Indexes: []IndexSpec{{Name: "by-status", Keys: []string{"open"}}}, Specifier: "orders",
	})
	require.Nil(t, err)

	res, serr := s.Search(ctx, SearchRequest{
		Index: "by-status", Keys: []KeyConstraint{{Op: OpEq, Value: "open"}}, Specifier: "orders", Order: keycodec.Ascending,
	})
	require.Nil(t, serr)
	require.Len(t, res.Rows, 1)
	require.Equal(t, []string{"order-1"}, res.Rows[0].ID)
}

func TestSearchPrimaryTableByIDPrefix(t *testing.T) {
	s := newTestTables()
	ctx := context.Background()
	_, err := s.Put(ctx, PutRequest{ID: []string{"a"}, Version: "1", Data: "va", Specifier: "t1"})
	require.Nil(t, err)
	_, err = s.Put(ctx, PutRequest{ID: []string{"b"}, Version: "1", Data: "vb", Specifier: "t1"})
	require.Nil(t, err)

	res, serr := s.Search(ctx, SearchRequest{Index: "", Specifier: "t1", Order: keycodec.Ascending})
	require.Nil(t, serr)
	require.Len(t, res.Rows, 2)
}

func TestSearchContainsFiltersOutNonMatchingRows(t *testing.T) {
	s := newTestTables()
	ctx := context.Background()
	_, err := s.Put(ctx, PutRequest{ID: []string{"widget-red"}, Version: "1", Data: "red", Specifier: "t1"})
	require.Nil(t, err)
	_, err = s.Put(ctx, PutRequest{ID: []string{"gadget-blue"}, Version: "1", Data: "blue", Specifier: "t1"})
	require.Nil(t, err)

	res, serr := s.Search(ctx, SearchRequest{
		Index:     "",
		Keys:      []KeyConstraint{{Op: OpContains, Value: "widget"}},
		Specifier: "t1", Order: keycodec.Ascending,
	})
	require.Nil(t, serr)
	require.Len(t, res.Rows, 1)
	require.Equal(t, []string{"widget-red"}, res.Rows[0].ID)
}
