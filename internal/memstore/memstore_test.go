package memstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darlean-io/darlean-go/pkg/keycodec"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	s := New()
	s.Store(StoreItem{PartitionKey: []string{"x"}, SortKey: nil, Value: "A", Version: "0002"})
	s.Store(StoreItem{PartitionKey: []string{"x"}, SortKey: nil, Value: "B", Version: "0001"})

	value, version, found := s.Load([]string{"x"}, nil)
	require.True(t, found)
	require.Equal(t, "A", value)
	require.Equal(t, "0002", version)
}

func TestStoreIdempotentDelete(t *testing.T) {
	s := New()
	s.Store(StoreItem{PartitionKey: []string{"x"}, SortKey: []string{"a"}, Value: nil, Version: "0001"})
	_, _, found := s.Load([]string{"x"}, []string{"a"})
	require.False(t, found)
}

func TestSortKeyTreeScenario(t *testing.T) {
	s := New()
	pk := []string{"bar"}
	insert := [][]string{{"A"}, {"A", "B"}, {"A", "C"}, {"AA", "B"}, {"B"}, {"C", "C"}, {"C", "C", ""}}
	for i, sk := range insert {
		s.Store(StoreItem{PartitionKey: pk, SortKey: sk, Value: i, Version: "0001"})
	}

	strict := s.Query(pk, QueryOptions{Constraint: keycodec.RangeConstraint{
		To: []string{"A"}, Match: keycodec.Strict, Order: keycodec.Ascending,
	}})
	require.Len(t, strict.Records, 3)
	for _, r := range strict.Records {
		require.True(t, r.SortKey[0] == "A")
	}

	loose := s.Query(pk, QueryOptions{Constraint: keycodec.RangeConstraint{
		To: []string{"A"}, Match: keycodec.Loose, Order: keycodec.Ascending,
	}})
	require.Len(t, loose.Records, 4)

	desc := s.Query(pk, QueryOptions{Constraint: keycodec.RangeConstraint{
		To: []string{"A"}, Match: keycodec.Strict, Order: keycodec.Descending,
	}})
	require.Len(t, desc.Records, 3)
	require.Equal(t, strict.Records[0].SortKey, desc.Records[len(desc.Records)-1].SortKey)
}

func TestQueryFromZeroPartIncludesEmptySortKey(t *testing.T) {
	s := New()
	s.Store(StoreItem{PartitionKey: []string{"x"}, SortKey: nil, Value: "root", Version: "0001"})
	s.Store(StoreItem{PartitionKey: []string{"x"}, SortKey: []string{"a"}, Value: "a", Version: "0001"})

	res := s.Query([]string{"x"}, QueryOptions{Constraint: keycodec.RangeConstraint{From: nil}})
	require.Len(t, res.Records, 2)
}

func TestContinuationTokenChunksMatchSinglePass(t *testing.T) {
	s := New()
	pk := []string{"p"}
	for i := 0; i < 7; i++ {
		s.Store(StoreItem{PartitionKey: pk, SortKey: []string{string(rune('a' + i))}, Value: i, Version: "0001"})
	}

	full := s.Query(pk, QueryOptions{})
	require.Len(t, full.Records, 7)

	var chunked []Record
	token := ""
	for {
		page := s.Query(pk, QueryOptions{MaxItems: 3, ContinuationToken: token})
		chunked = append(chunked, page.Records...)
		if page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}
	require.Equal(t, full.Records, chunked)
}
