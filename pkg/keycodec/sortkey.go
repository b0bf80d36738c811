// Package keycodec implements the ordering-preserving functional
// representation of partition and sort keys described in spec §3/§4.8:
// a sort key [a,b,c] maps to a separator-joined byte string such that
// comparison of the functional representation is a total order matching
// how users think of sort keys as a tree ([A] < [A,B] < [AA,...]).
//
// Grounded on the teacher's own composite-key encoding
// (virtual/registry/kv_registry.go's use of FoundationDB's tuple.Pack, which
// plays the identical "encode a sequence of strings into one
// order-preserving byte string" role for the registry's namespace/actors/kv
// keyspace). The FDB tuple layer itself isn't reusable outside of FDB
// (justified drop, see DESIGN.md); this package is a pure-Go replacement
// built to the separator rule spec.md actually specifies.
package keycodec

import "strings"

// sep collates strictly less than any content byte a sort key part can
// contain, so that [A] sorts before [A,B] and before [AA,...]. 0x00 is
// smaller than any UTF-8 continuation or lead byte.
const sep = byte(0)

// EncodeSortKey returns the functional representation of a sort key: parts
// joined by sep, with a trailing sep so that every encoded key is a prefix
// of its own children's encodings (making "starts with" a correct children
// test, see IsChildOf below).
func EncodeSortKey(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p)
		b.WriteByte(sep)
	}
	return b.String()
}

// EncodePartitionKey joins partition key parts the same way; partition keys
// are compared for equality only, never range, but sharing the encoding
// keeps storage keys uniform.
func EncodePartitionKey(parts []string) string {
	return EncodeSortKey(parts)
}

// Compare orders two functional representations lexicographically by byte
// value, which is the comparison the entire query engine is built on.
func Compare(a, b string) int {
	return strings.Compare(a, b)
}

// HasPrefix reports whether the functional representation rep starts with
// the functional representation of node — i.e. rep names node or one of
// node's descendants in the sort-key tree.
func HasPrefix(rep, nodeRep string) bool {
	return strings.HasPrefix(rep, nodeRep)
}

// IsChildOf reports whether rep names a strict descendant of node (not node
// itself): rep starts with nodeRep but is longer, i.e. the separator that
// terminates nodeRep is followed by more content.
func IsChildOf(rep, nodeRep string) bool {
	return len(rep) > len(nodeRep) && strings.HasPrefix(rep, nodeRep)
}

// MatchMode controls how the last element of a "to" constraint is compared
// against a candidate record's corresponding sort-key element.
type MatchMode int

const (
	// Strict requires the last "to" element to equal the candidate's
	// element exactly.
	Strict MatchMode = iota
	// Loose requires only that the last "to" element be a string prefix of
	// the candidate's element.
	Loose
)

// Order is the requested result ordering for a range query.
type Order int

const (
	Ascending Order = iota
	Descending
)

// RangeConstraint captures sortKeyFrom/sortKeyTo/match/order as specified in
// §4.8, expressed directly as parts rather than pre-encoded strings so
// callers don't need to know the separator scheme.
type RangeConstraint struct {
	From  []string
	To    []string
	Match MatchMode
	Order Order
}

// Bounds holds the inclusive byte-string bounds implied by a
// RangeConstraint, as computed by computeBounds. The "to" bound of a strict/loose constraint must also
// admit every descendant of the matched "to" node (spec §4.8's tree rule),
// which is not a simple upper bound on the functional representation: a
// child like [A,B] sorts *after* [A] in the separator-joined scheme.
// Compare therefore cannot be done with one inequality; Included below
// implements the full rule directly.
type Bounds struct {
	From string
	// ToExact is the encoded functional representation of rc.To itself
	// (well-defined only when Match == Strict and len(rc.To) > 0).
	ToExact string
	// ToPrefix is the representation up to (not including) the final
	// separator of the last "to" element, used for loose/children
	// matching.
	ToPrefix string
	HasTo    bool
}

func computeBounds(rc RangeConstraint) Bounds {
	b := Bounds{From: EncodeSortKey(rc.From)}
	if len(rc.To) == 0 {
		return b
	}
	b.HasTo = true
	b.ToExact = EncodeSortKey(rc.To)
	// ToPrefix excludes the trailing separator of the last element so a
	// loose match can test strings.HasPrefix(elemRep, toPrefixLastElem).
	head := rc.To[:len(rc.To)-1]
	last := rc.To[len(rc.To)-1]
	b.ToPrefix = EncodeSortKey(head) + last
	return b
}

// Included reports whether the record whose sort key parts are `rep`
// (already in functional representation) satisfies the RangeConstraint,
// implementing spec §4.8's from/to/match/children rules exactly:
//
//   - sortKeyFrom: rep >= from.
//   - sortKeyTo strict: rep <= to, OR rep is a descendant of the node named
//     by to (rep starts with EncodeSortKey(to)).
//   - sortKeyTo loose: rep starts with the representation of `to` minus
//     the final separator, i.e. the leading elements match exactly and the
//     last element of `to` is a string-prefix of the candidate's element;
//     descendants of such a candidate match too. Unlike strict, records
//     that sort before `to` without sharing that prefix are not included.
func Included(rep string, rc RangeConstraint) bool {
	b := computeBounds(rc)
	if b.From != "" && Compare(rep, b.From) < 0 {
		return false
	}
	if !b.HasTo {
		return true
	}
	switch rc.Match {
	case Strict:
		if Compare(rep, b.ToExact) <= 0 {
			return true
		}
		return IsChildOf(rep, b.ToExact)
	default: // Loose
		return strings.HasPrefix(rep, b.ToPrefix)
	}
}

// Less orders two functional representations according to ord, for use as
// a sort.Slice comparator.
func Less(a, b string, ord Order) bool {
	c := Compare(a, b)
	if ord == Descending {
		return c > 0
	}
	return c < 0
}
