package persistence

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FilterContext is what a Filter evaluates against: the stored value
// (before any projection) plus the record's own keys, so that
// `pk(idx)`/`sk(idx)` expressions can resolve against them.
type FilterContext struct {
	Value        any
	PartitionKey []string
	SortKey      []string
}

// Filter is a compiled spec §4.8 filter expression: a nested
// [op, ...args] list compiled once, evaluated per candidate record.
type Filter interface {
	Eval(ctx FilterContext) bool
}

// Expr is the parsed form of one filter node, built directly from the
// wire [op, ...args] shape so application code (or a config loader) can
// construct filters without hand-writing Filter implementations.
type Expr struct {
	Op   string
	Args []any
}

// Compile turns an Expr tree into an evaluatable Filter. Literal (non-
// boolean) subexpressions are resolved lazily during Eval since their
// value may depend on the record being evaluated (field/pk/sk lookups).
func Compile(e Expr, base []string, pkOffset, skOffset int) Filter {
	return &compiledExpr{expr: e, base: base, pkOffset: pkOffset, skOffset: skOffset}
}

type compiledExpr struct {
	expr     Expr
	base     []string
	pkOffset int
	skOffset int
}

func (c *compiledExpr) Eval(ctx FilterContext) bool {
	v := c.resolve(c.expr, ctx)
	b, _ := v.(bool)
	return b
}

// resolve evaluates e against ctx, returning either a bool (for
// and/or/not/eq/lte/gte/prefix/contains/containsni) or a plain value (for
// field/pk/sk/literal/uppercase/lowercase/normalize/array), matching spec
// §4.8's "recognized ops (min set)" list, with and/or short-circuiting.
func (c *compiledExpr) resolve(e Expr, ctx FilterContext) any {
	switch e.Op {
	case "and":
		for _, a := range e.Args {
			if !c.truthy(a, ctx) {
				return false
			}
		}
		return true
	case "or":
		for _, a := range e.Args {
			if c.truthy(a, ctx) {
				return true
			}
		}
		return false
	case "not":
		return !c.truthy(e.Args[0], ctx)
	case "eq":
		return equalValues(c.arg(e.Args[0], ctx), c.arg(e.Args[1], ctx))
	case "lte":
		return compareValues(c.arg(e.Args[0], ctx), c.arg(e.Args[1], ctx)) <= 0
	case "gte":
		return compareValues(c.arg(e.Args[0], ctx), c.arg(e.Args[1], ctx)) >= 0
	case "prefix":
		s, _ := c.arg(e.Args[0], ctx).(string)
		p, _ := c.arg(e.Args[1], ctx).(string)
		return strings.HasPrefix(s, p)
	case "contains":
		s, _ := c.arg(e.Args[0], ctx).(string)
		p, _ := c.arg(e.Args[1], ctx).(string)
		return strings.Contains(s, p)
	case "containsni":
		s, _ := c.arg(e.Args[0], ctx).(string)
		p, _ := c.arg(e.Args[1], ctx).(string)
		return strings.Contains(foldNI(s), foldNI(p))
	case "uppercase":
		s, _ := c.arg(e.Args[0], ctx).(string)
		return strings.ToUpper(s)
	case "lowercase":
		s, _ := c.arg(e.Args[0], ctx).(string)
		return strings.ToLower(s)
	case "normalize":
		s, _ := c.arg(e.Args[0], ctx).(string)
		return foldNI(s)
	case "field":
		path, _ := e.Args[0].(string)
		return lookupField(ctx.Value, append(append([]string(nil), c.base...), strings.Split(path, ".")...))
	case "pk":
		idx, _ := e.Args[0].(int)
		return indexAt(ctx.PartitionKey, idx+c.pkOffset)
	case "sk":
		idx, _ := e.Args[0].(int)
		return indexAt(ctx.SortKey, idx+c.skOffset)
	case "literal":
		return e.Args[0]
	case "array":
		return e.Args
	}
	return nil
}

func (c *compiledExpr) arg(a any, ctx FilterContext) any {
	if sub, ok := a.(Expr); ok {
		return c.resolve(sub, ctx)
	}
	return a
}

func (c *compiledExpr) truthy(a any, ctx FilterContext) bool {
	v := c.arg(a, ctx)
	b, _ := v.(bool)
	return b
}

// foldNI implements the decided `containsni` semantics (spec §9 Open
// Question): Unicode NFKD decomposition with combining marks stripped,
// followed by Unicode lower-casing, so "café" contains "CAFE" regardless
// of diacritics and case.
func foldNI(s string) string {
	return strings.ToLower(norm.NFKD.String(stripAccents(s)))
}

// stripAccents drops combining marks after NFKD decomposition, giving the
// diacritics-insensitive half of containsni; norm.NFKD alone only
// decomposes, it does not strip.
func stripAccents(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if isCombiningMark(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isCombiningMark(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

func equalValues(a, b any) bool {
	return compareValues(a, b) == 0
}

func compareValues(a, b any) int {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func indexAt(parts []string, idx int) any {
	if idx < 0 || idx >= len(parts) {
		return nil
	}
	return parts[idx]
}

func lookupField(value any, path []string) any {
	cur := value
	for _, seg := range path {
		if seg == "" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}
