// Package actor defines the identity, kind and action-descriptor types that
// are shared by every other package in the runtime. It plays the role that
// virtual/types played in the teacher: a small, dependency-free vocabulary
// that everything else imports.
package actor

import "strings"

// Kind distinguishes actors that must have at most one live instance
// cluster-wide (Singular) from actors that may have many concurrent
// instances (Multiplar).
type Kind int

const (
	// Singular actors are subject to the distributed actor lock: at most one
	// instance is Active cluster-wide for a given ID at any time.
	Singular Kind = iota
	// Multiplar actors may be instantiated concurrently on many nodes.
	Multiplar
)

func (k Kind) String() string {
	if k == Singular {
		return "singular"
	}
	return "multiplar"
}

// LockMode is the locking requirement an action declares.
type LockMode int

const (
	// LockNone bypasses the wrapper lock entirely.
	LockNone LockMode = iota
	// LockShared allows any number of shared holders as long as no
	// exclusive holder is active.
	LockShared
	// LockExclusive allows exactly one holder at a time.
	LockExclusive
)

// ActionKind classifies an action for dispatch and default-locking purposes.
type ActionKind int

const (
	// KindAction is a regular, application-invokable action.
	KindAction ActionKind = iota
	// KindActivator runs once, under an exclusive lock, before the first
	// non-activator call reaches a freshly created instance.
	KindActivator
	// KindDeactivator runs once, under an exclusive lock, as the last step
	// of deactivation.
	KindDeactivator
	// KindTimer marks an action as reachable only from the timers
	// subsystem (pkg/timers), never directly from a remote proxy call.
	KindTimer
)

// ActionDescriptor is the explicit, reflection-free replacement for the
// decorator-annotated action methods the teacher's source language used.
// Application code builds a slice of these at registration time instead of
// annotating methods; dispatch is then a plain map lookup by normalized
// name.
type ActionDescriptor struct {
	Name    string
	Locking LockMode
	Kind    ActionKind
}

// NormalizedName returns the lower-cased action name used for wire dispatch,
// matching the portal's requirement that actionName travel the wire
// lower-cased.
func (d ActionDescriptor) NormalizedName() string {
	return strings.ToLower(d.Name)
}

// DefaultLocking returns the locking mode an action should use when the
// registration entry does not specify one explicitly, per spec: exclusive
// for singular actors, shared for multiplar actors; activator and
// deactivator are always exclusive regardless of kind.
func DefaultLocking(actorKind Kind, actionKind ActionKind) LockMode {
	if actionKind == KindActivator || actionKind == KindDeactivator {
		return LockExclusive
	}
	if actorKind == Singular {
		return LockExclusive
	}
	return LockShared
}

// ID is an actor identity: a type name plus an ordered sequence of string
// parts. Identity is the unit of placement, locking and persistence.
type ID struct {
	Type string
	Parts []string
}

// NewID constructs an ID from a type name and id parts.
func NewID(actorType string, parts ...string) ID {
	return ID{Type: actorType, Parts: append([]string(nil), parts...)}
}

// String renders a human-readable, non-canonical representation suitable for
// logs; it is never used as a map key or wire value.
func (id ID) String() string {
	return id.Type + "/" + strings.Join(id.Parts, "/")
}

// Key returns a canonical, comparable string safe for use as a map key
// (e.g. inside an instance container). It is distinct from the sort-key
// functional representation used by the persistence layer.
func (id ID) Key() string {
	var b strings.Builder
	b.WriteString(id.Type)
	for _, p := range id.Parts {
		b.WriteByte(0)
		b.WriteString(p)
	}
	return b.String()
}

// PartAt resolves a (possibly negative) index into id.Parts the way
// Placement.BindIdx does: negative indices count from the end.
func (id ID) PartAt(idx int) (string, bool) {
	n := len(id.Parts)
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 || idx >= n {
		return "", false
	}
	return id.Parts[idx], true
}
