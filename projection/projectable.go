// Package projection is the journal-to-read-model pipeline: a
// pattern-matching dispatcher, a pending/confirmed work ledger, and a
// journal consumer that polls the global cursor and fans batches out to
// registered projections.
package projection

import "github.com/rakunlabs/domo/record"

// Kind discriminates which accessor a Projectable actually carries data
// through, mirroring record.PayloadKind/record.StateKind's discriminated-
// envelope shape.
type Kind int

const (
	KindEntries Kind = iota
	KindObject
	KindText
	KindBinary
)

// Projectable is a read-only view over persisted content, labeled with
// the becauseOf causes a Dispatcher pattern-matches against. Exactly one
// of HasObject/HasEntries is meaningful for a given instance; the others
// return their zero value.
type Projectable interface {
	DataID() string
	DataVersion() int
	Type() string
	TypeVersion() int
	BecauseOf() []string
	HasObject() bool
	HasEntries() bool
	DataAsText() string
	DataAsBytes() []byte
	Entries() []record.Entry
}

// objectCarrier is implemented by object-kind Projectables; Object[T]
// type-asserts through it so callers never need a type switch.
type objectCarrier interface {
	Object() any
}

// Object type-asserts p's carried value to T, reporting ok=false for any
// Projectable that is not object-kind or whose value is not a T.
func Object[T any](p Projectable) (T, bool) {
	var zero T
	oc, ok := p.(objectCarrier)
	if !ok {
		return zero, false
	}
	v, ok := oc.Object().(T)
	if !ok {
		return zero, false
	}
	return v, true
}

type projectable struct {
	dataID      string
	dataVersion int
	typ         string
	typeVersion int
	becauseOf   []string
	kind        Kind
	entries     []record.Entry
	object      any
	text        string
	binary      []byte
}

func (p *projectable) DataID() string      { return p.dataID }
func (p *projectable) DataVersion() int    { return p.dataVersion }
func (p *projectable) Type() string        { return p.typ }
func (p *projectable) TypeVersion() int    { return p.typeVersion }
func (p *projectable) BecauseOf() []string { return p.becauseOf }
func (p *projectable) HasObject() bool     { return p.kind == KindObject }
func (p *projectable) HasEntries() bool    { return p.kind == KindEntries }
func (p *projectable) Object() any         { return p.object }

func (p *projectable) Entries() []record.Entry {
	return p.entries
}

func (p *projectable) DataAsText() string {
	switch p.kind {
	case KindBinary:
		return string(p.binary)
	default:
		return p.text
	}
}

func (p *projectable) DataAsBytes() []byte {
	switch p.kind {
	case KindText:
		return []byte(p.text)
	default:
		return p.binary
	}
}

// NewEntriesProjectable wraps a batch of journal entries, the shape a
// JournalConsumer feeds the dispatcher: becauseOf is the set of distinct
// symbolic types in the batch.
func NewEntriesProjectable(dataID string, dataVersion int, becauseOf []string, entries []record.Entry) Projectable {
	return &projectable{
		dataID:      dataID,
		dataVersion: dataVersion,
		becauseOf:   becauseOf,
		kind:        KindEntries,
		entries:     entries,
	}
}

// NewObjectProjectable wraps an already-folded in-memory object (e.g. a
// restored entity's state) for projections that want typed access via
// Object[T] rather than re-decoding raw entries.
func NewObjectProjectable(dataID string, dataVersion int, typ string, typeVersion int, becauseOf []string, object any) Projectable {
	return &projectable{
		dataID:      dataID,
		dataVersion: dataVersion,
		typ:         typ,
		typeVersion: typeVersion,
		becauseOf:   becauseOf,
		kind:        KindObject,
		object:      object,
	}
}

// NewTextProjectable wraps a text payload (e.g. a raw entry's data_text).
func NewTextProjectable(dataID string, dataVersion int, typ string, typeVersion int, becauseOf []string, text string) Projectable {
	return &projectable{
		dataID:      dataID,
		dataVersion: dataVersion,
		typ:         typ,
		typeVersion: typeVersion,
		becauseOf:   becauseOf,
		kind:        KindText,
		text:        text,
	}
}

// NewBinaryProjectable is NewTextProjectable's binary-payload counterpart.
func NewBinaryProjectable(dataID string, dataVersion int, typ string, typeVersion int, becauseOf []string, data []byte) Projectable {
	return &projectable{
		dataID:      dataID,
		dataVersion: dataVersion,
		typ:         typ,
		typeVersion: typeVersion,
		becauseOf:   becauseOf,
		kind:        KindBinary,
		binary:      data,
	}
}

// DistinctTypes returns the distinct entry.Type values across entries, in
// first-seen order — the becauseOf rule a JournalConsumer applies to each
// polled batch.
func DistinctTypes(entries []record.Entry) []string {
	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if seen[e.Type] {
			continue
		}
		seen[e.Type] = true
		out = append(out, e.Type)
	}
	return out
}
