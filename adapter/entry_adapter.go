// Package adapter provides pluggable serialization for records (EntryAdapter)
// and aggregate snapshots (StateAdapter), with per-record versioning and
// upcasting, plus process-wide and context-scoped adapter registries.
package adapter

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rakunlabs/domo/record"
	"github.com/rakunlabs/domo/typemapper"
)

// UnsupportedVersionError is raised when an entry's persisted type-version
// cannot be lifted to an adapter's current version.
type UnsupportedVersionError struct {
	SymbolicType string
	Version      int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported version %d for type %q", e.Version, e.SymbolicType)
}

// UpcastFunc lifts raw JSON data one schema version forward.
type UpcastFunc func(data []byte) ([]byte, error)

// PropertyTransforms maps a property name to a conversion function applied
// to that field's raw decoded value during deserialization (e.g. lifting a
// string or epoch number into a time.Time), before the record is bound.
type PropertyTransforms map[string]func(any) (any, error)

// EntryAdapter serializes/deserializes a record for journal storage.
type EntryAdapter interface {
	ToEntry(source record.Source, streamVersion int, metadata record.Metadata) (record.Entry, error)
	FromEntry(entry record.Entry) (record.Source, error)
}

// TextEntryAdapter is the JSON entry adapter a registered record type uses
// when it needs schema evolution (upcasting) or per-field transforms. The
// zero-value-less New func supplies a fresh pointer to the concrete type so
// json.Unmarshal has somewhere to write.
type TextEntryAdapter struct {
	Mapper         *typemapper.Mapper
	New            func() record.Source
	CurrentVersion int
	Upcasters      map[int]UpcastFunc
	Transforms     PropertyTransforms
}

func (a TextEntryAdapter) mapper() *typemapper.Mapper {
	if a.Mapper != nil {
		return a.Mapper
	}
	return typemapper.Default
}

func (a TextEntryAdapter) ToEntry(source record.Source, streamVersion int, metadata record.Metadata) (record.Entry, error) {
	data, err := json.Marshal(source)
	if err != nil {
		return record.Entry{}, fmt.Errorf("marshal %s: %w", record.TypeNameOf(source), err)
	}
	symbolic := a.mapper().ToSymbolicName(record.TypeNameOf(source))
	version := a.CurrentVersion
	if version == 0 {
		version = 1
	}
	return record.NewTextEntry("", symbolic, version, string(data), streamVersion, metadata), nil
}

func (a TextEntryAdapter) FromEntry(entry record.Entry) (record.Source, error) {
	data, err := a.upcastIfNeeded(entry.DataAsBytes(), entry.Type, entry.TypeVersion)
	if err != nil {
		return nil, err
	}

	if len(a.Transforms) > 0 {
		data, err = applyTransforms(data, a.Transforms)
		if err != nil {
			return nil, fmt.Errorf("apply transforms for %s: %w", entry.Type, err)
		}
	}

	if a.New == nil {
		return nil, fmt.Errorf("entry adapter for %q has no New factory", entry.Type)
	}
	target := a.New()
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", entry.Type, err)
	}
	return target, nil
}

func (a TextEntryAdapter) upcastIfNeeded(data []byte, symbolicType string, version int) ([]byte, error) {
	current := a.CurrentVersion
	if current == 0 {
		current = 1
	}
	if version == current {
		return data, nil
	}
	if version > current {
		return nil, &UnsupportedVersionError{SymbolicType: symbolicType, Version: version}
	}
	for v := version; v < current; v++ {
		up, ok := a.Upcasters[v]
		if !ok {
			return nil, &UnsupportedVersionError{SymbolicType: symbolicType, Version: version}
		}
		next, err := up(data)
		if err != nil {
			return nil, fmt.Errorf("upcast %s from v%d: %w", symbolicType, v, err)
		}
		data = next
	}
	return data, nil
}

// applyTransforms decodes data as a generic object, runs each declared
// per-field transform over the raw decoded value, and re-encodes — the
// same marshal/normalize/unmarshal round trip used elsewhere in this
// codebase to normalize a value before binding it onto a concrete type.
func applyTransforms(data []byte, transforms PropertyTransforms) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode for transforms: %w", err)
	}
	for field, convert := range transforms {
		v, ok := raw[field]
		if !ok {
			continue
		}
		converted, err := convert(v)
		if err != nil {
			return nil, fmt.Errorf("transform field %q: %w", field, err)
		}
		raw[field] = converted
	}
	return json.Marshal(raw)
}

// defaultEntryAdapter is the fallback used when no custom EntryAdapter is
// registered for a type: plain JSON at version 1, with identity upcasting
// (no multi-version support, since there is no schema information beyond
// the type's current Go shape).
type defaultEntryAdapter struct {
	mapper *typemapper.Mapper
	typ    reflect.Type
}

func (a defaultEntryAdapter) ToEntry(source record.Source, streamVersion int, metadata record.Metadata) (record.Entry, error) {
	data, err := json.Marshal(source)
	if err != nil {
		return record.Entry{}, fmt.Errorf("marshal %s: %w", record.TypeNameOf(source), err)
	}
	symbolic := a.mapper.ToSymbolicName(record.TypeNameOf(source))
	return record.NewTextEntry("", symbolic, 1, string(data), streamVersion, metadata), nil
}

func (a defaultEntryAdapter) FromEntry(entry record.Entry) (record.Source, error) {
	if entry.TypeVersion != 1 {
		return nil, &UnsupportedVersionError{SymbolicType: entry.Type, Version: entry.TypeVersion}
	}
	target := reflect.New(a.typ).Interface()
	if err := json.Unmarshal(entry.DataAsBytes(), target); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", entry.Type, err)
	}
	src, ok := target.(record.Source)
	if !ok {
		return nil, fmt.Errorf("type %s does not implement record.Source", a.typ.Name())
	}
	return src, nil
}
