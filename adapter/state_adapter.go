package adapter

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rakunlabs/domo/record"
	"github.com/rakunlabs/domo/typemapper"
)

// StateAdapter serializes/deserializes an aggregate snapshot for journal
// storage. Symmetric to EntryAdapter, with the same upcasting discipline.
type StateAdapter interface {
	ToState(snapshot any, stateVersion int, metadata record.Metadata) (record.State, error)
	FromState(state record.State) (any, error)
}

// TextStateAdapter is the JSON state adapter for snapshot types that need
// schema evolution.
type TextStateAdapter struct {
	Mapper         *typemapper.Mapper
	New            func() any // returns a pointer to a zero-value concrete snapshot type
	CurrentVersion int
	Upcasters      map[int]UpcastFunc
	Transforms     PropertyTransforms
}

func (a TextStateAdapter) mapper() *typemapper.Mapper {
	if a.Mapper != nil {
		return a.Mapper
	}
	return typemapper.Default
}

func (a TextStateAdapter) ToState(snapshot any, stateVersion int, metadata record.Metadata) (record.State, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return record.State{}, fmt.Errorf("marshal snapshot %T: %w", snapshot, err)
	}
	symbolic := a.mapper().ToSymbolicName(reflect.TypeOf(snapshot).Name())
	version := a.CurrentVersion
	if version == 0 {
		version = 1
	}
	return record.NewTextState("", symbolic, version, string(data), stateVersion, metadata), nil
}

func (a TextStateAdapter) FromState(state record.State) (any, error) {
	if state.Kind == record.StateObject {
		return state.DataObject, nil
	}
	data, err := a.upcastIfNeeded(state.DataAsBytes(), state.Type, state.TypeVersion)
	if err != nil {
		return nil, err
	}
	if len(a.Transforms) > 0 {
		data, err = applyTransforms(data, a.Transforms)
		if err != nil {
			return nil, fmt.Errorf("apply transforms for %s: %w", state.Type, err)
		}
	}
	if a.New == nil {
		return nil, fmt.Errorf("state adapter for %q has no New factory", state.Type)
	}
	target := a.New()
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", state.Type, err)
	}
	return target, nil
}

func (a TextStateAdapter) upcastIfNeeded(data []byte, symbolicType string, version int) ([]byte, error) {
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
			return nil, fmt.Errorf("upcast snapshot %s from v%d: %w", symbolicType, v, err)
		}
		data = next
	}
	return data, nil
}

// defaultStateAdapter mirrors defaultEntryAdapter for snapshots.
type defaultStateAdapter struct {
	mapper *typemapper.Mapper
	typ    reflect.Type
}

func (a defaultStateAdapter) ToState(snapshot any, stateVersion int, metadata record.Metadata) (record.State, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return record.State{}, fmt.Errorf("marshal snapshot %T: %w", snapshot, err)
	}
	symbolic := a.mapper.ToSymbolicName(a.typ.Name())
	return record.NewTextState("", symbolic, 1, string(data), stateVersion, metadata), nil
}

func (a defaultStateAdapter) FromState(state record.State) (any, error) {
	if state.Kind == record.StateObject {
		return state.DataObject, nil
	}
	if state.TypeVersion != 1 {
		return nil, &UnsupportedVersionError{SymbolicType: state.Type, Version: state.TypeVersion}
	}
	target := reflect.New(a.typ).Interface()
	if err := json.Unmarshal(state.DataAsBytes(), target); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", state.Type, err)
	}
	return target, nil
}
