package adapter

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rakunlabs/domo/record"
	"github.com/rakunlabs/domo/typemapper"
)

// EntryAdapterProvider is a registry of EntryAdapters keyed by Go type name,
// falling back to a generic JSON adapter for any registered record type
// that has no custom adapter.
type EntryAdapterProvider struct {
	mu       sync.RWMutex
	mapper   *typemapper.Mapper
	adapters map[string]EntryAdapter
	types    map[string]reflect.Type
}

// NewEntryAdapterProvider creates a provider bound to the given mapper (or
// typemapper.Default if nil).
func NewEntryAdapterProvider(mapper *typemapper.Mapper) *EntryAdapterProvider {
	if mapper == nil {
		mapper = typemapper.Default
	}
	return &EntryAdapterProvider{
		mapper:   mapper,
		adapters: make(map[string]EntryAdapter),
		types:    make(map[string]reflect.Type),
	}
}

// DefaultEntryAdapterProvider is the process-wide singleton.
var DefaultEntryAdapterProvider = NewEntryAdapterProvider(typemapper.Default)

// RegisterType makes className's zero value constructible by the fallback
// default adapter, without installing a custom adapter.
func (p *EntryAdapterProvider) RegisterType(prototype record.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types[record.TypeNameOf(prototype)] = concreteType(prototype)
}

// Register installs a custom adapter for prototype's concrete type.
func (p *EntryAdapterProvider) Register(prototype record.Source, a EntryAdapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	className := record.TypeNameOf(prototype)
	p.adapters[className] = a
	p.types[className] = concreteType(prototype)
}

// AdapterFor resolves the adapter for a live record value.
func (p *EntryAdapterProvider) AdapterFor(source record.Source) (EntryAdapter, error) {
	return p.adapterForClassName(record.TypeNameOf(source))
}

// AdapterForSymbolic resolves the adapter for a persisted symbolic type
// name, used when reading entries back from the journal.
func (p *EntryAdapterProvider) AdapterForSymbolic(symbolicType string) (EntryAdapter, error) {
	className := p.mapper.ToTypeName(symbolicType)
	p.mu.RLock()
	if _, ok := p.types[className]; !ok {
		// ToTypeName capitalizes every segment, so a registered unexported
		// type name ("userRegistered") is found by its symbolic form instead.
		for name := range p.types {
			if p.mapper.ToSymbolicName(name) == symbolicType {
				className = name
				break
			}
		}
	}
	p.mu.RUnlock()
	return p.adapterForClassName(className)
}

func (p *EntryAdapterProvider) adapterForClassName(className string) (EntryAdapter, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.adapters[className]; ok {
		return a, nil
	}
	t, ok := p.types[className]
	if !ok {
		return nil, fmt.Errorf("no entry adapter or registered type for %q", className)
	}
	return defaultEntryAdapter{mapper: p.mapper, typ: t}, nil
}

// Reset clears all registrations, for test isolation.
func (p *EntryAdapterProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters = make(map[string]EntryAdapter)
	p.types = make(map[string]reflect.Type)
}

func concreteType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

// StateAdapterProvider mirrors EntryAdapterProvider for snapshots.
type StateAdapterProvider struct {
	mu       sync.RWMutex
	mapper   *typemapper.Mapper
	adapters map[string]StateAdapter
	types    map[string]reflect.Type
}

func NewStateAdapterProvider(mapper *typemapper.Mapper) *StateAdapterProvider {
	if mapper == nil {
		mapper = typemapper.Default
	}
	return &StateAdapterProvider{
		mapper:   mapper,
		adapters: make(map[string]StateAdapter),
		types:    make(map[string]reflect.Type),
	}
}

var DefaultStateAdapterProvider = NewStateAdapterProvider(typemapper.Default)

func (p *StateAdapterProvider) RegisterType(prototype any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types[concreteType(prototype).Name()] = concreteType(prototype)
}

func (p *StateAdapterProvider) Register(prototype any, a StateAdapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	className := concreteType(prototype).Name()
	p.adapters[className] = a
	p.types[className] = concreteType(prototype)
}

func (p *StateAdapterProvider) AdapterFor(snapshot any) (StateAdapter, error) {
	return p.adapterForClassName(concreteType(snapshot).Name())
}

func (p *StateAdapterProvider) AdapterForSymbolic(symbolicType string) (StateAdapter, error) {
	className := p.mapper.ToTypeName(symbolicType)
	p.mu.RLock()
	if _, ok := p.types[className]; !ok {
		// As for entries: an unexported type name is found by its symbolic form.
		for name := range p.types {
			if p.mapper.ToSymbolicName(name) == symbolicType {
				className = name
				break
			}
		}
	}
	p.mu.RUnlock()
	return p.adapterForClassName(className)
}

func (p *StateAdapterProvider) adapterForClassName(className string) (StateAdapter, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.adapters[className]; ok {
		return a, nil
	}
	t, ok := p.types[className]
	if !ok {
		return nil, fmt.Errorf("no state adapter or registered type for %q", className)
	}
	return defaultStateAdapter{mapper: p.mapper, typ: t}, nil
}

func (p *StateAdapterProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters = make(map[string]StateAdapter)
	p.types = make(map[string]reflect.Type)
}
