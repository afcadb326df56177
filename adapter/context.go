package adapter

import (
	"sync"

	"github.com/rakunlabs/domo/record"
	"github.com/rakunlabs/domo/typemapper"
)

// DefaultContextName is the global default context's name.
const DefaultContextName = "default"

// ContextProfile is a named namespace binding a bounded context to its own
// adapter registries and journal-key convention
// ("domo-tactical:<context>.journal"). ForContext is idempotent: the same
// name always resolves to the same *ContextProfile instance.
type ContextProfile struct {
	Name          string
	Mapper        *typemapper.Mapper
	EntryAdapters *EntryAdapterProvider
	StateAdapters *StateAdapterProvider
}

var (
	profilesMu sync.Mutex
	profiles   = map[string]*ContextProfile{}
)

// ForContext returns (creating if necessary) the singleton ContextProfile
// for the given name.
func ForContext(name string) *ContextProfile {
	profilesMu.Lock()
	defer profilesMu.Unlock()
	if p, ok := profiles[name]; ok {
		return p
	}
	mapper := typemapper.New()
	p := &ContextProfile{
		Name:          name,
		Mapper:        mapper,
		EntryAdapters: NewEntryAdapterProvider(mapper),
		StateAdapters: NewStateAdapterProvider(mapper),
	}
	profiles[name] = p
	return p
}

// JournalKey returns the well-known host-registry key this context's
// journal is bound under.
func (p *ContextProfile) JournalKey() string {
	return "domo-tactical:" + p.Name + ".journal"
}

// DocumentStoreKey returns the well-known host-registry key this context's
// document store is bound under.
func (p *ContextProfile) DocumentStoreKey() string {
	return "domo-tactical:" + p.Name + ".documentStore"
}

// Register installs a custom entry adapter for prototype's type, fluently.
func (p *ContextProfile) Register(prototype record.Source, a EntryAdapter) *ContextProfile {
	p.EntryAdapters.Register(prototype, a)
	return p
}

// RegisterAll installs custom entry adapters for several prototypes at once.
func (p *ContextProfile) RegisterAll(entries map[record.Source]EntryAdapter) *ContextProfile {
	for prototype, a := range entries {
		p.EntryAdapters.Register(prototype, a)
	}
	return p
}

// RegisterSources makes each prototype's type constructible by the
// fallback default adapter, without installing a custom adapter — for the
// common case of a record type with no schema evolution yet.
func (p *ContextProfile) RegisterSources(prototypes ...record.Source) *ContextProfile {
	for _, prototype := range prototypes {
		p.EntryAdapters.RegisterType(prototype)
	}
	return p
}

// RegisterState installs a custom state adapter for a snapshot prototype.
func (p *ContextProfile) RegisterState(prototype any, a StateAdapter) *ContextProfile {
	p.StateAdapters.Register(prototype, a)
	return p
}

// ResetProfiles clears every registered ContextProfile, for test isolation.
func ResetProfiles() {
	profilesMu.Lock()
	defer profilesMu.Unlock()
	profiles = map[string]*ContextProfile{}
}

// ProfileExists reports whether a ContextProfile has already been created
// for name, without creating one as a side effect.
func ProfileExists(name string) bool {
	profilesMu.Lock()
	defer profilesMu.Unlock()
	_, ok := profiles[name]
	return ok
}

// ResolveEntryAdapterProvider implements the context lookup rule:
// the named context's own registry if one has been created, else the
// process-wide singleton.
func ResolveEntryAdapterProvider(contextName string) *EntryAdapterProvider {
	if ProfileExists(contextName) {
		return ForContext(contextName).EntryAdapters
	}
	return DefaultEntryAdapterProvider
}

// ResolveStateAdapterProvider is ResolveEntryAdapterProvider's state-adapter
// counterpart.
func ResolveStateAdapterProvider(contextName string) *StateAdapterProvider {
	if ProfileExists(contextName) {
		return ForContext(contextName).StateAdapters
	}
	return DefaultStateAdapterProvider
}
