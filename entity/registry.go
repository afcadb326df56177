package entity

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rakunlabs/domo/record"
)

// FoldFunc mutates entity's in-memory state to reflect src having
// occurred. Registered handlers are wrapped down to this shape so the
// apply/restore pipeline never needs to know a handler's concrete types.
type FoldFunc func(entity SourcedEntity, src record.Source) error

type handlerEntry struct {
	entityType  reflect.Type
	recordType  reflect.Type
	isInterface bool
	fold        FoldFunc
}

var (
	handlersMu sync.RWMutex
	handlers   []handlerEntry
)

// RegisterHandler installs the fold for a concrete entity type E and
// record type R: an exact-type handler, tried before any base handler.
func RegisterHandler[E SourcedEntity, R record.Source](fold func(entity E, src R) error) {
	et := reflect.TypeFor[E]()
	register(et, reflect.TypeFor[R](), false, func(entity SourcedEntity, src record.Source) error {
		ce, ok := entity.(E)
		if !ok {
			return fmt.Errorf("entity: handler for %s got entity of type %T", et, entity)
		}
		cr, ok := src.(R)
		if !ok {
			return fmt.Errorf("entity: handler for %s got record of type %T", et, src)
		}
		return fold(ce, cr)
	})
}

// RegisterBaseHandler installs a fold keyed by a behavior interface E
// rather than a single concrete type. Any entity whose method set
// satisfies E — including one that only does so through an embedded
// struct — qualifies. This is this package's analog of a base-class
// handler applying to every subclass: Go has no class hierarchy, but
// method promotion through embedding gives the same effect, and
// reflect.Type.Implements is the one check needed to detect it.
func RegisterBaseHandler[E any, R record.Source](fold func(entity E, src R) error) {
	et := reflect.TypeFor[E]()
	if et.Kind() != reflect.Interface {
		panic(fmt.Sprintf("entity: RegisterBaseHandler requires an interface type parameter, got %s", et))
	}
	register(et, reflect.TypeFor[R](), true, func(entity SourcedEntity, src record.Source) error {
		ce, ok := entity.(E)
		if !ok {
			return fmt.Errorf("entity: base handler for %s got entity of type %T, which does not implement it", et, entity)
		}
		cr, ok := src.(R)
		if !ok {
			return fmt.Errorf("entity: base handler for %s got record of type %T", et, src)
		}
		return fold(ce, cr)
	})
}

func register(entityType, recordType reflect.Type, isInterface bool, fold FoldFunc) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers = append(handlers, handlerEntry{
		entityType:  entityType,
		recordType:  recordType,
		isInterface: isInterface,
		fold:        fold,
	})
}

// lookupHandler finds the fold registered for (entity, src)'s dynamic
// types: an exact concrete-type match first, then the first registered
// base handler whose interface the entity's type implements, in
// registration order — "walking the prototype chain" resolves to this
// one Implements check per candidate base.
func lookupHandler(entity SourcedEntity, src record.Source) (FoldFunc, error) {
	entityType := reflect.TypeOf(entity)
	recordType := reflect.TypeOf(src)

	handlersMu.RLock()
	defer handlersMu.RUnlock()

	for _, h := range handlers {
		if !h.isInterface && h.entityType == entityType && h.recordType == recordType {
			return h.fold, nil
		}
	}
	for _, h := range handlers {
		if h.isInterface && h.recordType == recordType && entityType.Implements(h.entityType) {
			return h.fold, nil
		}
	}
	return nil, fmt.Errorf("entity: no fold handler registered for entity %s and record %s", entityType, recordType)
}

func foldOne(entity SourcedEntity, src record.Source) error {
	fold, err := lookupHandler(entity, src)
	if err != nil {
		return err
	}
	return fold(entity, src)
}

// ResetHandlers clears the process-wide handler registry, for test
// isolation between packages that register overlapping entity/record
// type names.
func ResetHandlers() {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers = nil
}
