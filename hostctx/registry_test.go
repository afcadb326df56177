package hostctx

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := &Registry{values: make(map[string]any)}
	r.RegisterValue("domo-tactical:default.journal", 42)

	v, ok := r.RegisteredValue("domo-tactical:default.journal")
	if !ok || v != 42 {
		t.Fatalf("RegisteredValue = %v, %v", v, ok)
	}

	if _, ok := r.RegisteredValue("missing"); ok {
		t.Error("expected missing key to report ok=false")
	}

	r.Unregister("domo-tactical:default.journal")
	if _, ok := r.RegisteredValue("domo-tactical:default.journal"); ok {
		t.Error("expected Unregister to remove the binding")
	}
}

func TestRegisteredAs_TypeMismatch(t *testing.T) {
	r := &Registry{values: make(map[string]any)}
	r.RegisterValue("k", "a string")

	if _, err := RegisteredAs[int](r, "k"); err == nil {
		t.Error("expected a type-mismatch error")
	}
	if _, err := RegisteredAs[int](r, "absent"); err == nil {
		t.Error("expected a not-found error")
	}

	got, err := RegisteredAs[string](r, "k")
	if err != nil || got != "a string" {
		t.Fatalf("RegisteredAs[string] = %q, %v", got, err)
	}
}

type recordingSupervisor struct {
	lastSource string
	lastErr    error
}

func (s *recordingSupervisor) Escalate(_ context.Context, source string, err error) {
	s.lastSource = source
	s.lastErr = err
}

func TestSupervisor_Escalate(t *testing.T) {
	s := &recordingSupervisor{}
	var sup Supervisor = s
	sup.Escalate(context.Background(), "dispatcher", errors.New("boom"))
	if s.lastSource != "dispatcher" || s.lastErr == nil {
		t.Errorf("escalation not recorded: %+v", s)
	}
}
