package record

import "testing"

type fakeDeposit struct {
	Envelope
	Amount int
}

func (fakeDeposit) Identity() string { return "" }

type fakeIdentified struct {
	Envelope
	id string
}

func (f fakeIdentified) Identity() string { return f.id }

func TestTypeNameOf(t *testing.T) {
	d := fakeDeposit{Envelope: NewEnvelope(1), Amount: 10}
	if got := TypeNameOf(d); got != "fakeDeposit" {
		t.Errorf("TypeNameOf(value) = %q, want %q", got, "fakeDeposit")
	}
	if got := TypeNameOf(&d); got != "fakeDeposit" {
		t.Errorf("TypeNameOf(pointer) = %q, want %q", got, "fakeDeposit")
	}
}

func TestEqual_ByTypeAndIdentity(t *testing.T) {
	a := fakeIdentified{Envelope: NewEnvelope(1), id: "acct-1"}
	b := fakeIdentified{Envelope: NewEnvelope(1), id: "acct-1"}
	c := fakeIdentified{Envelope: NewEnvelope(1), id: "acct-2"}

	if !Equal(a, b) {
		t.Error("expected records with same type and identity to be equal")
	}
	if Equal(a, c) {
		t.Error("expected records with different identity to be unequal")
	}
}

func TestNullRecord(t *testing.T) {
	if !IsNull(Null) {
		t.Error("expected Null to be the distinguished null record")
	}
	d := fakeDeposit{Envelope: NewEnvelope(1)}
	if IsNull(d) {
		t.Error("expected a concrete record not to be reported as null")
	}
}

func TestMetadataEquality(t *testing.T) {
	m1 := NewMetadata("v1", "op1", map[string]string{"a": "1"})
	m2 := NewMetadata("v1", "op1", map[string]string{"a": "1"})
	m3 := m1.WithProperty("b", "2")

	if !m1.Equal(m2) {
		t.Error("expected identical metadata to compare equal")
	}
	if m1.Equal(m3) {
		t.Error("expected metadata with an added property to compare unequal")
	}
	if !EmptyMetadata().IsEmpty() {
		t.Error("expected EmptyMetadata to report IsEmpty")
	}
}

func TestEntryPayloadRoundTrip(t *testing.T) {
	e := NewTextEntry("id-1", "account-opened", 1, `{"balance":0}`, 1, EmptyMetadata())
	if e.DataAsText() != `{"balance":0}` {
		t.Errorf("DataAsText() = %q", e.DataAsText())
	}
	withPos := e.WithGlobalPosition(42)
	if withPos.GlobalPosition != 42 {
		t.Errorf("GlobalPosition = %d, want 42", withPos.GlobalPosition)
	}
	if e.GlobalPosition != 0 {
		t.Error("WithGlobalPosition must not mutate the receiver")
	}
}

func TestOutcomeHelpers(t *testing.T) {
	ok := Ok(7)
	if !ok.IsSuccess() || ok.Error() != nil {
		t.Error("expected Ok outcome to be success with nil Error()")
	}

	bad := Failed[int](ConcurrencyViolation, "version mismatch", nil)
	if bad.IsSuccess() {
		t.Error("expected Failed outcome to report !IsSuccess")
	}
	if bad.Error() == nil {
		t.Error("expected Failed outcome to report a non-nil Error()")
	}
	if bad.Kind.String() != "ConcurrencyViolation" {
		t.Errorf("Kind.String() = %q", bad.Kind.String())
	}
}
