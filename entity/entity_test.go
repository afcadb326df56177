package entity

import (
	"context"
	"testing"

	"github.com/rakunlabs/domo/adapter"
	"github.com/rakunlabs/domo/hostctx"
	"github.com/rakunlabs/domo/journal"
	"github.com/rakunlabs/domo/record"
)

type accountOpened struct {
	record.Envelope
	Owner string
}

type fundsDeposited struct {
	record.Envelope
	Amount int
}

type fundsWithdrawn struct {
	record.Envelope
	Amount int
}

// balancer is the behavior interface a base handler binds against,
// standing in for a shared "ledger" base class.
type balancer interface {
	credit(int)
	debit(int)
}

// ledgerBase is the embeddable "base class": any concrete account type
// that embeds it promotes credit/debit, so a handler registered against
// balancer applies to every such account without a type-specific handler.
type ledgerBase struct {
	Base
	Balance int
}

func (l *ledgerBase) credit(amount int) { l.Balance += amount }
func (l *ledgerBase) debit(amount int)  { l.Balance -= amount }

type account struct {
	ledgerBase
	Owner string
}

func newAccount(streamName string) *account {
	a := &account{}
	a.Base = NewBase(streamName)
	return a
}

func (a *account) RestoreSnapshot(data any, streamVersion int) error {
	snap := data.(*accountSnapshot)
	a.Owner = snap.Owner
	a.Balance = snap.Balance
	return nil
}

type accountSnapshot struct {
	Owner   string
	Balance int
}

// ownerSetter lets the accountOpened fold reach every type that embeds
// account (swallowingAccount, snapshottingAccount): an exact-type handler
// applies only to the type it was registered for.
type ownerSetter interface {
	setOwner(string)
}

func (a *account) setOwner(owner string) { a.Owner = owner }

// snapshottingAccount opts into an automatic snapshot on every apply, to
// exercise the Snapshotable path distinctly from the explicit
// ApplyWithSnapshot call.
type snapshottingAccount struct {
	account
}

func (a *snapshottingAccount) Snapshot() (any, bool) {
	return &accountSnapshot{Owner: a.Owner, Balance: a.Balance}, true
}

func init() {
	RegisterHandler(func(e *account, r *accountOpened) error {
		e.Owner = r.Owner
		return nil
	})
	RegisterBaseHandler(func(e ownerSetter, r *accountOpened) error {
		e.setOwner(r.Owner)
		return nil
	})
	RegisterBaseHandler(func(e balancer, r *fundsDeposited) error {
		e.credit(r.Amount)
		return nil
	})
	RegisterBaseHandler(func(e balancer, r *fundsWithdrawn) error {
		e.debit(r.Amount)
		return nil
	})
}

func newTestContext(t *testing.T) string {
	t.Helper()
	ctxName := t.Name()
	profile := adapter.ForContext(ctxName)
	profile.RegisterSources(&accountOpened{}, &fundsDeposited{}, &fundsWithdrawn{})
	profile.RegisterState(&accountSnapshot{}, adapter.TextStateAdapter{
		New: func() any { return &accountSnapshot{} },
	})

	j := journal.New(ctxName)
	hostctx.Global().RegisterValue(profile.JournalKey(), journal.Journal(j))

	t.Cleanup(func() {
		hostctx.Global().Unregister(profile.JournalKey())
	})

	return ctxName
}

func TestApply_FoldsBaseHandlerAndPersists(t *testing.T) {
	ctx := context.Background()
	ctxName := newTestContext(t)

	a := newAccount("account-1")
	a.Base = NewBaseInContext("account-1", ctxName)

	outcome, err := ApplyNew(ctx, a, record.EmptyMetadata(), &accountOpened{Envelope: record.NewEnvelope(1), Owner: "ada"})
	if err != nil || !outcome.IsSuccess() {
		t.Fatalf("ApplyNew = %+v, %v", outcome, err)
	}
	if a.Owner != "ada" {
		t.Fatalf("expected fold to set Owner, got %q", a.Owner)
	}
	if a.CurrentVersion() != 1 {
		t.Fatalf("expected version 1, got %d", a.CurrentVersion())
	}

	outcome, err = Apply(ctx, a, record.EmptyMetadata(), &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: 50})
	if err != nil || !outcome.IsSuccess() {
		t.Fatalf("Apply(deposit) = %+v, %v", outcome, err)
	}
	if a.Balance != 50 {
		t.Fatalf("expected balance 50 from base handler, got %d", a.Balance)
	}
	if a.CurrentVersion() != 2 {
		t.Fatalf("expected version 2, got %d", a.CurrentVersion())
	}
}

func TestApply_ConcurrencyViolationLeavesFoldUnapplied(t *testing.T) {
	ctx := context.Background()
	ctxName := newTestContext(t)

	a := &swallowingAccount{}
	a.Base = NewBaseInContext("account-2", ctxName)
	if _, err := ApplyNew(ctx, a, record.EmptyMetadata(), &accountOpened{Envelope: record.NewEnvelope(1), Owner: "bob"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a concurrent writer: re-append at the stream's current
	// version so this entity's in-memory version (1) is stale.
	j, err := hostctx.RegisteredAs[journal.Journal](hostctx.Global(), adapter.ForContext(ctxName).JournalKey())
	if err != nil {
		t.Fatal(err)
	}
	if outcome, err := j.Append(ctx, "account-2", journal.Any(), &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: 10}, record.EmptyMetadata()); err != nil || !outcome.IsSuccess() {
		t.Fatalf("concurrent append: %+v, %v", outcome, err)
	}

	outcome, err := Apply(ctx, a, record.EmptyMetadata(), &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: 25})
	if err != nil {
		t.Fatalf("expected swallowed error to surface as nil, got %v", err)
	}
	if outcome.Kind != record.ConcurrencyViolation {
		t.Fatalf("expected ConcurrencyViolation, got %v", outcome.Kind)
	}
	// The rejected append must never have been folded: entity's in-memory
	// state is untouched, and the host learns about it via AfterApplyFailed.
	if a.Balance != 0 {
		t.Fatalf("expected rejected append to leave in-memory state unmodified, got balance=%d", a.Balance)
	}
	if a.CurrentVersion() != 1 {
		t.Fatalf("expected version to stay at 1 (the last successful append), got %d", a.CurrentVersion())
	}
	if a.failedCalls != 1 {
		t.Fatalf("expected AfterApplyFailed to run once for the rejected append, got %d", a.failedCalls)
	}
}

func TestRestore_SkipsFoldedEntriesBehindSnapshot(t *testing.T) {
	ctx := context.Background()
	ctxName := newTestContext(t)

	seed := newAccount("account-3")
	seed.Base = NewBaseInContext("account-3", ctxName)
	if _, err := ApplyNew(ctx, seed, record.EmptyMetadata(), &accountOpened{Envelope: record.NewEnvelope(1), Owner: "cleo"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Apply(ctx, seed, record.EmptyMetadata(), &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: 100}); err != nil {
		t.Fatal(err)
	}
	snapState := record.NewObjectState("", "account-snapshot", 1, &accountSnapshot{Owner: seed.Owner, Balance: seed.Balance}, seed.CurrentVersion(), record.EmptyMetadata())
	if _, err := ApplyWithSnapshot(ctx, seed, record.EmptyMetadata(), snapState, &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: 25}); err != nil {
		t.Fatal(err)
	}

	restored := newAccount("account-3")
	restored.Base = NewBaseInContext("account-3", ctxName)
	if err := Restore(ctx, restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Owner != "cleo" {
		t.Fatalf("expected owner restored from snapshot, got %q", restored.Owner)
	}
	if restored.Balance != 125 {
		t.Fatalf("expected balance 125 (100 snapshotted + 25 folded), got %d", restored.Balance)
	}
	if restored.CurrentVersion() != 3 {
		t.Fatalf("expected version 3, got %d", restored.CurrentVersion())
	}
}

func TestApply_SnapshotableAttachesSnapshotAutomatically(t *testing.T) {
	ctx := context.Background()
	ctxName := newTestContext(t)

	a := &snapshottingAccount{}
	a.Base = NewBaseInContext("account-5", ctxName)

	if _, err := ApplyNew(ctx, a, record.EmptyMetadata(), &accountOpened{Envelope: record.NewEnvelope(1), Owner: "dee"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Apply(ctx, a, record.EmptyMetadata(), &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: 40}); err != nil {
		t.Fatal(err)
	}

	j, err := hostctx.RegisteredAs[journal.Journal](hostctx.Global(), adapter.ForContext(ctxName).JournalKey())
	if err != nil {
		t.Fatal(err)
	}
	reader, err := j.StreamReader(ctx, "account-5")
	if err != nil {
		t.Fatal(err)
	}
	stream, err := reader.StreamFor(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stream.Snapshot.IsEmpty() {
		t.Fatal("expected Snapshotable to have attached a snapshot on apply")
	}
	snap := stream.Snapshot.DataObject.(*accountSnapshot)
	if snap.Owner != "dee" || snap.Balance != 40 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}
	if stream.Snapshot.StateVersion != 2 {
		t.Fatalf("expected snapshot taken at version 2, got %d", stream.Snapshot.StateVersion)
	}
}

type swallowingAccount struct {
	account
	failedCalls int
}

func (a *swallowingAccount) AfterApplyFailed(failed *ApplyFailed) error {
	a.failedCalls++
	return nil
}

func TestApply_AfterApplyFailedHookSwallowsError(t *testing.T) {
	ctx := context.Background()
	ctxName := newTestContext(t)

	a := &swallowingAccount{}
	a.Base = NewBaseInContext("account-4", ctxName)

	type unregisteredRecord struct {
		record.Envelope
	}
	// Registered with the context's adapters so the journal can serialize
	// it; it has no fold handler.
	adapter.ForContext(ctxName).RegisterSources(&unregisteredRecord{})

	// The append itself succeeds — the journal has no notion of fold
	// handlers — but folding it afterward fails for lack of a registered
	// handler, which AfterApplyFailed then swallows.
	outcome, err := ApplyNew(ctx, a, record.EmptyMetadata(), &unregisteredRecord{Envelope: record.NewEnvelope(1)})
	if err != nil {
		t.Fatalf("expected swallowed error to surface as nil, got %v", err)
	}
	if !outcome.IsSuccess() {
		t.Fatalf("expected the append to succeed even though folding it failed, got %+v", outcome)
	}
	if a.failedCalls != 1 {
		t.Fatalf("expected AfterApplyFailed to run once, got %d", a.failedCalls)
	}
	if a.CurrentVersion() != 0 {
		t.Fatalf("expected version to stay at 0 since the unfoldable record was never folded, got %d", a.CurrentVersion())
	}
}
