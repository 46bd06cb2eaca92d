package txnctx

import "testing"

func TestBeginAssignsDistinctIDs(t *testing.T) {
	m := NewManager()
	a := m.Begin(1)
	b := m.Begin(1)
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct transaction IDs, got %d and %d", a.ID(), b.ID())
	}
}

func TestConnectionIDPinned(t *testing.T) {
	m := NewManager()
	tx := m.Begin(42)
	if tx.ConnectionID() != 42 {
		t.Fatalf("expected connection id 42, got %d", tx.ConnectionID())
	}
}

func TestCommitFiresOnCommitNotOnAbort(t *testing.T) {
	m := NewManager()
	tx := m.Begin(1)

	var committed, aborted bool
	tx.RegisterOnCommit(func() { committed = true })
	tx.RegisterOnAbort(func() { aborted = true })

	if err := m.Commit(tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !committed {
		t.Fatalf("expected onCommit hook to fire")
	}
	if aborted {
		t.Fatalf("expected onAbort hook not to fire")
	}
}

func TestAbortFiresOnAbortNotOnCommit(t *testing.T) {
	m := NewManager()
	tx := m.Begin(1)

	var committed, aborted bool
	tx.RegisterOnCommit(func() { committed = true })
	tx.RegisterOnAbort(func() { aborted = true })

	if err := m.Abort(tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !aborted {
		t.Fatalf("expected onAbort hook to fire")
	}
	if committed {
		t.Fatalf("expected onCommit hook not to fire")
	}
}

func TestHooksFireInRegistrationOrder(t *testing.T) {
	m := NewManager()
	tx := m.Begin(1)

	var order []int
	tx.RegisterOnCommit(func() { order = append(order, 1) })
	tx.RegisterOnCommit(func() { order = append(order, 2) })
	tx.RegisterOnCommit(func() { order = append(order, 3) })

	if err := m.Commit(tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 3}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestCommitTwiceFails(t *testing.T) {
	m := NewManager()
	tx := m.Begin(1)

	if err := m.Commit(tx); err != nil {
		t.Fatalf("unexpected error on first commit: %v", err)
	}
	if err := m.Commit(tx); err == nil {
		t.Fatalf("expected error committing an already-closed transaction")
	}
}

func TestAbortAfterCommitFails(t *testing.T) {
	m := NewManager()
	tx := m.Begin(1)

	if err := m.Commit(tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Abort(tx); err == nil {
		t.Fatalf("expected error aborting an already-committed transaction")
	}
}
