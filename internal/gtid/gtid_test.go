package gtid

import "testing"

func TestCompareTotalOrder(t *testing.T) {
	a := GTID{PrimarySeqNo: 5, GTSeqNo: 8}
	b := GTID{PrimarySeqNo: 5, GTSeqNo: 9}
	c := GTID{PrimarySeqNo: 6, GTSeqNo: 0}

	if a.Compare(b) >= 0 {
		t.Fatalf("expected (5,8) < (5,9)")
	}
	if b.Compare(c) >= 0 {
		t.Fatalf("expected (5,9) < (6,0)")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected equal GTIDs to compare 0")
	}
}

func TestIncAndIncPrimary(t *testing.T) {
	g := GTID{PrimarySeqNo: 5, GTSeqNo: 7}
	if got := g.inc(); got != (GTID{PrimarySeqNo: 5, GTSeqNo: 8}) {
		t.Fatalf("expected inc to bump GTSeqNo, got %v", got)
	}
	if got := g.incPrimary(); got != (GTID{PrimarySeqNo: 6, GTSeqNo: 0}) {
		t.Fatalf("expected incPrimary to bump primary and reset sub-sequence, got %v", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := GTID{PrimarySeqNo: 1, GTSeqNo: 2}
	encoded := g.Encode()
	if Decode(encoded) != g {
		t.Fatalf("expected round trip, got %v", Decode(encoded))
	}
}

func TestEncodeIsBigEndian(t *testing.T) {
	g := GTID{PrimarySeqNo: 1, GTSeqNo: 2}
	b := g.Encode()
	want := [16]byte{
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 2,
	}
	if b != want {
		t.Fatalf("expected big-endian encoding %v, got %v", want, b)
	}
}

func TestEncodeOrderMatchesNumericOrder(t *testing.T) {
	low := GTID{PrimarySeqNo: 1, GTSeqNo: 5}
	high := GTID{PrimarySeqNo: 1, GTSeqNo: 6}

	lb, hb := low.Encode(), high.Encode()
	for i := range lb {
		if lb[i] != hb[i] {
			if lb[i] < hb[i] {
				return
			}
			t.Fatalf("expected byte-wise order to match numeric order")
		}
	}
}

func TestScenarioS6(t *testing.T) {
	mgr := NewManager(GTID{PrimarySeqNo: 5, GTSeqNo: 7})

	a := mgr.GetGTIDForPrimary()
	if a != (GTID{PrimarySeqNo: 5, GTSeqNo: 8}) {
		t.Fatalf("expected a = (5,8), got %v", a)
	}

	b := mgr.GetGTIDForPrimary()
	if b != (GTID{PrimarySeqNo: 5, GTSeqNo: 9}) {
		t.Fatalf("expected b = (5,9), got %v", b)
	}

	minLive, _ := mgr.GetMins()
	if minLive != (GTID{PrimarySeqNo: 5, GTSeqNo: 8}) {
		t.Fatalf("expected minLive = (5,8), got %v", minLive)
	}

	mgr.NoteLiveGTIDDone(a)
	minLive, _ = mgr.GetMins()
	if minLive != (GTID{PrimarySeqNo: 5, GTSeqNo: 9}) {
		t.Fatalf("expected minLive = (5,9) after a done, got %v", minLive)
	}

	mgr.NoteLiveGTIDDone(b)
	minLive, _ = mgr.GetMins()
	if minLive != (GTID{PrimarySeqNo: 5, GTSeqNo: 10}) {
		t.Fatalf("expected minLive = (5,10) after b done, got %v", minLive)
	}

	mgr.ResetManager(GTID{PrimarySeqNo: 5, GTSeqNo: 9})
	next := mgr.GetGTIDForPrimary()
	if next != (GTID{PrimarySeqNo: 6, GTSeqNo: 0}) {
		t.Fatalf("expected next GTID after resetManager to be (6,0), got %v", next)
	}
}

func TestScenarioS7Encoding(t *testing.T) {
	g := GTID{PrimarySeqNo: 1, GTSeqNo: 2}
	want := [16]byte{
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 2,
	}
	if g.Encode() != want {
		t.Fatalf("unexpected encoding: %v", g.Encode())
	}
	if Decode(want) != g {
		t.Fatalf("expected decode(encode) == original")
	}
}

func TestNoteLiveGTIDDoneUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on noteLiveGTIDDone for unknown GTID")
		}
	}()
	mgr := NewManager(GTID{})
	mgr.NoteLiveGTIDDone(GTID{PrimarySeqNo: 99, GTSeqNo: 0})
}

func TestResetManagerWithLiveOutstandingPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic resetting manager with live GTIDs outstanding")
		}
	}()
	mgr := NewManager(GTID{})
	mgr.GetGTIDForPrimary()
	mgr.ResetManager(GTID{})
}

func TestResetManagerDoesNotClearUnapplied(t *testing.T) {
	mgr := NewManager(GTID{})
	applying := GTID{PrimarySeqNo: 0, GTSeqNo: 2}
	mgr.NoteApplyingGTID(applying)

	mgr.ResetManager(GTID{PrimarySeqNo: 10, GTSeqNo: 0})

	_, minUnapplied := mgr.GetMins()
	if minUnapplied != applying {
		t.Fatalf("expected resetManager to leave minUnappliedGTID untouched, got %v", minUnapplied)
	}
}

func TestNoteGTIDAddedOnSecondary(t *testing.T) {
	mgr := NewManager(GTID{})
	seen := GTID{PrimarySeqNo: 3, GTSeqNo: 5}
	mgr.NoteGTIDAdded(seen)

	minLive, _ := mgr.GetMins()
	if minLive != seen {
		t.Fatalf("expected minLive = %v, got %v", seen, minLive)
	}
}

func TestNoteGTIDAddedWithInFlightPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic calling noteGTIDAdded while a GTID is in flight")
		}
	}()
	mgr := NewManager(GTID{})
	mgr.GetGTIDForPrimary()
	mgr.NoteGTIDAdded(GTID{PrimarySeqNo: 1, GTSeqNo: 0})
}

func TestNoteGTIDAppliedSymmetricToLiveDone(t *testing.T) {
	mgr := NewManager(GTID{})
	g1 := GTID{PrimarySeqNo: 0, GTSeqNo: 2}
	mgr.NoteApplyingGTID(g1)
	g2 := GTID{PrimarySeqNo: 0, GTSeqNo: 3}
	mgr.NoteApplyingGTID(g2)

	_, minUnapplied := mgr.GetMins()
	if minUnapplied != g1 {
		t.Fatalf("expected minUnapplied = g1, got %v", minUnapplied)
	}

	mgr.NoteGTIDApplied(g1)
	_, minUnapplied = mgr.GetMins()
	if minUnapplied != g2 {
		t.Fatalf("expected minUnapplied = g2 after g1 applied, got %v", minUnapplied)
	}
}
