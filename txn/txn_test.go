package txn

import "testing"

func TestIsolationSQL(t *testing.T) {
	cases := map[Isolation]string{
		ReadCommitted:  "READ COMMITTED",
		RepeatableRead: "REPEATABLE READ",
		Serializable:   "SERIALIZABLE",
	}
	for iso, want := range cases {
		if got := iso.sql(); got != want {
			t.Errorf("Isolation(%d).sql() = %q, want %q", iso, got, want)
		}
	}
}

func TestCounterNamesAreUniqueAndNotGlobal(t *testing.T) {
	var a, b Counter
	if a.next() != "sp_1" {
		t.Fatalf("expected first name sp_1, got %s", a.next())
	}
	// a second, independent counter starts from its own zero state —
	// it must not share sequence state with a.
	if first := b.next(); first != "sp_1" {
		t.Fatalf("expected an independent counter to start at sp_1, got %s", first)
	}
}

func TestTransactionCommitRequiresActive(t *testing.T) {
	tr := &Transaction{active: false}
	if err := tr.Commit(nil); err == nil {
		t.Fatal("expected error committing an inactive transaction")
	}
}

func TestTransactionFinished(t *testing.T) {
	tr := &Transaction{active: false, committed: true}
	if !tr.Finished() {
		t.Fatal("expected Finished() to report true after commit")
	}
}
