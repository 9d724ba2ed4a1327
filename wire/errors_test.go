package wire

import "testing"

func TestClassifySQLStateExactBeatsClass(t *testing.T) {
	cases := map[string]Category{
		"23505": UniqueViolation,
		"23514": CheckViolation,
		"23502": NotNullViolation,
		"23503": ForeignKeyViolation,
		"42P01": UndefinedObject,
		"40P01": Deadlock,
		"40001": SerializationFailure,
		"42501": PrivilegeError,
		"23000": ConstraintViolation,
		"08006": ConnectionError,
		"42601": SyntaxError,
		"22001": DataException,
		"25000": TransactionState,
		"40000": TransactionState,
		"28000": PrivilegeError,
		"XX000": InternalError,
		"99999": Other,
	}
	for code, want := range cases {
		if got := ClassifySQLState(code); got != want {
			t.Errorf("ClassifySQLState(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestClassifySQLStateDeterministic(t *testing.T) {
	for code := range exactSQLStates {
		a := ClassifySQLState(code)
		b := ClassifySQLState(code)
		if a != b {
			t.Fatalf("classifier not deterministic for %q", code)
		}
	}
}

func TestParseErrorFields(t *testing.T) {
	payload := []byte{}
	payload = append(payload, 'S')
	payload = append(payload, "ERROR\x00"...)
	payload = append(payload, 'C')
	payload = append(payload, "23505\x00"...)
	payload = append(payload, 'M')
	payload = append(payload, "duplicate key value\x00"...)
	payload = append(payload, 'D')
	payload = append(payload, "Key (id)=(1) already exists.\x00"...)
	payload = append(payload, 'H')
	payload = append(payload, "try another id\x00"...)
	payload = append(payload, 'Z') // unknown tag, must be skipped
	payload = append(payload, "ignored\x00"...)
	payload = append(payload, 0)

	f := ParseErrorFields(payload)
	if f.Severity != "ERROR" || f.SQLState != "23505" || f.Message != "duplicate key value" {
		t.Fatalf("unexpected parse: %+v", f)
	}
	if f.Detail != "Key (id)=(1) already exists." || f.Hint != "try another id" {
		t.Fatalf("unexpected detail/hint: %+v", f)
	}
}

func TestFillServerError(t *testing.T) {
	payload := append([]byte{}, 'C')
	payload = append(payload, "23505\x00"...)
	payload = append(payload, 'M')
	payload = append(payload, "dup\x00"...)
	payload = append(payload, 0)

	r := NewOKResult()
	FillServerError(r, payload)
	if r.OK || r.RowsValid || r.Code != ServerError {
		t.Fatalf("expected failed/invalid-rows/server-error result, got %+v", r)
	}
	if r.ErrDetail.Category != UniqueViolation {
		t.Fatalf("expected UniqueViolation, got %v", r.ErrDetail.Category)
	}
}

func TestExtractRowsAffected(t *testing.T) {
	cases := map[string]int64{
		"UPDATE 7":  7,
		"INSERT 0 1": 1,
		"SELECT 42": 42,
		"DELETE":    0,
		"":          0,
		"COMMIT":    0,
	}
	for tag, want := range cases {
		if got := ExtractRowsAffected(tag); got != want {
			t.Errorf("ExtractRowsAffected(%q) = %d, want %d", tag, got, want)
		}
	}
}

func TestIsFatalError(t *testing.T) {
	if !IsFatalError(SocketReadFailed, "", "") {
		t.Fatal("SocketReadFailed must be fatal")
	}
	if !IsFatalError(ServerError, "08006", "") {
		t.Fatal("SQLSTATE class 08 must be fatal")
	}
	if !IsFatalError(ServerError, "", "server closed the connection unexpectedly") {
		t.Fatal("known fatal substring must be fatal")
	}
	if IsFatalError(ServerError, "23505", "duplicate key value") {
		t.Fatal("ordinary server error must not be fatal")
	}
}
