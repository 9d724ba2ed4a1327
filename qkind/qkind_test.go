package qkind

import "testing"

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"SELECT * FROM users":             Read,
		"  select id from t":              Read,
		"INSERT INTO t VALUES (1)":        Write,
		"UPDATE t SET a=1":                Write,
		"DELETE FROM t WHERE id=1":        Write,
		"CREATE TABLE t (id int)":         DDL,
		"ALTER TABLE t ADD COLUMN a int":  DDL,
		"DROP TABLE t":                    DDL,
		"CALL some_procedure()":           Unknown,
	}
	for sql, want := range cases {
		if got := Classify(sql); got != want {
			t.Errorf("Classify(%q) = %v, want %v", sql, got, want)
		}
	}
}
