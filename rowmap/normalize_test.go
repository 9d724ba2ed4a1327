package rowmap

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"UserName":     "username",
		"user_name":    "user_name",
		"user__name":   "user_name",
		"User Name!!!": "username",
		"Order-ID":     "orderid",
		"":             "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"UserName", "user__name", "Order-ID__x", "___", "abc123"}
	for _, s := range inputs {
		once := Normalize(s)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q vs %q", s, once, twice)
		}
	}
}
