package fingerprint

import (
	"testing"
)

func TestCompute_Deterministic(t *testing.T) {
	a := Compute("Paris is nice", map[string]string{"lang": "en"})
	b := Compute("Paris is nice", map[string]string{"lang": "en"})
	if a != b {
		t.Fatalf("same input produced different fingerprints: %s vs %s", a, b)
	}
}

func TestCompute_OrderIndependent(t *testing.T) {
	m1 := map[string]string{}
	m1["threshold"] = "0.5"
	m1["lang"] = "en"
	m1["model"] = "large"

	m2 := map[string]string{}
	m2["model"] = "large"
	m2["lang"] = "en"
	m2["threshold"] = "0.5"

	for i := 0; i < 20; i++ {
		if Compute("text", m1) != Compute("text", m2) {
			t.Fatal("permuted extra args must produce the same fingerprint")
		}
	}
}

func TestCompute_NilAndEmptyArgsAreEqual(t *testing.T) {
	if Compute("x", nil) != Compute("x", map[string]string{}) {
		t.Fatal("nil and empty extra args should be equivalent")
	}
}

func TestCompute_Sensitivity(t *testing.T) {
	base := Compute("Paris is nice", map[string]string{"lang": "en"})

	cases := []struct {
		name  string
		text  string
		extra map[string]string
	}{
		{"case", "paris is nice", map[string]string{"lang": "en"}},
		{"whitespace", "Paris is nice ", map[string]string{"lang": "en"}},
		{"value", "Paris is nice", map[string]string{"lang": "fr"}},
		{"key", "Paris is nice", map[string]string{"Lang": "en"}},
		{"extra pair", "Paris is nice", map[string]string{"lang": "en", "x": "y"}},
		{"no args", "Paris is nice", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if Compute(tc.text, tc.extra) == base {
				t.Errorf("expected different fingerprint for %s change", tc.name)
			}
		})
	}
}

func TestCompute_NoBoundaryAmbiguity(t *testing.T) {
	// Text that looks like an encoded argument list must not collide with
	// the real argument list.
	a := Compute("a\n{\"k\":\"v\"}", nil)
	b := Compute("a", map[string]string{"k": "v"})
	if a == b {
		t.Fatal("text/argument boundary is ambiguous")
	}

	c := Compute("x", map[string]string{"a,b": "c"})
	d := Compute("x", map[string]string{"a": "b,c"})
	if c == d {
		t.Fatal("separator characters inside keys must not collide")
	}
}

func TestCanonicalArgs(t *testing.T) {
	got := CanonicalArgs(map[string]string{"b": "2", "a": "1"})
	want := `{"a":"1","b":"2"}`
	if got != want {
		t.Errorf("CanonicalArgs = %s, want %s", got, want)
	}
}

func TestTextDigest_IgnoresArgs(t *testing.T) {
	if TextDigest("hello") != TextDigest("hello") {
		t.Fatal("text digest must be deterministic")
	}
	if TextDigest("hello") == TextDigest("Hello") {
		t.Fatal("text digest must be case-sensitive")
	}
}

func TestFingerprint_String(t *testing.T) {
	fp := Compute("x", nil)
	if len(fp.String()) != 2*Size {
		t.Errorf("expected %d hex chars, got %d", 2*Size, len(fp.String()))
	}
	if len(fp.Short()) != 12 {
		t.Errorf("expected short form of 12 chars, got %d", len(fp.Short()))
	}
}
