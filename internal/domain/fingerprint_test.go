package domain

import "testing"

func TestFingerprint_KnownDigests(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"", "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{"abc", "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{"def f():\nreturn 1", "66895159f0a882f1783e243265441a2fa604b17b"},
	}
	for _, c := range cases {
		if got := Fingerprint(c.text); got != c.want {
			t.Errorf("Fingerprint(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	text := "some normalized content"
	first := Fingerprint(text)
	for i := 0; i < 10; i++ {
		if got := Fingerprint(text); got != first {
			t.Fatalf("digest changed between calls: %s != %s", got, first)
		}
	}
	if len(first) != 40 {
		t.Errorf("expected 160-bit hex digest (40 chars), got %d", len(first))
	}
}

func TestFingerprint_SameContentDifferentOrigin(t *testing.T) {
	// Two distinct raw files that normalize identically must collide on
	// purpose; that collision is the exact-duplicate signal.
	a := Normalize("x = 1\n# from package A\ny = 2\n")
	b := Normalize("  x = 1\n\ny = 2   \n// from package B\n")
	if a != b {
		t.Fatalf("normalized forms differ: %q vs %q", a, b)
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical normalized content produced different fingerprints")
	}
}
