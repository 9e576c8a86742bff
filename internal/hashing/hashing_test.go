package hashing

import "testing"

func TestContentAddressDeterministic(t *testing.T) {
	a := ContentAddress("the same text")
	b := ContentAddress("the same text")
	if a != b {
		t.Errorf("same content hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if ContentAddress("other text") == a {
		t.Error("different content collided")
	}
}

func TestContentAddressKnownValue(t *testing.T) {
	// sha256("") is a fixed constant; guards against accidental salting.
	got := ContentAddress("")
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Errorf("ContentAddress(\"\") = %s, want %s", got, want)
	}
}

func TestFingerprintSeparatesParts(t *testing.T) {
	// ("ab","c") and ("a","bc") must not produce the same key.
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Error("fingerprint does not separate parts")
	}
	if Fingerprint("x", "y") != Fingerprint("x", "y") {
		t.Error("fingerprint not deterministic")
	}
}
