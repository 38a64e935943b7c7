package value

import "testing"

func TestHandle_LeaseRelease(t *testing.T) {
	h := New([]byte("k"), []byte("v"))
	if !h.IsFreeable() {
		t.Fatal("new handle must start freeable (refcount 0)")
	}

	h.Lease()
	if h.IsFreeable() {
		t.Fatal("leased handle must not be freeable")
	}

	h.Lease()
	h.Release()
	if h.IsFreeable() {
		t.Fatal("handle with one outstanding lease must not be freeable")
	}

	h.Release()
	if !h.IsFreeable() {
		t.Fatal("handle must be freeable once all leases are released")
	}
}

func TestHandle_KeyMatchesAndSize(t *testing.T) {
	h := New([]byte("alpha"), []byte("bravo"))
	if !h.KeyMatches([]byte("alpha")) {
		t.Fatal("expected key match")
	}
	if h.KeyMatches([]byte("beta")) {
		t.Fatal("expected key mismatch")
	}
	if h.Size() != uint64(len("alpha")+len("bravo")) {
		t.Fatalf("unexpected size %d", h.Size())
	}
}

func TestHandle_CopyIsIndependent(t *testing.T) {
	h := New([]byte("k"), []byte("v1"))
	h.Lease()

	c := h.Copy()
	if !c.IsFreeable() {
		t.Fatal("a fresh copy must start with refcount 0")
	}
	if string(c.Value()) != "v1" {
		t.Fatalf("copy value mismatch: %q", c.Value())
	}

	h.Release()
}
