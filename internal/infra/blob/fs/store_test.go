package fs

import (
	"context"
	"strings"
	"testing"

	"synister/internal/blob/core"
)

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "  ", "../x", "/abs", "a/../../b", "x.meta"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
	if got, err := sanitizeKey("runs//a/./b.json"); err != nil || got != "runs/a/b.json" {
		t.Fatalf("unexpected clean key %q (%v)", got, err)
	}
}

func TestPutComputesSHA256ETag(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := store.Put(context.Background(), "a", strings.NewReader("abc"), core.PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	const sha = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if info.ETag != sha || info.Size != 3 {
		t.Fatalf("unexpected info %+v", info)
	}
	head, err := store.Head(context.Background(), "a")
	if err != nil || head.ETag != sha {
		t.Fatalf("head mismatch %+v (%v)", head, err)
	}
}
