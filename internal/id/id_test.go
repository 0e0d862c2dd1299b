package id

import (
	"strings"
	"testing"
)

func TestNewLengthAndAlphabet(t *testing.T) {
	got, err := New(8)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("expected length 8, got %d (%q)", len(got), got)
	}
	for _, r := range got {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("id %q contains %q outside alphabet", got, r)
		}
	}
}

func TestNewRaisesShortLengths(t *testing.T) {
	got, err := New(2)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if len(got) != DefaultLength {
		t.Fatalf("expected default length %d, got %d", DefaultLength, len(got))
	}
}

func TestNewIsNotConstant(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		got, err := New(DefaultLength)
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		seen[got] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatal("expected distinct ids across calls")
	}
}
