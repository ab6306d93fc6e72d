package idgen

import (
	"regexp"
	"testing"
)

func TestNewChipID(t *testing.T) {
	id, err := NewChipID()
	if err != nil {
		t.Fatalf("NewChipID() error: %v", err)
	}
	wantLen := len(ChipPrefix) + Length
	if len(id) != wantLen {
		t.Errorf("NewChipID() length = %d, want %d (id=%q)", len(id), wantLen, id)
	}
	if id[:len(ChipPrefix)] != ChipPrefix {
		t.Errorf("NewChipID() = %q, want prefix %q", id, ChipPrefix)
	}
}

func TestNewWindowID(t *testing.T) {
	id, err := NewWindowID()
	if err != nil {
		t.Fatalf("NewWindowID() error: %v", err)
	}
	if id[:len(WindowPrefix)] != WindowPrefix {
		t.Errorf("NewWindowID() = %q, want prefix %q", id, WindowPrefix)
	}
}

func TestNewChipID_Charset(t *testing.T) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(ChipPrefix) + `[a-zA-Z0-9]+$`)
	for i := 0; i < 100; i++ {
		id, err := NewChipID()
		if err != nil {
			t.Fatalf("NewChipID() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("NewChipID() = %q, does not match expected charset pattern", id)
		}
	}
}

func TestNewChipID_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := NewChipID()
		if err != nil {
			t.Fatalf("NewChipID() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
