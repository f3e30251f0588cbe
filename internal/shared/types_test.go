package shared

import (
	"strings"
	"testing"
)

func TestNewID_Prefix(t *testing.T) {
	id := NewID("ten_")
	if !strings.HasPrefix(id, "ten_") {
		t.Errorf("expected ten_ prefix, got %s", id)
	}
	if len(id) != len("ten_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %d", len(id)-len("ten_"))
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID("recs_")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestOutcome_String(t *testing.T) {
	if OutcomeConfident.String() != "confident" {
		t.Errorf("unexpected string: %s", OutcomeConfident.String())
	}
	if OutcomeNoMatch.String() != "no_match" {
		t.Errorf("unexpected string: %s", OutcomeNoMatch.String())
	}
}
