// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if id == "" {
		t.Error("expected non-empty SessionID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestNewEnvelopeIDSortable(t *testing.T) {
	a := NewEnvelopeID()
	b := NewEnvelopeID()
	if len(string(a)) != 26 {
		t.Errorf("expected ULID format, got %s", a)
	}
	if a == b {
		t.Error("expected distinct envelope ids")
	}
	if string(a) > string(b) {
		t.Errorf("expected %s to sort before %s", a, b)
	}
}
