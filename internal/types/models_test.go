// internal/types/models_test.go
package types

import (
	"testing"
	"time"
)

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := Document{
		Timeline: []Clip{{ID: "c1", Title: "Clip c1", Duration: 5, CreatedAt: time.Now()}},
		ActiveFilters: map[string]FilterSettings{
			"blur": {Name: "blur", Params: Params{"radius": 5}, Enabled: true},
		},
		Version: 3,
	}

	clone := doc.Clone()
	clone.ActiveFilters["blur"].Params["radius"] = 9
	clone.Timeline[0].Title = "changed"
	delete(clone.ActiveFilters, "blur")

	if doc.ActiveFilters["blur"].Params["radius"] != 5 {
		t.Errorf("expected original radius 5, got %v", doc.ActiveFilters["blur"].Params["radius"])
	}
	if doc.Timeline[0].Title != "Clip c1" {
		t.Errorf("expected original title, got %s", doc.Timeline[0].Title)
	}
	if _, ok := doc.ActiveFilters["blur"]; !ok {
		t.Error("expected original to keep blur")
	}
}

func TestDocumentCloneNormalizesNil(t *testing.T) {
	clone := Document{Version: 7}.Clone()
	if clone.Timeline == nil || clone.ActiveFilters == nil {
		t.Fatal("expected non-nil collections")
	}
	if clone.Version != 7 {
		t.Errorf("expected version 7, got %d", clone.Version)
	}
}

func TestFilterNamesSorted(t *testing.T) {
	doc := Document{ActiveFilters: map[string]FilterSettings{"vhs": {}, "blur": {}, "glitch": {}}}
	names := doc.FilterNames()
	want := []string{"blur", "glitch", "vhs"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected names[%d] = %s, got %s", i, want[i], names[i])
		}
	}
}

func TestEventKindVersioned(t *testing.T) {
	if !KindFilterChange.Versioned() || !KindClipAdded.Versioned() || !KindStateUpdate.Versioned() {
		t.Error("expected document-carrying kinds to be versioned")
	}
	if KindCursorMove.Versioned() || KindParticipantJoin.Versioned() {
		t.Error("expected presence kinds to be unversioned")
	}
}
