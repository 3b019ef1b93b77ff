// internal/state/result_test.go
package state

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/user/remixsync/internal/types"
)

func TestResultStore(t *testing.T) {
	dir := t.TempDir()
	store := NewResultStore(dir)
	ctx := context.Background()

	doc := types.Document{
		Timeline: []types.Clip{{ID: "a", Title: "Clip a", Duration: 5}},
		ActiveFilters: map[string]types.FilterSettings{
			"vhs":  {Name: "vhs", Params: types.Params{"intensity": 0.7}, Enabled: true},
			"blur": {Name: "blur", Params: types.Params{"radius": 5}, Enabled: true},
		},
		Version: 4,
	}

	url, err := store.Save(ctx, "s1", doc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("expected file URL, got %s", url)
	}
	if _, err := os.Stat(strings.TrimPrefix(url, "file://")); err != nil {
		t.Errorf("saved file missing: %v", err)
	}

	metas, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 {
		t.Fatalf("expected 1 result, got %d", len(metas))
	}
	meta := metas[0]
	if meta.Version != 4 || meta.Clips != 1 {
		t.Errorf("unexpected meta %+v", meta)
	}
	if len(meta.Filters) != 2 || meta.Filters[0] != "blur" {
		t.Errorf("expected sorted filter names, got %v", meta.Filters)
	}

	got, err := store.Get(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 4 || got.ActiveFilters["vhs"].Params["intensity"] != 0.7 {
		t.Errorf("unexpected document %+v", got)
	}

	again, err := store.GetMeta(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.SessionID != "s1" {
		t.Errorf("expected session s1, got %s", again.SessionID)
	}
}

func TestResultStoreNotFound(t *testing.T) {
	store := NewResultStore(t.TempDir())
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
