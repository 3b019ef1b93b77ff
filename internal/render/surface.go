// Package render defines the boundary to whatever draws the filtered preview.
package render

import (
	"context"
	"log/slog"

	"github.com/user/remixsync/internal/types"
)

// Surface consumes resolved filter state. Implementations receive copies and
// must not assume they are called from a particular goroutine.
type Surface interface {
	Render(ctx context.Context, snap types.FilterSnapshot) error
}

// SurfaceFunc adapts a function to a Surface.
type SurfaceFunc func(ctx context.Context, snap types.FilterSnapshot) error

func (f SurfaceFunc) Render(ctx context.Context, snap types.FilterSnapshot) error {
	return f(ctx, snap)
}

// LogSurface logs each snapshot. Filters missing from the catalog are
// reported and skipped, like a pipeline without a shader for them.
type LogSurface struct {
	Catalog Catalog
}

// NewLogSurface creates a LogSurface over the built-in catalog.
func NewLogSurface() *LogSurface {
	return &LogSurface{Catalog: Builtin()}
}

func (l *LogSurface) Render(_ context.Context, snap types.FilterSnapshot) error {
	doc := types.Document{ActiveFilters: snap.ActiveFilters}
	var names []string
	for _, name := range doc.FilterNames() {
		if !l.Catalog.Known(name) {
			slog.Warn("filter not in catalog", "filter", name, "version", snap.Version)
			continue
		}
		names = append(names, name)
	}
	slog.Debug("render filters", "version", snap.Version, "filters", names)
	return nil
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Render(context.Context, types.FilterSnapshot) error { return nil }
