package remix

import (
	"context"
	"strings"
	"time"

	"github.com/user/remixsync/internal/types"
)

// ClipSource looks up clip metadata by id.
type ClipSource interface {
	Resolve(ctx context.Context, id types.ClipID) (types.Clip, error)
}

// PlaceholderClips fabricates clip metadata for ids that have no catalogue
// behind them: title "Clip <id>" and URL "<BaseURL>/<id>.mp4".
type PlaceholderClips struct {
	BaseURL  string
	Duration float64
	Now      func() time.Time
}

// DefaultClipDuration is used when PlaceholderClips.Duration is unset.
const DefaultClipDuration = 10

func (p PlaceholderClips) Resolve(ctx context.Context, id types.ClipID) (types.Clip, error) {
	if err := ctx.Err(); err != nil {
		return types.Clip{}, err
	}
	duration := p.Duration
	if duration <= 0 {
		duration = DefaultClipDuration
	}
	base := strings.TrimRight(p.BaseURL, "/")
	if base == "" {
		base = "https://example.com/clips"
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return types.Clip{
		ID:        id,
		Title:     "Clip " + string(id),
		Duration:  duration,
		URL:       base + "/" + string(id) + ".mp4",
		CreatedAt: now().UTC(),
	}, nil
}
