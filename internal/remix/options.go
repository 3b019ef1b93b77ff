package remix

import (
	"context"
	"time"

	"github.com/user/remixsync/internal/render"
	"github.com/user/remixsync/internal/types"
)

// Retrier runs a connect attempt, possibly more than once.
type Retrier interface {
	ExecuteContext(ctx context.Context, fn func(context.Context) error) error
}

type once struct{}

func (once) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// DefaultConnectTimeout bounds the whole connect phase of StartSession.
const DefaultConnectTimeout = 5 * time.Second

// Option configures a Studio.
type Option func(*Studio)

// WithSurface sets where filter snapshots are rendered.
func WithSurface(s render.Surface) Option {
	return func(st *Studio) { st.surface = s }
}

// WithCatalog sets the filter catalogue used for default parameters.
func WithCatalog(c render.Catalog) Option {
	return func(st *Studio) { st.catalog = c }
}

// WithClips sets how initial clip ids are resolved.
func WithClips(c ClipSource) Option {
	return func(st *Studio) { st.clips = c }
}

// WithSaver sets where the final remix is saved.
func WithSaver(s types.ResultSaver) Option {
	return func(st *Studio) { st.saver = s }
}

// WithJournal records every envelope the studio sends or receives.
func WithJournal(j types.Journal) Option {
	return func(st *Studio) { st.journal = j }
}

// WithRetry sets the connect retry strategy. The default tries once.
func WithRetry(r Retrier) Option {
	return func(st *Studio) { st.retry = r }
}

// WithDispatch hands inbound envelopes to fn instead of applying them on the
// receive goroutine. fn is expected to call HandleEnvelope eventually, in
// receipt order.
func WithDispatch(fn func(types.Envelope) error) Option {
	return func(st *Studio) { st.dispatch = fn }
}

// WithDisplayName sets the local participant's name.
func WithDisplayName(name string) Option {
	return func(st *Studio) { st.displayName = name }
}

// WithMaxParticipants caps the roster.
func WithMaxParticipants(n int) Option {
	return func(st *Studio) { st.maxParticipants = n }
}

// WithAutoSave controls whether EndSession(save=true) saves the result.
func WithAutoSave(on bool) Option {
	return func(st *Studio) { st.autoSave = on }
}

// WithConnectTimeout bounds connecting, retries included.
func WithConnectTimeout(d time.Duration) Option {
	return func(st *Studio) {
		if d > 0 {
			st.connectTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(st *Studio) { st.now = now }
}
