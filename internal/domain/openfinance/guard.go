package openfinance

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Guard serializes work per connection. A second caller for a connection
// that is already syncing waits for and shares the in-flight result
// instead of starting another run against the same cursor.
type Guard struct {
	group singleflight.Group
}

// Do runs fn once per key at a time. shared reports whether the result came
// from a run started by another caller.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (v any, shared bool, err error) {
	// The run is bound to the first caller's ctx; waiters share its outcome.
	ch := g.group.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}
