package usercache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultPrefetchConcurrency bounds parallel collaborator calls of one Prefetch
const DefaultPrefetchConcurrency = 8

// Prefetch looks up every distinct key once. Keys already cached or in flight
// cost nothing. It returns when every lookup it started has finished, or with
// ctx.Err() if ctx is done before all lookups were started.
func Prefetch(ctx context.Context, c *Cache, workspaceID string, keys []string) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(DefaultPrefetchConcurrency)

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		if err := egCtx.Err(); err != nil {
			_ = eg.Wait()
			return err
		}

		eg.Go(func() error {
			c.Lookup(egCtx, key, workspaceID)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
