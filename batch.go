package dexcache

import (
	"context"

	"github.com/jmgilman/go/dexcache/artifact"
	"github.com/jmgilman/go/dexcache/cachekey"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds LookupAll when no limit is given.
const DefaultConcurrency = 8

// LookupAll looks up every descriptor with at most concurrency lookups in
// flight. Decisions are returned in input order. The first lookup error
// cancels the remaining lookups and is returned.
func (c *Coordinator) LookupAll(
	ctx context.Context,
	descriptors []artifact.Descriptor,
	params cachekey.Params,
	concurrency int,
) ([]Decision, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	decisions := make([]Decision, len(descriptors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, d := range descriptors {
		g.Go(func() error {
			decision, err := c.Lookup(gctx, d, params)
			if err != nil {
				return err
			}
			decisions[i] = decision
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}
