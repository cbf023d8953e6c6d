// Package dexcache decides whether a library jar can be served from the dex
// archive cache instead of being dexed again.
//
// A build pipeline converts each external library jar into a dex archive. The
// output depends only on the jar contents and a handful of tool settings, so it
// can be reused across builds and machines. For each input the Coordinator:
//
//   - checks eligibility (see package eligibility); ineligible inputs bypass
//     the cache entirely,
//   - derives a deterministic cache key (see package cachekey),
//   - asks the configured Store whether the key is present and, if so, where
//     its artifact lives.
//
// Lookups never fail because of the cache itself. Store errors degrade to a
// miss and are reported on the Decision; only an unreadable input or invalid
// parameters abort a lookup, since the build step would fail on them anyway.
//
// # Usage
//
//	coord, err := dexcache.New(
//		dexcache.WithStore(localStore),
//		dexcache.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//
//	decision, err := coord.Lookup(ctx, descriptor, params)
//	if err != nil {
//		return err // input problem
//	}
//	switch decision.Outcome {
//	case dexcache.OutcomeHit:
//		// reuse decision.Path
//	case dexcache.OutcomeMiss:
//		// dex the jar, then store it under decision.Key
//	case dexcache.OutcomeIneligible:
//		// dex the jar without caching
//	}
//
// A Coordinator is safe for concurrent use. LookupAll fans lookups for many
// inputs out over a bounded worker group.
//
// # Pipelines
//
// Open assembles a Coordinator from a config.Config: it resolves the dexer
// version, opens a store.Local under the configured cache directory and sets
// up logging. After a miss, Record stores the freshly built archive:
//
//	p, err := dexcache.Open(ctx, cfg, billy.NewLocal(), exec.New())
//	...
//	decision, err := p.LookupInput(ctx, descriptor)
//	if decision.IsMiss() {
//		// dex the jar into out
//		err = p.Record(ctx, decision, out)
//	}
package dexcache
