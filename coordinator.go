package dexcache

import (
	"context"
	"fmt"
	"time"

	"github.com/jmgilman/go/dexcache/artifact"
	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/jmgilman/go/dexcache/eligibility"
	"github.com/jmgilman/go/dexcache/internal/logging"
	"github.com/jmgilman/go/dexcache/internal/metrics"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"go.opentelemetry.io/otel/metric"
)

// Store is the cache backend consulted by lookups. Implementations must be
// safe for concurrent use.
type Store interface {
	// Exists reports whether an entry is stored for key.
	Exists(ctx context.Context, key cachekey.Key) (bool, error)
	// Fetch returns the location of the artifact stored for key.
	Fetch(ctx context.Context, key cachekey.Key) (string, error)
}

// Coordinator answers cache lookups for dex inputs.
type Coordinator struct {
	store         Store
	hasher        cachekey.Hasher
	fs            core.ReadFS
	policy        eligibility.Policy
	logger        *logging.Logger
	meterProvider metric.MeterProvider
	command       cachekey.Command

	// keyVersion is cachekey.Version outside of tests.
	keyVersion int
	builder    *cachekey.Builder
	metrics    *metrics.Recorder
}

// New creates a coordinator. Inputs are hashed by content from the local
// filesystem unless WithHasher or WithFS says otherwise.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		policy:     eligibility.DefaultPolicy(),
		logger:     logging.NewNopLogger(),
		command:    cachekey.CommandPredexLibrary,
		keyVersion: cachekey.Version,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	if c.hasher == nil {
		if c.fs == nil {
			c.fs = billy.NewLocal()
		}
		c.hasher = cachekey.NewContentHasher(c.fs)
	}
	c.builder = cachekey.NewBuilder(c.hasher)

	recorder, err := metrics.NewRecorder(c.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	c.metrics = recorder

	return c, nil
}

// Enabled reports whether a store is configured.
func (c *Coordinator) Enabled() bool {
	return c.store != nil
}

// Lookup decides how the input described by d should be produced.
//
// An ineligible input yields OutcomeIneligible without touching the store.
// For eligible inputs the key is derived and the store is consulted; any store
// failure yields OutcomeMiss with Decision.Err set. Lookup returns an error
// only when the key cannot be derived, because the input file is missing or
// unreadable, params are invalid, or ctx is done.
func (c *Coordinator) Lookup(ctx context.Context, d artifact.Descriptor, params cachekey.Params) (Decision, error) {
	logger := c.logger.WithOperation(logging.OpLookup)

	if reason := c.policy.Check(d, c.Enabled()); reason != eligibility.ReasonEligible {
		c.metrics.RecordLookup(ctx, metrics.OutcomeIneligible)
		logging.LogIneligible(ctx, logger, d.Path, reason.String())
		return Decision{Outcome: OutcomeIneligible, Reason: reason.String()}, nil
	}

	start := time.Now()
	key, err := c.builder.Build(ctx, c.command, d.Path, params, c.keyVersion)
	if err != nil {
		c.logger.WithOperation(logging.OpBuildKey).Debug(ctx, "failed to derive cache key",
			"input", d.Path, "error", err.Error())
		return Decision{}, err
	}
	c.metrics.RecordKeyDuration(ctx, time.Since(start))
	logger = logger.WithKey(key)

	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		return c.storeFailure(ctx, logger, logging.OpExists, key, err)
	}
	if !exists {
		c.metrics.RecordLookup(ctx, metrics.OutcomeMiss)
		logging.LogCacheMiss(ctx, logger, d.Path, ReasonNotCached)
		return Decision{Outcome: OutcomeMiss, Reason: ReasonNotCached, Key: key}, nil
	}

	path, err := c.store.Fetch(ctx, key)
	if err != nil {
		return c.storeFailure(ctx, logger, logging.OpFetch, key, err)
	}

	c.metrics.RecordLookup(ctx, metrics.OutcomeHit)
	logging.LogCacheHit(ctx, logger, d.Path, path)
	return Decision{Outcome: OutcomeHit, Path: path, Key: key}, nil
}

// storeFailure degrades a store error to a miss. Cancellation of the lookup
// itself is still returned to the caller.
func (c *Coordinator) storeFailure(
	ctx context.Context,
	logger *logging.Logger,
	op logging.Operation,
	key cachekey.Key,
	err error,
) (Decision, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Decision{}, fmt.Errorf("context cancelled: %w", ctxErr)
	}

	storeErr := storeError(string(op), key, err)
	c.metrics.RecordStoreError(ctx, string(op))
	c.metrics.RecordLookup(ctx, metrics.OutcomeMiss)
	logging.LogStoreError(ctx, logger, op, storeErr)

	return Decision{
		Outcome: OutcomeMiss,
		Reason:  ReasonStoreFailure,
		Key:     key,
		Err:     storeErr,
	}, nil
}

// Stats is a snapshot of lookup statistics.
type Stats = metrics.Snapshot

// Stats returns the lookup statistics recorded so far.
func (c *Coordinator) Stats() Stats {
	return c.metrics.Snapshot()
}
