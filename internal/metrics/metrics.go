// Package metrics records dex cache lookup statistics.
//
// Every recording updates both an in-process snapshot, which backs the
// coordinator's Stats method, and a set of OpenTelemetry instruments for
// export. Recorder is safe for concurrent use.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ScopeName is the instrumentation scope used when creating the meter.
const ScopeName = "github.com/jmgilman/go/dexcache"

// Instrument names.
const (
	MetricLookupTotal   = "dexcache.lookup.total"
	MetricStoreErrors   = "dexcache.store.errors"
	MetricKeyDurationMs = "dexcache.key.duration_ms"
)

// Outcome labels for lookup counters.
const (
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeIneligible = "ineligible"
)

// Recorder records lookup metrics.
type Recorder struct {
	lookups     metric.Int64Counter
	storeErrors metric.Int64Counter
	keyDuration metric.Float64Histogram

	hits       atomic.Int64
	misses     atomic.Int64
	ineligible atomic.Int64
	storeErrs  atomic.Int64
	keysBuilt  atomic.Int64
	keyNanos   atomic.Int64
	startTime  time.Time
}

// NewRecorder creates a recorder whose instruments come from provider.
// A nil provider records only the in-process snapshot.
func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(ScopeName)

	lookups, err := meter.Int64Counter(
		MetricLookupTotal,
		metric.WithDescription("Total number of cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	storeErrors, err := meter.Int64Counter(
		MetricStoreErrors,
		metric.WithDescription("Cache store failures that degraded a lookup to a miss"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	keyDuration, err := meter.Float64Histogram(
		MetricKeyDurationMs,
		metric.WithDescription("Time spent deriving a cache key in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		lookups:     lookups,
		storeErrors: storeErrors,
		keyDuration: keyDuration,
		startTime:   time.Now(),
	}, nil
}

// RecordLookup records the outcome of a single lookup.
func (r *Recorder) RecordLookup(ctx context.Context, outcome string) {
	switch outcome {
	case OutcomeHit:
		r.hits.Add(1)
	case OutcomeMiss:
		r.misses.Add(1)
	case OutcomeIneligible:
		r.ineligible.Add(1)
	}
	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStoreError records a failed store operation.
func (r *Recorder) RecordStoreError(ctx context.Context, operation string) {
	r.storeErrs.Add(1)
	r.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordKeyDuration records how long a key took to build.
func (r *Recorder) RecordKeyDuration(ctx context.Context, d time.Duration) {
	r.keysBuilt.Add(1)
	r.keyNanos.Add(int64(d))
	r.keyDuration.Record(ctx, float64(d)/float64(time.Millisecond))
}

// Snapshot is a point-in-time view of the recorded statistics.
type Snapshot struct {
	Hits           int64
	Misses         int64
	Ineligible     int64
	StoreErrors    int64
	KeysBuilt      int64
	AvgKeyDuration time.Duration
	HitRate        float64
	Uptime         time.Duration
}

// Lookups returns the total number of recorded lookups.
func (s Snapshot) Lookups() int64 {
	return s.Hits + s.Misses + s.Ineligible
}

// Snapshot returns the current statistics. HitRate is the share of eligible
// lookups that hit, as a percentage.
func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		Hits:        r.hits.Load(),
		Misses:      r.misses.Load(),
		Ineligible:  r.ineligible.Load(),
		StoreErrors: r.storeErrs.Load(),
		KeysBuilt:   r.keysBuilt.Load(),
		Uptime:      time.Since(r.startTime),
	}

	if s.KeysBuilt > 0 {
		s.AvgKeyDuration = time.Duration(r.keyNanos.Load() / s.KeysBuilt)
	}
	if eligible := s.Hits + s.Misses; eligible > 0 {
		s.HitRate = float64(s.Hits) / float64(eligible) * 100
	}

	return s
}
