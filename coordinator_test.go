package dexcache

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/jmgilman/go/dexcache/artifact"
	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/jmgilman/go/dexcache/eligibility"
	"github.com/jmgilman/go/dexcache/store"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const libfooPath = "/gradle/caches/com.example/libfoo/1.0/libfoo.jar"

func newInputFS(t *testing.T) *billy.MemoryFS {
	t.Helper()
	fs := billy.NewMemory()
	require.NoError(t, fs.MkdirAll("/gradle/caches/com.example/libfoo/1.0", 0o755))
	require.NoError(t, fs.WriteFile(libfooPath, []byte("PK\x03\x04 libfoo"), 0o644))
	return fs
}

func libfoo() artifact.Descriptor {
	return artifact.Descriptor{
		Path:         libfooPath,
		Format:       artifact.FormatJar,
		Scopes:       artifact.ScopeExternalLibraries,
		ContentTypes: artifact.ContentTypeClasses,
		Name:         "com.example:libfoo:1.0",
	}
}

func testParams() cachekey.Params {
	return cachekey.Params{
		ToolVersion:        "8.5.10",
		ToolKind:           cachekey.ToolKindD8,
		MinPlatformVersion: 21,
		Debuggable:         true,
	}
}

// stubStore returns canned answers and counts calls.
type stubStore struct {
	exists    bool
	existsErr error
	path      string
	fetchErr  error

	existsCalls atomic.Int32
	fetchCalls  atomic.Int32
}

func (s *stubStore) Exists(context.Context, cachekey.Key) (bool, error) {
	s.existsCalls.Add(1)
	return s.exists, s.existsErr
}

func (s *stubStore) Fetch(context.Context, cachekey.Key) (string, error) {
	s.fetchCalls.Add(1)
	return s.path, s.fetchErr
}

func newCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(append([]Option{WithFS(newInputFS(t))}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestLookup_MissThenHit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	c := newCoordinator(t, WithStore(mem))

	miss, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	assert.True(t, miss.IsMiss())
	assert.Equal(t, ReasonNotCached, miss.Reason)
	assert.NoError(t, miss.Err)
	assert.True(t, miss.Cacheable())
	require.False(t, miss.Key.IsZero())

	require.NoError(t, mem.Put(ctx, miss.Key, "/cache/libfoo.dex"))

	hit, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	assert.True(t, hit.IsHit())
	assert.Equal(t, "/cache/libfoo.dex", hit.Path)
	assert.True(t, hit.Key.Equal(miss.Key))
	assert.False(t, hit.Cacheable())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.KeysBuilt)
}

func TestLookup_Ineligible(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *artifact.Descriptor)
		store  bool
		reason eligibility.Reason
	}{
		{
			name:   "local jar tagged external",
			mutate: func(d *artifact.Descriptor) { d.Name = eligibility.DefaultLocalModulePrefix + "app/libs/vendor.jar" },
			store:  true,
			reason: eligibility.ReasonLocalModule,
		},
		{
			name:   "snapshot",
			mutate: func(d *artifact.Descriptor) { d.Path = "/repo/libfoo-1.1-SNAPSHOT.jar" },
			store:  true,
			reason: eligibility.ReasonMutableVersion,
		},
		{
			name:   "mixed scopes",
			mutate: func(d *artifact.Descriptor) { d.Scopes |= artifact.ScopeProject },
			store:  true,
			reason: eligibility.ReasonScope,
		},
		{
			name:   "no backend",
			mutate: func(d *artifact.Descriptor) {},
			store:  false,
			reason: eligibility.ReasonNoBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubStore{exists: true, path: "/cache/x.dex"}
			var opts []Option
			if tt.store {
				opts = append(opts, WithStore(stub))
			}
			c := newCoordinator(t, opts...)

			d := libfoo()
			tt.mutate(&d)

			decision, err := c.Lookup(context.Background(), d, testParams())
			require.NoError(t, err)
			assert.True(t, decision.IsIneligible())
			assert.Equal(t, tt.reason.String(), decision.Reason)
			assert.True(t, decision.Key.IsZero())
			assert.False(t, decision.Cacheable())
			assert.Zero(t, stub.existsCalls.Load(), "ineligible inputs never touch the store")
			assert.Equal(t, int64(1), c.Stats().Ineligible)
		})
	}
}

func TestLookup_IneligibleSkipsHashing(t *testing.T) {
	// The snapshot path does not exist; eligibility runs before any I/O.
	c := newCoordinator(t, WithStore(store.NewMemory()))

	d := libfoo()
	d.Path = "/missing/libbar-2.0-SNAPSHOT.jar"

	decision, err := c.Lookup(context.Background(), d, testParams())
	require.NoError(t, err)
	assert.True(t, decision.IsIneligible())
}

func TestLookup_StoreFailuresDegradeToMiss(t *testing.T) {
	backendErr := stderrors.New("connection reset")

	tests := []struct {
		name        string
		stub        *stubStore
		cause       error
		wantFetches int32
	}{
		{
			name:        "exists fails",
			stub:        &stubStore{existsErr: backendErr},
			cause:       backendErr,
			wantFetches: 0,
		},
		{
			name:        "exists true but fetch fails",
			stub:        &stubStore{exists: true, fetchErr: backendErr},
			cause:       backendErr,
			wantFetches: 1,
		},
		{
			name:        "fetch reports corruption",
			stub:        &stubStore{exists: true, fetchErr: store.ErrCorrupted},
			cause:       store.ErrCorrupted,
			wantFetches: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoordinator(t, WithStore(tt.stub))

			decision, err := c.Lookup(context.Background(), libfoo(), testParams())
			require.NoError(t, err, "store errors never reach the caller")
			assert.True(t, decision.IsMiss())
			assert.Equal(t, ReasonStoreFailure, decision.Reason)
			assert.Empty(t, decision.Path)
			assert.False(t, decision.Key.IsZero())
			assert.Equal(t, tt.wantFetches, tt.stub.fetchCalls.Load())

			require.Error(t, decision.Err)
			assert.ErrorIs(t, decision.Err, ErrStore)
			assert.ErrorIs(t, decision.Err, tt.cause, "cause is preserved")
			assert.Equal(t, errors.CodeUnavailable, errors.GetCode(decision.Err))
			assert.True(t, errors.IsRetryable(decision.Err))

			assert.Equal(t, int64(1), c.Stats().StoreErrors)
		})
	}
}

func TestLookup_CorruptLocalEntry(t *testing.T) {
	ctx := context.Background()
	fs := newInputFS(t)
	local, err := store.NewLocal(fs, "/cache")
	require.NoError(t, err)

	c, err := New(WithFS(fs), WithStore(local))
	require.NoError(t, err)

	miss, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	_, err = local.Put(ctx, miss.Key, bytes.NewReader([]byte("dex")))
	require.NoError(t, err)

	hit, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	require.True(t, hit.IsHit())

	require.NoError(t, fs.WriteFile(hit.Path, []byte("truncated"), 0o644))

	decision, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	assert.True(t, decision.IsMiss())
	assert.ErrorIs(t, decision.Err, store.ErrCorrupted)
}

func TestLookup_VersionBumpInvalidates(t *testing.T) {
	ctx := context.Background()
	fs := newInputFS(t)
	mem := store.NewMemory()

	c, err := New(WithFS(fs), WithStore(mem))
	require.NoError(t, err)

	first, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, first.Key, "/cache/libfoo.dex"))

	hit, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	require.True(t, hit.IsHit())

	bumped, err := New(WithFS(fs), WithStore(mem))
	require.NoError(t, err)
	bumped.keyVersion = cachekey.Version + 1

	decision, err := bumped.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	assert.True(t, decision.IsMiss())
	assert.False(t, decision.Key.Equal(first.Key))
}

func TestLookup_ParamsChangeKey(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, WithStore(store.NewMemory()))

	base, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)

	p := testParams()
	p.OptimizationFlags = []string{cachekey.NoOptimizeFlag}
	other, err := c.Lookup(ctx, libfoo(), p)
	require.NoError(t, err)

	assert.False(t, base.Key.Equal(other.Key))
}

func TestLookup_InvalidInputIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *artifact.Descriptor, p *cachekey.Params)
	}{
		{
			name:   "missing input file",
			mutate: func(d *artifact.Descriptor, p *cachekey.Params) { d.Path = "/gradle/caches/gone.jar" },
		},
		{
			name:   "missing tool version",
			mutate: func(d *artifact.Descriptor, p *cachekey.Params) { p.ToolVersion = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubStore{}
			c := newCoordinator(t, WithStore(stub))

			d, p := libfoo(), testParams()
			tt.mutate(&d, &p)

			_, err := c.Lookup(context.Background(), d, p)
			require.Error(t, err)
			assert.True(t, IsInvalidInput(err))
			assert.Zero(t, stub.existsCalls.Load())
		})
	}
}

func TestLookup_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCoordinator(t, WithStore(&stubStore{}))
	_, err := c.Lookup(ctx, libfoo(), testParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookup_CustomCommand(t *testing.T) {
	ctx := context.Background()
	fs := newInputFS(t)
	mem := store.NewMemory()

	a, err := New(WithFS(fs), WithStore(mem))
	require.NoError(t, err)
	b, err := New(WithFS(fs), WithStore(mem), WithCommand("DESUGAR_LIBRARY"))
	require.NoError(t, err)

	da, err := a.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	db, err := b.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)

	assert.False(t, da.Key.Equal(db.Key))
	assert.Equal(t, cachekey.Command("DESUGAR_LIBRARY"), db.Key.Command())

	_, err = New(WithCommand(""))
	assert.Error(t, err)
}

func TestLookup_PathHasher(t *testing.T) {
	ctx := context.Background()
	fs := newInputFS(t)
	mem := store.NewMemory()

	c, err := New(WithHasher(cachekey.NewPathHasher(fs)), WithStore(mem))
	require.NoError(t, err)

	miss, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, miss.Key, "/cache/libfoo.dex"))

	require.NoError(t, fs.WriteFile(libfooPath, []byte("rewritten in place"), 0o644))

	hit, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)
	assert.True(t, hit.IsHit(), "path hashing cannot see in-place rewrites")
}

func TestLookup_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := newCoordinator(t, WithStore(&stubStore{exists: true, fetchErr: stderrors.New("io timeout")}), WithLogger(logger))
	_, err := c.Lookup(context.Background(), libfoo(), testParams())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "io timeout")
	assert.Contains(t, out, "operation=fetch")
}

func TestLookup_LogsKeyFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := newCoordinator(t, WithStore(store.NewMemory()), WithLogger(logger))
	d := libfoo()
	d.Path = "/gradle/caches/gone.jar"

	_, err := c.Lookup(context.Background(), d, testParams())
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "failed to derive cache key")
	assert.Contains(t, out, "operation=build_key")
	assert.NotContains(t, out, "operation=lookup")
}

func TestLookup_Metrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	c := newCoordinator(t, WithStore(store.NewMemory()), WithMeterProvider(mp))
	_, err := c.Lookup(ctx, libfoo(), testParams())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	assert.Contains(t, names, "dexcache.lookup.total")
	assert.Contains(t, names, "dexcache.key.duration_ms")
}

func TestDecision_Outcome(t *testing.T) {
	assert.Equal(t, "hit", OutcomeHit.String())
	assert.Equal(t, "miss", OutcomeMiss.String())
	assert.Equal(t, "ineligible", OutcomeIneligible.String())
	assert.Equal(t, "outcome(7)", Outcome(7).String())
}
