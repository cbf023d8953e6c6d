package dexcache

import (
	"context"
	"fmt"
	"io"

	"github.com/jmgilman/go/dexcache/artifact"
	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/jmgilman/go/dexcache/config"
	"github.com/jmgilman/go/dexcache/internal/logging"
	"github.com/jmgilman/go/dexcache/store"
	"github.com/jmgilman/go/dexcache/toolversion"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"
	"github.com/jmgilman/go/fs/core"
)

// Pipeline wires a Coordinator, a local store and key parameters from a
// pipeline configuration.
type Pipeline struct {
	*Coordinator

	// Store is the local store, or nil when caching is disabled.
	Store *store.Local
	// Params are the key parameters derived from the configuration.
	Params cachekey.Params
}

// Open builds a Pipeline from cfg. Inputs are read and entries stored on fsys.
// When cfg does not pin the tool version it is probed with executor.
//
// Options are applied after the configured ones and may override them, except
// for WithStore: lookups and Record always use the store configured by
// cfg.Cache, and Open returns an error if opts replace it.
func Open(
	ctx context.Context,
	cfg config.Config,
	fsys core.FS,
	executor exec.Executor,
	opts ...Option,
) (*Pipeline, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logConfig := logging.DefaultLogConfig()
	logConfig.Level = cfg.LogLevel()
	logger := logging.NewLogger(logConfig)

	version, err := toolversion.Resolve(ctx, executor, cfg.Tool.Version, cfg.Tool.Binary)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{Params: cfg.Params(version)}
	base := []Option{WithFS(fsys), func(c *Coordinator) { c.logger = logger }}

	if cfg.Cache.Enabled {
		local, err := store.NewLocal(fsys, cfg.Cache.Dir)
		if err != nil {
			return nil, errors.WithContext(
				errors.Wrap(err, errors.CodeUnavailable, "failed to open cache store"),
				"dir", cfg.Cache.Dir,
			)
		}
		cleanupLogger := logger.WithOperation(logging.OpCleanup)
		if err := local.CleanupTempFiles(ctx); err != nil {
			cleanupLogger.Warn(ctx, "failed to clean up cache temp files", "dir", cfg.Cache.Dir, "error", err.Error())
		} else {
			cleanupLogger.Debug(ctx, "cache temp files cleaned", "dir", cfg.Cache.Dir)
		}
		p.Store = local
		base = append(base, WithStore(local))
	}

	coord, err := New(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if coord.store != p.configuredStore() {
		return nil, errors.New(errors.CodeInvalidInput,
			"WithStore cannot replace the store configured by cache.enabled and cache.dir")
	}
	p.Coordinator = coord

	logger.Info(ctx, "dex cache ready", "pipeline", p.String())

	return p, nil
}

// configuredStore returns p.Store as a Store, or nil when caching is disabled.
func (p *Pipeline) configuredStore() Store {
	if p.Store == nil {
		return nil
	}
	return p.Store
}

// Record stores a freshly built artifact for a missed lookup. Decisions that
// are not cacheable are ignored.
func (p *Pipeline) Record(ctx context.Context, d Decision, r io.Reader) error {
	if p.Store == nil || !d.Cacheable() {
		return nil
	}

	logger := p.logger.WithOperation(logging.OpPut).WithKey(d.Key)
	meta, err := p.Store.Put(ctx, d.Key, r)
	if err != nil {
		p.metrics.RecordStoreError(ctx, string(logging.OpPut))
		storeErr := storeError(string(logging.OpPut), d.Key, err)
		logger.Error(ctx, "failed to store built artifact", "error", storeErr.Error())
		return storeErr
	}

	logger.Debug(ctx, "cache entry stored", "size", meta.Size, "digest", meta.ArtifactDigest.String())
	return nil
}

// LookupInput looks up d with the configured parameters.
func (p *Pipeline) LookupInput(ctx context.Context, d artifact.Descriptor) (Decision, error) {
	return p.Coordinator.Lookup(ctx, d, p.Params)
}

// String describes the pipeline for logs.
func (p *Pipeline) String() string {
	return fmt.Sprintf("dexcache(enabled=%t, tool=%s@%s)", p.Enabled(), p.Params.ToolKind, p.Params.ToolVersion)
}
