package dexcache

import (
	"log/slog"

	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/jmgilman/go/dexcache/eligibility"
	"github.com/jmgilman/go/dexcache/internal/logging"
	"github.com/jmgilman/go/fs/core"
	"go.opentelemetry.io/otel/metric"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore sets the cache store. Without a store every input is ineligible.
func WithStore(store Store) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithHasher sets the file hasher used for key derivation.
func WithHasher(hasher cachekey.Hasher) Option {
	return func(c *Coordinator) {
		c.hasher = hasher
	}
}

// WithFS hashes input contents read from fsys. Ignored when WithHasher is set.
func WithFS(fsys core.ReadFS) Option {
	return func(c *Coordinator) {
		c.fs = fsys
	}
}

// WithPolicy sets the eligibility policy.
func WithPolicy(policy eligibility.Policy) Option {
	return func(c *Coordinator) {
		c.policy = policy
	}
}

// WithLogger sets the logger. Defaults to discarding all output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logging.FromSlog(logger)
		}
	}
}

// WithMeterProvider exports lookup metrics through provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *Coordinator) {
		c.meterProvider = provider
	}
}

// WithCommand sets the command keys are derived for. Defaults to
// cachekey.CommandPredexLibrary.
func WithCommand(command cachekey.Command) Option {
	return func(c *Coordinator) {
		c.command = command
	}
}
