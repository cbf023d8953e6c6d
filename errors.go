package dexcache

import (
	"fmt"

	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/jmgilman/go/errors"
)

// ErrStore marks every failure reported by the cache store. Store failures
// never abort a lookup; they are attached to the resulting miss.
var ErrStore = errors.New(errors.CodeUnavailable, "cache store failure")

func storeError(op string, key cachekey.Key, err error) error {
	wrapped := errors.Wrapf(fmt.Errorf("%w: %w", ErrStore, err), errors.CodeUnavailable, "cache store %s failed", op)
	return errors.WithContext(wrapped, "key", key.String())
}

// IsInvalidInput reports whether err was caused by an unusable input file or
// invalid parameters.
func IsInvalidInput(err error) bool {
	return cachekey.IsInvalidInput(err)
}
