package dexcache

import (
	"fmt"

	"github.com/jmgilman/go/dexcache/cachekey"
)

// Outcome is the result category of a lookup.
type Outcome int

const (
	// OutcomeIneligible means the input bypassed the cache.
	OutcomeIneligible Outcome = iota
	// OutcomeMiss means the input is eligible but no usable entry exists.
	OutcomeMiss
	// OutcomeHit means a cached artifact can be reused.
	OutcomeHit
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	case OutcomeIneligible:
		return "ineligible"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the result of a lookup.
type Decision struct {
	// Outcome is the result category.
	Outcome Outcome
	// Path is the cached artifact location. Set only for hits.
	Path string
	// Reason explains an ineligible or missed lookup.
	Reason string
	// Key is the derived cache key. Zero for ineligible inputs. On a miss it is
	// the key the freshly built artifact should be stored under.
	Key cachekey.Key
	// Err is the store failure that turned this lookup into a miss, if any.
	Err error
}

// IsHit reports whether the lookup hit.
func (d Decision) IsHit() bool { return d.Outcome == OutcomeHit }

// IsMiss reports whether the lookup missed.
func (d Decision) IsMiss() bool { return d.Outcome == OutcomeMiss }

// IsIneligible reports whether the input bypassed the cache.
func (d Decision) IsIneligible() bool { return d.Outcome == OutcomeIneligible }

// Cacheable reports whether a freshly built artifact should be stored.
func (d Decision) Cacheable() bool { return d.Outcome == OutcomeMiss && !d.Key.IsZero() }

// Reasons reported on misses.
const (
	ReasonNotCached    = "no entry for key"
	ReasonStoreFailure = "cache store failed"
)
