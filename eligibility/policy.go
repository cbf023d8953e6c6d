// Package eligibility decides whether an input may consult the dex cache at all.
//
// Only external library jars are cached. Locally authored inputs change too
// often to benefit and are not guaranteed to be uniquely named, and dependencies
// with a mutable version can change content while keeping their identity.
// The policy is a pure function of the descriptor and performs no I/O.
package eligibility

import (
	"strings"

	"github.com/jmgilman/go/dexcache/artifact"
)

// DefaultLocalModulePrefix marks names the pipeline assigns to local jars that
// are not real external dependencies.
const DefaultLocalModulePrefix = "android.local.jars"

// DefaultMutableVersionMarker marks dependency versions whose contents may change
// without a version change.
const DefaultMutableVersionMarker = "-SNAPSHOT"

// Reason explains an eligibility decision.
type Reason string

const (
	// ReasonEligible means every rule passed.
	ReasonEligible Reason = ""
	// ReasonNoBackend means no cache store is configured.
	ReasonNoBackend Reason = "no cache backend configured"
	// ReasonNotFile means the input is not a single regular file.
	ReasonNotFile Reason = "input is not a single file"
	// ReasonScope means the scope set is not exactly external libraries.
	ReasonScope Reason = "input is not exclusively an external library"
	// ReasonContentType means the content type set is not exactly classes.
	ReasonContentType Reason = "input does not contain only classes"
	// ReasonLocalModule means the input is a locally produced jar.
	ReasonLocalModule Reason = "input is a local jar"
	// ReasonMutableVersion means the input path carries a mutable-version marker.
	ReasonMutableVersion Reason = "input has a mutable version"
)

// String returns the reason text, or "eligible".
func (r Reason) String() string {
	if r == ReasonEligible {
		return "eligible"
	}
	return string(r)
}

// Policy holds the naming conventions used to exclude inputs.
type Policy struct {
	// LocalModulePrefix is the name prefix reserved for local jars.
	LocalModulePrefix string
	// MutableVersionMarkers are path substrings that identify mutable versions.
	MutableVersionMarkers []string
}

// DefaultPolicy returns the policy used by the build pipeline.
func DefaultPolicy() Policy {
	return Policy{
		LocalModulePrefix:     DefaultLocalModulePrefix,
		MutableVersionMarkers: []string{DefaultMutableVersionMarker},
	}
}

// Check returns the first rule d fails, or ReasonEligible.
func (p Policy) Check(d artifact.Descriptor, backendPresent bool) Reason {
	switch {
	case !backendPresent:
		return ReasonNoBackend
	case !d.IsFile():
		return ReasonNotFile
	case d.Scopes != artifact.ScopeExternalLibraries:
		return ReasonScope
	case d.ContentTypes != artifact.ContentTypeClasses:
		return ReasonContentType
	case p.LocalModulePrefix != "" && strings.HasPrefix(d.Name, p.LocalModulePrefix):
		return ReasonLocalModule
	}

	for _, marker := range p.MutableVersionMarkers {
		if marker != "" && strings.Contains(d.Path, marker) {
			return ReasonMutableVersion
		}
	}

	return ReasonEligible
}

// IsEligible reports whether d may be looked up in the cache.
func (p Policy) IsEligible(d artifact.Descriptor, backendPresent bool) bool {
	return p.Check(d, backendPresent) == ReasonEligible
}
