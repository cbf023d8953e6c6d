package cachekey

import (
	"context"
	"slices"

	"github.com/jmgilman/go/dexcache/fingerprint"
	"github.com/jmgilman/go/errors"
)

// Version is the cache key version. Bump it whenever the meaning or encoding of
// any fingerprint changes, or when broken entries may have been written; every
// entry stored under an older version then stops matching.
const Version = 4

// JumboMode is always enabled for dex archives. It stays in the key so entries
// written by tools that honoured the flag remain distinguishable.
const JumboMode = true

// NoOptimizeFlag is the dexer argument that disables optimization.
const NoOptimizeFlag = "--no-optimize"

// Fingerprint names, in the order they are added to a key.
const (
	ParamFile               = "FILE"
	ParamToolVersion        = "TOOL_VERSION"
	ParamJumboMode          = "JUMBO_MODE"
	ParamOptimize           = "OPTIMIZE"
	ParamToolKind           = "TOOL_KIND"
	ParamCacheKeyVersion    = "CACHE_KEY_VERSION"
	ParamMinPlatformVersion = "MIN_PLATFORM_VERSION"
	ParamDebuggable         = "DEBUGGABLE"
)

// ToolKind identifies the dexer backend. Outputs of different backends are never
// interchangeable.
type ToolKind string

const (
	// ToolKindDX is the legacy dx dexer.
	ToolKindDX ToolKind = "DX"
	// ToolKindD8 is the d8 dexer.
	ToolKindD8 ToolKind = "D8"
)

// Valid reports whether k is a known tool kind.
func (k ToolKind) Valid() bool {
	return k == ToolKindDX || k == ToolKindD8
}

// Params holds the pipeline-supplied inputs that affect the dex output.
type Params struct {
	// ToolVersion is the exact version string of the dexer.
	ToolVersion string
	// OptimizationFlags are the additional arguments passed to the dexer.
	OptimizationFlags []string
	// ToolKind is the dexer backend.
	ToolKind ToolKind
	// MinPlatformVersion is the minimum platform API level the output targets.
	MinPlatformVersion int
	// Debuggable reports whether debug metadata is embedded in the output.
	Debuggable bool
}

// Optimize reports whether optimization is enabled for these parameters.
func (p Params) Optimize() bool {
	return !slices.Contains(p.OptimizationFlags, NoOptimizeFlag)
}

// Validate checks that the parameters can produce a meaningful key.
func (p Params) Validate() error {
	if p.ToolVersion == "" {
		return errors.New(errors.CodeInvalidInput, "tool version cannot be empty")
	}
	if !p.ToolKind.Valid() {
		return errors.Newf(errors.CodeInvalidInput, "unknown tool kind %q", p.ToolKind)
	}
	if p.MinPlatformVersion < 0 {
		return errors.Newf(errors.CodeInvalidInput, "min platform version cannot be negative: %d", p.MinPlatformVersion)
	}
	return nil
}

// Builder assembles cache keys. It is safe for concurrent use when its Hasher is.
type Builder struct {
	hasher Hasher
}

// NewBuilder returns a builder that fingerprints input files with hasher.
func NewBuilder(hasher Hasher) *Builder {
	return &Builder{hasher: hasher}
}

// Build returns the key for running command over inputFile with params.
// keyVersion is normally Version.
//
// Build blocks while the input file is hashed. It returns an error carrying
// errors.CodeInvalidInput if the file is missing or unreadable or the params are
// invalid.
func (b *Builder) Build(
	ctx context.Context,
	command Command,
	inputFile string,
	params Params,
	keyVersion int,
) (Key, error) {
	if command == "" {
		return Key{}, errors.New(errors.CodeInvalidInput, "command cannot be empty")
	}
	if err := params.Validate(); err != nil {
		return Key{}, err
	}

	fileDigest, err := b.hasher.Hash(ctx, inputFile)
	if err != nil {
		return Key{}, err
	}

	set, err := fingerprint.NewSet(
		fingerprint.File(ParamFile, fileDigest),
		fingerprint.String(ParamToolVersion, params.ToolVersion),
		fingerprint.Bool(ParamJumboMode, JumboMode),
		fingerprint.Bool(ParamOptimize, params.Optimize()),
		fingerprint.String(ParamToolKind, string(params.ToolKind)),
		fingerprint.Int(ParamCacheKeyVersion, int64(keyVersion)),
		fingerprint.Int(ParamMinPlatformVersion, int64(params.MinPlatformVersion)),
		fingerprint.Bool(ParamDebuggable, params.Debuggable),
	)
	if err != nil {
		return Key{}, errors.Wrap(err, errors.CodeInternal, "failed to assemble key fingerprints")
	}

	return newKey(command, set), nil
}
