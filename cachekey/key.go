// Package cachekey derives deterministic cache keys for dex archive outputs.
//
// A key captures every input that changes what the dexer produces for a library
// jar: the jar itself, the dexer version and kind, whether optimization and
// debug metadata are enabled, the minimum platform version and the key version.
// Inputs that do not change the output are left out.
//
// Keys are derived with SHA-256 over a canonical encoding of the command and
// the name-sorted fingerprints (see package fingerprint), so two builds with the
// same inputs always produce equal keys regardless of construction order.
package cachekey

import (
	"encoding/binary"
	"strings"

	"github.com/jmgilman/go/dexcache/fingerprint"
	"github.com/opencontainers/go-digest"
)

// Command identifies which transformation a key addresses. Keys for different
// commands never collide even when their fingerprints match.
type Command string

// CommandPredexLibrary addresses the conversion of an external library jar into
// a dex archive.
const CommandPredexLibrary Command = "PREDEX_LIBRARY_TO_DEX_ARCHIVE"

// Key is an immutable cache key. The zero value is not a valid key.
type Key struct {
	command Command
	inputs  []fingerprint.Fingerprint
	digest  digest.Digest
}

func newKey(command Command, set *fingerprint.Set) Key {
	b := binary.BigEndian.AppendUint64(nil, uint64(len(command)))
	b = append(b, command...)
	b = set.AppendEncoding(b)

	return Key{
		command: command,
		inputs:  set.All(),
		digest:  digest.FromBytes(b),
	}
}

// Command returns the transformation this key addresses.
func (k Key) Command() Command { return k.command }

// Digest returns the content-derived identifier of the key.
func (k Key) Digest() digest.Digest { return k.digest }

// Inputs returns a copy of the fingerprints in the order they were added.
func (k Key) Inputs() []fingerprint.Fingerprint {
	out := make([]fingerprint.Fingerprint, len(k.inputs))
	copy(out, k.inputs)
	return out
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.digest == ""
}

// Equal reports whether two keys address the same cache entry.
func (k Key) Equal(other Key) bool {
	return k.command == other.command && k.digest == other.digest
}

// String returns command@digest.
func (k Key) String() string {
	return string(k.command) + "@" + k.digest.String()
}

// Describe returns a multi-line listing of the key inputs for debugging.
func (k Key) Describe() string {
	var sb strings.Builder
	sb.WriteString(k.String())
	for _, fp := range k.inputs {
		sb.WriteString("\n  ")
		sb.WriteString(fp.String())
	}
	return sb.String()
}
