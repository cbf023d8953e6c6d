// Package fingerprint defines the typed input dimensions that make up a cache key.
//
// A Fingerprint is a named, typed value: the digest of an input file, a tool
// version string, a boolean switch or an integer such as a minimum platform
// version. Fingerprints are collected into a Set, which enforces unique names and
// produces a canonical byte encoding used for key derivation.
//
// # Encoding
//
// Each fingerprint encodes as three length-prefixed fields: the name, a one-byte
// kind tag and the value. Integers are fixed-width big-endian and booleans are a
// single byte, so two fingerprints with the same name, kind and value always
// encode to the same bytes.
package fingerprint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/opencontainers/go-digest"
)

// Kind tags the payload type carried by a Fingerprint.
type Kind uint8

const (
	// KindFileContentHash carries the digest of an input file.
	KindFileContentHash Kind = iota + 1
	// KindString carries an opaque string, such as a tool version.
	KindString
	// KindBoolean carries a flag.
	KindBoolean
	// KindInteger carries a signed integer.
	KindInteger
)

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindFileContentHash:
		return "file"
	case KindString:
		return "string"
	case KindBoolean:
		return "bool"
	case KindInteger:
		return "int"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyName is returned when a fingerprint without a name is added to a Set.
	ErrEmptyName = errors.New("fingerprint name cannot be empty")

	// ErrDuplicateName is returned when a Set already holds a fingerprint with the same name.
	ErrDuplicateName = errors.New("duplicate fingerprint name")
)

// Fingerprint is one named input dimension. The zero value is invalid.
type Fingerprint struct {
	name string
	kind Kind
	str  string
	num  int64
}

// File returns a fingerprint carrying the digest of an input file.
func File(name string, d digest.Digest) Fingerprint {
	return Fingerprint{name: name, kind: KindFileContentHash, str: d.String()}
}

// String returns a fingerprint carrying a string value.
func String(name, value string) Fingerprint {
	return Fingerprint{name: name, kind: KindString, str: value}
}

// Bool returns a fingerprint carrying a boolean value.
func Bool(name string, value bool) Fingerprint {
	fp := Fingerprint{name: name, kind: KindBoolean}
	if value {
		fp.num = 1
	}
	return fp
}

// Int returns a fingerprint carrying an integer value.
func Int(name string, value int64) Fingerprint {
	return Fingerprint{name: name, kind: KindInteger, num: value}
}

// Name returns the fingerprint name.
func (f Fingerprint) Name() string { return f.name }

// Kind returns the payload type.
func (f Fingerprint) Kind() Kind { return f.kind }

// FileDigest returns the file digest when the fingerprint is a file fingerprint.
func (f Fingerprint) FileDigest() (digest.Digest, bool) {
	if f.kind != KindFileContentHash {
		return "", false
	}
	return digest.Digest(f.str), true
}

// StringValue returns the value when the fingerprint is a string fingerprint.
func (f Fingerprint) StringValue() (string, bool) {
	if f.kind != KindString {
		return "", false
	}
	return f.str, true
}

// BoolValue returns the value when the fingerprint is a boolean fingerprint.
func (f Fingerprint) BoolValue() (bool, bool) {
	if f.kind != KindBoolean {
		return false, false
	}
	return f.num == 1, true
}

// IntValue returns the value when the fingerprint is an integer fingerprint.
func (f Fingerprint) IntValue() (int64, bool) {
	if f.kind != KindInteger {
		return 0, false
	}
	return f.num, true
}

// Equal reports whether two fingerprints have the same name, kind and value.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f == other
}

// String renders the fingerprint as NAME=kind:value.
func (f Fingerprint) String() string {
	return f.name + "=" + f.kind.String() + ":" + f.valueString()
}

func (f Fingerprint) valueString() string {
	switch f.kind {
	case KindBoolean:
		return strconv.FormatBool(f.num == 1)
	case KindInteger:
		return strconv.FormatInt(f.num, 10)
	default:
		return f.str
	}
}

// AppendEncoding appends the canonical encoding of f to b.
func (f Fingerprint) AppendEncoding(b []byte) []byte {
	b = appendField(b, []byte(f.name))
	b = appendField(b, []byte{byte(f.kind)})

	switch f.kind {
	case KindBoolean:
		b = appendField(b, []byte{byte(f.num)})
	case KindInteger:
		b = appendField(b, binary.BigEndian.AppendUint64(nil, uint64(f.num)))
	default:
		b = appendField(b, []byte(f.str))
	}
	return b
}

// appendField writes an 8-byte big-endian length prefix followed by data.
func appendField(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(len(data)))
	return append(b, data...)
}

// Set is an ordered collection of fingerprints with unique names.
// A Set is not safe for concurrent mutation.
type Set struct {
	items []Fingerprint
	names map[string]struct{}
}

// NewSet returns a set holding the given fingerprints.
func NewSet(fps ...Fingerprint) (*Set, error) {
	s := &Set{}
	for _, fp := range fps {
		if err := s.Add(fp); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a fingerprint. Names must be non-empty and unique within the set.
func (s *Set) Add(fp Fingerprint) error {
	if fp.name == "" {
		return ErrEmptyName
	}
	if s.names == nil {
		s.names = make(map[string]struct{})
	}
	if _, exists := s.names[fp.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, fp.name)
	}
	s.names[fp.name] = struct{}{}
	s.items = append(s.items, fp)
	return nil
}

// Len returns the number of fingerprints in the set.
func (s *Set) Len() int {
	return len(s.items)
}

// All returns a copy of the fingerprints in insertion order.
func (s *Set) All() []Fingerprint {
	out := make([]Fingerprint, len(s.items))
	copy(out, s.items)
	return out
}

// Canonical returns a copy of the fingerprints sorted by name.
func (s *Set) Canonical() []Fingerprint {
	out := s.All()
	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}

// AppendEncoding appends the canonical encoding of the whole set to b.
// The encoding is independent of insertion order.
func (s *Set) AppendEncoding(b []byte) []byte {
	canonical := s.Canonical()
	b = binary.BigEndian.AppendUint64(b, uint64(len(canonical)))
	for _, fp := range canonical {
		b = fp.AppendEncoding(b)
	}
	return b
}
