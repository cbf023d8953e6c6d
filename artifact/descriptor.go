// Package artifact describes the build-pipeline inputs that the dex cache
// reads when deciding whether, and under which key, an input may be cached.
//
// A Descriptor is owned by the pipeline. The cache only inspects it; nothing in
// this module mutates a descriptor after it has been handed over.
package artifact

import (
	"fmt"
	"strings"
)

// Scope identifies where an input came from. Scopes form a bit set so that an
// input contributed by more than one origin can be represented exactly.
type Scope uint8

const (
	// ScopeProject is code authored in the project being built.
	ScopeProject Scope = 1 << iota
	// ScopeSubProjects is code from other modules of the same build.
	ScopeSubProjects
	// ScopeExternalLibraries is code resolved from an external repository.
	ScopeExternalLibraries
	// ScopeTestedCode is the code under test for test variants.
	ScopeTestedCode
	// ScopeProvidedOnly is compile-only code that is not packaged.
	ScopeProvidedOnly
)

var scopeNames = []struct {
	scope Scope
	name  string
}{
	{ScopeProject, "PROJECT"},
	{ScopeSubProjects, "SUB_PROJECTS"},
	{ScopeExternalLibraries, "EXTERNAL_LIBRARIES"},
	{ScopeTestedCode, "TESTED_CODE"},
	{ScopeProvidedOnly, "PROVIDED_ONLY"},
}

// Scopes combines the given scopes into a single set.
func Scopes(scopes ...Scope) Scope {
	var s Scope
	for _, sc := range scopes {
		s |= sc
	}
	return s
}

// Has reports whether every scope in other is also in s.
func (s Scope) Has(other Scope) bool {
	return other != 0 && s&other == other
}

// String returns the scope names joined with "|".
func (s Scope) String() string {
	if s == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range scopeNames {
		if s&n.scope != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ContentType identifies what kind of content an input carries.
type ContentType uint8

const (
	// ContentTypeClasses is compiled JVM class files.
	ContentTypeClasses ContentType = 1 << iota
	// ContentTypeResources is non-code resources.
	ContentTypeResources
	// ContentTypeDex is already-dexed code.
	ContentTypeDex
)

var contentTypeNames = []struct {
	ct   ContentType
	name string
}{
	{ContentTypeClasses, "CLASSES"},
	{ContentTypeResources, "RESOURCES"},
	{ContentTypeDex, "DEX"},
}

// ContentTypes combines the given content types into a single set.
func ContentTypes(types ...ContentType) ContentType {
	var c ContentType
	for _, t := range types {
		c |= t
	}
	return c
}

// Has reports whether every content type in other is also in c.
func (c ContentType) Has(other ContentType) bool {
	return other != 0 && c&other == other
}

// String returns the content type names joined with "|".
func (c ContentType) String() string {
	if c == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range contentTypeNames {
		if c&n.ct != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Format distinguishes single-file inputs from aggregate ones.
type Format int

const (
	// FormatJar is a single regular file, typically a jar archive.
	FormatJar Format = iota
	// FormatDirectory is a directory of class files.
	FormatDirectory
)

// String returns a string representation of the Format.
func (f Format) String() string {
	switch f {
	case FormatJar:
		return "jar"
	case FormatDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Descriptor is one input handed to the dexing step by the build pipeline.
type Descriptor struct {
	// Path is the location of the input on disk.
	Path string
	// Format says whether Path is a single file or an aggregate.
	Format Format
	// Scopes is the set of origins the pipeline attributes to this input.
	Scopes Scope
	// ContentTypes is the set of content types the input carries.
	ContentTypes ContentType
	// Name is the logical name the pipeline gave the input, such as a
	// dependency coordinate.
	Name string
}

// IsFile reports whether the descriptor represents a single regular file.
func (d Descriptor) IsFile() bool {
	return d.Format == FormatJar
}

// String returns a compact representation suitable for log output.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s, scopes=%s, types=%s, path=%s)",
		d.Name, d.Format, d.Scopes, d.ContentTypes, d.Path)
}
