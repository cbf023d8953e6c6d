package cachekey

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
)

// AlgorithmPathHash tags digests produced by PathHasher. It is not a content
// digest and is never registered with go-digest.
const AlgorithmPathHash digest.Algorithm = "xxh64-path"

// Hasher computes the FILE fingerprint for an input.
// Implementations must be safe for concurrent use and return an error carrying
// errors.CodeInvalidInput when the input is missing or unreadable.
type Hasher interface {
	Hash(ctx context.Context, path string) (digest.Digest, error)
}

// ContentHasher hashes the bytes of the input file with SHA-256.
// Concurrent requests for the same path share a single read.
type ContentHasher struct {
	fs    core.ReadFS
	group singleflight.Group
}

// NewContentHasher returns a hasher that reads inputs from fs.
func NewContentHasher(fs core.ReadFS) *ContentHasher {
	return &ContentHasher{fs: fs}
}

// Hash returns the SHA-256 digest of the file at path.
//
// Callers hashing the same path share one read. The read is not tied to any
// single caller's context; each caller stops waiting when its own ctx is done.
func (h *ContentHasher) Hash(ctx context.Context, path string) (digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	ch := h.group.DoChan(path, func() (interface{}, error) {
		return h.hash(path)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(digest.Digest), nil
	}
}

func (h *ContentHasher) hash(path string) (digest.Digest, error) {
	if err := statRegular(h.fs, path); err != nil {
		return "", err
	}

	f, err := h.fs.Open(path)
	if err != nil {
		return "", invalidInput(err, path, "failed to open input file")
	}
	defer func() { _ = f.Close() }()

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", invalidInput(err, path, "failed to read input file")
	}

	return digester.Digest(), nil
}

// PathHasher derives the FILE fingerprint from the input's path rather than its
// contents. This is the legacy keying scheme and a weaker guarantee: identical
// bytes at two paths produce two keys, and a file rewritten in place keeps its
// key. The file must still exist and be a regular file.
type PathHasher struct {
	fs core.ReadFS
}

// NewPathHasher returns a path-based hasher that checks inputs against fs.
func NewPathHasher(fs core.ReadFS) *PathHasher {
	return &PathHasher{fs: fs}
}

// Hash returns an xxhash-based digest of the cleaned path.
func (h *PathHasher) Hash(ctx context.Context, path string) (digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}
	if err := statRegular(h.fs, path); err != nil {
		return "", err
	}

	sum := xxhash.Sum64String(filepath.ToSlash(filepath.Clean(path)))
	return digest.NewDigestFromEncoded(AlgorithmPathHash, fmt.Sprintf("%016x", sum)), nil
}

func statRegular(fs core.ReadFS, path string) error {
	if path == "" {
		return errors.New(errors.CodeInvalidInput, "input file path cannot be empty")
	}

	info, err := fs.Stat(path)
	if err != nil {
		return invalidInput(err, path, "input file is missing or unreadable")
	}
	if !info.Mode().IsRegular() {
		return errors.WithContext(
			errors.New(errors.CodeInvalidInput, "input is not a regular file"),
			"path", path,
		)
	}
	return nil
}
