package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"
)

const (
	entriesDir   = "entries"
	tempDirName  = ".temp"
	artifactName = "artifact"
	metadataName = "metadata.json"
)

// Metadata describes a stored artifact. It is written after the artifact and
// its presence marks the entry as complete.
type Metadata struct {
	Key            string        `json:"key"`
	Command        string        `json:"command"`
	ArtifactDigest digest.Digest `json:"artifact_digest"`
	Size           int64         `json:"size"`
	CreatedAt      time.Time     `json:"created_at"`
	Inputs         []string      `json:"inputs"`
}

// Local is a persistent store on a core.FS.
//
// Entries live at <root>/entries/<aa>/<digest>/ where <digest> is the encoded
// key digest and <aa> its first two characters. Each entry holds the artifact
// and a metadata.json recording the artifact digest. Writes go through a
// temporary directory and are renamed into place.
type Local struct {
	fs       core.FS
	rootPath string
	tempDir  string

	// entryLocks serialises access to a single entry.
	entryLocks sync.Map // map[string]*sync.RWMutex
	// tempLock keeps CleanupTempFiles from racing in-flight writes.
	tempLock sync.RWMutex
	// globalLock guards filesystem structure changes; not every core.FS
	// backend tolerates concurrent mutation.
	globalLock sync.RWMutex
	seq        atomic.Uint64
}

// NewLocal creates a store rooted at rootPath on fsys, creating directories as needed.
func NewLocal(fsys core.FS, rootPath string) (*Local, error) {
	if fsys == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if rootPath == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}

	if err := fsys.MkdirAll(filepath.Join(rootPath, entriesDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create entries directory: %w", err)
	}

	tempDir := filepath.Join(rootPath, tempDirName)
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Local{
		fs:       fsys,
		rootPath: rootPath,
		tempDir:  tempDir,
	}, nil
}

// Root returns the root directory of the store.
func (s *Local) Root() string {
	return s.rootPath
}

func (s *Local) entryDir(key cachekey.Key) string {
	enc := key.Digest().Encoded()
	return filepath.Join(s.rootPath, entriesDir, enc[:2], enc)
}

func (s *Local) entryLock(dir string) *sync.RWMutex {
	lock, _ := s.entryLocks.LoadOrStore(dir, &sync.RWMutex{})
	return lock.(*sync.RWMutex)
}

func (s *Local) tempPath(key cachekey.Key, name string) string {
	enc := key.Digest().Encoded()
	return filepath.Join(s.tempDir, fmt.Sprintf("%s-%d-%s", enc[:12], s.seq.Add(1), name))
}

func validKey(key cachekey.Key) error {
	if key.IsZero() {
		return fmt.Errorf("cannot use the zero key")
	}
	if err := key.Digest().Validate(); err != nil {
		return fmt.Errorf("invalid key digest: %w", err)
	}
	return nil
}

// Put stores the artifact read from r under key, replacing any previous entry.
func (s *Local) Put(ctx context.Context, key cachekey.Key, r io.Reader) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, fmt.Errorf("context cancelled: %w", err)
	}
	if err := validKey(key); err != nil {
		return Metadata{}, err
	}

	s.tempLock.RLock()
	defer s.tempLock.RUnlock()

	dir := s.entryDir(key)
	lock := s.entryLock(dir)
	lock.Lock()
	defer lock.Unlock()

	tmpArtifact := s.tempPath(key, artifactName)
	tmpMetadata := s.tempPath(key, metadataName)
	cleanup := func() {
		_ = s.fs.Remove(tmpArtifact)
		_ = s.fs.Remove(tmpMetadata)
	}

	artifactDigest, size, err := s.writeArtifact(tmpArtifact, r)
	if err != nil {
		s.locked(cleanup)
		return Metadata{}, err
	}
	if err := ctx.Err(); err != nil {
		s.locked(cleanup)
		return Metadata{}, fmt.Errorf("context cancelled: %w", err)
	}

	meta := Metadata{
		Key:            key.String(),
		Command:        string(key.Command()),
		ArtifactDigest: artifactDigest,
		Size:           size,
		CreatedAt:      time.Now().UTC(),
	}
	for _, fp := range key.Inputs() {
		meta.Inputs = append(meta.Inputs, fp.String())
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		s.locked(cleanup)
		return Metadata{}, fmt.Errorf("failed to encode metadata: %w", err)
	}

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.fs.WriteFile(tmpMetadata, data, 0o644); err != nil {
		cleanup()
		return Metadata{}, fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		cleanup()
		return Metadata{}, fmt.Errorf("failed to create entry directory %q: %w", dir, err)
	}

	// Drop the old marker first so a crash between renames leaves no entry.
	metadataPath := filepath.Join(dir, metadataName)
	if err := s.fs.Remove(metadataPath); err != nil && !os.IsNotExist(err) {
		cleanup()
		return Metadata{}, fmt.Errorf("failed to invalidate previous entry: %w", err)
	}
	if err := s.fs.Rename(tmpArtifact, filepath.Join(dir, artifactName)); err != nil {
		cleanup()
		return Metadata{}, fmt.Errorf("failed to move artifact into %q: %w", dir, err)
	}
	if err := s.fs.Rename(tmpMetadata, metadataPath); err != nil {
		cleanup()
		return Metadata{}, fmt.Errorf("failed to move metadata into %q: %w", dir, err)
	}

	return meta, nil
}

func (s *Local) locked(fn func()) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	fn()
}

func (s *Local) writeArtifact(path string, r io.Reader) (digest.Digest, int64, error) {
	s.globalLock.Lock()
	file, err := s.fs.Create(path)
	s.globalLock.Unlock()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file %q: %w", path, err)
	}

	digester := digest.Canonical.Digester()
	n, err := io.Copy(io.MultiWriter(file, digester.Hash()), r)
	if err != nil {
		_ = file.Close()
		return "", 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close artifact: %w", err)
	}

	return digester.Digest(), n, nil
}

// Exists reports whether a complete entry is stored for key.
// It does not verify the artifact.
func (s *Local) Exists(ctx context.Context, key cachekey.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}
	if err := validKey(key); err != nil {
		return false, err
	}

	dir := s.entryDir(key)
	lock := s.entryLock(dir)
	lock.RLock()
	defer lock.RUnlock()

	s.globalLock.RLock()
	exists, err := s.fs.Exists(filepath.Join(dir, metadataName))
	s.globalLock.RUnlock()
	if err != nil {
		return false, fmt.Errorf("failed to check entry existence: %w", err)
	}
	return exists, nil
}

// Fetch verifies the entry for key and returns the path of its artifact on the
// store's filesystem. It returns ErrNotFound when no entry exists and
// ErrCorrupted when the artifact is missing or fails verification.
func (s *Local) Fetch(ctx context.Context, key cachekey.Key) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}
	if err := validKey(key); err != nil {
		return "", err
	}

	dir := s.entryDir(key)
	lock := s.entryLock(dir)
	lock.RLock()
	defer lock.RUnlock()

	meta, err := s.readMetadata(key, dir)
	if err != nil {
		return "", err
	}

	artifactPath := filepath.Join(dir, artifactName)
	if err := s.verifyArtifact(artifactPath, meta.ArtifactDigest); err != nil {
		return "", err
	}

	return artifactPath, nil
}

// Stat returns the metadata of the entry for key without verifying the artifact.
func (s *Local) Stat(ctx context.Context, key cachekey.Key) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, fmt.Errorf("context cancelled: %w", err)
	}
	if err := validKey(key); err != nil {
		return Metadata{}, err
	}

	dir := s.entryDir(key)
	lock := s.entryLock(dir)
	lock.RLock()
	defer lock.RUnlock()

	return s.readMetadata(key, dir)
}

func (s *Local) readMetadata(key cachekey.Key, dir string) (Metadata, error) {
	s.globalLock.RLock()
	data, err := s.fs.ReadFile(filepath.Join(dir, metadataName))
	s.globalLock.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: invalid metadata: %v", ErrCorrupted, err)
	}
	if meta.Key != key.String() {
		return Metadata{}, fmt.Errorf("%w: entry belongs to %s", ErrCorrupted, meta.Key)
	}
	if err := meta.ArtifactDigest.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("%w: invalid artifact digest: %v", ErrCorrupted, err)
	}

	return meta, nil
}

func (s *Local) verifyArtifact(path string, want digest.Digest) error {
	s.globalLock.RLock()
	file, err := s.fs.Open(path)
	s.globalLock.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: artifact missing", ErrCorrupted)
		}
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	verifier := want.Verifier()
	if _, err := io.Copy(verifier, file); err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w: artifact does not match %s", ErrCorrupted, want)
	}

	return nil
}

// Remove deletes the entry for key. Removing a missing entry is not an error.
func (s *Local) Remove(ctx context.Context, key cachekey.Key) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := validKey(key); err != nil {
		return err
	}

	dir := s.entryDir(key)
	lock := s.entryLock(dir)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.Lock()
	err := s.fs.RemoveAll(dir)
	s.globalLock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to remove entry %q: %w", dir, err)
	}
	return nil
}

// CleanupTempFiles removes leftovers of interrupted writes. It waits for
// in-flight writes to finish.
func (s *Local) CleanupTempFiles(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	s.tempLock.Lock()
	defer s.tempLock.Unlock()
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	entries, err := s.fs.ReadDir(s.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return s.fs.MkdirAll(s.tempDir, 0o755)
		}
		return fmt.Errorf("failed to read temp directory: %w", err)
	}

	for _, entry := range entries {
		path := filepath.Join(s.tempDir, entry.Name())
		if err := s.fs.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove temp file %q: %w", path, err)
		}
	}
	return nil
}

// Size returns the total size of all stored artifacts and metadata.
func (s *Local) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	s.globalLock.RLock()
	defer s.globalLock.RUnlock()

	var total int64
	err := s.fs.Walk(filepath.Join(s.rootPath, entriesDir), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to calculate store size: %w", err)
	}

	return total, nil
}
