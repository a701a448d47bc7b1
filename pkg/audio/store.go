// Package audio stores uploaded audio bytes content-addressed by SHA-256.
// Files are written once and never overwritten.
package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// Store writes and reads content-addressed audio files under one directory.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates the directory if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audio: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Put streams r to disk under its content hash. Re-uploading identical
// bytes is a no-op returning the same reference.
func (s *Store) Put(r io.Reader, ext string) (sha string, path string, size int64, err error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("audio: temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	hasher := sha256.New()
	limited := io.LimitReader(r, s.maxBytes+1)
	size, err = io.Copy(io.MultiWriter(tmp, hasher), limited)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", "", 0, fmt.Errorf("audio: write: %w", err)
	}
	if size > s.maxBytes {
		return "", "", 0, fmt.Errorf("%w: upload exceeds %d bytes", corpuserr.ErrPayloadTooLarge, s.maxBytes)
	}
	if size == 0 {
		return "", "", 0, fmt.Errorf("%w: empty upload", corpuserr.ErrValidation)
	}

	sha = hex.EncodeToString(hasher.Sum(nil))
	path = filepath.Join(s.dir, sha+"."+ext)
	if _, statErr := os.Stat(path); statErr == nil {
		return sha, path, size, nil // identical bytes already stored
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", "", 0, fmt.Errorf("audio: place: %w", err)
	}
	return sha, path, size, nil
}

// Open returns a reader for previously stored bytes.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: audio %s", corpuserr.ErrNotFound, ref)
		}
		return nil, err
	}
	return f, nil
}
