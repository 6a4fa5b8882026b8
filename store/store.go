// Package store implements the filesystem-backed, content-addressed blob store
// that every meshstore node uses to persist published and received blobs.
package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/colibri-net/meshstore/hash"
)

// ErrNotFound is returned by Read, ReadStream and Delete when the requested key has
// no corresponding blob on disk.
var ErrNotFound = errors.New("store: key not found")

const defaultRootDir = "meshstore-data"

// Opts configures a Store.
type Opts struct {
	// Root is the directory under which blobs are written. It is created on first
	// write if it does not already exist. Defaults to "meshstore-data".
	Root string

	// Transform maps a key to the relative path, under Root, of its blob.
	// Defaults to hash.CASPathTransform.
	Transform hash.PathTransform

	// Compress, when true, zstd-compresses blobs before writing them to disk and
	// transparently decompresses them on read. It is invisible to callers: the
	// round-trip law write(k, b); read(k) == b holds either way.
	Compress bool

	// Log receives structured diagnostics. Defaults to logrus.StandardLogger().
	Log *logrus.Logger
}

// Store is a directory of content-addressed blobs, keyed through Opts.Transform.
type Store struct {
	root      string
	transform hash.PathTransform
	compress  bool
	log       *logrus.Entry
}

// New constructs a Store from opts, filling in defaults for any zero-valued field.
func New(opts Opts) *Store {
	if opts.Root == "" {
		opts.Root = defaultRootDir
	}
	if opts.Transform == nil {
		opts.Transform = hash.CASPathTransform
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Store{
		root:      opts.Root,
		transform: opts.Transform,
		compress:  opts.Compress,
		log:       opts.Log.WithField("component", "store"),
	}
}

// FullPath returns the on-disk path for key. It is pure: it performs no I/O and its
// result is stable for the lifetime of the Store.
func (s *Store) FullPath(key string) string {
	return filepath.Join(s.root, s.transform(key))
}

// Has reports whether a blob is currently stored under key.
func (s *Store) Has(key string) bool {
	_, err := os.Stat(s.FullPath(key))
	return err == nil
}

// Write persists all bytes read from r under key, creating Root and any
// intermediate directories implied by the transform as needed. A prior blob under
// the same key is overwritten. Writing a zero-length reader succeeds and leaves a
// zero-length blob on disk, also when Compress is set (the zstd encoder emits no
// frame for empty input).
func (s *Store) Write(key string, r io.Reader) (int64, error) {
	path := s.FullPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.Wrapf(err, "store: mkdir for key %q", key)
	}

	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, errors.Wrapf(err, "store: read payload for key %q", key)
	}

	out := buf
	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return 0, errors.Wrap(err, "store: create zstd encoder")
		}
		out = enc.EncodeAll(buf, nil)
		_ = enc.Close()
	}

	// Atomic write: stage to a temp file, then rename into place, so a reader never
	// observes a partially written blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return 0, errors.Wrapf(err, "store: write temp file for key %q", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, errors.Wrapf(err, "store: rename temp file for key %q", key)
	}

	s.log.WithField("key", key).WithField("bytes", len(buf)).Debug("wrote blob")
	return int64(len(buf)), nil
}

// Read returns the full, decompressed contents of the blob stored under key.
func (s *Store) Read(key string) ([]byte, error) {
	_, rc, err := s.ReadStream(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ReadStream returns the size and a stream of the blob stored under key. Without
// Compress the stream is the open file and is read lazily. If Compress is set,
// the whole blob is read and decompressed before ReadStream returns, and the
// stream yields the decompressed bytes from memory; that path is not lazy.
func (s *Store) ReadStream(key string) (int64, io.ReadCloser, error) {
	path := s.FullPath(key)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, errors.Wrapf(err, "store: open key %q", key)
	}

	if !s.compress {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, nil, errors.Wrapf(err, "store: stat key %q", key)
		}
		return info.Size(), f, nil
	}

	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "store: read compressed key %q", key)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, nil, errors.Wrap(err, "store: create zstd decoder")
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "store: decompress key %q", key)
	}
	return int64(len(plain)), io.NopCloser(bytes.NewReader(plain)), nil
}

// Delete removes the blob stored under key. It returns ErrNotFound if no such blob
// exists.
func (s *Store) Delete(key string) error {
	path := s.FullPath(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "store: delete key %q", key)
	}
	s.log.WithField("key", key).Debug("deleted blob")
	return nil
}

// Clear removes Root recursively. A subsequent Write recreates it. Calling Clear
// when Root does not exist returns an error; this is documented, not a bug: the
// source implementation this store is modeled on does not treat re-clearing as a
// no-op.
func (s *Store) Clear() error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return errors.Errorf("store: root %q does not exist", s.root)
	}
	if err := os.RemoveAll(s.root); err != nil {
		return errors.Wrapf(err, "store: clear root %q", s.root)
	}
	s.log.Debug("cleared store root")
	return nil
}
