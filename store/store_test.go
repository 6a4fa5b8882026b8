package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colibri-net/meshstore/hash"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(Opts{Root: root, Transform: hash.CASPathTransform})
}

func TestWriteThenRead(t *testing.T) {
	s := newTestStore(t)
	payload := []byte{1, 2, 3, 4}

	n, err := s.Write("k1", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)

	got, err := s.Read("k1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteOverwritesLastWriterWins(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("k1", bytes.NewReader([]byte("first")))
	require.NoError(t, err)
	_, err = s.Write("k1", bytes.NewReader([]byte("second")))
	require.NoError(t, err)

	got, err := s.Read("k1")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestWriteEmptyReaderSucceeds(t *testing.T) {
	s := newTestStore(t)

	n, err := s.Write("empty", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.Read("empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadMissingKeyIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMissingKeyIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesBlob(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write("k1", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.Delete("k1"))
	assert.False(t, s.Has("k1"))
}

func TestFullPathIsRootJoinTransform(t *testing.T) {
	s := newTestStore(t)
	want := filepath.Join(s.root, hash.CASPathTransform("k1"))
	assert.Equal(t, want, s.FullPath("k1"))
}

func TestClearRemovesRootAndErrorsIfAbsent(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "data")
	s := New(Opts{Root: sub, Transform: hash.CASPathTransform})

	_, err := s.Write("k1", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	_, statErr := os.Stat(sub)
	assert.True(t, os.IsNotExist(statErr))

	assert.Error(t, s.Clear())
}

func TestCompressedStoreRoundTrips(t *testing.T) {
	root := t.TempDir()
	s := New(Opts{Root: root, Transform: hash.CASPathTransform, Compress: true})

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	_, err := s.Write("big", bytes.NewReader(payload))
	require.NoError(t, err)

	got, err := s.Read("big")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadStreamIsLazy(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("streamed")
	_, err := s.Write("k1", bytes.NewReader(payload))
	require.NoError(t, err)

	size, rc, err := s.ReadStream("k1")
	require.NoError(t, err)
	defer rc.Close()
	assert.EqualValues(t, len(payload), size)

	got := make([]byte, len(payload))
	_, err = rc.Read(got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
