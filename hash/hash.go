// Package hash implements the pure key-to-path and content-hash transforms used by
// the content-addressed store. Every function here is a total, side-effect-free
// function of its input: same bytes in, same string out, forever.
package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/sha3"
)

// blockSize is the width, in hex characters, of each path segment produced by
// CASPathTransform.
const blockSize = 5

// sliceCount is the number of blockSize segments a 40-character SHA-1 digest
// splits into (40 / 5).
const sliceCount = 8

// PathTransform maps an opaque key to the relative path under which its blob is
// stored. It must be a pure, deterministic function: the store's on-disk layout
// depends on it never changing behavior for a key already written.
type PathTransform func(key string) string

// FilenameTransform is the canonical PathTransform: the lowercase hex SHA-1 digest
// of the key, used as a flat filename.
func FilenameTransform(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CASPathTransform is the sharding PathTransform: the same SHA-1 digest as
// FilenameTransform, split into eight 5-character segments joined by "/", so that
// no single directory ends up holding one entry per key in the store.
func CASPathTransform(key string) string {
	sum := sha1.Sum([]byte(key))
	digest := hex.EncodeToString(sum[:])

	segments := make([]string, sliceCount)
	for i := 0; i < sliceCount; i++ {
		from, to := i*blockSize, (i+1)*blockSize
		segments[i] = digest[from:to]
	}
	return strings.Join(segments, "/")
}

// ContentHash returns the lowercase hex MD5 digest of b. This is the canonical
// content-identity check used by the store's testable properties; it says nothing
// about where a blob is stored (that's PathTransform's job).
func ContentHash(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// ContentFingerprint returns the lowercase hex Keccak-256 digest of b. It is not
// part of the normative content-identity contract (ContentHash is); it exists so a
// node can cross-check a blob's identity against peers or tooling built around a
// Keccak-based content-addressing scheme.
func ContentFingerprint(b []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentMultihash wraps ContentHash's MD5 digest as a self-describing multihash,
// hex-encoded. It lets non-meshstore tooling that already speaks multihash (IPFS,
// libp2p, etc.) identify a meshstore blob without knowing meshstore's wire format.
func ContentMultihash(b []byte) (string, error) {
	sum := md5.Sum(b)
	mh, err := multihash.Encode(sum[:], multihash.MD5)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mh), nil
}
