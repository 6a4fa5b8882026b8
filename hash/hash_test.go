package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameTransform(t *testing.T) {
	assert.Equal(t, "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3", FilenameTransform("test"))
}

func TestCASPathTransform(t *testing.T) {
	assert.Equal(t, "a94a8/fe5cc/b19ba/61c4c/0873d/391e9/87982/fbbd3", CASPathTransform("test"))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, "08d6c05a21512a79a1dfeb9d2a8f262f", ContentHash([]byte{1, 2, 3, 4}))
}

func TestFilenameTransformDeterministic(t *testing.T) {
	assert.Equal(t, FilenameTransform("some key"), FilenameTransform("some key"))
}

func TestCASPathTransformSegments(t *testing.T) {
	got := CASPathTransform("another key")
	segments := 1
	for _, r := range got {
		if r == '/' {
			segments++
		}
	}
	assert.Equal(t, sliceCount, segments)
}

func TestContentMultihashDeterministic(t *testing.T) {
	mh, err := ContentMultihash([]byte("hello world"))
	require.NoError(t, err)
	assert.NotEmpty(t, mh)

	again, err := ContentMultihash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, mh, again)
}

func TestContentFingerprintDiffersFromContentHash(t *testing.T) {
	b := []byte("mesh")
	assert.NotEqual(t, ContentHash(b), ContentFingerprint(b))
}
