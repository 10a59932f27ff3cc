package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateDigestDeterminism(t *testing.T) {
	d1, err := StateDigest("plan-a", []byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	d2, err := StateDigest("plan-a", []byte(`{"a":1, "b":2}`))
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "key order and whitespace must not change the digest")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestStateDigestSeparatesScopes(t *testing.T) {
	state := []byte(`{"a":1}`)
	d1, err := StateDigest("plan-a", state)
	require.NoError(t, err)
	d2, err := StateDigest("plan-b", state)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestStateDigestRejectsFloats(t *testing.T) {
	_, err := StateDigest("plan-a", []byte(`{"a":1.5}`))
	assert.Error(t, err)
}

func TestHashWithDomainSeparator(t *testing.T) {
	// Without the null separator these two inputs would collide.
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestSnapshotDigestStable(t *testing.T) {
	assert.Equal(t, SnapshotDigest([]byte("x")), SnapshotDigest([]byte("x")))
	assert.NotEqual(t, SnapshotDigest([]byte("x")), SnapshotDigest([]byte("y")))
}
