package objid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	const ok = "da39a3ee5e6b4b0d3255bfef95601890afd80709"[:40]

	id, err := Validate(ok)
	require.NoError(t, err)
	assert.Equal(t, ok, id.String())

	for _, bad := range []string{
		"",
		"abc",
		ok[:39],
		ok + "a",
		"DA39A3EE5E6B4B0D3255BFEF95601890AFD80709"[:40],
		"zz39a3ee5e6b4b0d3255bfef95601890afd8070z",
	} {
		_, err := Validate(bad)
		assert.Errorf(t, err, "Validate(%q): want error", bad)
	}
}

func TestPaths(t *testing.T) {
	id, err := Validate("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.NoError(t, err)

	assert.Equal(t, "/cas/blobs/da/39a3ee5e6b4b0d3255bfef95601890afd80709", BlobPath("/cas", id))
	assert.Equal(t, "/cas/trees/da/39a3ee5e6b4b0d3255bfef95601890afd80709", TreePath("/cas", id))
	assert.Equal(t, "/cas/commits/da/39a3ee5e6b4b0d3255bfef95601890afd80709", CommitPath("/cas", id))
}
