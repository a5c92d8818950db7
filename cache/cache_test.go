package cache

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	k := Key("src", 3, 17)
	require.NoError(t, k.Validate())
	assert.Equal(t, digest.FromString("src#3/17"), k)

	assert.NotEqual(t, k, Key("src", 31, 7))
	assert.NotEqual(t, k, Key("other", 3, 17))
	assert.Equal(t, k, Key("src", 3, 17))
}
