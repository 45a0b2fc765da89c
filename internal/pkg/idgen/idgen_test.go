package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorPrefixAndUniqueness(t *testing.T) {
	g, err := New("AS", 3)
	require.NoError(t, err)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		require.True(t, strings.HasPrefix(id, "AS"), id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewRejectsOutOfRangeNode(t *testing.T) {
	_, err := New("AS", 1024)
	assert.Error(t, err)
	_, err = New("AS", -1)
	assert.Error(t, err)
}

func TestNodeIDFromHost(t *testing.T) {
	id := NodeIDFromHost()
	assert.GreaterOrEqual(t, id, int64(0))
	assert.Less(t, id, int64(1024))
	assert.Equal(t, id, NodeIDFromHost())
}
