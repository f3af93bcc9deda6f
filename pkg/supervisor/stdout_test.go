package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTPS(t *testing.T) {
	tps, ok := parseTPS("[12:00:00] TPS from last 1m, 5m, 15m: 20.0, 19.8, 19.9")
	assert.True(t, ok)
	assert.InDelta(t, 20.0, tps, 0.0001)
}

func TestParseTPSNoMatch(t *testing.T) {
	_, ok := parseTPS("[12:00:00] Server thread/INFO]: Done (3.2s)!")
	assert.False(t, ok)
}

func TestMatchJoinedAndLeft(t *testing.T) {
	player, ok := matchJoined("[12:00:00] Steve joined the game")
	assert.True(t, ok)
	assert.Equal(t, "Steve", player)

	player, ok = matchLeft("[12:00:05] Steve left the game")
	assert.True(t, ok)
	assert.Equal(t, "Steve", player)

	_, ok = matchJoined("[12:00:00] Done (3.2s)!")
	assert.False(t, ok)
}
