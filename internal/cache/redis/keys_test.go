package redis

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	id := common.HexToHash("0x07")
	assert.Equal(t, "betx:game:0x0000000000000000000000000000000000000000000000000000000000000007", gameKey(id))
	assert.Equal(t, "betx:lock:bet:0xb1", lockKey("bet:0xb1"))
	assert.Equal(t, "betx:ratelimit:put:0xabc", rateLimitKey("put:0xabc"))
	assert.Equal(t, "betx:game_settled", channelKey("game_settled"))
	assert.Equal(t, "betx:cursor:settlements", cursorKey("settlements"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("game_*"))
	assert.True(t, hasPattern("game_[sr]*"))
	assert.False(t, hasPattern("game_settled"))
}
