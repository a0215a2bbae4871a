package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextRoundPairs(t *testing.T) {
	assert.Equal(t, [][2]int64{{1, 2}, {3, 4}}, nextRoundPairs([]int64{1, 2, 3, 4}))
	assert.Equal(t, [][2]int64{{9, 4}}, nextRoundPairs([]int64{9, 4}))
	assert.Empty(t, nextRoundPairs([]int64{7}))
	assert.Empty(t, nextRoundPairs(nil))
}

func TestNextRoundPairsDropsOddTrailer(t *testing.T) {
	assert.Equal(t, [][2]int64{{1, 2}}, nextRoundPairs([]int64{1, 2, 3}))
}
