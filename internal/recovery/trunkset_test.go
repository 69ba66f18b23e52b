package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrunkSetAddDedupesAndOrders(t *testing.T) {
	s := NewTrunkSet()
	assert.True(t, s.Add(TrunkKey{TrunkPath: "b", TrunkID: 2}))
	assert.True(t, s.Add(TrunkKey{TrunkPath: "a", TrunkID: 5}))
	assert.False(t, s.Add(TrunkKey{TrunkPath: "a", TrunkID: 5}))
	assert.True(t, s.Add(TrunkKey{TrunkPath: "a", TrunkID: 1}))

	ordered := s.Ordered()
	assert.Equal(t, []TrunkKey{
		{TrunkPath: "a", TrunkID: 1},
		{TrunkPath: "a", TrunkID: 5},
		{TrunkPath: "b", TrunkID: 2},
	}, ordered)
	assert.Equal(t, 3, s.Len())
}

func TestTrunkSetContains(t *testing.T) {
	s := NewTrunkSet()
	k := TrunkKey{TrunkPath: "x", TrunkID: 1}
	assert.False(t, s.Contains(k))
	s.Add(k)
	assert.True(t, s.Contains(k))
}
