package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(3, 5, 10))
	assert.Equal(t, 10, Clamp(12, 5, 10))
	assert.Equal(t, 7, Clamp(7, 5, 10))
	assert.Equal(t, 0.5, Clamp(0.5, 0.0, 1.0))
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, uint64(0), RoundUp(uint64(0), uint64(256)))
	assert.Equal(t, uint64(256), RoundUp(uint64(1), uint64(256)))
	assert.Equal(t, uint64(256), RoundUp(uint64(256), uint64(256)))
	assert.Equal(t, uint64(512), RoundUp(uint64(257), uint64(256)))
	assert.Equal(t, 16, RoundUp(13, 8))
}
