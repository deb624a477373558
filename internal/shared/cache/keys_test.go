package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "updown:round:current", CurrentRoundKey())
	assert.Equal(t, "updown:round:leader", LeaderKey("round:leader"))
}
