package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewer(t *testing.T) {
	assert.True(t, IsNewer("0.1.0", "0.2.0"))
	assert.True(t, IsNewer("0.1.0", "1.0.0"))
	assert.True(t, IsNewer("0.1", "0.1.1")) // longer version wins on a tie
	assert.False(t, IsNewer("0.2.0", "0.1.0"))
	assert.False(t, IsNewer("0.1.0", "0.1.0"))
	assert.False(t, IsNewer("0.1.0", ""))
}
