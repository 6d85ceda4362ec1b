package procmgr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailBufferRecentOrdersOldestFirst(t *testing.T) {
	var b tailBuffer
	b.append("a")
	b.append("b")
	b.append("c")

	assert.Equal(t, []string{"a", "b", "c"}, b.recent(10))
	assert.Equal(t, []string{"b", "c"}, b.recent(2))
}

func TestTailBufferWrapsAtCapacity(t *testing.T) {
	var b tailBuffer
	for i := 0; i < tailBufferCap+5; i++ {
		b.append(fmt.Sprintf("line-%d", i))
	}

	recent := b.recent(3)
	assert.Equal(t, []string{
		fmt.Sprintf("line-%d", tailBufferCap+2),
		fmt.Sprintf("line-%d", tailBufferCap+3),
		fmt.Sprintf("line-%d", tailBufferCap+4),
	}, recent)
}

func TestTailBufferEmpty(t *testing.T) {
	var b tailBuffer
	assert.Nil(t, b.recent(5))
}
