package helpers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomicError(t *testing.T) {
	t.Parallel()
	var ae AtomicError
	_, ok := ae.Load()
	assert.False(t, ok)
	first := fmt.Errorf("first")
	_, found := ae.StoreOnce(first)
	assert.False(t, found)
	prev, found := ae.StoreOnce(fmt.Errorf("second"))
	assert.True(t, found)
	assert.Equal(t, first, prev)
	e, ok := ae.Load()
	assert.True(t, ok)
	assert.Equal(t, first, e)
}
