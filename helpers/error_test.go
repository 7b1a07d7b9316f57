package helpers

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	assert.EqualError(t, FoldErrors([]error{fmt.Errorf("a"), nil, fmt.Errorf("b")}), "a\nb")
	single := errors.NotValidf("x")
	assert.Equal(t, single, FoldErrors([]error{nil, single}))
}
