//go:build !gocv

package cvtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFactoryWithoutOpenCV(t *testing.T) {
	t.Parallel()

	assert.False(t, Available)
	tr, err := Factory(DefaultProcessingWidth)()
	assert.Nil(t, tr)
	assert.ErrorIs(t, err, ErrUnavailable)
}
