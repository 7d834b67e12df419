package cvtracker

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/motionlab/internal/geom"
)

func TestProcessingScale(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, processingScale(640, DefaultProcessingWidth))
	assert.Equal(t, 1.0, processingScale(800, DefaultProcessingWidth))
	assert.Equal(t, 0.5, processingScale(1600, DefaultProcessingWidth))
	assert.Equal(t, 1.0, processingScale(1600, 0))
}

func TestRegionScaling(t *testing.T) {
	t.Parallel()

	r := geom.Region{X: 101, Y: 51, Width: 40, Height: 21}
	box := toProcessing(r, 0.5)
	assert.Equal(t, image.Rect(50, 25, 70, 35), box)

	back := fromProcessing(box, 0.5)
	assert.Equal(t, geom.Region{X: 100, Y: 50, Width: 40, Height: 20}, back)

	assert.Equal(t, image.Rect(3, 4, 8, 10), toProcessing(geom.Region{X: 3.9, Y: 4.2, Width: 5.5, Height: 6.1}, 1))
}
