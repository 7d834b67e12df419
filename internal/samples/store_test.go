package samples

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionlab/internal/geom"
)

func TestAddPointDedup(t *testing.T) {
	t.Parallel()

	s := NewStore(0, 0)
	assert.Equal(t, Appended, s.AddPoint(1.0, geom.Point{X: 100, Y: 50}))
	assert.Equal(t, Updated, s.AddPoint(1.0004, geom.Point{X: 110, Y: 60}))

	require.Equal(t, 1, s.Len())
	got := s.At(0)
	assert.InDelta(t, 1.0, got.Time, 1e-9)
	assert.Equal(t, geom.Point{X: 110, Y: 60}, got.Pos)
}

func TestAddPointOutsideTolerance(t *testing.T) {
	t.Parallel()

	s := NewStore(0, 0)
	s.AddPoint(1.0, geom.Point{X: 1})
	assert.Equal(t, Appended, s.AddPoint(1.001, geom.Point{X: 2}))
	assert.Equal(t, 2, s.Len())
}

func TestAddPointCapacity(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultCapacity, DefaultTolerance)
	for i := 0; i < DefaultCapacity; i++ {
		require.Equal(t, Appended, s.AddPoint(float64(i)*0.01, geom.Point{X: float64(i)}))
	}
	before := s.Samples()

	assert.Equal(t, Dropped, s.AddPoint(1000, geom.Point{X: -1}))
	assert.Equal(t, DefaultCapacity, s.Len())
	assert.Equal(t, before, s.Samples())

	// Updates still apply when full.
	assert.Equal(t, Updated, s.AddPoint(0.0, geom.Point{X: 42}))
	assert.Equal(t, 42.0, s.At(0).Pos.X)
}

func TestStoreInsertionOrder(t *testing.T) {
	t.Parallel()

	s := NewStore(8, 0)
	s.AddPoint(0.3, geom.Point{X: 3})
	s.AddPoint(0.1, geom.Point{X: 1})
	s.AddPoint(0.2, geom.Point{X: 2})

	got := s.Samples()
	require.Len(t, got, 3)
	assert.Equal(t, []float64{0.3, 0.1, 0.2}, []float64{got[0].Time, got[1].Time, got[2].Time})

	// The returned slice is a copy.
	got[0].Pos.X = 99
	assert.Equal(t, 3.0, s.At(0).Pos.X)
}

func TestStoreFindAndClear(t *testing.T) {
	t.Parallel()

	s := NewStore(4, 0.01)
	s.AddPoint(1, geom.Point{})
	s.AddPoint(2, geom.Point{})

	assert.Equal(t, 1, s.Find(2.005))
	assert.Equal(t, -1, s.Find(1.5))
	assert.Equal(t, 4, s.Cap())
	assert.Equal(t, 0.01, s.Tolerance())

	s.Clear()
	assert.Zero(t, s.Len())
	assert.Equal(t, -1, s.Find(1))
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "appended", Appended.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "dropped", Dropped.String())
}
