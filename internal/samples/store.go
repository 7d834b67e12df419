// Package samples holds the measured positions of a session: an
// insertion-ordered, capacity-bounded list of time-stamped points.
package samples

import (
	"math"

	"github.com/banshee-data/motionlab/internal/geom"
)

const (
	// DefaultCapacity is the maximum number of samples a Store holds.
	DefaultCapacity = 4096
	// DefaultTolerance is the time difference, in seconds, below which two
	// samples are the same sample.
	DefaultTolerance = 0.001
)

// Sample is a position measured at a point in media time.
type Sample struct {
	Time float64    `json:"t"`
	Pos  geom.Point `json:"pos"`
}

// Outcome reports what AddPoint did.
type Outcome int

const (
	Appended Outcome = iota
	Updated
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Updated:
		return "updated"
	default:
		return "dropped"
	}
}

// Store is a fixed-capacity sample list. No two stored samples are closer in
// time than the tolerance; AddPoint is the only way in.
//
// Store is not safe for concurrent use.
type Store struct {
	capacity  int
	tolerance float64
	samples   []Sample
}

// NewStore returns an empty Store. Non-positive arguments select the
// defaults.
func NewStore(capacity int, tolerance float64) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Store{
		capacity:  capacity,
		tolerance: tolerance,
		samples:   make([]Sample, 0, min(capacity, 256)),
	}
}

// AddPoint records pos at time t. A sample within tolerance of t has its
// position overwritten; otherwise a new sample is appended. Once the store
// is full, new times are dropped without error.
func (s *Store) AddPoint(t float64, pos geom.Point) Outcome {
	if i := s.Find(t); i >= 0 {
		s.samples[i].Pos = pos
		return Updated
	}
	if len(s.samples) >= s.capacity {
		return Dropped
	}
	s.samples = append(s.samples, Sample{Time: t, Pos: pos})
	return Appended
}

// Find returns the index of the sample within tolerance of t, or -1.
func (s *Store) Find(t float64) int {
	for i := range s.samples {
		if math.Abs(s.samples[i].Time-t) < s.tolerance {
			return i
		}
	}
	return -1
}

// At returns the i-th sample in insertion order.
func (s *Store) At(i int) Sample { return s.samples[i] }

// Len returns the number of stored samples.
func (s *Store) Len() int { return len(s.samples) }

// Cap returns the capacity.
func (s *Store) Cap() int { return s.capacity }

// Tolerance returns the dedup tolerance in seconds.
func (s *Store) Tolerance() float64 { return s.tolerance }

// Samples returns a copy of the stored samples in insertion order.
func (s *Store) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Clear removes every sample.
func (s *Store) Clear() {
	s.samples = s.samples[:0]
}
