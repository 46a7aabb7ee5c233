package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greenhaven/hydro-controller/internal/model"
)

func TestEvaluate_ZeroPoints(t *testing.T) {
	var s Set
	assert.Equal(t, 1.75, s.Evaluate(1.75))
}

func TestEvaluate_OnePoint_Offset(t *testing.T) {
	s := New(model.CalibrationPoint{Raw: 0.5, Real: 7.0})
	assert.Equal(t, 7.25, s.Evaluate(0.75))
	assert.Equal(t, 7.0, s.Evaluate(0.5))
}

func TestEvaluate_TwoPointPH(t *testing.T) {
	// spec §8 scenario 1: {0.5V->7.00, 3.0V->4.00}, raw 1.75V -> 5.50
	s := New(
		model.CalibrationPoint{Raw: 0.5, Real: 7.00},
		model.CalibrationPoint{Raw: 3.0, Real: 4.00},
	)
	assert.InDelta(t, 5.50, s.Evaluate(1.75), 1e-9)
	assert.InDelta(t, 7.00, s.Evaluate(0.5), 1e-9)
	assert.InDelta(t, 4.00, s.Evaluate(3.0), 1e-9)
}

func TestEvaluate_ExtrapolatesBeyondHull(t *testing.T) {
	s := New(
		model.CalibrationPoint{Raw: 0, Real: 0},
		model.CalibrationPoint{Raw: 10, Real: 20},
	)
	// slope is 2; below the hull and above it the same slope extrapolates
	assert.InDelta(t, -10, s.Evaluate(-5), 1e-9)
	assert.InDelta(t, 30, s.Evaluate(15), 1e-9)
}

func TestEvaluate_PiecewiseMultiSegment(t *testing.T) {
	s := New(
		model.CalibrationPoint{Raw: 0, Real: 0},
		model.CalibrationPoint{Raw: 10, Real: 5},
		model.CalibrationPoint{Raw: 20, Real: 25},
	)
	assert.InDelta(t, 2.5, s.Evaluate(5), 1e-9)
	assert.InDelta(t, 15, s.Evaluate(15), 1e-9)
	// exact reproduction at stored points (invariant 4)
	assert.InDelta(t, 0, s.Evaluate(0), 1e-9)
	assert.InDelta(t, 5, s.Evaluate(10), 1e-9)
	assert.InDelta(t, 25, s.Evaluate(20), 1e-9)
}

func TestAddPoint_ReplacesSameRaw(t *testing.T) {
	s := New(model.CalibrationPoint{Raw: 1, Real: 1})
	s = s.AddPoint(1, 99)
	assert.Len(t, s.Points(), 1)
	assert.Equal(t, 99.0, s.Points()[0].Real)
}

func TestAddPoint_ThenEvaluateExact(t *testing.T) {
	var s Set
	s = s.AddPoint(3.3, 10.0)
	assert.Equal(t, 10.0, s.Evaluate(3.3))
}

func TestClear_RemovesAllPoints(t *testing.T) {
	s := New(model.CalibrationPoint{Raw: 1, Real: 2})
	s = s.Clear()
	assert.Empty(t, s.Points())
	assert.Equal(t, 5.0, s.Evaluate(5.0))
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	s := New(
		model.CalibrationPoint{Raw: 0.5, Real: 7.0},
		model.CalibrationPoint{Raw: 3.0, Real: 4.0},
	)
	blob, err := s.Encode()
	assert.NoError(t, err)

	decoded, err := Decode(blob)
	assert.NoError(t, err)
	assert.Equal(t, s.Points(), decoded.Points())
}

func TestDecode_EmptyBlobIsIdentity(t *testing.T) {
	s, err := Decode(nil)
	assert.NoError(t, err)
	assert.Equal(t, 42.0, s.Evaluate(42.0))
}
