// Package calibration implements the piecewise-linear/two-point-affine
// calibration model (component C): evaluate(raw) -> real, with add/clear
// operations that never mutate a Set a read is in progress against.
package calibration

import (
	"encoding/json"
	"sort"

	"github.com/greenhaven/hydro-controller/internal/model"
)

// Set is an immutable snapshot of a sensor's calibration points, sorted by
// raw value. Every mutating operation (AddPoint, Clear) returns a new Set;
// Evaluate never observes a half-updated point list, satisfying the
// clone-on-evaluate requirement.
type Set struct {
	points []model.CalibrationPoint // sorted by Raw
}

// New builds a Set from arbitrary-order points, de-duplicating by raw value
// (last write for a given raw wins, matching AddPoint's replace semantics).
func New(points ...model.CalibrationPoint) Set {
	byRaw := make(map[float64]float64, len(points))
	for _, p := range points {
		byRaw[p.Raw] = p.Real
	}
	out := make([]model.CalibrationPoint, 0, len(byRaw))
	for raw, real := range byRaw {
		out = append(out, model.CalibrationPoint{Raw: raw, Real: real})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Raw < out[j].Raw })
	return Set{points: out}
}

// Decode parses the opaque calibration_data blob a Sensor carries. An empty
// or nil blob decodes to the zero-point Set (identity evaluation).
func Decode(data []byte) (Set, error) {
	if len(data) == 0 {
		return Set{}, nil
	}
	var points []model.CalibrationPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return Set{}, err
	}
	return New(points...), nil
}

// Encode serializes the Set back to the opaque blob form a Sensor stores.
func (s Set) Encode() ([]byte, error) {
	return json.Marshal(s.Points())
}

// Points returns a defensive copy of the stored points, sorted by raw.
func (s Set) Points() []model.CalibrationPoint {
	out := make([]model.CalibrationPoint, len(s.points))
	copy(out, s.points)
	return out
}

// AddPoint returns a new Set with (raw, real) inserted, replacing any
// existing point at the same raw value.
func (s Set) AddPoint(raw, real float64) Set {
	pts := append(s.Points(), model.CalibrationPoint{Raw: raw, Real: real})
	return New(pts...)
}

// Clear returns the zero-point Set.
func (s Set) Clear() Set {
	return Set{}
}

// Evaluate maps a raw reading to its calibrated value per spec §4.C:
//
//	0 points  -> raw unchanged
//	1 point   -> raw + (real0 - raw0), an offset
//	N>=2      -> piecewise-linear on sorted raw, extrapolating past either
//	             end using that end's interval slope
func (s Set) Evaluate(raw float64) float64 {
	switch len(s.points) {
	case 0:
		return raw
	case 1:
		p := s.points[0]
		return raw + (p.Real - p.Raw)
	}

	pts := s.points
	if raw <= pts[0].Raw {
		return interpolate(pts[0], pts[1], raw)
	}
	last := len(pts) - 1
	if raw >= pts[last].Raw {
		return interpolate(pts[last-1], pts[last], raw)
	}
	for i := 0; i < last; i++ {
		if raw >= pts[i].Raw && raw <= pts[i+1].Raw {
			return interpolate(pts[i], pts[i+1], raw)
		}
	}
	// unreachable given the bounds checks above
	return interpolate(pts[last-1], pts[last], raw)
}

func interpolate(a, b model.CalibrationPoint, raw float64) float64 {
	if b.Raw == a.Raw {
		return a.Real
	}
	slope := (b.Real - a.Real) / (b.Raw - a.Raw)
	return a.Real + slope*(raw-a.Raw)
}
