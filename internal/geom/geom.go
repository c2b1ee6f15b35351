// Package geom provides the document-space geometry used by the
// highlight engine: rectangles, affine transforms, page viewports and
// per-page text layouts supplied by the PDF rendering collaborator.
package geom

import (
	"errors"
	"math"
)

// Matrix is a 2D affine transform in the usual PDF ordering
// [a b c d e f].
type Matrix [6]float64

// Identity returns the identity transform.
func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Translate returns a translation transform.
func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

// Scale returns a scaling transform.
func Scale(sx, sy float64) Matrix { return Matrix{sx, 0, 0, sy, 0, 0} }

// Multiply composes m with o (m then o).
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

// Point is a point in document space.
type Point struct{ X, Y float64 }

// Transform applies the matrix to a point.
func (m Matrix) Transform(p Point) Point {
	return Point{
		X: m[0]*p.X + m[2]*p.Y + m[4],
		Y: m[1]*p.X + m[3]*p.Y + m[5],
	}
}

// Inverse returns the inverse transform, or an error for a singular matrix.
func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix singular")
	}
	return Matrix{
		m[3] / det,
		-m[1] / det,
		-m[2] / det,
		m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

// Rect is an axis-aligned rectangle with non-negative width and height.
type Rect struct {
	X, Y, W, H float64
}

// NormalizedRect builds a rectangle from two opposite corners in any
// order, guaranteeing non-negative width and height.
func NormalizedRect(x0, y0, x1, y1 float64) Rect {
	return Rect{
		X: math.Min(x0, x1),
		Y: math.Min(y0, y1),
		W: math.Abs(x1 - x0),
		H: math.Abs(y1 - y0),
	}
}

// Center returns the rectangle's center point.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// IsZero reports whether the rectangle has no area.
func (r Rect) IsZero() bool {
	return r.W <= 0 || r.H <= 0
}

// CenterWithin reports whether the centers of r and other are within
// tolerance of each other on both axes. Used for "same visual spot"
// matching, which must tolerate small scale and rounding differences.
func (r Rect) CenterWithin(other Rect, tolerance float64) bool {
	rc := r.Center()
	oc := other.Center()
	return math.Abs(rc.X-oc.X) <= tolerance && math.Abs(rc.Y-oc.Y) <= tolerance
}

// Scaled returns the rectangle with every coordinate multiplied by factor.
func (r Rect) Scaled(factor float64) Rect {
	return Rect{X: r.X * factor, Y: r.Y * factor, W: r.W * factor, H: r.H * factor}
}

// Viewport describes one rendered page: its pixel dimensions and the
// zoom factor relating rendered pixels to unscaled document units.
type Viewport struct {
	Width  float64
	Height float64
	Scale  float64
}

// Ready reports whether the viewport carries usable dimensions. Entity
// processing skips spans while the page is still mounting and the
// renderer has not produced a viewport yet.
func (v Viewport) Ready() bool {
	return v.Width > 0 && v.Height > 0 && v.Scale > 0
}

// ToDocument converts a rectangle from rendered pixel space into
// unscaled document space.
func (v Viewport) ToDocument(r Rect) Rect {
	if v.Scale == 0 {
		return r
	}
	return r.Scaled(1 / v.Scale)
}

// ToDevice converts a rectangle from unscaled document space into
// rendered pixel space.
func (v Viewport) ToDevice(r Rect) Rect {
	return r.Scaled(v.Scale)
}
