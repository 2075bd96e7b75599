// Package collide implements intersection tests between simple geometric
// primitives and a swept-sphere continuous collision routine.
//
// Every test returns a boolean and writes its out-parameters only when it
// succeeds. Out pointers may be nil when the caller does not need them.
package collide

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Epsilon is the tolerance below which a value is treated as zero.
const Epsilon = 1e-6

// IsZero reports whether x is within Epsilon of zero.
func IsZero(x float64) bool {
	return math.Abs(x) < Epsilon
}

// Sphere is a solid ball.
type Sphere struct {
	Center r3.Vec
	Radius float64
}

// AABB is an axis-aligned bounding box with Min <= Max on every axis.
type AABB struct {
	Min, Max r3.Vec
}

// Plane is the set of points p with Normal·p + D = 0. Normal is unit length.
type Plane struct {
	Normal r3.Vec
	D      float64
}

// PlaneFromNormalPoint builds the plane through p with normal n.
func PlaneFromNormalPoint(n, p r3.Vec) Plane {
	n = r3.Unit(n)
	return Plane{Normal: n, D: -r3.Dot(n, p)}
}

// PlaneFromPoints builds the plane through a, b and c, wound
// counter-clockwise around its normal. It fails for collinear points.
func PlaneFromPoints(a, b, c r3.Vec) (Plane, bool) {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if IsZero(r3.Norm(n)) {
		return Plane{}, false
	}
	return PlaneFromNormalPoint(n, a), true
}

// Distance returns the signed distance from q to the plane.
func (p Plane) Distance(q r3.Vec) float64 {
	return r3.Dot(p.Normal, q) + p.D
}

// Line is the infinite line through P0 and P1.
type Line struct {
	P0, P1 r3.Vec
}

// Ray starts at Origin and extends along Direction, which need not be unit.
type Ray struct {
	Origin, Direction r3.Vec
}

// At returns Origin + t·Direction.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Direction))
}

// Triangle is wound counter-clockwise when seen from its front face.
type Triangle struct {
	P0, P1, P2 r3.Vec
}

// Normal returns the unit normal of the front face.
func (t Triangle) Normal() r3.Vec {
	return r3.Unit(r3.Cross(r3.Sub(t.P1, t.P0), r3.Sub(t.P2, t.P0)))
}

// Plane returns the plane the triangle lies in.
func (t Triangle) Plane() Plane {
	return PlaneFromNormalPoint(t.Normal(), t.P0)
}

// Line2 is the infinite 2D line through P0 and P1.
type Line2 struct {
	P0, P1 r2.Vec
}

// Segment2 is the 2D segment from P0 to P1.
type Segment2 struct {
	P0, P1 r2.Vec
}

// Hit describes the first contact of a swept test.
type Hit struct {
	T      float64 // fraction of the movement at contact, in [0, 1]
	Normal r3.Vec  // unit contact normal, pointing toward the moving body
	Point  r3.Vec  // contact point on the static primitive
}

func setFloat(p *float64, v float64) {
	if p != nil {
		*p = v
	}
}

func setVec(p *r3.Vec, v r3.Vec) {
	if p != nil {
		*p = v
	}
}
