package collide

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ---------------------------------------------------------------------------
// Closest points
// ---------------------------------------------------------------------------

// ClosestPointAABB returns the point of box nearest to p.
func ClosestPointAABB(p r3.Vec, box AABB) r3.Vec {
	return r3.Vec{
		X: math.Max(box.Min.X, math.Min(p.X, box.Max.X)),
		Y: math.Max(box.Min.Y, math.Min(p.Y, box.Max.Y)),
		Z: math.Max(box.Min.Z, math.Min(p.Z, box.Max.Z)),
	}
}

// ClosestPointPlane returns the projection of p onto pl.
func ClosestPointPlane(p r3.Vec, pl Plane) r3.Vec {
	return r3.Sub(p, r3.Scale(pl.Distance(p), pl.Normal))
}

// ClosestPointLine returns the point of the infinite line l nearest to p.
func ClosestPointLine(p r3.Vec, l Line) r3.Vec {
	d := r3.Sub(l.P1, l.P0)
	dd := r3.Norm2(d)
	if IsZero(dd) {
		return l.P0
	}
	t := r3.Dot(r3.Sub(p, l.P0), d) / dd
	return r3.Add(l.P0, r3.Scale(t, d))
}

// PointInTriangle reports whether p, assumed to lie in the triangle's
// plane, is inside the triangle or on its boundary.
func PointInTriangle(p r3.Vec, tri Triangle) bool {
	n := r3.Cross(r3.Sub(tri.P1, tri.P0), r3.Sub(tri.P2, tri.P0))
	edges := [3][2]r3.Vec{{tri.P0, tri.P1}, {tri.P1, tri.P2}, {tri.P2, tri.P0}}
	for _, e := range edges {
		c := r3.Cross(r3.Sub(e[1], e[0]), r3.Sub(p, e[0]))
		if r3.Dot(c, n) < -Epsilon {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Static tests
// ---------------------------------------------------------------------------

// SphereSphere reports whether a and b touch or overlap.
func SphereSphere(a, b Sphere) bool {
	r := a.Radius + b.Radius
	return r3.Norm2(r3.Sub(a.Center, b.Center)) <= r*r
}

// SphereAABB reports whether s overlaps box. out receives the point of the
// box nearest the sphere center.
func SphereAABB(s Sphere, box AABB, out *r3.Vec) bool {
	c := ClosestPointAABB(s.Center, box)
	if r3.Norm2(r3.Sub(c, s.Center)) >= s.Radius*s.Radius {
		return false
	}
	setVec(out, c)
	return true
}

// SpherePlane reports whether s crosses pl. out receives the projection of
// the sphere center onto the plane.
func SpherePlane(s Sphere, pl Plane, out *r3.Vec) bool {
	c := ClosestPointPlane(s.Center, pl)
	if r3.Norm2(r3.Sub(c, s.Center)) >= s.Radius*s.Radius {
		return false
	}
	setVec(out, c)
	return true
}

// SphereLine solves |P0 + t(P1-P0) - C| = r and returns the number of
// roots. With two roots t0 is the smaller and t1 the larger; with one root
// only t0 is written.
func SphereLine(s Sphere, l Line, t0, t1 *float64) int {
	d := r3.Sub(l.P1, l.P0)
	f := r3.Sub(l.P0, s.Center)

	a := r3.Dot(d, d)
	if IsZero(a) {
		return 0
	}
	b := 2 * r3.Dot(f, d)
	c := r3.Dot(f, f) - s.Radius*s.Radius

	disc := b*b - 4*a*c
	switch {
	case IsZero(disc):
		setFloat(t0, -b/(2*a))
		return 1
	case disc < 0:
		return 0
	}

	sq := math.Sqrt(disc)
	setFloat(t0, (-b-sq)/(2*a))
	setFloat(t1, (-b+sq)/(2*a))
	return 2
}

// SphereLineIntersect reports whether the infinite line l touches s.
func SphereLineIntersect(s Sphere, l Line) bool {
	return SphereLine(s, l, nil, nil) > 0
}

// RayAABB runs the slab test. t receives the entry distance, or the exit
// distance when the ray starts inside the box.
func RayAABB(r Ray, box AABB, t *float64) bool {
	tmin := math.Inf(-1)
	tmax := math.Inf(1)

	o := [3]float64{r.Origin.X, r.Origin.Y, r.Origin.Z}
	d := [3]float64{r.Direction.X, r.Direction.Y, r.Direction.Z}
	lo := [3]float64{box.Min.X, box.Min.Y, box.Min.Z}
	hi := [3]float64{box.Max.X, box.Max.Y, box.Max.Z}

	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			// Parallel to this slab: the ray never enters it from outside.
			if o[i] < lo[i] || o[i] > hi[i] {
				return false
			}
			continue
		}
		inv := 1 / d[i]
		t1 := (lo[i] - o[i]) * inv
		t2 := (hi[i] - o[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
	}

	if tmin > tmax || tmax < 0 {
		return false
	}
	if tmin >= 0 {
		setFloat(t, tmin)
	} else {
		setFloat(t, tmax)
	}
	return true
}

// RayTriangle is the Möller-Trumbore test. u and v receive the
// barycentric coordinates of the hit relative to P1 and P2.
func RayTriangle(r Ray, tri Triangle, t, u, v *float64) bool {
	e1 := r3.Sub(tri.P1, tri.P0)
	e2 := r3.Sub(tri.P2, tri.P0)

	pvec := r3.Cross(r.Direction, e2)
	det := r3.Dot(e1, pvec)
	if IsZero(det) {
		return false
	}
	inv := 1 / det

	tvec := r3.Sub(r.Origin, tri.P0)
	bu := r3.Dot(tvec, pvec) * inv
	if bu < 0 || bu > 1 {
		return false
	}

	qvec := r3.Cross(tvec, e1)
	bv := r3.Dot(r.Direction, qvec) * inv
	if bv < 0 || bu+bv > 1 {
		return false
	}

	bt := r3.Dot(e2, qvec) * inv
	if bt < 0 {
		return false
	}

	setFloat(t, bt)
	setFloat(u, bu)
	setFloat(v, bv)
	return true
}

// RaySphere reports whether r hits s. t receives the nearest non-negative
// distance along the ray.
func RaySphere(r Ray, s Sphere, t *float64) bool {
	var t0, t1 float64
	switch SphereLine(s, Line{P0: r.Origin, P1: r3.Add(r.Origin, r.Direction)}, &t0, &t1) {
	case 0:
		return false
	case 1:
		t1 = t0
	}
	switch {
	case t0 >= 0:
		setFloat(t, t0)
	case t1 >= 0:
		setFloat(t, t1)
	default:
		return false
	}
	return true
}

// RayPlane reports whether r crosses pl at a non-negative distance.
func RayPlane(r Ray, pl Plane, t *float64) bool {
	denom := r3.Dot(pl.Normal, r.Direction)
	if IsZero(denom) {
		return false
	}
	d := -pl.Distance(r.Origin) / denom
	if d < 0 {
		return false
	}
	setFloat(t, d)
	return true
}

// ---------------------------------------------------------------------------
// 2D
// ---------------------------------------------------------------------------

// solve2 intersects the lines a0→a1 and b0→b1, returning the parameter
// along each.
func solve2(a0, a1, b0, b1 r2.Vec) (s, u float64, ok bool) {
	da := r2.Sub(a1, a0)
	db := r2.Sub(b1, b0)
	denom := r2.Cross(da, db)
	if IsZero(denom) {
		return 0, 0, false
	}
	diff := r2.Sub(b0, a0)
	return r2.Cross(diff, db) / denom, r2.Cross(diff, da) / denom, true
}

// LineLine2 intersects two infinite lines. Parallel lines do not intersect.
func LineLine2(a, b Line2, out *r2.Vec) bool {
	s, _, ok := solve2(a.P0, a.P1, b.P0, b.P1)
	if !ok {
		return false
	}
	if out != nil {
		*out = r2.Add(a.P0, r2.Scale(s, r2.Sub(a.P1, a.P0)))
	}
	return true
}

// SegmentSegment2 intersects two segments.
func SegmentSegment2(a, b Segment2, out *r2.Vec) bool {
	s, u, ok := solve2(a.P0, a.P1, b.P0, b.P1)
	if !ok || s < 0 || s > 1 || u < 0 || u > 1 {
		return false
	}
	if out != nil {
		*out = r2.Add(a.P0, r2.Scale(s, r2.Sub(a.P1, a.P0)))
	}
	return true
}
