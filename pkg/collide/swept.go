package collide

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// SphereTriangle sweeps s along move and reports the first contact with
// the front face of tri. Only spheres moving toward the front face can
// collide. The contact time is a fraction of move.
//
// Three passes run and the earliest contact wins: the face interior, the
// three vertices, and the three edges.
func SphereTriangle(s Sphere, move r3.Vec, tri Triangle, out *Hit) bool {
	n := tri.Normal()
	if r3.Dot(n, move) >= 0 {
		return false
	}

	best := Hit{T: math.Inf(1)}
	found := false
	consider := func(h Hit) {
		if h.T >= 0 && h.T <= 1 && h.T < best.T {
			best = h
			found = true
		}
	}

	if h, ok := sweepFace(s, move, tri, n); ok {
		consider(h)
	}
	for _, v := range [3]r3.Vec{tri.P0, tri.P1, tri.P2} {
		if h, ok := sweepVertex(s, move, v); ok {
			consider(h)
		}
	}
	for _, e := range [3][2]r3.Vec{{tri.P0, tri.P1}, {tri.P1, tri.P2}, {tri.P2, tri.P0}} {
		if h, ok := sweepEdge(s, move, e[0], e[1]); ok {
			consider(h)
		}
	}

	if !found {
		return false
	}
	if out != nil {
		*out = best
	}
	return true
}

// sweepFace finds when the sphere's leading point reaches the triangle's
// plane and accepts it if that point lies inside the triangle.
func sweepFace(s Sphere, move r3.Vec, tri Triangle, n r3.Vec) (Hit, bool) {
	pl := PlaneFromNormalPoint(n, tri.P0)
	dist := pl.Distance(s.Center)
	if dist <= -s.Radius {
		// Entirely behind the face.
		return Hit{}, false
	}

	var t float64
	var p r3.Vec
	if dist < s.Radius {
		// Already touching the plane.
		p = ClosestPointPlane(s.Center, pl)
	} else {
		t = (dist - s.Radius) / -r3.Dot(n, move)
		lead := r3.Sub(r3.Add(s.Center, r3.Scale(t, move)), r3.Scale(s.Radius, n))
		p = ClosestPointPlane(lead, pl)
	}
	if t > 1 || !PointInTriangle(p, tri) {
		return Hit{}, false
	}
	return Hit{T: t, Normal: n, Point: p}, true
}

// sweepVertex casts a line from v against the movement and finds where the
// static sphere would meet it; that is where the moving sphere meets v.
func sweepVertex(s Sphere, move r3.Vec, v r3.Vec) (Hit, bool) {
	var t0, t1 float64
	if SphereLine(s, Line{P0: v, P1: r3.Sub(v, move)}, &t0, &t1) == 0 {
		return Hit{}, false
	}
	if t0 < 0 || t0 > 1 {
		return Hit{}, false
	}
	at := r3.Add(s.Center, r3.Scale(t0, move))
	return Hit{T: t0, Normal: r3.Unit(r3.Sub(at, v)), Point: v}, true
}

// sweepEdge tests the edge a→b through its tunnel plane, the plane holding
// the edge and the movement direction. The sphere's slice of that plane is
// a circle; its point nearest the edge line travels along move until it
// crosses the edge. The crossing is solved in 2D on the two axes the
// tunnel plane projects onto best.
func sweepEdge(s Sphere, move r3.Vec, a, b r3.Vec) (Hit, bool) {
	edge := r3.Sub(b, a)
	cross := r3.Cross(edge, r3.Scale(-1, move))
	if IsZero(r3.Norm(cross)) {
		// Moving along the edge.
		return Hit{}, false
	}
	tunnel := PlaneFromNormalPoint(cross, a)

	dist := tunnel.Distance(s.Center)
	if dist < 0 {
		tunnel = Plane{Normal: r3.Scale(-1, tunnel.Normal), D: -tunnel.D}
		dist = -dist
	}
	if dist >= s.Radius {
		return Hit{}, false
	}

	q := ClosestPointPlane(s.Center, tunnel)
	toEdge := r3.Sub(q, ClosestPointLine(q, Line{P0: a, P1: b}))
	if IsZero(r3.Norm(toEdge)) {
		return Hit{}, false
	}
	rho := math.Sqrt(s.Radius*s.Radius - dist*dist)
	surface := r3.Sub(q, r3.Scale(rho, r3.Unit(toEdge)))

	project := projector(tunnel.Normal)
	t, u, ok := solve2(project(surface), project(r3.Add(surface, move)), project(a), project(b))
	if !ok || u < 0 || u > 1 || t < 0 || t > 1 {
		return Hit{}, false
	}

	p := r3.Add(a, r3.Scale(u, edge))
	at := r3.Add(s.Center, r3.Scale(t, move))
	return Hit{T: t, Normal: r3.Unit(r3.Sub(at, p)), Point: p}, true
}

// projector drops the dominant axis of n.
func projector(n r3.Vec) func(r3.Vec) r2.Vec {
	ax, ay, az := math.Abs(n.X), math.Abs(n.Y), math.Abs(n.Z)
	switch {
	case ax >= ay && ax >= az:
		return func(v r3.Vec) r2.Vec { return r2.Vec{X: v.Y, Y: v.Z} }
	case ay >= az:
		return func(v r3.Vec) r2.Vec { return r2.Vec{X: v.X, Y: v.Z} }
	default:
		return func(v r3.Vec) r2.Vec { return r2.Vec{X: v.X, Y: v.Y} }
	}
}
