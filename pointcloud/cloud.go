// Package pointcloud provides the point containers and derived-data
// primitives used by the local map: dense point slices, structured vertex
// maps, surface-normal estimation and a k-d tree spatial index.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// nearZeroNorm is the norm below which a vertex-map entry is treated as
// invalid when densifying a structured scan into a point slice.
const nearZeroNorm = 0.01

// HasNaN reports whether any coordinate of the vector is NaN.
func HasNaN(p r3.Vector) bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z)
}

// IsZero reports whether the vector is exactly the zero vector, the invalid
// sentinel used throughout vertex maps.
func IsZero(p r3.Vector) bool {
	return p.X == 0 && p.Y == 0 && p.Z == 0
}

// RemoveNaN returns a new slice with all NaN-containing points dropped.
func RemoveNaN(points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, 0, len(points))
	for _, p := range points {
		if HasNaN(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// CloneCloud returns an independent copy of the point slice.
func CloneCloud(points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(points))
	copy(out, points)
	return out
}
