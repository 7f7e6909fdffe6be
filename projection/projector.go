// Package projection defines the projector capability used by the projective
// local map: turning an unstructured point cloud into a structured vertex map
// and back-projecting query points onto the same image grid.
package projection

import (
	"github.com/golang/geo/r3"

	"github.com/meridian-robotics/lidarmap/pointcloud"
)

// Projector projects point clouds into fixed-size vertex maps.
//
// BuildProjectionMap writes input points into the image in slice order: when
// two points land on the same pixel, the later one overwrites the earlier.
// Callers relying on a collision policy (e.g. newest frame wins) must order
// the input accordingly. fields, when non-nil, must be aligned with points;
// each field vector is scattered to the same pixel as its point, yielding a
// second map with identical occupancy. Invalid input points (zero or NaN) are
// skipped.
type Projector interface {
	BuildProjectionMap(points, fields []r3.Vector) (*pointcloud.VertexMap, *pointcloud.VertexMap, error)

	// Dimensions returns the width and height of produced maps.
	Dimensions() (int, int)
}
