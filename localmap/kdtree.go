package localmap

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/meridian-robotics/lidarmap/pointcloud"
	"github.com/meridian-robotics/lidarmap/spatialmath"
	"github.com/meridian-robotics/lidarmap/utils"
)

// KdTreeLocalMap associates queries with the map by exact 1-nearest-neighbor
// search against a k-d tree over one accumulated point array. Frames are
// evicted FIFO by point count. Normals are computed lazily per touched index
// from the local covariance and cached until the next rebuild.
type KdTreeLocalMap struct {
	cfg    Config
	logger golog.Logger

	points     []r3.Vector
	frameSizes []int

	tree *pointcloud.KDTree

	// index-aligned lazy normal cache, discarded wholesale on every rebuild
	normals     []r3.Vector
	normalKnown []bool
}

// NewKdTreeLocalMap returns an empty k-d tree local map.
func NewKdTreeLocalMap(cfg Config, logger golog.Logger) (*KdTreeLocalMap, error) {
	return &KdTreeLocalMap{cfg: cfg, logger: logger}, nil
}

// Init clears all accumulated points, the index and the normal cache.
func (m *KdTreeLocalMap) Init() {
	m.points = nil
	m.frameSizes = nil
	m.tree = nil
	m.normals = nil
	m.normalKnown = nil
}

// Size returns the number of accumulated points.
func (m *KdTreeLocalMap) Size() int {
	return len(m.points)
}

// FrameCount returns the number of frames currently contributing points.
func (m *KdTreeLocalMap) FrameCount() int {
	return len(m.frameSizes)
}

// Update rigidly transforms the accumulated points into the new reference
// frame, appends the new frame's points, evicts the oldest frame past
// capacity, and rebuilds the index. A nil newFrame re-poses the map without
// inserting points and without recording a frame count.
func (m *KdTreeLocalMap) Update(relativePose spatialmath.Pose, newFrame *Frame) error {
	var newPoints []r3.Vector
	if newFrame != nil {
		var err error
		if newPoints, err = densifyFrame(newFrame); err != nil {
			return err
		}
	}

	if len(m.frameSizes) == 0 {
		if newFrame == nil {
			return errors.New("cannot update an empty kdtree local map without a frame")
		}
		m.points = newPoints
		m.frameSizes = append(m.frameSizes, len(newPoints))
	} else {
		m.points = spatialmath.ApplyTransformation(m.points, relativePose.Invert())
		if newFrame != nil {
			m.points = append(m.points, newPoints...)
			m.frameSizes = append(m.frameSizes, len(newPoints))
		}
		if len(m.frameSizes) > m.cfg.WindowSize {
			evicted := m.frameSizes[0]
			m.frameSizes = m.frameSizes[1:]
			m.points = m.points[evicted:]
			m.logger.Debugf("evicted oldest frame of %d points, map now holds %d points", evicted, len(m.points))
		}
	}

	m.buildModel()
	return nil
}

// SetMapPointCloud resets the map and seeds it from an already-aggregated
// point cloud, optionally with precomputed normals aligned to the points.
func (m *KdTreeLocalMap) SetMapPointCloud(points, normals []r3.Vector) error {
	if len(points) == 0 {
		return errors.New("cannot seed a kdtree local map with zero points")
	}
	if normals != nil && len(normals) != len(points) {
		return errors.Errorf("normals length %d does not match points length %d",
			len(normals), len(points))
	}
	m.Init()
	m.points = pointcloud.CloneCloud(points)
	m.frameSizes = append(m.frameSizes, len(m.points))
	m.buildModel()
	if normals != nil {
		copy(m.normals, normals)
		for i := range m.normalKnown {
			m.normalKnown[i] = true
		}
	}
	return nil
}

// densifyFrame extracts the frame's unstructured points, dropping NaN and
// near-zero entries from structured input.
func densifyFrame(frame *Frame) ([]r3.Vector, error) {
	if frame.Points != nil {
		return pointcloud.RemoveNaN(frame.Points), nil
	}
	if frame.VertexMap != nil {
		return frame.VertexMap.Densify(), nil
	}
	return nil, errors.New("frame carries neither points nor a vertex map")
}

// buildModel rebuilds the spatial index over the full accumulated array and
// discards the normal cache wholesale.
func (m *KdTreeLocalMap) buildModel() {
	m.tree = pointcloud.ToKDTree(m.points)
	m.normals = make([]r3.Vector, len(m.points))
	m.normalKnown = make([]bool, len(m.points))
}

// NearestNeighborSearch runs an exact 1-NN query per point. Every query point
// receives a match once the map is non-empty; nothing is filtered.
func (m *KdTreeLocalMap) NearestNeighborSearch(
	points []r3.Vector,
	withNormals, withTargetPoints bool,
) (NeighborhoodResult, error) {
	if m.tree == nil {
		return NeighborhoodResult{}, ErrNoModel
	}
	if m.tree.Size() == 0 {
		return NeighborhoodResult{}, ErrEmptyMap
	}

	neighbors := make([]r3.Vector, len(points))
	indices := make([]int, len(points))
	utils.ParallelForEach(len(points), func(i int) {
		nb, _ := m.tree.NearestNeighbor(points[i])
		neighbors[i] = nb.Point
		indices[i] = nb.Index
	})

	result := NeighborhoodResult{NeighborPoints: neighbors}
	if withNormals {
		result.NeighborNormals = m.normalsFor(indices)
	}
	if withTargetPoints {
		result.TargetPoints = pointcloud.CloneCloud(points)
	}
	return result, nil
}

// normalsFor returns the cached normal per index, computing and caching any
// missing ones first. Normal signs are not resolved; that is the caller's
// responsibility.
func (m *KdTreeLocalMap) normalsFor(indices []int) []r3.Vector {
	for _, idx := range indices {
		if m.normalKnown[idx] {
			continue
		}
		center := m.points[idx]
		nbs := m.tree.KNearestNeighbors(center, m.cfg.NormalNeighbors, false)
		neighborPts := make([]r3.Vector, len(nbs))
		for j, nb := range nbs {
			neighborPts[j] = nb.Point
		}
		normal, err := pointcloud.EstimateNormal(center, neighborPts)
		if err != nil {
			// degenerate neighborhood; cache the zero vector so we do not
			// retry on every query
			m.logger.Debugw("normal estimation failed", "index", idx, "error", err)
		}
		m.normals[idx] = normal
		m.normalKnown[idx] = true
	}

	out := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		out[i] = m.normals[idx]
	}
	return out
}

// LastFrame returns the trailing suffix of the accumulated array sized by the
// most recently recorded frame count.
func (m *KdTreeLocalMap) LastFrame() ([]r3.Vector, error) {
	if len(m.frameSizes) == 0 {
		return nil, ErrEmptyMap
	}
	last := m.frameSizes[len(m.frameSizes)-1]
	return pointcloud.CloneCloud(m.points[len(m.points)-last:]), nil
}
