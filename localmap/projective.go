package localmap

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/meridian-robotics/lidarmap/pointcloud"
	"github.com/meridian-robotics/lidarmap/projection"
	"github.com/meridian-robotics/lidarmap/spatialmath"
)

// ProjectiveLocalMap associates queries with the map by projecting them onto
// an aggregate vertex map and reading the matched pixel. Per-frame state is
// held in four parallel slices (vertex maps, normal maps, masks, poses) that
// always share one length.
type ProjectiveLocalMap struct {
	cfg       Config
	projector projection.Projector
	logger    golog.Logger

	vertexMaps []*pointcloud.VertexMap
	normalMaps []*pointcloud.VertexMap
	masks      [][]bool
	poses      []spatialmath.Pose

	// true when the caller supplies masks explicitly, false when they are
	// derived; mixing the two within one instance is a contract violation.
	explicitMasks bool

	modelVertexMap *pointcloud.VertexMap
	modelNormalMap *pointcloud.VertexMap
}

// NewProjectiveLocalMap returns an empty projective local map.
func NewProjectiveLocalMap(
	cfg Config,
	projector projection.Projector,
	logger golog.Logger,
) (*ProjectiveLocalMap, error) {
	if projector == nil {
		return nil, errors.New("projective local map requires a projector")
	}
	return &ProjectiveLocalMap{cfg: cfg, projector: projector, logger: logger}, nil
}

// Init clears all stored frames and the aggregate model.
func (m *ProjectiveLocalMap) Init() {
	m.vertexMaps = nil
	m.normalMaps = nil
	m.masks = nil
	m.poses = nil
	m.explicitMasks = false
	m.modelVertexMap = nil
	m.modelNormalMap = nil
}

// FrameCount returns the number of frames currently stored.
func (m *ProjectiveLocalMap) FrameCount() int {
	return len(m.poses)
}

// Update re-expresses the window into the new reference frame, optionally
// appends newFrame, evicts past capacity and rebuilds the aggregate model.
func (m *ProjectiveLocalMap) Update(relativePose spatialmath.Pose, newFrame *Frame) error {
	var vmap, nmap *pointcloud.VertexMap
	var mask []bool
	maskGiven := false

	if newFrame != nil {
		var err error
		if vmap, err = m.incomingVertexMap(newFrame); err != nil {
			return err
		}
		if nmap = newFrame.NormalMap; nmap == nil {
			if nmap, err = pointcloud.ComputeNormalMap(vmap, m.cfg.NormalKernelSize); err != nil {
				return err
			}
		} else if !vmap.SameDimensions(nmap) {
			return errors.Errorf("normal map dimensions %dx%d do not match vertex map %dx%d",
				nmap.Width(), nmap.Height(), vmap.Width(), vmap.Height())
		} else {
			nmap = nmap.Clone()
		}
		if mask = newFrame.Mask; mask == nil {
			mask = vmap.ValidityMask()
		} else {
			maskGiven = true
			if len(mask) != vmap.Size() {
				return errors.Errorf("mask length %d does not match vertex map size %d",
					len(mask), vmap.Size())
			}
			mask = append([]bool(nil), mask...)
		}
	}

	if len(m.poses) == 0 {
		if newFrame == nil {
			return errors.New("cannot update an empty projective local map without a frame")
		}
		m.vertexMaps = append(m.vertexMaps, vmap)
		m.normalMaps = append(m.normalMaps, nmap)
		m.masks = append(m.masks, mask)
		m.poses = append(m.poses, relativePose)
		m.explicitMasks = maskGiven
	} else {
		// validate the incoming frame against the window before mutating it
		if newFrame != nil {
			if maskGiven != m.explicitMasks {
				return errors.New("mixing frames with and without explicit masks in one local map")
			}
			if !m.vertexMaps[0].SameDimensions(vmap) {
				return errors.Errorf("frame dimensions %dx%d do not match the stored window %dx%d",
					vmap.Width(), vmap.Height(), m.vertexMaps[0].Width(), m.vertexMaps[0].Height())
			}
		}
		inv := relativePose.Invert()
		for i := range m.poses {
			m.poses[i] = spatialmath.Compose(inv, m.poses[i])
		}
		if newFrame != nil {
			m.vertexMaps = append(m.vertexMaps, vmap)
			m.normalMaps = append(m.normalMaps, nmap)
			m.masks = append(m.masks, mask)
			m.poses = append(m.poses, spatialmath.NewZeroPose())
		}
		if len(m.poses) > m.cfg.WindowSize {
			m.vertexMaps = m.vertexMaps[1:]
			m.normalMaps = m.normalMaps[1:]
			m.masks = m.masks[1:]
			m.poses = m.poses[1:]
			m.logger.Debugf("evicted oldest frame, window now holds %d frames", len(m.poses))
		}
	}

	return m.buildModel()
}

// incomingVertexMap returns the structured form of the frame, projecting
// unstructured points through the projector when needed.
func (m *ProjectiveLocalMap) incomingVertexMap(frame *Frame) (*pointcloud.VertexMap, error) {
	if frame.VertexMap != nil {
		w, h := m.projector.Dimensions()
		if frame.VertexMap.Width() != w || frame.VertexMap.Height() != h {
			return nil, errors.Errorf("vertex map dimensions %dx%d do not match projector %dx%d",
				frame.VertexMap.Width(), frame.VertexMap.Height(), w, h)
		}
		// the window owns its frames; do not alias caller memory
		return frame.VertexMap.Clone(), nil
	}
	if len(frame.Points) == 0 {
		return nil, errors.New("frame carries neither points nor a vertex map")
	}
	vmap, _, err := m.projector.BuildProjectionMap(frame.Points, nil)
	return vmap, err
}

// buildModel reprojects the whole window into one aggregate vertex/normal
// map. Frames are combined oldest to newest, so the newest frame wins pixel
// collisions.
func (m *ProjectiveLocalMap) buildModel() error {
	size := m.vertexMaps[0].Size()
	allPoints := make([]r3.Vector, 0, size*len(m.vertexMaps))
	allNormals := make([]r3.Vector, 0, size*len(m.vertexMaps))

	for i := range m.vertexMaps {
		pts := spatialmath.ApplyTransformation(m.vertexMaps[i].Points(), m.poses[i])
		nrm := spatialmath.ApplyRotation(m.normalMaps[i].Points(), m.poses[i])
		for j, ok := range m.masks[i] {
			if !ok {
				pts[j] = r3.Vector{}
				nrm[j] = r3.Vector{}
			}
		}
		allPoints = append(allPoints, pts...)
		allNormals = append(allNormals, nrm...)
	}

	vmap, nmap, err := m.projector.BuildProjectionMap(allPoints, allNormals)
	if err != nil {
		return errors.Wrap(err, "rebuilding aggregate model")
	}
	m.modelVertexMap = vmap
	m.modelNormalMap = nmap
	return nil
}

// NearestNeighborSearch associates each query point with the aggregate-map
// pixel it projects to. Query points whose own projection or whose matched
// pixel is invalid are dropped; all result fields are filtered by the same
// mask and stay row-aligned.
func (m *ProjectiveLocalMap) NearestNeighborSearch(
	points []r3.Vector,
	withNormals, withTargetPoints bool,
) (NeighborhoodResult, error) {
	if m.modelVertexMap == nil {
		return NeighborhoodResult{}, ErrNoModel
	}

	queryMap, _, err := m.projector.BuildProjectionMap(points, nil)
	if err != nil {
		return NeighborhoodResult{}, errors.Wrap(err, "projecting query points")
	}
	queryPts := queryMap.Points()
	modelPts := m.modelVertexMap.Points()
	modelNrm := m.modelNormalMap.Points()

	result := NeighborhoodResult{NeighborPoints: make([]r3.Vector, 0, len(queryPts))}
	if withNormals {
		result.NeighborNormals = make([]r3.Vector, 0, len(queryPts))
	}
	if withTargetPoints {
		result.TargetPoints = make([]r3.Vector, 0, len(queryPts))
	}
	for i := range queryPts {
		if pointcloud.IsZero(queryPts[i]) || pointcloud.IsZero(modelPts[i]) {
			continue
		}
		result.NeighborPoints = append(result.NeighborPoints, modelPts[i])
		if withNormals {
			result.NeighborNormals = append(result.NeighborNormals, modelNrm[i])
		}
		if withTargetPoints {
			result.TargetPoints = append(result.TargetPoints, queryPts[i])
		}
	}
	return result, nil
}

// LastFrame returns the newest frame's valid points expressed in the map's
// current reference frame.
func (m *ProjectiveLocalMap) LastFrame() ([]r3.Vector, error) {
	if len(m.vertexMaps) == 0 {
		return nil, ErrEmptyMap
	}
	last := len(m.vertexMaps) - 1
	pts := m.vertexMaps[last].Points()
	mask := m.masks[last]
	out := make([]r3.Vector, 0, len(pts))
	for i, p := range pts {
		if !mask[i] || pointcloud.IsZero(p) {
			continue
		}
		out = append(out, m.poses[last].TransformPoint(p))
	}
	return out, nil
}
