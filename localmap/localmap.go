// Package localmap implements the bounded-memory map of recently registered
// lidar frames that frame-to-model odometry registers against. The map keeps
// a sliding window of frames, all re-expressed into the coordinate frame of
// the most recently inserted one, and answers nearest-neighbor queries against
// an aggregate model rebuilt on every update.
//
// Two association strategies are provided. The projective strategy keeps
// per-frame vertex maps and associates by image-plane lookup: constant time
// per query, but queries without a valid projected correspondence are
// filtered from the result. The k-d tree strategy keeps one accumulated point
// array under an exact spatial index: every query receives a match once the
// map is non-empty, at logarithmic cost per query.
//
// Instances are not safe for concurrent use; callers must serialize Update
// and NearestNeighborSearch per instance.
package localmap

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/meridian-robotics/lidarmap/pointcloud"
	"github.com/meridian-robotics/lidarmap/projection"
	"github.com/meridian-robotics/lidarmap/spatialmath"
)

// Strategy selects a local map implementation.
type Strategy string

// The supported association strategies.
const (
	StrategyProjective = Strategy("projective")
	StrategyKdTree     = Strategy("kdtree")
)

// Defaults mirror the reference odometry configuration.
const (
	DefaultWindowSize       = 20
	DefaultNormalKernelSize = 5
	DefaultNormalNeighbors  = 10
)

// Config parameterizes a local map. The zero value is not valid; use
// DefaultConfig as a starting point.
type Config struct {
	Strategy   Strategy `json:"strategy"`
	WindowSize int      `json:"window_size"`

	// NormalKernelSize is the pixel window used to derive normal maps from
	// vertex maps (projective strategy). Must be odd and >= 3.
	NormalKernelSize int `json:"normal_kernel_size"`

	// NormalNeighbors is the neighbor count for lazy covariance-based normal
	// estimation (kdtree strategy).
	NormalNeighbors int `json:"normal_neighbors"`
}

// DefaultConfig returns the reference configuration for a strategy.
func DefaultConfig(strategy Strategy) Config {
	return Config{
		Strategy:         strategy,
		WindowSize:       DefaultWindowSize,
		NormalKernelSize: DefaultNormalKernelSize,
		NormalNeighbors:  DefaultNormalNeighbors,
	}
}

// Validate ensures the configuration is usable, reporting every problem.
func (cfg *Config) Validate() error {
	var err error
	switch cfg.Strategy {
	case StrategyProjective, StrategyKdTree:
	default:
		err = multierr.Append(err, errors.Errorf("unknown local map strategy %q", cfg.Strategy))
	}
	if cfg.WindowSize <= 0 {
		err = multierr.Append(err, errors.Errorf("window size must be positive, got %d", cfg.WindowSize))
	}
	if cfg.Strategy == StrategyProjective && (cfg.NormalKernelSize < 3 || cfg.NormalKernelSize%2 == 0) {
		err = multierr.Append(err, errors.Errorf("normal kernel size must be odd and >= 3, got %d",
			cfg.NormalKernelSize))
	}
	if cfg.Strategy == StrategyKdTree && cfg.NormalNeighbors < 3 {
		err = multierr.Append(err, errors.Errorf("normal neighbor count must be >= 3, got %d",
			cfg.NormalNeighbors))
	}
	return err
}

// Frame is one scan to insert into the map, given either as an unstructured
// point slice or as a structured vertex map with optional precomputed normal
// map and validity mask. The frame's position is implied by the relative pose
// passed to Update alongside it.
type Frame struct {
	Points    []r3.Vector
	VertexMap *pointcloud.VertexMap
	NormalMap *pointcloud.VertexMap
	Mask      []bool
}

// NeighborhoodResult is the correspondence set for one query. All present
// fields are row-aligned and of equal length. Optional fields are populated
// exactly according to the flags the caller passed. The slices are fresh
// copies; mutating them cannot corrupt the map.
type NeighborhoodResult struct {
	NeighborPoints  []r3.Vector
	NeighborNormals []r3.Vector
	TargetPoints    []r3.Vector
}

// LocalMap is the registration target of a frame-to-model odometry loop. The
// external optimizer calls Update once per registered frame and
// NearestNeighborSearch once per optimization iteration.
type LocalMap interface {
	// Init clears all state. It is cheap and idempotent.
	Init()

	// Update re-expresses the stored window into the frame defined by
	// relativePose (the pose of the new reference frame relative to the
	// current one), optionally appends newFrame, evicts the oldest frame
	// beyond the window capacity, and rebuilds the aggregate model. A nil
	// newFrame re-poses the window without inserting anything.
	Update(relativePose spatialmath.Pose, newFrame *Frame) error

	// NearestNeighborSearch finds a map correspondence for each query point.
	// withNormals and withTargetPoints control the optional result fields.
	NearestNeighborSearch(points []r3.Vector, withNormals, withTargetPoints bool) (NeighborhoodResult, error)

	// LastFrame returns the most recently inserted frame's points in the
	// map's current reference frame.
	LastFrame() ([]r3.Vector, error)
}

// Errors shared by the strategies. They mark caller bugs, never transient
// conditions.
var (
	// ErrNoModel is returned when querying a map that has not been updated
	// since the last Init.
	ErrNoModel = errors.New("local map has no model; call Update at least once before querying")

	// ErrEmptyMap is returned when querying a map holding no points.
	ErrEmptyMap = errors.New("local map is empty")
)

// New builds a local map for the configured strategy. The projector is
// required by the projective strategy and ignored by the kdtree strategy.
func New(cfg Config, projector projection.Projector, logger golog.Logger) (LocalMap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid local map config")
	}
	switch cfg.Strategy {
	case StrategyProjective:
		return NewProjectiveLocalMap(cfg, projector, logger)
	case StrategyKdTree:
		return NewKdTreeLocalMap(cfg, logger)
	default:
		return nil, errors.Errorf("unknown local map strategy %q", cfg.Strategy)
	}
}
