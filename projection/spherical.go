package projection

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/meridian-robotics/lidarmap/pointcloud"
)

// SphericalConfig parameterizes a spinning-lidar style spherical projection.
// Elevation bounds are in degrees; points outside them, or closer than
// MinRange, do not project.
type SphericalConfig struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	MinElevation float64 `json:"min_elevation_deg"`
	MaxElevation float64 `json:"max_elevation_deg"`
	MinRange     float64 `json:"min_range"`
}

// CheckValid ensures the configuration describes a usable projection model.
func (cfg *SphericalConfig) CheckValid() error {
	var err error
	if cfg.Width <= 0 {
		err = multierr.Append(err, errors.Errorf("width must be positive, got %d", cfg.Width))
	}
	if cfg.Height <= 0 {
		err = multierr.Append(err, errors.Errorf("height must be positive, got %d", cfg.Height))
	}
	if cfg.MaxElevation <= cfg.MinElevation {
		err = multierr.Append(err, errors.Errorf("elevation range [%f, %f] is empty",
			cfg.MinElevation, cfg.MaxElevation))
	}
	if cfg.MinRange < 0 {
		err = multierr.Append(err, errors.Errorf("min range must be non-negative, got %f", cfg.MinRange))
	}
	return err
}

// SphericalProjector maps azimuth to image column and elevation to image row.
type SphericalProjector struct {
	cfg SphericalConfig
}

// NewSphericalProjector validates the config and returns the projector.
func NewSphericalProjector(cfg SphericalConfig) (*SphericalProjector, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid spherical projector config")
	}
	return &SphericalProjector{cfg: cfg}, nil
}

// Dimensions returns the width and height of produced maps.
func (sp *SphericalProjector) Dimensions() (int, int) {
	return sp.cfg.Width, sp.cfg.Height
}

// PointToPixel returns the pixel a point projects to, and whether the point
// projects at all.
func (sp *SphericalProjector) PointToPixel(p r3.Vector) (int, int, bool) {
	if pointcloud.HasNaN(p) || pointcloud.IsZero(p) {
		return 0, 0, false
	}
	r := p.Norm()
	if r < sp.cfg.MinRange {
		return 0, 0, false
	}

	azimuth := math.Atan2(p.Y, p.X) // (-pi, pi]
	x := int(math.Floor((azimuth + math.Pi) / (2 * math.Pi) * float64(sp.cfg.Width)))
	if x >= sp.cfg.Width { // azimuth exactly +pi wraps to column 0
		x = 0
	}

	elevation := math.Asin(p.Z/r) * 180 / math.Pi
	if elevation < sp.cfg.MinElevation || elevation > sp.cfg.MaxElevation {
		return 0, 0, false
	}
	span := sp.cfg.MaxElevation - sp.cfg.MinElevation
	y := int(math.Floor((sp.cfg.MaxElevation - elevation) / span * float64(sp.cfg.Height)))
	if y >= sp.cfg.Height {
		y = sp.cfg.Height - 1
	}
	return x, y, true
}

// BuildProjectionMap projects points (and aligned field vectors, when given)
// into vertex maps. Later points overwrite earlier ones on pixel collision.
func (sp *SphericalProjector) BuildProjectionMap(
	points, fields []r3.Vector,
) (*pointcloud.VertexMap, *pointcloud.VertexMap, error) {
	if fields != nil && len(fields) != len(points) {
		return nil, nil, errors.Errorf("fields length %d does not match points length %d",
			len(fields), len(points))
	}

	vmap, err := pointcloud.NewVertexMap(sp.cfg.Width, sp.cfg.Height)
	if err != nil {
		return nil, nil, err
	}
	var fmap *pointcloud.VertexMap
	if fields != nil {
		if fmap, err = pointcloud.NewVertexMap(sp.cfg.Width, sp.cfg.Height); err != nil {
			return nil, nil, err
		}
	}

	for i, p := range points {
		x, y, ok := sp.PointToPixel(p)
		if !ok {
			continue
		}
		vmap.Set(x, y, p)
		if fmap != nil {
			fmap.Set(x, y, fields[i])
		}
	}
	return vmap, fmap, nil
}
