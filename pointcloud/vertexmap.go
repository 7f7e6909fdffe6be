package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VertexMap is a structured HxW image of 3D vectors, the per-pixel projection
// of a point cloud through a camera-like model. The zero vector marks an
// invalid pixel. The same container holds normal maps, whose entries are unit
// direction vectors instead of positions.
type VertexMap struct {
	width, height int
	vectors       []r3.Vector // row-major, y*width+x
}

// NewVertexMap returns an all-invalid vertex map of the given dimensions.
func NewVertexMap(width, height int) (*VertexMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("vertex map dimensions must be positive, got %dx%d", width, height)
	}
	return &VertexMap{
		width:   width,
		height:  height,
		vectors: make([]r3.Vector, width*height),
	}, nil
}

// NewVertexMapFromPoints builds a vertex map whose row-major pixels are the
// given points. len(points) must equal width*height.
func NewVertexMapFromPoints(width, height int, points []r3.Vector) (*VertexMap, error) {
	vm, err := NewVertexMap(width, height)
	if err != nil {
		return nil, err
	}
	if len(points) != width*height {
		return nil, errors.Errorf("expected %d points for a %dx%d vertex map, got %d",
			width*height, width, height, len(points))
	}
	copy(vm.vectors, points)
	return vm, nil
}

// Width returns the number of columns.
func (vm *VertexMap) Width() int {
	return vm.width
}

// Height returns the number of rows.
func (vm *VertexMap) Height() int {
	return vm.height
}

// Size returns the total number of pixels.
func (vm *VertexMap) Size() int {
	return len(vm.vectors)
}

// At returns the vector stored at pixel (x, y).
func (vm *VertexMap) At(x, y int) r3.Vector {
	return vm.vectors[y*vm.width+x]
}

// Set stores a vector at pixel (x, y).
func (vm *VertexMap) Set(x, y int, v r3.Vector) {
	vm.vectors[y*vm.width+x] = v
}

// Points returns a copy of all pixels in row-major order, invalid entries
// included as zero vectors so the result stays pixel-aligned.
func (vm *VertexMap) Points() []r3.Vector {
	return CloneCloud(vm.vectors)
}

// ValidityMask returns the non-null predicate per pixel, in row-major order.
func (vm *VertexMap) ValidityMask() []bool {
	mask := make([]bool, len(vm.vectors))
	for i, v := range vm.vectors {
		mask[i] = !IsZero(v) && !HasNaN(v)
	}
	return mask
}

// Densify flattens the map into an unstructured point slice, dropping
// near-zero-norm and NaN entries.
func (vm *VertexMap) Densify() []r3.Vector {
	out := make([]r3.Vector, 0, len(vm.vectors))
	for _, v := range vm.vectors {
		if HasNaN(v) || v.Norm() <= nearZeroNorm {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SameDimensions reports whether the other map shares this map's shape.
func (vm *VertexMap) SameDimensions(other *VertexMap) bool {
	return other != nil && vm.width == other.width && vm.height == other.height
}

// Clone returns an independent copy of the map.
func (vm *VertexMap) Clone() *VertexMap {
	out := &VertexMap{width: vm.width, height: vm.height, vectors: CloneCloud(vm.vectors)}
	return out
}
