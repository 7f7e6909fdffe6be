package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ComputeNormalMap derives a per-pixel normal image from a vertex map by
// fitting a plane to the valid vertices inside a kernelSize x kernelSize
// window around each pixel. kernelSize must be odd and at least 3. Pixels
// whose vertex is invalid, or whose window holds too few valid neighbors,
// get the zero vector.
//
// Normals are oriented to face the sensor origin, which is the origin of the
// vertex map's own frame. Point-to-plane residuals are insensitive to the
// sign, so this is a determinism measure rather than a semantic one.
func ComputeNormalMap(vm *VertexMap, kernelSize int) (*VertexMap, error) {
	if kernelSize < 3 || kernelSize%2 == 0 {
		return nil, errors.Errorf("normal kernel size must be odd and >= 3, got %d", kernelSize)
	}

	nm, err := NewVertexMap(vm.Width(), vm.Height())
	if err != nil {
		return nil, err
	}
	half := kernelSize / 2
	neighbors := make([]r3.Vector, 0, kernelSize*kernelSize)

	for y := 0; y < vm.Height(); y++ {
		for x := 0; x < vm.Width(); x++ {
			center := vm.At(x, y)
			if IsZero(center) || HasNaN(center) {
				continue
			}
			neighbors = neighbors[:0]
			for dy := -half; dy <= half; dy++ {
				ny := y + dy
				if ny < 0 || ny >= vm.Height() {
					continue
				}
				for dx := -half; dx <= half; dx++ {
					nx := x + dx
					if nx < 0 || nx >= vm.Width() {
						continue
					}
					v := vm.At(nx, ny)
					if IsZero(v) || HasNaN(v) {
						continue
					}
					neighbors = append(neighbors, v)
				}
			}
			normal, err := EstimateNormal(center, neighbors)
			if err != nil {
				continue // too few valid neighbors; leave the pixel invalid
			}
			if normal.Dot(center) > 0 {
				normal = normal.Mul(-1)
			}
			nm.Set(x, y, normal)
		}
	}
	return nm, nil
}
