package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minNeighborsForNormal is the smallest neighborhood admitting a plane fit.
const minNeighborsForNormal = 3

// EstimateNormal fits a plane to the neighborhood of center and returns its
// unit normal: the eigenvector of smallest eigenvalue of the 3x3 sample
// covariance of the neighbor offsets about center. The sign of the normal is
// not resolved; callers needing an oriented normal must fix it themselves.
func EstimateNormal(center r3.Vector, neighbors []r3.Vector) (r3.Vector, error) {
	if len(neighbors) < minNeighborsForNormal {
		return r3.Vector{}, errors.Errorf("normal estimation needs at least %d neighbors, got %d",
			minNeighborsForNormal, len(neighbors))
	}

	var xx, xy, xz, yy, yz, zz float64
	for _, nb := range neighbors {
		d := nb.Sub(center)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	n := float64(len(neighbors))
	cov := mat.NewSymDense(3, []float64{
		xx / n, xy / n, xz / n,
		xy / n, yy / n, yz / n,
		xz / n, yz / n, zz / n,
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return r3.Vector{}, errors.New("failed to factorize neighborhood covariance")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// eigenvalues come back in ascending order; column 0 is the plane normal
	normal := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	return normal.Normalize(), nil
}

// EstimateNormalFromPoints fits a plane to a point set about its centroid and
// returns the unit normal, sign unresolved.
func EstimateNormalFromPoints(points []r3.Vector) (r3.Vector, error) {
	if len(points) < minNeighborsForNormal {
		return r3.Vector{}, errors.Errorf("normal estimation needs at least %d points, got %d",
			minNeighborsForNormal, len(points))
	}
	var centroid r3.Vector
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1.0 / float64(len(points)))
	return EstimateNormal(centroid, points)
}
