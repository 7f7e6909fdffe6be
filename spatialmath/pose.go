// Package spatialmath defines the rigid-transform math used to re-express
// point clouds between reference frames.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Pose is a rigid transformation in 3D, backed by a homogeneous 4x4 matrix.
// The zero value is not a valid pose; use NewZeroPose for the identity.
type Pose struct {
	mat mgl64.Mat4
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{mgl64.Ident4()}
}

// NewPose returns a pose wrapping the given homogeneous matrix. The matrix is
// assumed to be a rigid transform; no orthonormality check is performed.
func NewPose(mat mgl64.Mat4) Pose {
	return Pose{mat}
}

// NewPoseFromTranslation returns a pure-translation pose.
func NewPoseFromTranslation(t r3.Vector) Pose {
	return Pose{mgl64.Translate3D(t.X, t.Y, t.Z)}
}

// NewPoseFromAxisAngle returns the pose rotating by theta radians about the
// given axis, then translating by t.
func NewPoseFromAxisAngle(axis r3.Vector, theta float64, t r3.Vector) Pose {
	n := axis.Normalize()
	rot := mgl64.HomogRotate3D(theta, mgl64.Vec3{n.X, n.Y, n.Z})
	return Pose{mgl64.Translate3D(t.X, t.Y, t.Z).Mul4(rot)}
}

// Compose returns the pose equivalent to applying b first, then a.
func Compose(a, b Pose) Pose {
	return Pose{a.mat.Mul4(b.mat)}
}

// Invert returns the inverse transformation.
func (p Pose) Invert() Pose {
	return Pose{p.mat.Inv()}
}

// Mat returns the underlying homogeneous matrix.
func (p Pose) Mat() mgl64.Mat4 {
	return p.mat
}

// Translation returns the translation component.
func (p Pose) Translation() r3.Vector {
	return r3.Vector{X: p.mat.At(0, 3), Y: p.mat.At(1, 3), Z: p.mat.At(2, 3)}
}

// TransformPoint applies the full rigid transform to a point.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	out := p.mat.Mul4x1(mgl64.Vec4{pt.X, pt.Y, pt.Z, 1})
	return r3.Vector{X: out.X(), Y: out.Y(), Z: out.Z()}
}

// RotateVector applies only the rotation component to a direction vector.
func (p Pose) RotateVector(v r3.Vector) r3.Vector {
	out := p.mat.Mul4x1(mgl64.Vec4{v.X, v.Y, v.Z, 0})
	return r3.Vector{X: out.X(), Y: out.Y(), Z: out.Z()}
}

// ApplyTransformation transforms every point by the pose, returning a new
// slice. The input is never modified.
func ApplyTransformation(points []r3.Vector, p Pose) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, pt := range points {
		out[i] = p.TransformPoint(pt)
	}
	return out
}

// ApplyRotation rotates every vector by the pose's rotation component,
// returning a new slice. Used for normals, which must not be translated.
func ApplyRotation(vectors []r3.Vector, p Pose) []r3.Vector {
	out := make([]r3.Vector, len(vectors))
	for i, v := range vectors {
		out[i] = p.RotateVector(v)
	}
	return out
}

// PoseAlmostEqual reports whether two poses agree element-wise within tol.
func PoseAlmostEqual(a, b Pose, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(a.mat.At(i, j)-b.mat.At(i, j)) > tol {
				return false
			}
		}
	}
	return true
}
