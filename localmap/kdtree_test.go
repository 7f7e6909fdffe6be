package localmap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/meridian-robotics/lidarmap/pointcloud"
	"github.com/meridian-robotics/lidarmap/spatialmath"
)

func newTestKdTreeMap(t *testing.T, windowSize int) *KdTreeLocalMap {
	t.Helper()
	cfg := DefaultConfig(StrategyKdTree)
	cfg.WindowSize = windowSize
	m, err := NewKdTreeLocalMap(cfg, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return m
}

func randomCloud(r *rand.Rand, n int) []r3.Vector {
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = r3.Vector{X: r.Float64() * 10, Y: r.Float64() * 10, Z: r.Float64() * 10}
	}
	return out
}

func (m *KdTreeLocalMap) assertCountsInvariant(t *testing.T) {
	t.Helper()
	sum := 0
	for _, n := range m.frameSizes {
		sum += n
	}
	test.That(t, sum, test.ShouldEqual, len(m.points))
}

func TestKdTreeMapWindowScenario(t *testing.T) {
	// window=2: 100 pts, then 50, then 30 evicting the first 100
	r := rand.New(rand.NewSource(1))
	m := newTestKdTreeMap(t, 2)
	pose := spatialmath.NewPoseFromAxisAngle(r3.Vector{Z: 1}, 0.1, r3.Vector{X: 1})

	err := m.Update(spatialmath.NewZeroPose(), &Frame{Points: randomCloud(r, 100)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, 100)
	test.That(t, m.frameSizes, test.ShouldResemble, []int{100})
	m.assertCountsInvariant(t)

	err = m.Update(pose, &Frame{Points: randomCloud(r, 50)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, 150)
	test.That(t, m.frameSizes, test.ShouldResemble, []int{100, 50})
	m.assertCountsInvariant(t)

	err = m.Update(pose, &Frame{Points: randomCloud(r, 30)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, 80)
	test.That(t, m.frameSizes, test.ShouldResemble, []int{50, 30})
	m.assertCountsInvariant(t)
}

func TestKdTreeMapWindowBound(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	m := newTestKdTreeMap(t, 3)
	pose := spatialmath.NewPoseFromTranslation(r3.Vector{X: 0.5})
	for i := 0; i < 10; i++ {
		err := m.Update(pose, &Frame{Points: randomCloud(r, 20)})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.FrameCount(), test.ShouldBeLessThanOrEqualTo, 3)
		m.assertCountsInvariant(t)
	}
	test.That(t, m.Size(), test.ShouldEqual, 60)
}

func TestKdTreeMapPoseRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	m := newTestKdTreeMap(t, 5)
	original := randomCloud(r, 40)
	err := m.Update(spatialmath.NewZeroPose(), &Frame{Points: original})
	test.That(t, err, test.ShouldBeNil)

	pose := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 1, Y: 2, Z: 3}, 0.7, r3.Vector{X: 1, Y: -2, Z: 0.5})

	// re-pose by P, then by P^-1, with no new points: coordinates restored
	err = m.Update(pose, nil)
	test.That(t, err, test.ShouldBeNil)
	err = m.Update(pose.Invert(), nil)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.FrameCount(), test.ShouldEqual, 1) // pose-only updates record no count
	test.That(t, m.Size(), test.ShouldEqual, 40)
	for i, p := range m.points {
		test.That(t, p.Sub(original[i]).Norm(), test.ShouldBeLessThan, 1e-9)
	}
}

func TestKdTreeMapLastFrame(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	m := newTestKdTreeMap(t, 3)
	err := m.Update(spatialmath.NewZeroPose(), &Frame{Points: randomCloud(r, 25)})
	test.That(t, err, test.ShouldBeNil)
	second := randomCloud(r, 15)
	err = m.Update(spatialmath.NewZeroPose(), &Frame{Points: second})
	test.That(t, err, test.ShouldBeNil)

	got, err := m.LastFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, second)

	// stable under repeated calls, and a fresh copy each time
	again, err := m.LastFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, got)
	again[0] = r3.Vector{X: 999}
	third, err := m.LastFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, third[0], test.ShouldResemble, second[0])
}

func TestKdTreeMapSearchExact(t *testing.T) {
	m := newTestKdTreeMap(t, 5)
	cloud := []r3.Vector{{X: 0}, {X: 5}, {X: 10}, {Y: 3}}
	err := m.Update(spatialmath.NewZeroPose(), &Frame{Points: cloud})
	test.That(t, err, test.ShouldBeNil)

	queries := []r3.Vector{{X: 0.4}, {X: 8}, {Y: 2.9}}
	res, err := m.NearestNeighborSearch(queries, false, true)
	test.That(t, err, test.ShouldBeNil)
	// no filtering: every query matched
	test.That(t, res.NeighborPoints, test.ShouldHaveLength, len(queries))
	test.That(t, res.NeighborPoints[0], test.ShouldResemble, r3.Vector{X: 0})
	test.That(t, res.NeighborPoints[1], test.ShouldResemble, r3.Vector{X: 10})
	test.That(t, res.NeighborPoints[2], test.ShouldResemble, r3.Vector{Y: 3})
	test.That(t, res.TargetPoints, test.ShouldResemble, queries)
	test.That(t, res.NeighborNormals, test.ShouldBeNil)
}

func TestKdTreeMapLazyNormals(t *testing.T) {
	// coplanar map: every normal must be parallel to +-Z
	m := newTestKdTreeMap(t, 5)
	r := rand.New(rand.NewSource(5))
	cloud := make([]r3.Vector, 200)
	for i := range cloud {
		cloud[i] = r3.Vector{X: r.Float64() * 5, Y: r.Float64() * 5, Z: 1}
	}
	err := m.Update(spatialmath.NewZeroPose(), &Frame{Points: cloud})
	test.That(t, err, test.ShouldBeNil)

	res, err := m.NearestNeighborSearch(cloud[:50], true, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.NeighborNormals, test.ShouldHaveLength, 50)
	for _, n := range res.NeighborNormals {
		test.That(t, math.Abs(n.Dot(r3.Vector{Z: 1})), test.ShouldAlmostEqual, 1, 1e-6)
	}

	// touched indices are now cached
	cached := 0
	for _, known := range m.normalKnown {
		if known {
			cached++
		}
	}
	test.That(t, cached, test.ShouldBeGreaterThan, 0)

	// the cache is wholly discarded on the next rebuild
	err = m.Update(spatialmath.NewZeroPose(), &Frame{Points: randomCloud(r, 10)})
	test.That(t, err, test.ShouldBeNil)
	for _, known := range m.normalKnown {
		test.That(t, known, test.ShouldBeFalse)
	}
}

func TestKdTreeMapQueryPreconditions(t *testing.T) {
	m := newTestKdTreeMap(t, 5)
	_, err := m.NearestNeighborSearch([]r3.Vector{{X: 1}}, false, false)
	test.That(t, err, test.ShouldEqual, ErrNoModel)

	_, err = m.LastFrame()
	test.That(t, err, test.ShouldEqual, ErrEmptyMap)

	err = m.Update(spatialmath.NewZeroPose(), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestKdTreeMapDensifiesVertexMap(t *testing.T) {
	m := newTestKdTreeMap(t, 5)
	vm, err := pointcloud.NewVertexMap(4, 1)
	test.That(t, err, test.ShouldBeNil)
	vm.Set(0, 0, r3.Vector{X: 3})
	vm.Set(1, 0, r3.Vector{X: 0.001}) // near-zero, dropped
	vm.Set(2, 0, r3.Vector{X: math.NaN(), Y: 1})
	vm.Set(3, 0, r3.Vector{Y: 4})

	err = m.Update(spatialmath.NewZeroPose(), &Frame{VertexMap: vm})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, 2)
}

func TestKdTreeMapSetMapPointCloud(t *testing.T) {
	m := newTestKdTreeMap(t, 5)
	cloud := []r3.Vector{{X: 1}, {X: 2}, {X: 3}}
	normals := []r3.Vector{{Z: 1}, {Z: 1}, {Z: 1}}
	err := m.SetMapPointCloud(cloud, normals)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, 3)

	res, err := m.NearestNeighborSearch([]r3.Vector{{X: 1.1}}, true, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.NeighborPoints[0], test.ShouldResemble, r3.Vector{X: 1})
	test.That(t, res.NeighborNormals[0], test.ShouldResemble, r3.Vector{Z: 1})

	err = m.SetMapPointCloud(cloud, normals[:2])
	test.That(t, err, test.ShouldNotBeNil)
	err = m.SetMapPointCloud(nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestKdTreeMapInitResets(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	m := newTestKdTreeMap(t, 5)
	err := m.Update(spatialmath.NewZeroPose(), &Frame{Points: randomCloud(r, 10)})
	test.That(t, err, test.ShouldBeNil)

	m.Init()
	test.That(t, m.Size(), test.ShouldEqual, 0)
	test.That(t, m.FrameCount(), test.ShouldEqual, 0)
	_, err = m.NearestNeighborSearch([]r3.Vector{{X: 1}}, false, false)
	test.That(t, err, test.ShouldEqual, ErrNoModel)

	// Init is idempotent
	m.Init()
	test.That(t, m.Size(), test.ShouldEqual, 0)
}
