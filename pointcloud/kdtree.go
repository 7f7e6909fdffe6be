package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree is an immutable spatial index over a point slice, enabling exact
// nearest-neighbor queries in sub-linear time. Queries report the matched
// point's index in the slice the tree was built from, so derived per-point
// data (normal caches) can be keyed by index.
type KDTree struct {
	tree   *kdtree.Tree
	points []r3.Vector
}

// Neighbor is a single nearest-neighbor match.
type Neighbor struct {
	Point    r3.Vector
	Index    int
	Distance float64 // Euclidean
}

// ToKDTree builds an index over the given points. The slice is captured, not
// copied; callers must not mutate it while the tree is alive.
func ToKDTree(points []r3.Vector) *KDTree {
	pts := make(treePoints, len(points))
	for i, p := range points {
		pts[i] = treePoint{pos: p, idx: i}
	}
	return &KDTree{
		tree:   kdtree.New(pts, false),
		points: points,
	}
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return len(kd.points)
}

// NearestNeighbor returns the exact closest indexed point to p. The second
// return is false only when the tree is empty.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (Neighbor, bool) {
	if len(kd.points) == 0 {
		return Neighbor{}, false
	}
	got, dist := kd.tree.Nearest(treePoint{pos: p, idx: -1})
	if got == nil {
		return Neighbor{}, false
	}
	tp := got.(treePoint)
	return Neighbor{Point: tp.pos, Index: tp.idx, Distance: math.Sqrt(dist)}, true
}

// KNearestNeighbors returns up to k closest indexed points to p in ascending
// distance order. With includeSelf false, the single closest match is dropped,
// for querying a point that is itself part of the index.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int, includeSelf bool) []Neighbor {
	if len(kd.points) == 0 || k <= 0 {
		return nil
	}
	want := k
	if !includeSelf {
		want++
	}
	keeper := kdtree.NewNKeeper(want)
	kd.tree.NearestSet(keeper, treePoint{pos: p, idx: -1})

	neighbors := make([]Neighbor, 0, want)
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		tp := cd.Comparable.(treePoint)
		neighbors = append(neighbors, Neighbor{Point: tp.pos, Index: tp.idx, Distance: math.Sqrt(cd.Dist)})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})
	if !includeSelf && len(neighbors) > 0 {
		neighbors = neighbors[1:]
	}
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// treePoint couples a position with its index in the source slice so queries
// can identify which stored point matched.
type treePoint struct {
	pos r3.Vector
	idx int
}

func (p treePoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.pos.X
	case 1:
		return p.pos.Y
	default:
		return p.pos.Z
	}
}

// Compare returns the signed distance of p from the plane through c
// perpendicular to dimension d.
func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	return p.coord(d) - q.coord(d)
}

// Dims returns the number of dimensions treePoint works in.
func (p treePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between p and c; the tree
// only compares distances, so skipping the square root is safe.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	d := p.pos.Sub(q.pos)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable { return p[i] }

func (p treePoints) Len() int { return len(p) }

func (p treePoints) Pivot(d kdtree.Dim) int {
	return treePlane{points: p, dim: d}.Pivot()
}

func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// treePlane sorts treePoints along a single dimension for pivot selection.
type treePlane struct {
	points treePoints
	dim    kdtree.Dim
}

func (p treePlane) Len() int { return len(p.points) }

func (p treePlane) Less(i, j int) bool {
	return p.points[i].coord(p.dim) < p.points[j].coord(p.dim)
}

func (p treePlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (p treePlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

func (p treePlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}
