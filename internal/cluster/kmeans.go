// Package cluster groups accident locations with k-means and aggregates
// the result into per-cluster counts for the density map.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Default k-means parameters.
const (
	DefaultK       = 13
	DefaultMaxIter = 300
	DefaultTol     = 1e-4
	DefaultNInit   = 10
)

// ErrClusterCount matches every ClusterCountError via errors.Is.
var ErrClusterCount = errors.New("invalid cluster count")

// ClusterCountError is returned when K cannot be satisfied by the input.
type ClusterCountError struct {
	Requested int
	Available int
}

func (e *ClusterCountError) Error() string {
	return fmt.Sprintf("cannot form %d clusters from %d points", e.Requested, e.Available)
}

func (e *ClusterCountError) Is(target error) bool { return target == ErrClusterCount }

// Options controls KMeans.
type Options struct {
	K       int
	MaxIter int
	// Tol is the convergence threshold on the total squared centroid shift,
	// relative to the mean per-axis variance of the input.
	Tol   float64
	NInit int
	// Seed fixes the random source. Zero draws a fresh seed, so repeated
	// runs may label points differently.
	Seed uint64
}

// DefaultOptions returns the parameters used for the density map.
func DefaultOptions() Options {
	return Options{K: DefaultK, MaxIter: DefaultMaxIter, Tol: DefaultTol, NInit: DefaultNInit}
}

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.NInit <= 0 {
		o.NInit = DefaultNInit
	}
	if o.Tol < 0 || math.IsNaN(o.Tol) {
		o.Tol = DefaultTol
	}
	return o
}

// Result is the outcome of the best k-means restart.
type Result struct {
	Labels     []int
	Centroids  []orb.Point
	Iterations int
	Inertia    float64
}

// KMeans partitions points into opts.K clusters using Lloyd's algorithm
// with k-means++ seeding. It runs opts.NInit seeded restarts and keeps the
// one with the lowest inertia.
func KMeans(points []orb.Point, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	n := len(points)
	if opts.K < 1 || opts.K > n {
		return nil, &ClusterCountError{Requested: opts.K, Available: n}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	tol := opts.Tol * meanVariance(points)

	var best *Result
	for i := 0; i < opts.NInit; i++ {
		res := lloyd(points, seedPlusPlus(points, opts.K, rng), opts.MaxIter, tol)
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

func meanVariance(points []orb.Point) float64 {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p[0], p[1]
	}
	return (stat.PopVariance(xs, nil) + stat.PopVariance(ys, nil)) / 2
}

// seedPlusPlus picks k initial centres: the first uniformly, each next one
// with probability proportional to its squared distance from the nearest
// centre chosen so far.
func seedPlusPlus(points []orb.Point, k int, rng *rand.Rand) []orb.Point {
	centres := make([]orb.Point, 0, k)
	centres = append(centres, points[rng.IntN(len(points))])

	d2 := make([]float64, len(points))
	for i, p := range points {
		d2[i] = sqDist(p, centres[0])
	}
	for len(centres) < k {
		var next int
		if floats.Sum(d2) > 0 {
			next = int(distuv.NewCategorical(d2, rng).Rand())
		} else {
			// Every point coincides with a centre already.
			next = rng.IntN(len(points))
		}
		c := points[next]
		centres = append(centres, c)
		for i, p := range points {
			d2[i] = math.Min(d2[i], sqDist(p, c))
		}
	}
	return centres
}

func lloyd(points []orb.Point, centroids []orb.Point, maxIter int, tol float64) *Result {
	labels := make([]int, len(points))
	counts := make([]int, len(centroids))

	iter := 0
	for iter < maxIter {
		iter++
		assign(points, centroids, labels, counts)
		reseedEmpty(points, centroids, labels, counts)

		next := means(points, labels, centroids)
		var shift float64
		for c := range centroids {
			shift += sqDist(centroids[c], next[c])
		}
		centroids = next
		if shift <= tol {
			break
		}
	}

	inertia := assign(points, centroids, labels, counts)
	if reseedEmpty(points, centroids, labels, counts) {
		inertia = 0
		for i, p := range points {
			inertia += sqDist(p, centroids[labels[i]])
		}
	}
	return &Result{Labels: labels, Centroids: centroids, Iterations: iter, Inertia: inertia}
}

// assign labels each point with its nearest centroid, fills counts and
// returns the inertia (sum of squared distances to the assigned centroid).
func assign(points, centroids []orb.Point, labels, counts []int) float64 {
	for c := range counts {
		counts[c] = 0
	}
	var inertia float64
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, cen := range centroids {
			if d := sqDist(p, cen); d < bestD {
				best, bestD = c, d
			}
		}
		labels[i] = best
		counts[best]++
		inertia += bestD
	}
	return inertia
}

// reseedEmpty moves, for every empty cluster, the point farthest from its
// own centroid into that cluster and centres the cluster on it. Only
// clusters with more than one member donate points. It reports whether
// anything moved.
func reseedEmpty(points, centroids []orb.Point, labels, counts []int) bool {
	moved := false
	for c := range counts {
		if counts[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, p := range points {
			if counts[labels[i]] < 2 {
				continue
			}
			if d := sqDist(p, centroids[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			return moved
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c] = 1
		centroids[c] = points[far]
		moved = true
	}
	return moved
}

// means returns the member mean of every cluster. A cluster without
// members keeps its previous centroid.
func means(points []orb.Point, labels []int, prev []orb.Point) []orb.Point {
	k := len(prev)
	sums := make([]orb.Point, k)
	n := make([]float64, k)
	for i, p := range points {
		l := labels[i]
		sums[l][0] += p[0]
		sums[l][1] += p[1]
		n[l]++
	}
	for c := range sums {
		if n[c] == 0 {
			sums[c] = prev[c]
			continue
		}
		sums[c][0] /= n[c]
		sums[c][1] /= n[c]
	}
	return sums
}

func sqDist(a, b orb.Point) float64 {
	d := floats.Distance(a[:], b[:], 2)
	return d * d
}
