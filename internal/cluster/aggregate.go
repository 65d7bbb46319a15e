package cluster

import (
	"github.com/paulmach/orb"
)

// Cluster is one k-means group: its label, the centroid reported by the
// algorithm and the number of member points.
type Cluster struct {
	ID       int
	Centroid orb.Point
	Count    int
}

// Aggregate counts members per label. Clusters without members are left
// out; the rest are ordered by ID and their counts sum to len(res.Labels).
func Aggregate(res *Result) []Cluster {
	if res == nil {
		return nil
	}
	counts := make([]int, len(res.Centroids))
	for _, l := range res.Labels {
		counts[l]++
	}
	out := make([]Cluster, 0, len(counts))
	for id, n := range counts {
		if n == 0 {
			continue
		}
		out = append(out, Cluster{ID: id, Centroid: res.Centroids[id], Count: n})
	}
	return out
}

// Total returns the sum of cluster counts.
func Total(clusters []Cluster) int {
	var n int
	for _, c := range clusters {
		n += c.Count
	}
	return n
}

// CountRange returns the smallest and largest count. Both are zero for no
// clusters.
func CountRange(clusters []Cluster) (lo, hi int) {
	for i, c := range clusters {
		if i == 0 || c.Count < lo {
			lo = c.Count
		}
		if c.Count > hi {
			hi = c.Count
		}
	}
	return lo, hi
}
