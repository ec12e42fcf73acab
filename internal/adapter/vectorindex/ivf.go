package vectorindex

import (
	"math"
	"sort"

	"priorart/internal/domain"
)

// ivf partitions vectors into clusters around k-means centroids.
type ivf struct {
	centroids [][]float32
	lists     [][]*item
}

// buildIVF clusters items deterministically: centroids start at evenly spaced
// items in id order and a fixed number of iterations follows.
func buildIVF(items []*item, lists, iterations int) *ivf {
	n := len(items)
	if lists <= 0 {
		lists = int(math.Sqrt(float64(n)))
	}
	lists = max(1, min(lists, n))
	if iterations <= 0 {
		iterations = 1
	}

	dim := len(items[0].vec)
	centroids := make([][]float32, lists)
	for c := range centroids {
		centroids[c] = append([]float32(nil), items[c*n/lists].vec...)
	}

	assign := make([]int, n)
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, it := range items {
			best := nearest(centroids, it.vec)
			if iter == 0 || best != assign[i] {
				changed = true
			}
			assign[i] = best
		}
		if !changed {
			break
		}

		sums := make([][]float64, lists)
		counts := make([]int, lists)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, it := range items {
			c := assign[i]
			counts[c]++
			for d, x := range it.vec {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			mean := make([]float32, dim)
			for d := range mean {
				mean[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = normalize(mean)
		}
	}

	out := &ivf{centroids: centroids, lists: make([][]*item, lists)}
	for _, it := range items {
		c := nearest(centroids, it.vec)
		out.lists[c] = append(out.lists[c], it)
	}
	return out
}

func nearest(centroids [][]float32, v []float32) int {
	best, bestScore := 0, math.Inf(-1)
	for c, centroid := range centroids {
		if s := dot(centroid, v); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// candidates returns the filtered items of the nprobe clusters closest to q,
// probing further clusters until at least k candidates are found.
func (ix *ivf) candidates(q []float32, nprobe, k int, filters domain.Filters) []*item {
	order := make([]int, len(ix.centroids))
	scores := make([]float64, len(ix.centroids))
	for c := range order {
		order[c] = c
		scores[c] = dot(ix.centroids[c], q)
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	var out []*item
	for probed, c := range order {
		if probed >= nprobe && len(out) >= k {
			break
		}
		for _, it := range ix.lists[c] {
			if filters.Match(it.section, it.class) {
				out = append(out, it)
			}
		}
	}
	return out
}
