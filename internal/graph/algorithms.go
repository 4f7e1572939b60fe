// internal/graph/algorithms.go
package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Activate performs spreading activation from seed nodes. Each hop
// propagates activation over edges (both directions) scaled by edge
// weight and the per-hop decay factor; contributions to the same node
// accumulate. Scores are normalized by the maximum so the result is in
// [0, 1]. Unknown seed IDs are ignored.
func (s *MemoryStore) Activate(_ context.Context, seeds map[string]float64, maxHops int, decay float64) (map[string]float64, error) {
	if decay <= 0 || decay > 1 {
		return nil, fmt.Errorf("decay must be in (0, 1], got %g", decay)
	}
	if maxHops < 0 {
		maxHops = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	activation := make(map[string]float64)
	frontier := make(map[string]float64)
	for id, weight := range seeds {
		if _, ok := s.nodes[id]; !ok {
			continue
		}
		activation[id] += weight
		frontier[id] = weight
	}

	// Nodes activate once; energy never flows back to an already
	// activated node, only forward to new ones.
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := make(map[string]float64)
		for id, energy := range frontier {
			spread := energy * decay
			for _, keys := range []map[EdgeKey]struct{}{s.out[id], s.in[id]} {
				for key := range keys {
					edge := s.edges[key]
					other := key.To
					if other == id {
						other = key.From
					}
					if _, seen := activation[other]; seen {
						continue
					}
					contribution := spread * edgeSpreadWeight(edge.Weight)
					if contribution <= 0 {
						continue
					}
					next[other] += contribution
				}
			}
		}
		for id, energy := range next {
			activation[id] = energy
		}
		frontier = next
	}

	var max float64
	for _, v := range activation {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for id := range activation {
			activation[id] /= max
		}
	}
	return activation, nil
}

// edgeSpreadWeight clamps edge weights into (0, 1] for activation so a
// single heavy edge can't blow past the seed energy.
func edgeSpreadWeight(w float64) float64 {
	if w <= 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// PageRank computes weighted PageRank over directed edges, iterating
// until the L1 delta drops below epsilon or maxIterations is reached.
// Dangling nodes redistribute uniformly.
func (s *MemoryStore) PageRank(_ context.Context, damping, epsilon float64, maxIterations int) (map[string]float64, error) {
	if damping <= 0 || damping >= 1 {
		return nil, fmt.Errorf("damping must be in (0, 1), got %g", damping)
	}
	if maxIterations <= 0 {
		maxIterations = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.nodes)
	if n == 0 {
		return map[string]float64{}, nil
	}

	rank := make(map[string]float64, n)
	outWeight := make(map[string]float64, n)
	for id := range s.nodes {
		rank[id] = 1.0 / float64(n)
		for key := range s.out[id] {
			outWeight[id] += s.edges[key].Weight
		}
	}

	base := (1 - damping) / float64(n)
	for iter := 0; iter < maxIterations; iter++ {
		next := make(map[string]float64, n)
		var dangling float64
		for id, r := range rank {
			if outWeight[id] == 0 {
				dangling += r
				continue
			}
			for key := range s.out[id] {
				edge := s.edges[key]
				next[edge.To] += r * edge.Weight / outWeight[id]
			}
		}

		danglingShare := dangling / float64(n)
		var delta float64
		for id := range s.nodes {
			updated := base + damping*(next[id]+danglingShare)
			delta += math.Abs(updated - rank[id])
			next[id] = updated
		}
		rank = next
		if delta < epsilon {
			break
		}
	}
	return rank, nil
}

// DegreeCentrality returns per-node degree (in + out) normalized by the
// maximum possible degree.
func (s *MemoryStore) DegreeCentrality(_ context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.nodes)
	out := make(map[string]float64, n)
	if n <= 1 {
		for id := range s.nodes {
			out[id] = 0
		}
		return out, nil
	}
	denom := float64(n - 1)
	for id := range s.nodes {
		out[id] = float64(len(s.out[id])+len(s.in[id])) / denom
	}
	return out, nil
}

// Communities assigns community labels via synchronous label propagation.
// Deterministic: nodes are processed in sorted ID order and label ties go
// to the smallest label. Returns node ID -> community label (the smallest
// node ID in the community, typically).
func (s *MemoryStore) Communities(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	labels := make(map[string]string, len(ids))
	for _, id := range ids {
		labels[id] = id
	}

	const maxRounds = 100
	for round := 0; round < maxRounds; round++ {
		changed := false
		for _, id := range ids {
			counts := make(map[string]float64)
			for _, keys := range []map[EdgeKey]struct{}{s.out[id], s.in[id]} {
				for key := range keys {
					edge := s.edges[key]
					other := key.To
					if other == id {
						other = key.From
					}
					counts[labels[other]] += edge.Weight
				}
			}
			if len(counts) == 0 {
				continue
			}

			best := labels[id]
			bestCount := counts[best]
			candidates := make([]string, 0, len(counts))
			for label := range counts {
				candidates = append(candidates, label)
			}
			sort.Strings(candidates)
			for _, label := range candidates {
				if counts[label] > bestCount {
					best = label
					bestCount = counts[label]
				}
			}
			if best != labels[id] {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels, nil
}
