package community

import (
	"math"
	"slices"
)

const (
	maxLocalPasses = 64
	maxPhases      = 32
	gainEpsilon    = 1e-12
)

// wedge is one undirected weighted edge with a <= b. a == b is a self loop
// holding the internal weight of an aggregated node.
type wedge struct {
	a, b int
	w    float64
}

type neighbor struct {
	to int
	w  float64
}

// wgraph is an undirected weighted graph over nodes 0..n-1.
type wgraph struct {
	n      int
	edges  []wedge
	adj    [][]neighbor
	degree []float64
	total  float64 // sum of degrees, i.e. 2m
}

// newWGraph builds a graph from edges, merging parallel edges by summing.
func newWGraph(n int, edges []wedge) *wgraph {
	merged := make(map[[2]int]float64, len(edges))
	for _, e := range edges {
		if e.w <= 0 {
			continue
		}
		a, b := min(e.a, e.b), max(e.a, e.b)
		merged[[2]int{a, b}] += e.w
	}
	keys := make([][2]int, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y [2]int) int {
		if x[0] != y[0] {
			return x[0] - y[0]
		}
		return x[1] - y[1]
	})

	g := &wgraph{n: n, adj: make([][]neighbor, n), degree: make([]float64, n)}
	for _, k := range keys {
		w := merged[k]
		a, b := k[0], k[1]
		g.edges = append(g.edges, wedge{a: a, b: b, w: w})
		if a == b {
			g.adj[a] = append(g.adj[a], neighbor{to: a, w: w})
			g.degree[a] += 2 * w
			continue
		}
		g.adj[a] = append(g.adj[a], neighbor{to: b, w: w})
		g.adj[b] = append(g.adj[b], neighbor{to: a, w: w})
		g.degree[a] += w
		g.degree[b] += w
	}
	for _, d := range g.degree {
		g.total += d
	}
	return g
}

// aggregate collapses every community of labels into one node.
func (g *wgraph) aggregate(labels []int, k int) *wgraph {
	edges := make([]wedge, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, wedge{a: labels[e.a], b: labels[e.b], w: e.w})
	}
	return newWGraph(k, edges)
}

// louvain partitions g by repeated local moving, refinement and aggregation
// until no phase merges anything. Labels are compact and numbered in order of
// the lowest node of each community.
func louvain(g *wgraph, gamma float64) []int {
	membership := make([]int, g.n)
	for i := range membership {
		membership[i] = i
	}
	cur := g
	for range maxPhases {
		labels, moved := localMove(cur, gamma)
		if !moved {
			break
		}
		labels = refine(cur, labels)
		k := countLabels(labels)
		if k == cur.n {
			break
		}
		for i := range membership {
			membership[i] = labels[membership[i]]
		}
		cur = cur.aggregate(labels, k)
	}
	return compact(membership)
}

// localMove greedily moves nodes, in index order, to the neighbouring
// community with the highest modularity gain
//
//	ΔQ = k_i,in − γ·Σ_tot·k_i / 2m
//
// A node only leaves its community for a strictly better gain; equal gains
// go to the lowest label.
func localMove(g *wgraph, gamma float64) ([]int, bool) {
	comm := make([]int, g.n)
	tot := make([]float64, g.n)
	for i := range comm {
		comm[i] = i
		tot[i] = g.degree[i]
	}
	if g.total == 0 {
		return comm, false
	}

	weights := make(map[int]float64)
	cands := make([]int, 0, 8)
	movedAny := false

	for range maxLocalPasses {
		moves := 0
		for i := range g.n {
			clear(weights)
			cands = cands[:0]
			for _, nb := range g.adj[i] {
				if nb.to == i {
					continue
				}
				c := comm[nb.to]
				if _, seen := weights[c]; !seen {
					cands = append(cands, c)
				}
				weights[c] += nb.w
			}

			ci, ki := comm[i], g.degree[i]
			tot[ci] -= ki

			best := ci
			bestGain := weights[ci] - gamma*tot[ci]*ki/g.total
			slices.Sort(cands)
			for _, c := range cands {
				if c == ci {
					continue
				}
				gain := weights[c] - gamma*tot[c]*ki/g.total
				if gain > bestGain+gainEpsilon || (best != ci && math.Abs(gain-bestGain) <= gainEpsilon && c < best) {
					best, bestGain = c, gain
				}
			}

			tot[best] += ki
			if best != ci {
				comm[i] = best
				moves++
			}
		}
		if moves == 0 {
			break
		}
		movedAny = true
	}
	return compact(comm), movedAny
}

// refine splits every community into its connected components so no
// community is internally disconnected.
func refine(g *wgraph, labels []int) []int {
	out := make([]int, g.n)
	for i := range out {
		out[i] = -1
	}
	next := 0
	stack := make([]int, 0, 16)
	for start := range g.n {
		if out[start] >= 0 {
			continue
		}
		out[start] = next
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, nb := range g.adj[v] {
				if out[nb.to] < 0 && labels[nb.to] == labels[start] {
					out[nb.to] = next
					stack = append(stack, nb.to)
				}
			}
		}
		next++
	}
	return out
}

// compact renumbers labels 0..k-1 in order of first appearance.
func compact(labels []int) []int {
	remap := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := remap[l]
		if !ok {
			id = len(remap)
			remap[l] = id
		}
		out[i] = id
	}
	return out
}

func countLabels(labels []int) int {
	seen := make(map[int]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// modularity returns Q of the partition under resolution gamma.
func modularity(g *wgraph, labels []int, gamma float64) float64 {
	if g.total == 0 {
		return 0
	}
	var in float64
	tot := make(map[int]float64)
	for _, e := range g.edges {
		if labels[e.a] == labels[e.b] {
			in += 2 * e.w
		}
	}
	for i, d := range g.degree {
		tot[labels[i]] += d
	}
	q := in / g.total
	for _, t := range tot {
		q -= gamma * (t / g.total) * (t / g.total)
	}
	return q
}
