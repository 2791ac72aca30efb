// Package graph provides the sparse signed-ID adjacency structure the
// degree and betweenness stages operate over, loaded from a
// deduplicated edge list. Node IDs range from a negative minimum
// (synthetic unknown hops) through 0 (the implicit prober) up to a
// positive maximum (every known IP observed).
package graph

import (
	"os"
	"sort"
	"sync"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/errkind"
)

// Boundaries describes the inclusive node ID range a Graph spans.
type Boundaries struct {
	Min int64
	Max int64
}

type edgeRow struct {
	From int64 `csv:"from"`
	To   int64 `csv:"to"`
}

// Graph is a sparse adjacency list keyed by signed node ID. Absent
// keys behave as an empty neighbor set, never a missing-key error.
type Graph struct {
	boundaries Boundaries
	forward    map[int64]map[int64]struct{}

	reverseOnce sync.Once
	reverse     map[int64]map[int64]struct{}
}

// New creates an empty Graph spanning boundaries.
func New(boundaries Boundaries) *Graph {
	return &Graph{boundaries: boundaries, forward: make(map[int64]map[int64]struct{})}
}

// Load reads a dataset's deduplicated edge list (or, if
// useDeduplicated is false, the raw edge list) and the max node ID
// summary, and builds the forward adjacency.
func Load(cfg config.DatasetConfig, useDeduplicated bool) (*Graph, error) {
	boundaries, err := loadBoundaries(cfg.Paths().MaxNodeIDs)
	if err != nil {
		return nil, err
	}

	path := cfg.Paths().Edges
	if useDeduplicated {
		path = cfg.Paths().EdgesDeduplicated
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g := New(boundaries)

	rowChan := make(chan edgeRow)
	errChan := make(chan error, 1)
	go func() {
		errChan <- gocsv.UnmarshalToChan(f, rowChan)
	}()

	for row := range rowChan {
		g.AddEdge(row.From, row.To)
	}
	if err := <-errChan; err != nil {
		return nil, err
	}
	return g, nil
}

type maxNodeIDsRow struct {
	Known   int64 `csv:"known"`
	Unknown int64 `csv:"unknown"`
}

func loadBoundaries(path string) (Boundaries, error) {
	f, err := os.Open(path)
	if err != nil {
		return Boundaries{}, err
	}
	defer f.Close()

	var rows []maxNodeIDsRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return Boundaries{}, err
	}
	if len(rows) != 1 {
		return Boundaries{}, errkind.ErrShardCorrupt
	}
	return Boundaries{Min: -rows[0].Unknown, Max: rows[0].Known}, nil
}

// AddEdge records a directed edge from → to.
func (g *Graph) AddEdge(from, to int64) {
	neighbors, ok := g.forward[from]
	if !ok {
		neighbors = make(map[int64]struct{})
		g.forward[from] = neighbors
	}
	neighbors[to] = struct{}{}
}

// Boundaries returns the inclusive node ID range this Graph spans.
func (g *Graph) Boundaries() Boundaries {
	return g.boundaries
}

// NeighborsOut returns node's outgoing neighbor set, or nil if node
// has none.
func (g *Graph) NeighborsOut(node int64) map[int64]struct{} {
	return g.forward[node]
}

// NeighborsIn returns node's incoming neighbor set. It returns
// errkind.ErrReverseNotBuilt if EnsureReverse has not been called yet.
func (g *Graph) NeighborsIn(node int64) (map[int64]struct{}, error) {
	if g.reverse == nil {
		return nil, errkind.ErrReverseNotBuilt
	}
	return g.reverse[node], nil
}

// EnsureReverse builds the reverse adjacency, if it has not already
// been built. Safe to call repeatedly or concurrently.
func (g *Graph) EnsureReverse() {
	g.reverseOnce.Do(func() {
		reverse := make(map[int64]map[int64]struct{})
		for from, neighbors := range g.forward {
			for to := range neighbors {
				dests, ok := reverse[to]
				if !ok {
					dests = make(map[int64]struct{})
					reverse[to] = dests
				}
				dests[from] = struct{}{}
			}
		}
		g.reverse = reverse
	})
}

// Keys returns every node ID that has at least one outgoing edge,
// sorted ascending. Sorted order gives callers (notably the
// betweenness worker partitioner) a deterministic way to split work
// across workers.
func (g *Graph) Keys() []int64 {
	keys := make([]int64, 0, len(g.forward))
	for k := range g.forward {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
