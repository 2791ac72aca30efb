// Package degree computes per-node degree analytics over a Graph:
// in/out degree, average neighbor degree (and_*) over first-hop
// neighbors, and iterated average neighbor degree (iand_*) over the
// two-hop neighborhood. The two-hop neighborhood is a multiset: a
// neighbor reached by more than one first-hop path is counted once
// per path, not deduplicated.
package degree

import (
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/graph"
	"github.com/m-lab/traceroute-graph/metrics"
)

// Direction selects which adjacency a degree statistic is computed
// over.
type Direction int

const (
	// In considers only incoming edges.
	In Direction = iota
	// Out considers only outgoing edges.
	Out
	// Both considers incoming and outgoing edges together.
	Both
)

// Row is one node's full set of degree statistics.
type Row struct {
	NodeID    int64   `csv:"node_id"`
	DegIn     uint32  `csv:"degree_in"`
	DegOut    uint32  `csv:"degree_out"`
	ANDIn     float64 `csv:"and_in"`
	ANDOut    float64 `csv:"and_out"`
	ANDTotal  float64 `csv:"and_total"`
	IANDIn    float64 `csv:"iand_in"`
	IANDOut   float64 `csv:"iand_out"`
	IANDTotal float64 `csv:"iand_total"`
}

// IsNonZero reports whether node has any recorded edges at all.
func (r Row) IsNonZero() bool {
	return r.DegIn != 0 || r.DegOut != 0
}

// Calculator computes Rows against a fixed Graph, whose reverse
// adjacency must already be built (see graph.Graph.EnsureReverse).
type Calculator struct {
	g *graph.Graph
}

// NewCalculator creates a Calculator over g, building g's reverse
// adjacency if it has not been built yet.
func NewCalculator(g *graph.Graph) *Calculator {
	g.EnsureReverse()
	return &Calculator{g: g}
}

// Row computes the full degree statistics for a single node.
func (c *Calculator) Row(nodeID int64) Row {
	out := c.g.NeighborsOut(nodeID)
	in, _ := c.g.NeighborsIn(nodeID)

	r := Row{
		NodeID: nodeID,
		DegIn:  uint32(len(in)),
		DegOut: uint32(len(out)),
	}

	r.ANDIn = c.averageNeighborDegree(firstHop(nil, in), In)
	r.ANDOut = c.averageNeighborDegree(firstHop(out, nil), Out)
	r.ANDTotal = c.averageNeighborDegree(firstHop(out, in), Both)

	r.IANDIn = c.averageNeighborDegree(c.twoHop(nodeID, In), In)
	r.IANDOut = c.averageNeighborDegree(c.twoHop(nodeID, Out), Out)
	r.IANDTotal = c.averageNeighborDegree(c.twoHop(nodeID, Both), Both)

	return r
}

func firstHop(out, in map[int64]struct{}) []int64 {
	var neighbors []int64
	for n := range out {
		neighbors = append(neighbors, n)
	}
	for n := range in {
		neighbors = append(neighbors, n)
	}
	return neighbors
}

// twoHop returns the two-hop neighborhood for direction as a
// multiset: first-hop neighbors plus, for every first-hop neighbor,
// every one of ITS first-hop neighbors, with duplicates preserved.
func (c *Calculator) twoHop(nodeID int64, direction Direction) []int64 {
	var out, in map[int64]struct{}
	switch direction {
	case In:
		in, _ = c.g.NeighborsIn(nodeID)
	case Out:
		out = c.g.NeighborsOut(nodeID)
	case Both:
		out = c.g.NeighborsOut(nodeID)
		in, _ = c.g.NeighborsIn(nodeID)
	}

	neighbors := firstHop(out, in)
	if direction == In || direction == Both {
		neighbors = append(neighbors, c.secondDegreeNeighborhood(in, c.g.NeighborsIn)...)
	}
	if direction == Out || direction == Both {
		neighbors = append(neighbors, c.secondDegreeNeighborhood(out, func(n int64) (map[int64]struct{}, error) {
			return c.g.NeighborsOut(n), nil
		})...)
	}
	return neighbors
}

func (c *Calculator) secondDegreeNeighborhood(firstHop map[int64]struct{}, lookup func(int64) (map[int64]struct{}, error)) []int64 {
	var result []int64
	for n := range firstHop {
		second, err := lookup(n)
		if err != nil {
			continue
		}
		for m := range second {
			result = append(result, m)
		}
	}
	return result
}

func (c *Calculator) averageNeighborDegree(neighbors []int64, direction Direction) float64 {
	if len(neighbors) == 0 {
		return 0
	}
	var sum int
	for _, n := range neighbors {
		out := c.g.NeighborsOut(n)
		in, _ := c.g.NeighborsIn(n)
		switch direction {
		case In:
			sum += len(in)
		case Out:
			sum += len(out)
		case Both:
			sum += len(out) + len(in)
		}
	}
	return float64(sum) / float64(len(neighbors))
}

// Run computes degree statistics for every node in the dataset's
// graph boundaries and writes non-isolated rows to degree.csv.
func Run(cfg config.DatasetConfig) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(cfg.Name, "degree").Observe(time.Since(start).Seconds())
	}()

	g, err := graph.Load(cfg, true)
	if err != nil {
		return err
	}

	calc := NewCalculator(g)
	b := g.Boundaries()

	f, err := os.Create(cfg.Paths().Degree)
	if err != nil {
		return err
	}
	defer f.Close()

	rowChan := make(chan interface{})
	errChan := make(chan error, 1)
	go func() {
		errChan <- gocsv.MarshalChan(rowChan, gocsv.DefaultCSVWriter(f))
	}()

	var writeErr error
	var emitted int64
	for node := b.Min; node <= b.Max && writeErr == nil; node++ {
		row := calc.Row(node)
		if row.IsNonZero() {
			r := row
			select {
			case rowChan <- &r:
				emitted++
			case writeErr = <-errChan:
			}
		}
	}
	if writeErr != nil {
		return writeErr
	}
	close(rowChan)
	err = <-errChan
	if emitted == 0 {
		// Every node was isolated. Keep the file well-formed anyway.
		_, werr := f.WriteString("node_id,degree_in,degree_out,and_in,and_out,and_total,iand_in,iand_out,iand_total\n")
		return werr
	}
	return err
}
