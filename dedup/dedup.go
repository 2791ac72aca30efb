// Package dedup implements the third pipeline stage: collapsing
// duplicate (from, to) edges that repeated observations across many
// paths or many input files inevitably produce, writing the distinct
// edge set to edges_deduplicated.csv.
package dedup

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/metrics"
)

type edgeRow struct {
	From int64 `csv:"from"`
	To   int64 `csv:"to"`
}

type maxNodeIDsRow struct {
	Known   int64 `csv:"known"`
	Unknown int64 `csv:"unknown"`
}

// Run reads cfg's edges.csv into an in-memory neighbour-set adjacency,
// then writes edges_deduplicated.csv by walking every source ID across
// the dataset's full node-ID boundary range ascending, emitting each
// distinct neighbour once per source in ascending order. This is also
// the canonical load order the graph stage's Load expects.
func Run(cfg config.DatasetConfig) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(cfg.Name, "dedup").Observe(time.Since(start).Seconds())
	}()

	paths := cfg.Paths()

	boundaries, err := loadBoundaries(paths.MaxNodeIDs)
	if err != nil {
		return err
	}

	in, err := os.Open(paths.Edges)
	if err != nil {
		return err
	}
	defer in.Close()

	inChan := make(chan edgeRow)
	errChan := make(chan error, 1)
	go func() {
		errChan <- gocsv.UnmarshalToChan(in, inChan)
	}()

	seen := make(map[int64]map[int64]struct{})
	for row := range inChan {
		dests, ok := seen[row.From]
		if !ok {
			dests = make(map[int64]struct{})
			seen[row.From] = dests
		}
		dests[row.To] = struct{}{}
	}
	if err := <-errChan; err != nil {
		return err
	}

	out, err := os.Create(paths.EdgesDeduplicated)
	if err != nil {
		return wrapIOWrite(paths.EdgesDeduplicated, err)
	}
	defer out.Close()

	outChan := make(chan interface{})
	outErrChan := make(chan error, 1)
	go func() {
		outErrChan <- gocsv.MarshalChan(outChan, gocsv.DefaultCSVWriter(out))
	}()

	var writeErr error
	var emitted int64
	for from := boundaries.min; from <= boundaries.max && writeErr == nil; from++ {
		dests, ok := seen[from]
		if !ok {
			continue
		}
		neighbors := make([]int64, 0, len(dests))
		for to := range dests {
			neighbors = append(neighbors, to)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, to := range neighbors {
			select {
			case outChan <- &edgeRow{From: from, To: to}:
				emitted++
			case writeErr = <-outErrChan:
			}
			if writeErr != nil {
				break
			}
		}
	}
	if writeErr != nil {
		return wrapIOWrite(paths.EdgesDeduplicated, writeErr)
	}
	close(outChan)

	err = <-outErrChan
	if emitted == 0 {
		if _, werr := out.WriteString("from,to\n"); werr != nil {
			return wrapIOWrite(paths.EdgesDeduplicated, werr)
		}
		return nil
	}
	if err != nil {
		return wrapIOWrite(paths.EdgesDeduplicated, err)
	}
	return nil
}

type boundaries struct {
	min, max int64
}

func loadBoundaries(path string) (boundaries, error) {
	f, err := os.Open(path)
	if err != nil {
		return boundaries{}, err
	}
	defer f.Close()

	var rows []maxNodeIDsRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return boundaries{}, err
	}
	if len(rows) != 1 {
		return boundaries{}, errkind.ErrShardCorrupt
	}
	return boundaries{min: -rows[0].Unknown, max: rows[0].Known}, nil
}

func wrapIOWrite(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", errkind.ErrIOWrite, path, err)
}
