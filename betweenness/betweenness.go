// Package betweenness computes exact Brandes betweenness centrality
// over a graph, fanning the per-source accumulation out across a
// worker pool and periodically checkpointing each worker's partial
// sum so a crashed or killed run can resume without redoing finished
// sources.
package betweenness

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/graph"
	"github.com/m-lab/traceroute-graph/metrics"
	"github.com/m-lab/traceroute-graph/sparselist"
)

// checkpoint is one worker's resumable state: which worker wrote it,
// how many of its assigned sources it has finished, and its running
// centrality sum for those sources so far.
type checkpoint struct {
	WorkerID uint32            `msgpack:"worker_id"`
	Counter  uint32            `msgpack:"counter"`
	CList    map[int64]float64 `msgpack:"c_local"`
}

func freshCheckpoint(workerID int) checkpoint {
	return checkpoint{WorkerID: uint32(workerID), CList: make(map[int64]float64)}
}

func checkpointPath(dir string, workerID int) string {
	return filepath.Join(dir, fmt.Sprintf("worker_%d.bin", workerID))
}

func loadCheckpoint(dir string, workerID int, dataset string) checkpoint {
	path := checkpointPath(dir, workerID)
	data, err := os.ReadFile(path)
	if err != nil {
		return freshCheckpoint(workerID)
	}

	var cp checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		log.Printf("betweenness: worker %d checkpoint at %s is corrupt, restarting fresh: %v", workerID, path, err)
		metrics.CheckpointsCorrupt.WithLabelValues(dataset).Inc()
		return freshCheckpoint(workerID)
	}
	if cp.WorkerID != uint32(workerID) {
		log.Printf("betweenness: checkpoint at %s belongs to worker %d, not %d, restarting fresh", path, cp.WorkerID, workerID)
		metrics.CheckpointsCorrupt.WithLabelValues(dataset).Inc()
		return freshCheckpoint(workerID)
	}
	if cp.CList == nil {
		cp.CList = make(map[int64]float64)
	}
	return cp
}

func saveCheckpoint(dir string, workerID int, dataset string, cp checkpoint) error {
	data, err := msgpack.Marshal(cp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", errkind.ErrIOWrite, dir, err)
	}
	if err := os.WriteFile(checkpointPath(dir, workerID), data, 0o644); err != nil {
		return fmt.Errorf("%w: %s: %v", errkind.ErrIOWrite, dir, err)
	}
	metrics.CheckpointsWritten.WithLabelValues(dataset).Inc()
	return nil
}

// Params controls the parallel Brandes computation.
type Params struct {
	// Workers is the number of goroutines sources are partitioned
	// across.
	Workers int
	// CheckpointEvery is how many completed sources a worker
	// processes before writing a checkpoint. 0 disables
	// checkpointing.
	CheckpointEvery uint32
	// CheckpointDir, if CheckpointEvery > 0, is where per-worker
	// checkpoint files live.
	CheckpointDir string
}

// ParamsFromConfig derives Params from a dataset's betweenness feature
// parameters.
func ParamsFromConfig(cfg config.DatasetConfig, betweenness config.BetweennessParameters) Params {
	p := Params{Workers: int(betweenness.MaxThreadCount)}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if betweenness.SaveIntermediateResultsPeriodically {
		p.CheckpointEvery = betweenness.ResultBatchSize
		p.CheckpointDir = cfg.BetweennessCheckpointDir()
	}
	return p
}

// row is one node's centrality value, as persisted to betweenness.csv.
type row struct {
	NodeID      int64   `csv:"node_id"`
	Betweenness float64 `csv:"betweenness"`
}

// Compute runs the parallel Brandes algorithm over g using params,
// returning the centrality sum keyed by node ID. A node that lies on
// no shortest path is either absent or present with value 0; Run
// leaves such nodes out of betweenness.csv.
func Compute(ctx context.Context, g *graph.Graph, params Params, dataset string) (map[int64]float64, error) {
	nodes := g.Keys()
	if len(nodes) == 0 {
		return map[int64]float64{}, nil
	}

	chunks := partition(nodes, params.Workers)

	group, ctx := errgroup.WithContext(ctx)
	results := make([]map[int64]float64, len(chunks))

	for i, chunk := range chunks {
		i, chunk := i, chunk
		group.Go(func() error {
			sum, err := runWorker(ctx, g, i, chunk, params, dataset)
			if err != nil {
				return err
			}
			results[i] = sum
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	global := make(map[int64]float64)
	for _, partial := range results {
		for node, value := range partial {
			global[node] += value
		}
	}
	return global, nil
}

func partition(nodes []int64, workers int) [][]int64 {
	if workers < 1 {
		workers = 1
	}
	chunkSize := (len(nodes) + workers - 1) / workers
	if chunkSize < 1 {
		chunkSize = 1
	}

	var chunks [][]int64
	for start := 0; start < len(nodes); start += chunkSize {
		end := start + chunkSize
		if end > len(nodes) {
			end = len(nodes)
		}
		chunks = append(chunks, nodes[start:end])
	}
	return chunks
}

func runWorker(ctx context.Context, g *graph.Graph, workerID int, assigned []int64, params Params, dataset string) (map[int64]float64, error) {
	var cp checkpoint
	if params.CheckpointEvery > 0 {
		cp = loadCheckpoint(params.CheckpointDir, workerID, dataset)
	} else {
		cp = freshCheckpoint(workerID)
	}

	if int(cp.Counter) > len(assigned) {
		cp.Counter = 0
		cp.CList = make(map[int64]float64)
	}

	for _, s := range assigned[cp.Counter:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deltaForSource(g, s, cp.CList)
		cp.Counter++

		if params.CheckpointEvery > 0 && cp.Counter%params.CheckpointEvery == 0 {
			if err := saveCheckpoint(params.CheckpointDir, workerID, dataset, cp); err != nil {
				return nil, err
			}
		}
	}

	// A final save marks the chunk complete. Without it a rerun would
	// resume from the last periodic checkpoint and recompute sources
	// whose contribution the restored sum already contains.
	if params.CheckpointEvery > 0 {
		if err := saveCheckpoint(params.CheckpointDir, workerID, dataset, cp); err != nil {
			return nil, err
		}
	}

	return cp.CList, nil
}

// deltaForSource runs one Brandes BFS + dependency accumulation pass
// rooted at s, adding the resulting per-node dependency values into
// cList.
func deltaForSource(g *graph.Graph, s int64, cList map[int64]float64) {
	sigma := sparselist.New[int64, uint64](0)
	d := sparselist.New[int64, int64](-1)
	pList := sparselist.New[int64, []int64](nil)
	delta := sparselist.New[int64, float64](0)

	var sStack []int64
	queue := []int64{s}

	sigma.Set(s, 1)
	d.Set(s, 0)

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		sStack = append(sStack, v)

		for w := range g.NeighborsOut(v) {
			if d.Get(w) < 0 {
				queue = append(queue, w)
				d.Set(w, d.Get(v)+1)
			}
			if d.Get(w) == d.Get(v)+1 {
				sigma.Set(w, sigma.Get(w)+sigma.Get(v))
				sparselist.Append(pList, w, v)
			}
		}
	}

	for len(sStack) > 0 {
		w := sStack[len(sStack)-1]
		sStack = sStack[:len(sStack)-1]

		for _, v := range pList.Get(w) {
			contribution := (float64(sigma.Get(v)) / float64(sigma.Get(w))) * (1.0 + delta.Get(w))
			delta.Set(v, delta.Get(v)+contribution)
		}
		if w != s {
			cList[w] += delta.Get(w)
		}
	}
}

// Run computes betweenness centrality for cfg's deduplicated graph and
// writes non-zero node rows to betweenness.csv.
func Run(ctx context.Context, cfg config.DatasetConfig, betweenness config.BetweennessParameters) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(cfg.Name, "betweenness").Observe(time.Since(start).Seconds())
	}()

	g, err := graph.Load(cfg, true)
	if err != nil {
		return err
	}
	g.EnsureReverse()

	params := ParamsFromConfig(cfg, betweenness)
	cList, err := Compute(ctx, g, params, cfg.Name)
	if err != nil {
		return err
	}

	f, err := os.Create(cfg.Paths().Betweenness)
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
	boundaries := g.Boundaries()
	for node := boundaries.Min; node <= boundaries.Max && writeErr == nil; node++ {
		value, ok := cList[node]
		if !ok || value == 0 {
			continue
		}
		select {
		case rowChan <- &row{NodeID: node, Betweenness: value}:
			emitted++
		case writeErr = <-errChan:
		}
	}
	if writeErr != nil {
		return fmt.Errorf("%w: %s: %v", errkind.ErrIOWrite, cfg.Paths().Betweenness, writeErr)
	}
	close(rowChan)

	err = <-errChan
	if emitted == 0 {
		// Zero-valued rows are omitted, so a graph whose every node
		// scores 0 produces a header-only file.
		if _, werr := f.WriteString("node_id,betweenness\n"); werr != nil {
			return fmt.Errorf("%w: %s: %v", errkind.ErrIOWrite, cfg.Paths().Betweenness, werr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errkind.ErrIOWrite, cfg.Paths().Betweenness, err)
	}
	return nil
}
