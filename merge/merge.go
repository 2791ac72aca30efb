// Package merge implements the second pipeline stage: joining every
// per-input-file bucket shard back into a single edge list per
// dataset, interpolating synthetic "unknown" hops into any gap a
// path's hop-count sequence leaves, and writing the plain-text
// mapping.csv / edges.csv / max_node_ids.csv contract the later
// stages read.
package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/traceroute-graph/bucket"
	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/ipaddr"
	"github.com/m-lab/traceroute-graph/metrics"
	"github.com/m-lab/traceroute-graph/nodeindex"
)

const bucketCount = ipaddr.BucketCount

// mappingRow is one row of mapping.csv.
type mappingRow struct {
	IP     string `csv:"ip"`
	NodeID int64  `csv:"node_id"`
}

// edgeRow is one row of edges.csv.
type edgeRow struct {
	From int64 `csv:"from"`
	To   int64 `csv:"to"`
}

// maxNodeIDsRow is the single row of max_node_ids.csv.
type maxNodeIDsRow struct {
	Known   int64 `csv:"known"`
	Unknown int64 `csv:"unknown"`
}

// merger carries the unknown-node pinning state across every bucket
// processed during one Run: the first gap opened after a given
// predecessor node gets one fresh negative ID, reused for every
// subsequent gap opened after that same predecessor, for the
// lifetime of the run.
type merger struct {
	nextUnknownID int64
	pinned        map[int64]int64
}

// Run executes the merge stage for cfg: it loads the node index built
// by preprocess, writes mapping.csv, then walks every bucket's shard
// files across every per-input-file intermediate directory, writing
// edges.csv and finally max_node_ids.csv. With persistEdges false only
// mapping.csv is produced, which turns the stage into a plain IP→ID
// enumeration dump.
func Run(cfg config.DatasetConfig, persistEdges bool) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(cfg.Name, "merge").Observe(time.Since(start).Seconds())
	}()

	index, err := nodeindex.Load(cfg.NodeIndexPath())
	if err != nil {
		return err
	}

	paths := cfg.Paths()
	if err := os.MkdirAll(cfg.OutputPath, 0o755); err != nil {
		return fmtIOWrite(cfg.OutputPath, err)
	}
	if err := writeMapping(paths.Mapping, index, cfg.Family()); err != nil {
		return err
	}

	if !persistEdges {
		return nil
	}

	shardDirs, err := listShardDirs(cfg.IntermediatePath)
	if err != nil {
		return err
	}

	m := &merger{nextUnknownID: -1, pinned: make(map[int64]int64)}
	if err := m.writeEdges(paths.Edges, shardDirs, cfg.Name); err != nil {
		return err
	}

	return writeMaxNodeIDs(paths.MaxNodeIDs, index.MaxID(), m.maxUnknownNode())
}

func listShardDirs(intermediatePath string) ([]string, error) {
	entries, err := os.ReadDir(intermediatePath)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(intermediatePath, e.Name()))
		}
	}
	return dirs, nil
}

func writeMapping(path string, index *nodeindex.Index, family ipaddr.Family) error {
	var rows []mappingRow
	index.Entries(func(key ipaddr.Key128, id int64) {
		addr := ipaddr.AddressFromKey(key, family)
		rows = append(rows, mappingRow{IP: addr.String(), NodeID: id})
	})

	f, err := os.Create(path)
	if err != nil {
		return fmtIOWrite(path, err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmtIOWrite(path, err)
	}
	return nil
}

func (m *merger) writeEdges(path string, shardDirs []string, dataset string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmtIOWrite(path, err)
	}
	defer f.Close()

	rowChan := make(chan interface{})
	errChan := make(chan error, 1)
	go func() {
		errChan <- gocsv.MarshalChan(rowChan, gocsv.DefaultCSVWriter(f))
	}()

	// The writer goroutine only returns early on a write failure. A
	// plain channel send would then block forever, so every emit races
	// the send against the writer's error.
	var writeErr error
	var emitted int64
	emit := func(from, to int64) error {
		if writeErr != nil {
			return writeErr
		}
		select {
		case rowChan <- &edgeRow{From: from, To: to}:
			emitted++
			metrics.EdgesEmitted.WithLabelValues(dataset).Inc()
			return nil
		case writeErr = <-errChan:
			return writeErr
		}
	}

	for bucketID := 0; bucketID < bucketCount; bucketID++ {
		edgeMap, err := m.loadBucket(shardDirs, uint8(bucketID))
		if err != nil {
			if writeErr == nil {
				close(rowChan)
				<-errChan
			}
			return err
		}
		if err := m.processBucket(edgeMap, emit); err != nil {
			return fmtIOWrite(path, err)
		}
	}

	close(rowChan)
	err = <-errChan
	if emitted == 0 {
		// The writer balks at an empty stream. Nothing was ingested,
		// so keep the file well-formed with the bare header.
		if _, werr := f.WriteString("from,to\n"); werr != nil {
			return fmtIOWrite(path, werr)
		}
		return nil
	}
	if err != nil {
		return fmtIOWrite(path, err)
	}
	return nil
}

// loadBucket unions the edge_map of every shard file named
// yarrp.<bucketID>.bin across all shard directories.
func (m *merger) loadBucket(shardDirs []string, bucketID uint8) (map[int64][]bucket.HopObservation, error) {
	merged := make(map[int64][]bucket.HopObservation)
	for _, dir := range shardDirs {
		path := filepath.Join(dir, shardFileName(bucketID))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		shard, err := bucket.NewShard(path)
		if err != nil {
			return nil, err
		}
		for target, hops := range shard.EdgeMap {
			merged[target] = append(merged[target], hops...)
		}
	}
	return merged, nil
}

func shardFileName(bucketID uint8) string {
	return "yarrp." + strconv.Itoa(int(bucketID)) + ".bin"
}

// processBucket walks every target's hop observations in TTL order,
// interpolating a pinned synthetic unknown node into every gap, and
// emits one edge per hop from the implicit prober (node 0) onward.
func (m *merger) processBucket(edgeMap map[int64][]bucket.HopObservation, emit func(from, to int64) error) error {
	targets := make([]int64, 0, len(edgeMap))
	for t := range edgeMap {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	for _, target := range targets {
		hops := edgeMap[target]
		sort.SliceStable(hops, func(i, j int) bool { return hops[i].HopCount < hops[j].HopCount })

		var previousNode int64
		var previousHop uint8
		for _, hop := range hops {
			if int(hop.HopCount) > int(previousHop)+1 {
				missingHops := int(hop.HopCount) - int(previousHop) - 1
				for i := 0; i < missingHops; i++ {
					newNodeID := m.pin(previousNode)
					if err := emit(previousNode, newNodeID); err != nil {
						return err
					}
					previousNode = newNodeID
					previousHop++
				}
			}
			if err := emit(previousNode, hop.HopID); err != nil {
				return err
			}
			previousNode = hop.HopID
			previousHop = hop.HopCount
		}
	}
	return nil
}

// pin returns the synthetic unknown node ID for predecessor,
// allocating one on first use and memoizing it for the rest of Run.
func (m *merger) pin(predecessor int64) int64 {
	if id, ok := m.pinned[predecessor]; ok {
		return id
	}
	id := m.nextUnknownID
	m.nextUnknownID--
	m.pinned[predecessor] = id
	return id
}

// maxUnknownNode returns the count of distinct unknown IDs allocated,
// mirroring the "+1 because we decrement after every assignment"
// correction the id counter itself requires.
func (m *merger) maxUnknownNode() int64 {
	count := m.nextUnknownID + 1
	if count < 0 {
		return -count
	}
	return 0
}

func writeMaxNodeIDs(path string, known, unknown int64) error {
	rows := []maxNodeIDsRow{{Known: known, Unknown: unknown}}
	f, err := os.Create(path)
	if err != nil {
		return fmtIOWrite(path, err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmtIOWrite(path, err)
	}
	return nil
}

func fmtIOWrite(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", errkind.ErrIOWrite, path, err)
}
