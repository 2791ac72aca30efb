// Package preprocess implements the first pipeline stage: reading raw
// traceroute-style input files for a dataset, assigning dense node
// IDs to every IP address observed, and writing the result into the
// bucket shard files the merge stage later joins back into edges.
package preprocess

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-lab/traceroute-graph/bucket"
	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/metrics"
	"github.com/m-lab/traceroute-graph/nodeindex"
	"github.com/m-lab/traceroute-graph/record"
	"github.com/m-lab/traceroute-graph/record/tracebin"
	"github.com/m-lab/traceroute-graph/record/yarrpscan"
)

// residentShardCap bounds how many of the 256 buckets a Manager keeps
// resident in memory at once. The bucket-key range is exactly 256 and
// Run creates a fresh Manager for every input file, so at this cap a
// Manager never has to evict.
const residentShardCap = 256

// Run preprocesses every input file matching cfg.ReadCompressed under
// cfg.InputPath, accumulating node IDs in a single Index carried
// across files. If persistIndex is true, the resulting index is
// written to disk once all files have been processed; without it the
// merge stage has nothing to resolve IDs against, so turning it off
// only makes sense for ingest dry runs.
func Run(cfg config.DatasetConfig, persistIndex bool) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(cfg.Name, "preprocess").Observe(time.Since(start).Seconds())
	}()

	entries, err := os.ReadDir(cfg.InputPath)
	if err != nil {
		return err
	}

	files := selectInputFiles(entries, cfg.Format, cfg.ReadCompressed)
	if len(files) == 0 {
		log.Printf("preprocess: dataset %q: no input files found (format=%s, read_compressed=%v)", cfg.Name, cfg.Format, cfg.ReadCompressed)
		return nil
	}

	index := nodeindex.New()
	for _, name := range files {
		shardDir := cfg.ShardDir(name)
		if err := os.MkdirAll(shardDir, 0o755); err != nil {
			return err
		}

		mgr, err := bucket.NewManager(shardDir, cfg.Name, residentShardCap)
		if err != nil {
			return err
		}

		if err := processFile(filepath.Join(cfg.InputPath, name), cfg, index, mgr); err != nil {
			return err
		}
		if err := mgr.FlushAll(); err != nil {
			return err
		}
	}

	if !persistIndex {
		log.Printf("preprocess: dataset %q: index persistence disabled, skipping snapshot", cfg.Name)
		return nil
	}
	return index.Save(cfg.NodeIndexPath())
}

// compressedSuffix returns the file extension a dataset's format uses
// to mark a compressed input file.
func compressedSuffix(format config.Format) string {
	if format == config.FormatTracebin {
		return ".gz"
	}
	return ".bz2"
}

func selectInputFiles(entries []os.DirEntry, format config.Format, readCompressed bool) []string {
	suffix := compressedSuffix(format)
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		isCompressed := strings.HasSuffix(e.Name(), suffix)
		if isCompressed == readCompressed {
			files = append(files, e.Name())
		}
	}
	return files
}

func openSource(path string, cfg config.DatasetConfig) (record.Source, error) {
	if cfg.Format == config.FormatTracebin {
		return tracebin.Open(path, cfg.ReadCompressed, cfg.Family())
	}
	return yarrpscan.Open(path, cfg.ReadCompressed, cfg.Family())
}

func processFile(path string, cfg config.DatasetConfig, index *nodeindex.Index, mgr *bucket.Manager) error {
	src, err := openSource(path, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, errkind.ErrRecordParse) || errors.Is(err, errkind.ErrWrongFamily) {
			recordDrop(cfg.Name, err)
			continue
		}
		if err != nil {
			// Anything else is a read failure, not a bad row. Retrying
			// would spin on the same error forever.
			return err
		}

		if err := observe(rec, cfg.Name, index, mgr); err != nil {
			return err
		}
	}
}

// observe assigns IDs for one record and routes it to its bucket. The
// hop address is observed before the target, so IDs along a freshly
// discovered path grow in hop order.
func observe(rec record.Record, dataset string, index *nodeindex.Index, mgr *bucket.Manager) error {
	hopID, hopNew := index.ObserveNew(rec.Hop)
	targetID, targetNew := index.ObserveNew(rec.Target)
	metrics.RecordsParsed.WithLabelValues(dataset).Inc()
	if hopNew {
		metrics.NodesAssigned.WithLabelValues(dataset, "known").Inc()
	}
	if targetNew {
		metrics.NodesAssigned.WithLabelValues(dataset, "known").Inc()
	}

	return mgr.Add(rec.Target, targetID, hopID, rec.HopCount)
}

func recordDrop(dataset string, err error) {
	reason := "parse_error"
	if errors.Is(err, errkind.ErrWrongFamily) {
		reason = "wrong_family"
	}
	log.Printf("preprocess: dataset %q: dropping row (%s): %v", dataset, reason, err)
	metrics.RecordsDropped.WithLabelValues(dataset, reason).Inc()
}
