// Package pipeline sequences the six stages of the traceroute graph
// engine over every enabled dataset, honoring each of the
// [features] toggles in Config.toml and propagating the first fatal
// error without attempting to salvage partial output.
package pipeline

import (
	"context"
	"log"
	"sort"

	"github.com/m-lab/traceroute-graph/betweenness"
	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/dedup"
	"github.com/m-lab/traceroute-graph/degree"
	"github.com/m-lab/traceroute-graph/merge"
	"github.com/m-lab/traceroute-graph/preprocess"
)

// Run executes, in order, preprocess, merge, deduplicate, degree, and
// betweenness for every enabled dataset in cfg, skipping any stage
// whose feature toggle is off. Graph building has no standalone output
// file; it is implicit in whichever of degree or betweenness loads the
// edge list. A fatal error from any stage for any dataset aborts the
// run immediately, leaving the current stage's partial output behind
// for the operator to delete before rerunning.
func Run(ctx context.Context, cfg *config.Config) error {
	names := make([]string, 0, len(cfg.Datasets))
	for name, ds := range cfg.Datasets {
		if ds.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ds := cfg.Datasets[name]
		if err := runDataset(ctx, cfg, ds); err != nil {
			return err
		}
	}
	return nil
}

func runDataset(ctx context.Context, cfg *config.Config, ds config.DatasetConfig) error {
	f := cfg.Features

	if f.ShouldPreprocess {
		log.Printf("pipeline: dataset %q: preprocess", ds.Name)
		if err := preprocess.Run(ds, f.ShouldPersistIndex); err != nil {
			return err
		}
	}

	if f.ShouldMerge {
		log.Printf("pipeline: dataset %q: merge", ds.Name)
		if err := merge.Run(ds, f.ShouldPersistEdges); err != nil {
			return err
		}
	}

	if f.ShouldDeduplicateEdges {
		log.Printf("pipeline: dataset %q: dedup", ds.Name)
		if err := dedup.Run(ds); err != nil {
			return err
		}
	}

	if !f.ShouldComputeGraph {
		return nil
	}

	// Both analytic stages load the deduplicated edge list, so
	// should_deduplicate_edges must be on whenever should_compute_graph
	// is.
	if f.Parameters.Degree.Enabled {
		log.Printf("pipeline: dataset %q: degree", ds.Name)
		if err := degree.Run(ds); err != nil {
			return err
		}
	}

	if f.Parameters.Betweenness.Enabled {
		log.Printf("pipeline: dataset %q: betweenness", ds.Name)
		if err := betweenness.Run(ctx, ds, f.Parameters.Betweenness); err != nil {
			return err
		}
	}

	return nil
}
