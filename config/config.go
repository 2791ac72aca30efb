// Package config loads Config.toml and derives the per-dataset paths
// and stage toggles used to drive the pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/ipaddr"
)

// Format names one of the two first-class input formats a dataset
// section can select via the "format" key.
type Format string

const (
	// FormatYarrpScan is the line-oriented ASCII scan format.
	FormatYarrpScan Format = "yarrpscan"
	// FormatTracebin is the binary traceroute-record format.
	FormatTracebin Format = "tracebin"
)

// DatasetConfig is one [dataset.<name>] section.
type DatasetConfig struct {
	Enabled          bool   `toml:"enabled"`
	ReadCompressed   bool   `toml:"read_compressed"`
	AddressType      string `toml:"address_type"`
	Format           Format `toml:"format"`
	InputPath        string `toml:"input_path"`
	IntermediatePath string `toml:"intermediate_path"`
	OutputPath       string `toml:"output_path"`

	// Name is set by Load from the TOML table key, not from a field.
	Name string `toml:"-"`
}

// Family returns the parsed address family, assuming the config has
// already passed the validation Load runs.
func (d DatasetConfig) Family() ipaddr.Family {
	f, _ := ipaddr.ParseFamily(d.AddressType)
	return f
}

// DegreeParameters is [features.parameters.degree].
type DegreeParameters struct {
	Enabled bool `toml:"enabled"`
}

// BetweennessParameters is [features.parameters.betweenness].
type BetweennessParameters struct {
	Enabled                             bool   `toml:"enabled"`
	SaveIntermediateResultsPeriodically bool   `toml:"save_intermediate_results_periodically"`
	ResultBatchSize                     uint32 `toml:"result_batch_size"`
	MaxThreadCount                      uint16 `toml:"max_thread_count"`
}

// GraphParameters is [features.parameters].
type GraphParameters struct {
	Degree      DegreeParameters      `toml:"degree"`
	Betweenness BetweennessParameters `toml:"betweenness"`
}

// FeatureToggle is [features]: the six stage toggles plus graph
// analytic parameters.
type FeatureToggle struct {
	ShouldPreprocess       bool            `toml:"should_preprocess"`
	ShouldMerge            bool            `toml:"should_merge"`
	ShouldPersistIndex     bool            `toml:"should_persist_index"`
	ShouldPersistEdges     bool            `toml:"should_persist_edges"`
	ShouldDeduplicateEdges bool            `toml:"should_deduplicate_edges"`
	ShouldComputeGraph     bool            `toml:"should_compute_graph"`
	Parameters             GraphParameters `toml:"parameters"`
}

// Config is the whole of Config.toml.
type Config struct {
	Datasets map[string]DatasetConfig `toml:"dataset"`
	Features FeatureToggle            `toml:"features"`
}

// Load reads and decodes path, filling in dataset names and running
// the directory preflight checks (PathMissing / PathNotDirectory are
// fatal), creating intermediate/output directories that don't exist
// yet.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errkind.ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("%w: %v", errkind.ErrConfigInvalid, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrConfigInvalid, err)
	}

	for name, ds := range cfg.Datasets {
		ds.Name = name
		if err := ds.validateAndPrepare(); err != nil {
			return nil, err
		}
		cfg.Datasets[name] = ds
	}

	return &cfg, nil
}

func (d *DatasetConfig) validateAndPrepare() error {
	if !d.Enabled {
		return nil
	}

	if d.Format == "" {
		// Defaults to the ASCII scan format for configs predating the
		// "format" key, matching this repo's original single-format
		// behavior.
		d.Format = FormatYarrpScan
	}
	if d.Format != FormatYarrpScan && d.Format != FormatTracebin {
		return fmt.Errorf("%w: dataset %q: unknown format %q", errkind.ErrConfigInvalid, d.Name, d.Format)
	}

	if _, err := ipaddr.ParseFamily(d.AddressType); err != nil {
		return fmt.Errorf("%w: dataset %q: %v", errkind.ErrConfigInvalid, d.Name, err)
	}

	info, err := os.Stat(d.InputPath)
	if err != nil {
		return fmt.Errorf("%w: dataset %q input_path %q", errkind.ErrPathMissing, d.Name, d.InputPath)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: dataset %q input_path %q", errkind.ErrPathNotDirectory, d.Name, d.InputPath)
	}

	for _, p := range []string{d.IntermediatePath, d.OutputPath} {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return fmt.Errorf("%w: dataset %q path %q", errkind.ErrPathNotDirectory, d.Name, p)
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("%w: could not create %q: %v", errkind.ErrIOWrite, p, err)
		}
	}

	return nil
}

// OutputPaths are the fixed filenames written under a dataset's
// output_path.
type OutputPaths struct {
	Mapping           string
	Edges             string
	EdgesDeduplicated string
	MaxNodeIDs        string
	Degree            string
	Betweenness       string
}

// Paths derives the fixed on-disk contract filenames for d.
func (d DatasetConfig) Paths() OutputPaths {
	return OutputPaths{
		Mapping:           filepath.Join(d.OutputPath, "mapping.csv"),
		Edges:             filepath.Join(d.OutputPath, "edges.csv"),
		EdgesDeduplicated: filepath.Join(d.OutputPath, "edges_deduplicated.csv"),
		MaxNodeIDs:        filepath.Join(d.OutputPath, "max_node_ids.csv"),
		Degree:            filepath.Join(d.OutputPath, "degree.csv"),
		Betweenness:       filepath.Join(d.OutputPath, "betweenness.csv"),
	}
}

// NodeIndexPath is the fixed intermediate node-index filename.
func (d DatasetConfig) NodeIndexPath() string {
	return filepath.Join(d.IntermediatePath, "yarrp.node_index.bin")
}

// BetweennessCheckpointDir is the fixed checkpoint directory for
// worker state.
func (d DatasetConfig) BetweennessCheckpointDir() string {
	return filepath.Join(d.IntermediatePath, "betweenness")
}

// ShardDir is the per-input-file intermediate directory a bucket
// manager writes shards into.
func (d DatasetConfig) ShardDir(inputFileName string) string {
	return filepath.Join(d.IntermediatePath, inputFileName)
}
