package preprocess_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/m-lab/traceroute-graph/bucket"
	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/ipaddr"
	"github.com/m-lab/traceroute-graph/nodeindex"
	"github.com/m-lab/traceroute-graph/preprocess"
)

func TestRunAssignsNodeIDsAndWritesShards(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	intermediate := filepath.Join(dir, "intermediate")
	output := filepath.Join(dir, "output")
	for _, p := range []string{input, intermediate, output} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	scan := "1.2.3.4 a b c 0 1 1.2.3.5\n1.2.3.4 a b c 0 2 1.2.3.6\n"
	if err := os.WriteFile(filepath.Join(input, "file1.yarrp"), []byte(scan), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DatasetConfig{
		Name:             "yarrp",
		Enabled:          true,
		AddressType:      "V4",
		InputPath:        input,
		IntermediatePath: intermediate,
		OutputPath:       output,
	}

	if err := preprocess.Run(cfg, true); err != nil {
		t.Fatalf("Run: %v", err)
	}

	index, err := nodeindex.Load(cfg.NodeIndexPath())
	if err != nil {
		t.Fatalf("Load index: %v", err)
	}
	if index.Len() != 3 {
		t.Errorf("index.Len() = %d, want 3 (one target, two hops)", index.Len())
	}

	shardPath := filepath.Join(cfg.ShardDir("file1.yarrp"), "yarrp.6.bin")
	shard, err := bucket.NewShard(shardPath)
	if err != nil {
		t.Fatalf("NewShard: %v", err)
	}
	if len(shard.EdgeMap) != 1 {
		t.Fatalf("EdgeMap has %d targets, want 1", len(shard.EdgeMap))
	}
}

// A V6 row in a V4-configured dataset is dropped without advancing
// the ID counter or writing a shard entry.
func TestRunDropsWrongFamilyRows(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	if err := os.MkdirAll(input, 0o755); err != nil {
		t.Fatal(err)
	}

	scan := "2001:db8::1 a b c 0 1 2001:db8::2\n1.2.3.4 a b c 0 1 1.2.3.5\n"
	if err := os.WriteFile(filepath.Join(input, "file1.yarrp"), []byte(scan), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DatasetConfig{
		Name:             "yarrp",
		Enabled:          true,
		AddressType:      "V4",
		InputPath:        input,
		IntermediatePath: filepath.Join(dir, "intermediate"),
		OutputPath:       filepath.Join(dir, "output"),
	}

	if err := preprocess.Run(cfg, true); err != nil {
		t.Fatalf("Run: %v", err)
	}

	index, err := nodeindex.Load(cfg.NodeIndexPath())
	if err != nil {
		t.Fatalf("Load index: %v", err)
	}
	if index.Len() != 2 {
		t.Errorf("index.Len() = %d, want 2 (the V6 row must not allocate IDs)", index.Len())
	}

	v4hop, err := ipaddr.Parse("1.2.3.5", ipaddr.V4)
	if err != nil {
		t.Fatal(err)
	}
	if got := index.Observe(v4hop); got != 1 {
		t.Errorf("Observe(1.2.3.5) = %d, want 1 (counter must not have advanced past the dropped row)", got)
	}
}

func TestRunWithoutIndexPersistenceSkipsSnapshot(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	if err := os.MkdirAll(input, 0o755); err != nil {
		t.Fatal(err)
	}

	scan := "1.2.3.4 a b c 0 1 1.2.3.5\n"
	if err := os.WriteFile(filepath.Join(input, "file1.yarrp"), []byte(scan), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DatasetConfig{
		Name:             "yarrp",
		Enabled:          true,
		AddressType:      "V4",
		InputPath:        input,
		IntermediatePath: filepath.Join(dir, "intermediate"),
		OutputPath:       filepath.Join(dir, "output"),
	}

	if err := preprocess.Run(cfg, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(cfg.NodeIndexPath()); err == nil {
		t.Error("expected no node index snapshot with index persistence off")
	}
}

func TestRunWithNoMatchingFilesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	if err := os.MkdirAll(input, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.DatasetConfig{
		Name:             "yarrp",
		Enabled:          true,
		AddressType:      "V4",
		InputPath:        input,
		IntermediatePath: filepath.Join(dir, "intermediate"),
		OutputPath:       filepath.Join(dir, "output"),
	}

	if err := preprocess.Run(cfg, true); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunDispatchesToTracebinFormat(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	if err := os.MkdirAll(input, 0o755); err != nil {
		t.Fatal(err)
	}

	type wireRecord struct {
		Family   uint8  `msgpack:"family"`
		Target   []byte `msgpack:"target"`
		Hop      []byte `msgpack:"hop"`
		HopCount uint8  `msgpack:"hop_count"`
	}

	path := filepath.Join(input, "trace.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := msgpack.NewEncoder(f)
	records := []wireRecord{
		{Family: uint8(ipaddr.V4), Target: []byte{1, 2, 3, 4}, Hop: []byte{1, 2, 3, 5}, HopCount: 1},
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	f.Close()

	cfg := config.DatasetConfig{
		Name:             "tracebin",
		Enabled:          true,
		AddressType:      "V4",
		Format:           config.FormatTracebin,
		InputPath:        input,
		IntermediatePath: filepath.Join(dir, "intermediate"),
		OutputPath:       filepath.Join(dir, "output"),
	}

	if err := preprocess.Run(cfg, true); err != nil {
		t.Fatalf("Run: %v", err)
	}

	index, err := nodeindex.Load(cfg.NodeIndexPath())
	if err != nil {
		t.Fatalf("Load index: %v", err)
	}
	if index.Len() != 2 {
		t.Errorf("index.Len() = %d, want 2 (one target, one hop)", index.Len())
	}
}
