package dedup_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-test/deep"
	"github.com/gocarina/gocsv"

	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/dedup"
	"github.com/m-lab/traceroute-graph/graph"
)

type edgeRow struct {
	From int64 `csv:"from"`
	To   int64 `csv:"to"`
}

type maxNodeIDsRow struct {
	Known   int64 `csv:"known"`
	Unknown int64 `csv:"unknown"`
}

func TestRunRemovesDuplicateEdges(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "output")
	if err := os.MkdirAll(output, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.DatasetConfig{Name: "yarrp", OutputPath: output}

	rows := []edgeRow{
		{From: 0, To: 1},
		{From: 1, To: 2},
		{From: 0, To: 1},
		{From: 1, To: 3},
		{From: 1, To: 2},
	}
	f, err := os.Create(cfg.Paths().Edges)
	if err != nil {
		t.Fatal(err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		t.Fatal(err)
	}
	f.Close()

	maxRows := []maxNodeIDsRow{{Known: 3, Unknown: 0}}
	mf, err := os.Create(cfg.Paths().MaxNodeIDs)
	if err != nil {
		t.Fatal(err)
	}
	if err := gocsv.MarshalFile(&maxRows, mf); err != nil {
		t.Fatal(err)
	}
	mf.Close()

	if err := dedup.Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := os.Open(cfg.Paths().EdgesDeduplicated)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	var got []edgeRow
	if err := gocsv.UnmarshalFile(out, &got); err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d deduplicated rows, want 3: %+v", len(got), got)
	}

	want := []edgeRow{{From: 0, To: 1}, {From: 1, To: 2}, {From: 1, To: 3}}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("row %d = %+v, want %+v", i, got[i], w)
		}
	}
}

// Re-serialising the raw edge list from a loaded Graph in boundary
// order must reproduce exactly what dedup wrote.
func TestRunOutputMatchesGraphBoundaryOrderSerialization(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "output")
	if err := os.MkdirAll(output, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.DatasetConfig{Name: "yarrp", OutputPath: output}

	rows := []edgeRow{
		{From: 2, To: 1},
		{From: -1, To: 2},
		{From: 0, To: -1},
		{From: 2, To: 1},
		{From: 0, To: -1},
		{From: 2, To: -1},
	}
	writeCSV(t, cfg.Paths().Edges, &rows)
	writeCSV(t, cfg.Paths().MaxNodeIDs, &[]maxNodeIDsRow{{Known: 2, Unknown: 1}})

	if err := dedup.Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	g, err := graph.Load(cfg, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var fromGraph []edgeRow
	b := g.Boundaries()
	for from := b.Min; from <= b.Max; from++ {
		var neighbors []int64
		for to := range g.NeighborsOut(from) {
			neighbors = append(neighbors, to)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, to := range neighbors {
			fromGraph = append(fromGraph, edgeRow{From: from, To: to})
		}
	}

	f, err := os.Open(cfg.Paths().EdgesDeduplicated)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var deduplicated []edgeRow
	if err := gocsv.UnmarshalFile(f, &deduplicated); err != nil {
		t.Fatal(err)
	}

	if diff := deep.Equal(fromGraph, deduplicated); diff != nil {
		t.Errorf("boundary-order serialization diverged from dedup output: %v", diff)
	}
}

func writeCSV(t *testing.T, path string, rows interface{}) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(rows, f); err != nil {
		t.Fatal(err)
	}
}
