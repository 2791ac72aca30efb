package bucket_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"

	"github.com/m-lab/traceroute-graph/bucket"
	"github.com/m-lab/traceroute-graph/errkind"
)

func TestNewShardOnMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yarrp.0.bin")
	s, err := bucket.NewShard(path)
	if err != nil {
		t.Fatalf("NewShard: %v", err)
	}
	if len(s.EdgeMap) != 0 {
		t.Errorf("EdgeMap = %v, want empty", s.EdgeMap)
	}
}

func TestFlushAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yarrp.17.bin")

	s, err := bucket.NewShard(path)
	if err != nil {
		t.Fatalf("NewShard: %v", err)
	}
	s.Add(1, 2, 3)
	s.Add(1, 4, 5)
	s.Add(9, 2, 1)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(s.EdgeMap) != 0 {
		t.Error("Flush must clear the in-memory map")
	}

	reloaded, err := bucket.NewShard(path)
	if err != nil {
		t.Fatalf("NewShard reload: %v", err)
	}

	want := map[int64][]bucket.HopObservation{
		1: {{HopID: 2, HopCount: 3}, {HopID: 4, HopCount: 5}},
		9: {{HopID: 2, HopCount: 1}},
	}
	if diff := deep.Equal(reloaded.EdgeMap, want); diff != nil {
		t.Errorf("reloaded EdgeMap diverged: %v", diff)
	}
}

func TestFlushAppendsAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yarrp.3.bin")

	s, err := bucket.NewShard(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Add(1, 2, 1)
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	// A reload picks up the on-disk observations, so a second
	// add-and-flush cycle accumulates rather than overwrites.
	s, err = bucket.NewShard(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Add(1, 3, 2)
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	final, err := bucket.NewShard(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.EdgeMap[1]) != 2 {
		t.Errorf("EdgeMap[1] = %v, want both observations", final.EdgeMap[1])
	}
}

func TestNewShardOnCorruptFileIsShardCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yarrp.0.bin")
	if err := os.WriteFile(path, []byte{0xc1, 0xc1, 0xc1}, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := bucket.NewShard(path); !errors.Is(err, errkind.ErrShardCorrupt) {
		t.Fatalf("NewShard on garbage = %v, want errkind.ErrShardCorrupt", err)
	}
}
