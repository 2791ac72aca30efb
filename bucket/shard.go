// Package bucket implements the out-of-core shard storage the
// preprocessing stage writes into: one file per bucket id (0..255),
// each holding every hop observation whose target IP hashed into that
// bucket.
package bucket

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/m-lab/traceroute-graph/errkind"
)

// HopObservation is one (hop node ID, hop count) pair recorded against
// a target node ID.
type HopObservation struct {
	HopID    int64 `msgpack:"hop_id"`
	HopCount uint8 `msgpack:"hop_count"`
}

// Shard is the in-memory, and on-disk, contents of a single bucket
// file: a map from target node ID to every hop observed for it.
type Shard struct {
	Path    string
	EdgeMap map[int64][]HopObservation
}

// NewShard loads path if it already exists, or returns an empty Shard
// otherwise — the load-or-create contract every bucket file follows,
// since a dataset may be preprocessed across many input files that
// share the same 256 buckets.
func NewShard(path string) (*Shard, error) {
	s := &Shard{Path: path, EdgeMap: make(map[int64][]HopObservation)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("%w: reading shard %s: %v", errkind.ErrShardCorrupt, path, err)
	}

	if err := msgpack.Unmarshal(data, &s.EdgeMap); err != nil {
		return nil, fmt.Errorf("%w: decoding shard %s: %v", errkind.ErrShardCorrupt, path, err)
	}
	return s, nil
}

// Add records a hop observation for targetID.
func (s *Shard) Add(targetID int64, hopID int64, hopCount uint8) {
	s.EdgeMap[targetID] = append(s.EdgeMap[targetID], HopObservation{HopID: hopID, HopCount: hopCount})
}

// Flush msgpack-encodes the shard's current contents to Path,
// overwriting whatever was there, and clears the in-memory map.
func (s *Shard) Flush() error {
	data, err := msgpack.Marshal(s.EdgeMap)
	if err != nil {
		return fmt.Errorf("%w: encoding shard %s: %v", errkind.ErrIOWrite, s.Path, err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing shard %s: %v", errkind.ErrIOWrite, s.Path, err)
	}
	s.EdgeMap = make(map[int64][]HopObservation)
	return nil
}
