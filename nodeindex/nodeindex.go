// Package nodeindex assigns dense positive integer IDs to observed IP
// addresses during preprocessing, and persists the resulting IP→ID
// mapping so the merge stage can later write mapping.csv and the
// highest known ID. The bucket shards already hold these IDs, so merge
// rebuilds edges without consulting the index.
//
// ID 0 is reserved for the implicit prober (the source of every
// path); known IDs are allocated starting at 1. The counter is
// intentionally carried across every input file in a dataset so that
// a single Index can preprocess many files in sequence without ever
// reassigning or colliding an ID.
package nodeindex

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/ipaddr"
)

// Index maps observed addresses to dense positive node IDs.
type Index struct {
	ids     map[ipaddr.Key128]int64
	counter int64
}

// New creates an empty Index. The first address observed gets ID 1.
func New() *Index {
	return &Index{ids: make(map[ipaddr.Key128]int64), counter: 1}
}

// Observe returns the node ID for addr, allocating a new one if addr
// has not been seen before by this Index.
func (x *Index) Observe(addr ipaddr.Address) int64 {
	id, _ := x.ObserveNew(addr)
	return id
}

// ObserveNew is Observe, additionally reporting whether this call
// allocated a fresh ID.
func (x *Index) ObserveNew(addr ipaddr.Address) (int64, bool) {
	key := addr.Key()
	if id, ok := x.ids[key]; ok {
		return id, false
	}
	id := x.counter
	x.counter++
	x.ids[key] = id
	return id, true
}

// Len returns the number of distinct addresses observed so far.
func (x *Index) Len() int {
	return len(x.ids)
}

// MaxID returns the highest node ID allocated so far, or 0 if none
// have been.
func (x *Index) MaxID() int64 {
	return x.counter - 1
}

// wireEntry is the on-disk shape of one mapping row.
type wireEntry struct {
	Hi uint64 `msgpack:"hi"`
	Lo uint64 `msgpack:"lo"`
	ID int64  `msgpack:"id"`
}

// Save msgpack-encodes the index to path.
func (x *Index) Save(path string) error {
	entries := make([]wireEntry, 0, len(x.ids))
	for k, id := range x.ids {
		entries = append(entries, wireEntry{Hi: k.Hi, Lo: k.Lo, ID: id})
	}

	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: encoding node index: %v", errkind.ErrIOWrite, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing node index to %s: %v", errkind.ErrIOWrite, path, err)
	}
	return nil
}

// Load reads an Index previously written by Save.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading node index from %s: %v", errkind.ErrShardCorrupt, path, err)
	}

	var entries []wireEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding node index from %s: %v", errkind.ErrShardCorrupt, path, err)
	}

	x := New()
	var max int64
	for _, e := range entries {
		key := ipaddr.Key128{Hi: e.Hi, Lo: e.Lo}
		x.ids[key] = e.ID
		if e.ID > max {
			max = e.ID
		}
	}
	x.counter = max + 1
	return x, nil
}

// Entries iterates every (key, id) pair in unspecified order.
func (x *Index) Entries(fn func(key ipaddr.Key128, id int64)) {
	for k, id := range x.ids {
		fn(k, id)
	}
}
