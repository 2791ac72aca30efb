package bucket

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/ipaddr"
	"github.com/m-lab/traceroute-graph/metrics"
)

// Manager keeps at most residentCap shards resident in memory at
// once, evicting the least-recently-touched shard to disk (via
// Shard.Flush) whenever that would be exceeded. A shard's on-disk
// file survives a successful eviction and is reloaded on the next
// touch. A failed eviction flush, though, drops the shard's
// accumulated edges (Shard.Flush clears its map regardless of write
// success) with no other record of the loss, so Manager remembers the
// error and returns it from every subsequent call until the caller
// notices.
type Manager struct {
	dir      string
	dataset  string
	cache    *lru.Cache[uint8, *Shard]
	evictErr error
}

// NewManager creates a Manager rooted at dir (one file per bucket id
// under it), evicting down to residentCap shards at a time.
func NewManager(dir string, dataset string, residentCap int) (*Manager, error) {
	m := &Manager{dir: dir, dataset: dataset}

	cache, err := lru.NewWithEvict(residentCap, func(id uint8, s *Shard) {
		if err := s.Flush(); err != nil && m.evictErr == nil {
			m.evictErr = fmt.Errorf("%w: evicting bucket %d: %v", errkind.ErrIOWrite, id, err)
		}
		metrics.BucketEvictions.WithLabelValues(m.dataset).Inc()
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

func (m *Manager) path(bucketID uint8) string {
	return filepath.Join(m.dir, fmt.Sprintf("yarrp.%d.bin", bucketID))
}

// Touch returns the resident Shard for bucketID, loading it from disk
// if it is not currently resident.
func (m *Manager) Touch(bucketID uint8) (*Shard, error) {
	if m.evictErr != nil {
		return nil, m.evictErr
	}
	if s, ok := m.cache.Get(bucketID); ok {
		return s, nil
	}
	s, err := NewShard(m.path(bucketID))
	if err != nil {
		return nil, err
	}
	m.cache.Add(bucketID, s)
	if m.evictErr != nil {
		return nil, m.evictErr
	}
	return s, nil
}

// Add records a hop observation for a target address, routing it to
// the bucket its BucketKey selects.
func (m *Manager) Add(target ipaddr.Address, targetID int64, hopID int64, hopCount uint8) error {
	if m.evictErr != nil {
		return m.evictErr
	}
	s, err := m.Touch(target.BucketKey())
	if err != nil {
		return err
	}
	s.Add(targetID, hopID, hopCount)
	return m.evictErr
}

// FlushAll flushes every currently resident shard to disk. Call this
// once preprocessing of a dataset is complete.
func (m *Manager) FlushAll() error {
	if m.evictErr != nil {
		return m.evictErr
	}
	for _, id := range m.cache.Keys() {
		s, ok := m.cache.Peek(id)
		if !ok {
			continue
		}
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return m.evictErr
}
