package sparselist_test

import (
	"testing"

	"github.com/m-lab/traceroute-graph/sparselist"
)

func TestGetReturnsZeroWithoutMaterializing(t *testing.T) {
	m := sparselist.New[int64, int64](-1)

	if got := m.Get(42); got != -1 {
		t.Errorf("Get(42) = %d, want -1", got)
	}
	if m.Len() != 0 {
		t.Errorf("Len after Get = %d, want 0 (lookups must not materialise entries)", m.Len())
	}
	if m.Has(42) {
		t.Error("Has(42) = true after a plain Get")
	}
}

func TestSetMaterializesAndOverridesZero(t *testing.T) {
	m := sparselist.New[int64, float64](0)

	m.Set(7, 2.5)
	if got := m.Get(7); got != 2.5 {
		t.Errorf("Get(7) = %v, want 2.5", got)
	}
	if !m.Has(7) {
		t.Error("Has(7) = false after Set")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	// An explicitly stored zero is still a materialised entry.
	m.Set(8, 0)
	if !m.Has(8) {
		t.Error("Has(8) = false after Set(8, 0)")
	}
}

func TestEachVisitsOnlyMaterializedEntries(t *testing.T) {
	m := sparselist.New[int64, uint64](0)
	m.Set(1, 10)
	m.Set(2, 20)
	m.Get(3)

	got := map[int64]uint64{}
	m.Each(func(k int64, v uint64) {
		got[k] = v
	})

	if len(got) != 2 || got[1] != 10 || got[2] != 20 {
		t.Errorf("Each visited %v, want {1:10 2:20}", got)
	}
}

func TestAppendAccumulatesSliceValues(t *testing.T) {
	m := sparselist.New[int64, []int64](nil)

	sparselist.Append(m, 5, int64(1))
	sparselist.Append(m, 5, int64(2))

	got := m.Get(5)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Get(5) = %v, want [1 2]", got)
	}
	if got := m.Get(6); got != nil {
		t.Errorf("Get(6) = %v, want nil", got)
	}
}
