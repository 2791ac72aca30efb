// Package record defines the logical unit every preprocessing source
// produces: one observed (target, hop, hop_count) triple, plus the
// Source interface both the ASCII scan reader and the binary trace
// reader implement.
package record

import (
	"io"

	"github.com/m-lab/traceroute-graph/ipaddr"
)

// Record is one observed hop along a path toward Target.
type Record struct {
	Target   ipaddr.Address
	Hop      ipaddr.Address
	HopCount uint8
}

// Source produces a stream of Records. Next returns io.EOF when the
// underlying input is exhausted. errkind.ErrRecordParse and
// errkind.ErrWrongFamily mark a single bad row that can be skipped;
// any other error is a read failure.
type Source interface {
	Next() (Record, error)
	io.Closer
}
