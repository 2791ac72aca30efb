// Package tracebin reads the binary framed trace format: a stream of
// msgpack-encoded hop observations, optionally gzip-compressed. It
// stands in for the compressed binary traceroute capture format
// referenced by the dataset this pipeline was built to replace, using
// the pipeline's own wire encoding instead of a third-party capture
// format this pack has no library for.
package tracebin

import (
	"compress/gzip"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/ipaddr"
	"github.com/m-lab/traceroute-graph/record"
)

// wireRecord is the on-disk shape of one observation: addresses are
// stored as raw bytes (4 for V4, 16 for V6) plus the family they were
// captured under.
type wireRecord struct {
	Family   uint8  `msgpack:"family"`
	Target   []byte `msgpack:"target"`
	Hop      []byte `msgpack:"hop"`
	HopCount uint8  `msgpack:"hop_count"`
}

// Reader implements record.Source over one tracebin file.
type Reader struct {
	file    *os.File
	gz      *gzip.Reader
	decoder *msgpack.Decoder
	family  ipaddr.Family
}

// Open opens path for reading. If compressed is true, path is assumed
// to be gzip-compressed.
func Open(path string, compressed bool, family ipaddr.Family) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{file: f, family: family}

	var src io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		r.gz = gz
		src = gz
	}

	r.decoder = msgpack.NewDecoder(src)
	return r, nil
}

// Next decodes the next wire record from the stream.
func (r *Reader) Next() (record.Record, error) {
	var w wireRecord
	if err := r.decoder.Decode(&w); err != nil {
		return record.Record{}, err
	}

	family := ipaddr.Family(w.Family)
	if family != r.family {
		return record.Record{}, errkind.ErrWrongFamily
	}

	target, err := ipaddr.FromBytes(w.Target, family)
	if err != nil {
		return record.Record{}, err
	}
	hop, err := ipaddr.FromBytes(w.Hop, family)
	if err != nil {
		return record.Record{}, err
	}

	return record.Record{Target: target, Hop: hop, HopCount: w.HopCount}, nil
}

// Close releases the underlying file and, if present, the gzip reader.
func (r *Reader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}
