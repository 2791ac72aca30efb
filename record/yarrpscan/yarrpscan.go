// Package yarrpscan reads the whitespace-delimited ASCII scan output
// format: one hop observation per line, optionally bzip2-compressed,
// with '#'-prefixed comment lines ignored.
//
// Each line carries at least seven whitespace-separated fields; only
// three are used:
//
//	field[0]  target IP
//	field[5]  hop count (TTL)
//	field[6]  hop IP
//
// The remaining fields (probe method, RTT, flags, ...) are present in
// real scan output but are not part of this pipeline's data model.
package yarrpscan

import (
	"bufio"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/ipaddr"
	"github.com/m-lab/traceroute-graph/record"
)

const minFields = 7

// Reader implements record.Source over one ASCII (optionally
// bzip2-compressed) scan file.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
	family  ipaddr.Family
}

// Open opens path for reading. If compressed is true, path is assumed
// to be bzip2-compressed; otherwise it is read as plain text.
func Open(path string, compressed bool, family ipaddr.Family) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var r io.Reader = f
	if compressed {
		r = bzip2.NewReader(f)
	}

	return &Reader{file: f, scanner: bufio.NewScanner(r), family: family}, nil
}

// Next returns the next parseable Record, skipping comment lines and
// blank lines. A row with a malformed target, hop, or hop count
// returns errkind.ErrRecordParse; a syntactically valid IP of the
// wrong family returns errkind.ErrWrongFamily. Both are non-fatal: the
// caller is expected to count and continue.
func (r *Reader) Next() (record.Record, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < minFields {
			return record.Record{}, fmt.Errorf("%w: line has %d fields, want at least %d", errkind.ErrRecordParse, len(fields), minFields)
		}

		target, err := ipaddr.Parse(fields[0], r.family)
		if err != nil {
			return record.Record{}, err
		}

		hopCount, err := strconv.ParseUint(fields[5], 10, 8)
		if err != nil {
			return record.Record{}, fmt.Errorf("%w: hop count %q: %v", errkind.ErrRecordParse, fields[5], err)
		}

		hop, err := ipaddr.Parse(fields[6], r.family)
		if err != nil {
			return record.Record{}, err
		}

		return record.Record{Target: target, Hop: hop, HopCount: uint8(hopCount)}, nil
	}

	if err := r.scanner.Err(); err != nil {
		return record.Record{}, err
	}
	return record.Record{}, io.EOF
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
