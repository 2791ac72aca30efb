package tracebin_test

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/m-lab/traceroute-graph/errkind"
	"github.com/m-lab/traceroute-graph/ipaddr"
	"github.com/m-lab/traceroute-graph/record/tracebin"
)

type wireRecord struct {
	Family   uint8  `msgpack:"family"`
	Target   []byte `msgpack:"target"`
	Hop      []byte `msgpack:"hop"`
	HopCount uint8  `msgpack:"hop_count"`
}

func encodeStream(t *testing.T, records []wireRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestNextDecodesUncompressedStream(t *testing.T) {
	raw := encodeStream(t, []wireRecord{
		{Family: uint8(ipaddr.V4), Target: []byte{1, 2, 3, 4}, Hop: []byte{1, 9, 3, 4}, HopCount: 5},
	})
	path := filepath.Join(t.TempDir(), "trace.bin")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := tracebin.Open(path, false, ipaddr.V4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Target.String() != "1.2.3.4" {
		t.Errorf("Target = %q, want 1.2.3.4", rec.Target.String())
	}
	if rec.HopCount != 5 {
		t.Errorf("HopCount = %d, want 5", rec.HopCount)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("second Next err = %v, want io.EOF", err)
	}
}

func TestNextRejectsWrongFamily(t *testing.T) {
	raw := encodeStream(t, []wireRecord{
		{Family: uint8(ipaddr.V6), Target: []byte{1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8}, Hop: []byte{1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 9}, HopCount: 1},
	})
	path := filepath.Join(t.TempDir(), "trace.bin")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := tracebin.Open(path, false, ipaddr.V4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); !errors.Is(err, errkind.ErrWrongFamily) {
		t.Fatalf("Next err = %v, want errkind.ErrWrongFamily", err)
	}
}

func TestNextDecodesGzipCompressedStream(t *testing.T) {
	raw := encodeStream(t, []wireRecord{
		{Family: uint8(ipaddr.V4), Target: []byte{10, 0, 0, 1}, Hop: []byte{10, 0, 0, 2}, HopCount: 1},
	})

	path := filepath.Join(t.TempDir(), "trace.bin.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := tracebin.Open(path, true, ipaddr.V4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Target.String() != "10.0.0.1" {
		t.Errorf("Target = %q, want 10.0.0.1", rec.Target.String())
	}
}
