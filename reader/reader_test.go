package reader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestNextBuffer_SequenceAndEOF(t *testing.T) {
	path := writeFile(t, "data.json", []byte(`{"a":1}`+"\n"+`{"a":2}`+"\n"))
	r := NewFileReader(path, FormatNewlineDelimited, CompressionNone)
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	var indices []uint64
	var total int
	for {
		h, err := r.NextBuffer(make([]byte, 8), 1)
		if err != nil {
			t.Fatalf("NextBuffer() error = %v", err)
		}
		if h == nil {
			break
		}
		indices = append(indices, h.Index)
		total += int(h.Size)
		if h.IsLast && !r.Exhausted() {
			t.Errorf("reader not exhausted after last buffer")
		}
		r.ReleaseBuffer(h)
	}
	if total != 16 {
		t.Errorf("read %d bytes, want 16", total)
	}
	for i, idx := range indices {
		if idx != uint64(i) {
			t.Errorf("buffer index %d = %d, want %d", i, idx, i)
		}
	}
}

func TestBufferHandle_Refcount(t *testing.T) {
	path := writeFile(t, "data.json", []byte(`{"a":1}`+"\n"+`{"a":2}`+"\n"))
	r := NewFileReader(path, FormatNewlineDelimited, CompressionNone)
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	h, err := r.NextBuffer(make([]byte, 8), 2)
	if err != nil || h == nil {
		t.Fatalf("NextBuffer() = %v, %v", h, err)
	}
	r.ReleaseBuffer(h)
	if got := r.GetBuffer(h.Index); got != h {
		t.Errorf("buffer removed after first release with two consumers")
	}
	r.ReleaseBuffer(h)
	if got := r.GetBuffer(h.Index); got != nil {
		t.Errorf("buffer still live after last release")
	}
}

func TestNextRange_CoversFile(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 100)
	path := writeFile(t, "data.json", content)
	r := NewFileReader(path, FormatNewlineDelimited, CompressionNone)
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	var covered int64
	sawLast := false
	for {
		index, offset, length, isLast, ok := r.NextRange(30)
		if !ok {
			break
		}
		if offset != covered {
			t.Errorf("range %d starts at %d, want %d", index, offset, covered)
		}
		covered += length
		sawLast = isLast
	}
	if covered != 100 {
		t.Errorf("ranges covered %d bytes, want 100", covered)
	}
	if !sawLast {
		t.Errorf("final range not marked last")
	}
	if !r.Exhausted() {
		t.Errorf("reader not exhausted after all ranges handed out")
	}
}

func TestRecordNumber(t *testing.T) {
	path := writeFile(t, "data.json", []byte("{}\n"))
	r := NewFileReader(path, FormatNewlineDelimited, CompressionNone)
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	r.SetBufferRecordCount(0, 10)
	r.SetBufferRecordCount(1, 5)

	if got, ok := r.RecordNumber(1, 2); !ok || got != 13 {
		t.Errorf("RecordNumber(1, 2) = %d, %v, want 13, true", got, ok)
	}
	if _, ok := r.RecordNumber(3, 0); ok {
		t.Errorf("RecordNumber resolved with missing predecessor counts")
	}
}

func TestDetectCompression(t *testing.T) {
	tests := []struct {
		path string
		want Compression
	}{
		{"data.json", CompressionNone},
		{"data.json.gz", CompressionGZIP},
		{"data.json.gzip", CompressionGZIP},
		{"data.json.zst", CompressionZSTD},
		{"data.json.zstd", CompressionZSTD},
		{"data.csv", CompressionNone},
	}
	for _, tt := range tests {
		if got := DetectCompression(tt.path); got != tt.want {
			t.Errorf("DetectCompression(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestOpen_GzipStream(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(`{"a":1}` + "\n")); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}
	path := writeFile(t, "data.json.gz", buf.Bytes())

	r := NewFileReader(path, FormatNewlineDelimited, CompressionAuto)
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	if r.Compression() != CompressionGZIP {
		t.Fatalf("Compression() = %v, want gzip", r.Compression())
	}
	if r.Seekable() {
		t.Errorf("compressed reader reported seekable")
	}
	h, err := r.NextBuffer(make([]byte, 64), 1)
	if err != nil || h == nil {
		t.Fatalf("NextBuffer() = %v, %v", h, err)
	}
	if got := string(h.Buffer[:h.Size]); got != `{"a":1}`+"\n" {
		t.Errorf("decompressed %q", got)
	}
}

func TestOpen_ZstdStream(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write([]byte(`{"a":1}` + "\n")); err != nil {
		t.Fatalf("zstd write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close failed: %v", err)
	}
	path := writeFile(t, "data.json.zst", buf.Bytes())

	r := NewFileReader(path, FormatNewlineDelimited, CompressionAuto)
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	h, err := r.NextBuffer(make([]byte, 64), 1)
	if err != nil || h == nil {
		t.Fatalf("NextBuffer() = %v, %v", h, err)
	}
	if got := string(h.Buffer[:h.Size]); got != `{"a":1}`+"\n" {
		t.Errorf("decompressed %q", got)
	}
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name string
		head string
		want Format
	}{
		{"object", `{"a":1}`, FormatNewlineDelimited},
		{"array", `[{"a":1}]`, FormatArray},
		{"array after whitespace", "  \n\t[1,2]", FormatArray},
		{"scalar", "42", FormatNewlineDelimited},
		{"empty", "", FormatNewlineDelimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat([]byte(tt.head)); got != tt.want {
				t.Errorf("SniffFormat(%q) = %v, want %v", tt.head, got, tt.want)
			}
		})
	}
}

func TestSerialSlot(t *testing.T) {
	path := writeFile(t, "data.json", []byte("[]"))
	r := NewFileReader(path, FormatArray, CompressionNone)
	if !r.AcquireSerial() {
		t.Fatalf("first AcquireSerial() failed")
	}
	if r.AcquireSerial() {
		t.Errorf("second AcquireSerial() succeeded while in flight")
	}
	r.ReleaseSerial([]byte(`{"x":`))
	if !r.AcquireSerial() {
		t.Errorf("AcquireSerial() failed after release")
	}
	if got := string(r.TakeTail()); got != `{"x":` {
		t.Errorf("TakeTail() = %q", got)
	}
	if got := r.TakeTail(); got != nil {
		t.Errorf("second TakeTail() = %q, want nil", got)
	}
}
