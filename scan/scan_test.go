package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func writeScanFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

// testBindData builds bind data directly so tests can force small buffers
// and object-size limits.
func testBindData(files []string, bufferSize, maxObject uint64, ignoreErrors bool) *BindData {
	opts := defaultOptions()
	if bufferSize > 0 {
		opts.BufferSize = bufferSize
	}
	if maxObject > 0 {
		opts.MaximumObjectSize = maxObject
	}
	opts.IgnoreErrors = ignoreErrors
	return &BindData{
		Type:             ScanTypeRecords,
		Files:            files,
		Options:          opts,
		Names:            []string{"a"},
		Types:            []arrow.DataType{arrow.PrimitiveTypes.Int64},
		TransformOptions: TransformOptions{IgnoreErrors: ignoreErrors},
		DateFormats:      NewDateFormatMap(),
		AvgTupleSize:     DefaultAvgTupleSize,
	}
}

type scannedBatch struct {
	batch uint64
	seq   int
	units []string
}

// drainWorker pulls batches from one local state until end-of-stream.
func drainWorker(t *testing.T, g *GlobalState, l *LocalState) []scannedBatch {
	t.Helper()
	var out []scannedBatch
	started := false
	prev := uint64(0)
	seq := 0
	for {
		n, err := l.ReadNext(g)
		if err != nil {
			t.Fatalf("ReadNext() error = %v", err)
		}
		if n == 0 {
			return out
		}
		if n < 1 || n > VectorSize {
			t.Fatalf("ReadNext() = %d, want in [1, %d]", n, VectorSize)
		}
		if started && l.BatchIndex == prev {
			seq++
		} else {
			started = true
			prev = l.BatchIndex
			seq = 0
		}
		units := make([]string, n)
		for i := 0; i < n; i++ {
			units[i] = l.Units[i].String()
		}
		out = append(out, scannedBatch{batch: l.BatchIndex, seq: seq, units: units})
	}
}

// flattenOrdered sorts batches by batch index and emission order and
// concatenates their records.
func flattenOrdered(batches []scannedBatch) []string {
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].batch != batches[j].batch {
			return batches[i].batch < batches[j].batch
		}
		return batches[i].seq < batches[j].seq
	})
	var records []string
	for _, b := range batches {
		records = append(records, b.units...)
	}
	return records
}

func TestReadNext_SingleWorker(t *testing.T) {
	path := writeScanFile(t, "data.json", `{"a":1}`+"\n"+`{"a":2}`+"\n"+`{"a":3}`+"\n")
	g, err := NewGlobalState(testBindData([]string{path}, 0, 0, false))
	if err != nil {
		t.Fatalf("NewGlobalState() error = %v", err)
	}
	defer g.Close()

	records := flattenOrdered(drainWorker(t, g, NewLocalState(g)))
	want := []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}
	if len(records) != len(want) {
		t.Fatalf("scanned %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, records[i], want[i])
		}
	}
}

func TestReadNext_SplitRecordAcrossBuffers(t *testing.T) {
	// Buffer capacity of 12 bytes forces the boundary mid-second-record.
	path := writeScanFile(t, "data.json", `{"a":1}`+"\n"+`{"a":2}`+"\n"+`{"a":3}`+"\n")
	g, err := NewGlobalState(testBindData([]string{path}, 12, 12, false))
	if err != nil {
		t.Fatalf("NewGlobalState() error = %v", err)
	}
	defer g.Close()

	workerA := NewLocalState(g)
	workerB := NewLocalState(g)

	var batches []scannedBatch
	batches = append(batches, drainWorkerOnce(t, g, workerA)...)
	batches = append(batches, drainWorker(t, g, workerB)...)
	batches = append(batches, drainWorker(t, g, workerA)...)

	records := flattenOrdered(batches)
	want := []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}
	if len(records) != len(want) {
		t.Fatalf("scanned %v, want %v", records, want)
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, records[i], want[i])
		}
	}
}

// drainWorkerOnce pulls a single batch, so a second worker can interleave.
func drainWorkerOnce(t *testing.T, g *GlobalState, l *LocalState) []scannedBatch {
	t.Helper()
	n, err := l.ReadNext(g)
	if err != nil {
		t.Fatalf("ReadNext() error = %v", err)
	}
	if n == 0 {
		return nil
	}
	units := make([]string, n)
	for i := 0; i < n; i++ {
		units[i] = l.Units[i].String()
	}
	return []scannedBatch{{batch: l.BatchIndex, units: units}}
}

func TestReadNext_RoundTripParallel(t *testing.T) {
	var sb strings.Builder
	var want []string
	for i := 0; i < 500; i++ {
		record := fmt.Sprintf(`{"a":%d}`, i)
		sb.WriteString(record)
		sb.WriteByte('\n')
		want = append(want, record)
	}
	path := writeScanFile(t, "data.json", sb.String())

	for _, workers := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			g, err := NewGlobalState(testBindData([]string{path}, 256, 256, false))
			if err != nil {
				t.Fatalf("NewGlobalState() error = %v", err)
			}
			defer g.Close()

			var mu sync.Mutex
			var all []scannedBatch
			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					batches := drainWorker(t, g, NewLocalState(g))
					mu.Lock()
					all = append(all, batches...)
					mu.Unlock()
				}()
			}
			wg.Wait()

			records := flattenOrdered(all)
			if len(records) != len(want) {
				t.Fatalf("scanned %d records, want %d", len(records), len(want))
			}
			for i := range want {
				if records[i] != want[i] {
					t.Fatalf("record %d = %q, want %q", i, records[i], want[i])
				}
			}
		})
	}
}

func TestReadNext_ArrayFraming(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"two elements", `[{"x":1},{"x":2}]`, []string{`{"x":1}`, `{"x":2}`}},
		{"whitespace", "[\n  {\"x\":1},\n  {\"x\":2}\n]\n", []string{`{"x":1}`, `{"x":2}`}},
		{"empty array", `[]`, nil},
		{"nested arrays", `[{"x":[1,2]},{"x":[3]}]`, []string{`{"x":[1,2]}`, `{"x":[3]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScanFile(t, "data.json", tt.content)
			bind := testBindData([]string{path}, 0, 0, false)
			bind.Names = []string{"x"}
			bind.Types = []arrow.DataType{arrow.BinaryTypes.String}
			g, err := NewGlobalState(bind)
			if err != nil {
				t.Fatalf("NewGlobalState() error = %v", err)
			}
			defer g.Close()

			records := flattenOrdered(drainWorker(t, g, NewLocalState(g)))
			if len(records) != len(tt.want) {
				t.Fatalf("scanned %v, want %v", records, tt.want)
			}
			for i := range tt.want {
				if records[i] != tt.want[i] {
					t.Errorf("record %d = %q, want %q", i, records[i], tt.want[i])
				}
			}
		})
	}
}

func TestReadNext_ArraySplitAcrossBuffers(t *testing.T) {
	var sb strings.Builder
	var want []string
	sb.WriteByte('[')
	for i := 0; i < 50; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		record := fmt.Sprintf(`{"x":%d}`, 100+i)
		sb.WriteString(record)
		want = append(want, record)
	}
	sb.WriteByte(']')
	path := writeScanFile(t, "data.json", sb.String())

	bind := testBindData([]string{path}, 32, 32, false)
	g, err := NewGlobalState(bind)
	if err != nil {
		t.Fatalf("NewGlobalState() error = %v", err)
	}
	defer g.Close()

	records := flattenOrdered(drainWorker(t, g, NewLocalState(g)))
	if len(records) != len(want) {
		t.Fatalf("scanned %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, records[i], want[i])
		}
	}
}

func TestReadNext_OversizeObject(t *testing.T) {
	big := strings.Repeat("x", 2048)
	path := writeScanFile(t, "data.json", `{"a":"`+big+`"}`+"\n")

	for _, ignore := range []bool{false, true} {
		t.Run(fmt.Sprintf("ignore_errors=%v", ignore), func(t *testing.T) {
			g, err := NewGlobalState(testBindData([]string{path}, 1024, 1024, ignore))
			if err != nil {
				t.Fatalf("NewGlobalState() error = %v", err)
			}
			defer g.Close()

			l := NewLocalState(g)
			var scanErr error
			for scanErr == nil {
				n, err := l.ReadNext(g)
				if err != nil {
					scanErr = err
					break
				}
				if n == 0 {
					break
				}
			}
			var sizeErr *SizeError
			if !errors.As(scanErr, &sizeErr) {
				t.Fatalf("ReadNext() error = %v, want SizeError", scanErr)
			}
		})
	}
}

func TestReadNext_MalformedJSON(t *testing.T) {
	content := `{"a":1}` + "\n" + `{bad` + "\n" + `{"a":3}` + "\n"
	path := writeScanFile(t, "data.json", content)

	t.Run("ignore_errors=true", func(t *testing.T) {
		g, err := NewGlobalState(testBindData([]string{path}, 0, 0, true))
		if err != nil {
			t.Fatalf("NewGlobalState() error = %v", err)
		}
		defer g.Close()

		records := flattenOrdered(drainWorker(t, g, NewLocalState(g)))
		want := []string{`{"a":1}`, `{"a":3}`}
		if len(records) != len(want) {
			t.Fatalf("scanned %v, want %v", records, want)
		}
	})

	t.Run("ignore_errors=false", func(t *testing.T) {
		g, err := NewGlobalState(testBindData([]string{path}, 0, 0, false))
		if err != nil {
			t.Fatalf("NewGlobalState() error = %v", err)
		}
		defer g.Close()

		l := NewLocalState(g)
		var scanErr error
		for scanErr == nil {
			n, err := l.ReadNext(g)
			if err != nil {
				scanErr = err
				break
			}
			if n == 0 {
				break
			}
		}
		var parseErr *ParseError
		if !errors.As(scanErr, &parseErr) {
			t.Fatalf("ReadNext() error = %v, want ParseError", scanErr)
		}
		if parseErr.Record != 2 {
			t.Errorf("ParseError.Record = %d, want 2", parseErr.Record)
		}
		if parseErr.File != path {
			t.Errorf("ParseError.File = %q, want %q", parseErr.File, path)
		}
	})
}

func TestReadNext_TrailingRecordWithoutNewline(t *testing.T) {
	path := writeScanFile(t, "data.json", `{"a":1}`+"\n"+`{"a":2}`)
	g, err := NewGlobalState(testBindData([]string{path}, 0, 0, false))
	if err != nil {
		t.Fatalf("NewGlobalState() error = %v", err)
	}
	defer g.Close()

	records := flattenOrdered(drainWorker(t, g, NewLocalState(g)))
	want := []string{`{"a":1}`, `{"a":2}`}
	if len(records) != len(want) {
		t.Fatalf("scanned %v, want %v", records, want)
	}
}

func TestReadNext_SplitOnExactBufferBoundary(t *testing.T) {
	// Both records are 8 bytes with the newline; a 8-byte buffer ends every
	// buffer exactly on a record boundary, and the final buffer is marked
	// last.
	path := writeScanFile(t, "data.json", `{"a":1}`+"\n"+`{"a":2}`+"\n")
	g, err := NewGlobalState(testBindData([]string{path}, 8, 8, false))
	if err != nil {
		t.Fatalf("NewGlobalState() error = %v", err)
	}
	defer g.Close()

	records := flattenOrdered(drainWorker(t, g, NewLocalState(g)))
	want := []string{`{"a":1}`, `{"a":2}`}
	if len(records) != len(want) {
		t.Fatalf("scanned %v, want %v", records, want)
	}
}

func TestReadNext_MultipleFiles(t *testing.T) {
	dir := t.TempDir()
	var files []string
	var want []string
	for f := 0; f < 3; f++ {
		var sb strings.Builder
		for i := 0; i < 5; i++ {
			record := fmt.Sprintf(`{"a":%d}`, f*10+i)
			sb.WriteString(record + "\n")
			want = append(want, record)
		}
		path := filepath.Join(dir, fmt.Sprintf("part-%d.json", f))
		if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}
		files = append(files, path)
	}

	g, err := NewGlobalState(testBindData(files, 0, 0, false))
	if err != nil {
		t.Fatalf("NewGlobalState() error = %v", err)
	}
	defer g.Close()

	records := flattenOrdered(drainWorker(t, g, NewLocalState(g)))
	if len(records) != len(want) {
		t.Fatalf("scanned %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, records[i], want[i])
		}
	}
}

func TestProgress(t *testing.T) {
	path := writeScanFile(t, "data.json", `{"a":1}`+"\n"+`{"a":2}`+"\n")
	g, err := NewGlobalState(testBindData([]string{path}, 0, 0, false))
	if err != nil {
		t.Fatalf("NewGlobalState() error = %v", err)
	}
	defer g.Close()

	if p := g.Progress(); p != 0 {
		t.Errorf("Progress() before scan = %v, want 0", p)
	}
	drainWorker(t, g, NewLocalState(g))
	if p := g.Progress(); p != 1 {
		t.Errorf("Progress() after scan = %v, want 1", p)
	}
}

func TestGlobalState_ProjectionPushdown(t *testing.T) {
	bind := testBindData([]string{"unused.json"}, 0, 0, false)
	bind.Names = []string{"a", "b", "c"}
	bind.Types = []arrow.DataType{
		arrow.PrimitiveTypes.Int64, arrow.BinaryTypes.String, arrow.PrimitiveTypes.Float64,
	}
	g, err := NewGlobalStateProjected(bind, []string{"c", "a"})
	if err != nil {
		t.Fatalf("NewGlobalStateProjected() error = %v", err)
	}
	defer g.Close()

	if len(g.Names) != 2 || g.Names[0] != "c" || g.Names[1] != "a" {
		t.Errorf("projected names = %v", g.Names)
	}
	if g.ColumnIndices[0] != 2 || g.ColumnIndices[1] != 0 {
		t.Errorf("projected indices = %v", g.ColumnIndices)
	}
	if _, err := NewGlobalStateProjected(bind, []string{"missing"}); err == nil {
		t.Errorf("expected error for unknown projected column")
	}
}
