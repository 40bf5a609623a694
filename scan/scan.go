// Package scan implements the parallel JSON table scan: one global state
// coordinating a pool of file readers, and per-worker local states that pull
// buffers, locate record boundaries, parse records into DOM values, and
// transform them into Arrow record batches.
//
// The scan is order-preserving under parallelism: every buffer hand-out is
// stamped with a globally unique, strictly increasing batch index, and a
// record straddling two buffers is materialized exactly once, by the worker
// holding the later buffer.
package scan

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/quilldb/quill/reader"
)

// JSONSlice is a view over the source bytes of one record. It stays valid
// for the lifetime of the batch that produced it.
type JSONSlice []byte

func (s JSONSlice) String() string { return string(s) }

// GlobalState is the shared scan coordinator. It owns the reader pool,
// hands out buffers file by file, and assigns batch indices.
type GlobalState struct {
	Bind *BindData

	// Names and ColumnIndices are the projected column subset; ColumnIndices
	// point into Bind.Names.
	Names         []string
	ColumnIndices []int

	// BufferCapacity is the byte size of every scan buffer.
	BufferCapacity uint64

	mu         sync.Mutex
	readers    []*reader.FileReader
	opened     []bool
	fileIndex  int
	batchIndex atomic.Uint64

	systemThreads int
	scanID        uuid.UUID
	logger        *slog.Logger
}

// NewGlobalState creates the scan coordinator over every bound column.
func NewGlobalState(bind *BindData) (*GlobalState, error) {
	return NewGlobalStateProjected(bind, nil)
}

// NewGlobalStateProjected is NewGlobalState with projection pushdown:
// projection selects a column subset by name; nil keeps every bound column.
func NewGlobalStateProjected(bind *BindData, projection []string) (*GlobalState, error) {
	capacity := bind.Options.BufferSize
	if capacity == 0 {
		capacity = 2 * bind.Options.MaximumObjectSize
	}
	if capacity < bind.Options.MaximumObjectSize {
		capacity = bind.Options.MaximumObjectSize
	}
	g := &GlobalState{
		Bind:           bind,
		BufferCapacity: capacity,
		systemThreads:  runtime.NumCPU(),
		scanID:         uuid.New(),
	}
	g.logger = bind.logger().With("scan_id", g.scanID.String())
	if projection == nil {
		g.Names = append([]string(nil), bind.Names...)
		for i := range bind.Names {
			g.ColumnIndices = append(g.ColumnIndices, i)
		}
	} else {
		for _, name := range projection {
			idx := -1
			for i, n := range bind.Names {
				if n == name {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("projected column %q is not part of the scan", name)
			}
			g.Names = append(g.Names, name)
			g.ColumnIndices = append(g.ColumnIndices, idx)
		}
	}
	for _, file := range bind.Files {
		g.readers = append(g.readers, reader.NewFileReader(file, bind.Options.Format, bind.Options.Compression))
	}
	g.opened = make([]bool, len(g.readers))
	return g, nil
}

// MaxThreads returns the useful worker count: one per file, plus the split
// factor of the first file when it can be read with seek parallelism.
func (g *GlobalState) MaxThreads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	threads := len(g.readers)
	if len(g.readers) > 0 && g.opened[0] {
		rd := g.readers[0]
		if rd.Seekable() && rd.Format() == reader.FormatNewlineDelimited {
			splits := int(uint64(rd.Size()) / g.BufferCapacity)
			if splits > 1 {
				threads += splits - 1
			}
		}
	}
	if threads > g.systemThreads {
		threads = g.systemThreads
	}
	if threads < 1 {
		threads = 1
	}
	return threads
}

// Progress reports bytes read over total bytes across all files, in [0, 1].
func (g *GlobalState) Progress() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var read, total int64
	for i, rd := range g.readers {
		if g.opened[i] {
			read += rd.BytesRead()
			total += rd.Size()
			continue
		}
		if stat, err := os.Stat(rd.Path()); err == nil {
			total += stat.Size()
		}
	}
	if total == 0 {
		return 0
	}
	return float64(read) / float64(total)
}

// Close releases every open reader.
func (g *GlobalState) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for i, rd := range g.readers {
		if !g.opened[i] {
			continue
		}
		if err := rd.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LocalState is the per-worker scan state: the current buffer cursor, the
// output arrays of one batch, and the worker's DOM parser pool.
type LocalState struct {
	// ScanCount is the number of records in the current batch.
	ScanCount int
	// Units are the source byte slices of the batch records.
	Units []JSONSlice
	// Values are the parsed DOM handles of the batch records.
	Values []*fastjson.Value
	// BatchIndex orders this worker's current batch among all batches.
	BatchIndex uint64

	// TotalReadSize and TotalTupleCount accumulate for avg-tuple-size
	// estimation.
	TotalReadSize   uint64
	TotalTupleCount uint64

	TransformOptions TransformOptions
	DateFormats      *DateFormatMap

	// parsers is the worker-local DOM allocator: one parser per record slot,
	// each reusing its arena across batches.
	parsers []fastjson.Parser

	currentReader   *reader.FileReader
	currentHandle   *reader.BufferHandle
	buffer          []byte
	bufferOffset    int
	isLast          bool
	recordsInBuffer int64
	holdsSerial     bool
	arrayEnded      bool
	// pendingTail is the unconsumed remainder of an array-framed buffer,
	// stored into the reader at buffer hand-back.
	pendingTail []byte
	// reconstructScratch splices a buffer-trailing partial record with the
	// head of its successor.
	reconstructScratch []byte
}

// NewLocalState creates a worker state for the scan.
func NewLocalState(g *GlobalState) *LocalState {
	return &LocalState{
		Units:            make([]JSONSlice, VectorSize),
		Values:           make([]*fastjson.Value, VectorSize),
		TransformOptions: g.Bind.TransformOptions,
		DateFormats:      g.Bind.DateFormats.Clone(),
		parsers:          make([]fastjson.Parser, VectorSize),
	}
}

// ReadNext produces the next batch for this worker. It returns the number
// of records scanned, in [1, VectorSize], with Units, Values and BatchIndex
// populated; zero means end-of-stream for this worker (the global state may
// still have work for others).
func (l *LocalState) ReadNext(g *GlobalState) (int, error) {
	l.ScanCount = 0
	for l.ScanCount == 0 {
		if l.bufferOffset >= len(l.buffer) {
			ok, err := l.readNextBuffer(g)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, nil
			}
		}
		if err := l.parseNextChunk(g); err != nil {
			return 0, err
		}
	}
	return l.ScanCount, nil
}

// readNextBuffer hands back the exhausted buffer and claims the next unit of
// work under the global lock. It reports false when no work remains for this
// worker.
func (l *LocalState) readNextBuffer(g *GlobalState) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l.finalizeCurrentBuffer()

	// Serial readers whose slot another worker holds are skipped; they stay
	// owned by that worker until it hands the slot back.
	busy := make(map[*reader.FileReader]bool)
	for {
		rd, err := g.selectReader(l, busy)
		if err != nil {
			return false, err
		}
		if rd == nil {
			l.currentReader = nil
			return false, nil
		}
		l.currentReader = rd

		format := rd.Format()
		if (format == reader.FormatAuto || format == reader.FormatArray) && !l.holdsSerial {
			if !rd.AcquireSerial() {
				busy[rd] = true
				l.currentReader = nil
				continue
			}
			l.holdsSerial = true
		}

		handle, err := g.acquireBuffer(rd)
		if err != nil {
			l.releaseSerial(rd, nil)
			return false, err
		}
		if handle == nil {
			// The stream ended exactly on the previous buffer boundary. A
			// trailing record without newline in that buffer is completed
			// here by its phantom successor.
			l.releaseSerial(rd, nil)
			if ok, err := l.recoverFinalRecord(g, rd); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
			continue
		}

		chunk := handle.Buffer[:handle.Size]
		if handle.Index == 0 && rd.Format() == reader.FormatAuto {
			sniffed := reader.SniffFormat(chunk)
			rd.SetFormat(sniffed)
			g.logger.Debug("detected JSON format", "file", rd.Path(), "format", sniffed.String())
			if sniffed == reader.FormatArray && !handle.IsLast {
				// The buffer was handed out with a successor-reconstruction
				// reference; array framing passes its remainder through the
				// serial slot instead, so drop the unused reference.
				rd.ReleaseBuffer(handle)
			}
		}
		format = rd.Format()
		if format != reader.FormatArray {
			l.releaseSerial(rd, nil)
		}

		l.currentHandle = handle
		l.buffer = chunk
		l.bufferOffset = 0
		l.isLast = handle.IsLast
		l.recordsInBuffer = 0
		l.BatchIndex = g.batchIndex.Add(1) - 1
		g.logger.Debug("buffer handed out",
			"file", rd.Path(), "buffer", handle.Index, "batch", l.BatchIndex, "bytes", handle.Size)

		if handle.Index == 0 {
			l.arrayEnded = false
			if format == reader.FormatArray {
				if err := l.skipOverArrayStart(rd); err != nil {
					return false, err
				}
			}
		} else {
			if err := l.reconstructFirstObject(g, rd); err != nil {
				return false, err
			}
		}
		return true, nil
	}
}

// finalizeCurrentBuffer publishes the record count of the finished buffer,
// stores the array-framing remainder, and drops the parser's reference.
func (l *LocalState) finalizeCurrentBuffer() {
	if l.currentHandle == nil {
		l.recordsInBuffer = 0
		l.pendingTail = nil
		return
	}
	rd := l.currentReader
	rd.SetBufferRecordCount(l.currentHandle.Index, l.recordsInBuffer)
	if l.holdsSerial {
		l.releaseSerial(rd, l.pendingTail)
	}
	rd.ReleaseBuffer(l.currentHandle)
	l.currentHandle = nil
	l.pendingTail = nil
	l.recordsInBuffer = 0
}

func (l *LocalState) releaseSerial(rd *reader.FileReader, tail []byte) {
	if l.holdsSerial {
		rd.ReleaseSerial(tail)
		l.holdsSerial = false
	}
}

// selectReader picks the worker's next reader: the current one while it has
// work, else the next file with remaining bytes. Readers are opened on
// first selection; busy serial readers are passed over without advancing
// the global file index.
func (g *GlobalState) selectReader(l *LocalState, busy map[*reader.FileReader]bool) (*reader.FileReader, error) {
	if l.currentReader != nil && !l.currentReader.Exhausted() && !busy[l.currentReader] {
		return l.currentReader, nil
	}
	for i := g.fileIndex; i < len(g.readers); i++ {
		rd := g.readers[i]
		if busy[rd] {
			continue
		}
		if err := g.openReader(i); err != nil {
			return nil, err
		}
		if rd.Exhausted() {
			if i == g.fileIndex {
				g.fileIndex++
			}
			continue
		}
		return rd, nil
	}
	return nil, nil
}

func (g *GlobalState) openReader(i int) error {
	if g.opened[i] {
		return nil
	}
	if err := g.readers[i].Open(); err != nil {
		return err
	}
	g.opened[i] = true
	g.logger.Debug("opened file",
		"file", g.readers[i].Path(), "compression", g.readers[i].Compression().String())
	return nil
}

// acquireBuffer claims the next buffer of the reader, via range hand-out for
// seekable newline-delimited files and via the serial stream otherwise.
func (g *GlobalState) acquireBuffer(rd *reader.FileReader) (*reader.BufferHandle, error) {
	if rd.Seekable() && rd.Format() == reader.FormatNewlineDelimited {
		index, offset, length, isLast, ok := rd.NextRange(int64(g.BufferCapacity))
		if !ok {
			return nil, nil
		}
		buf := make([]byte, length)
		n, err := rd.ReadAt(buf, offset)
		if err != nil {
			return nil, err
		}
		consumers := int64(2)
		if isLast {
			consumers = 1
		}
		handle := reader.NewBufferHandle(index, buf, uint64(n), isLast, consumers)
		rd.RegisterBuffer(handle)
		return handle, nil
	}
	consumers := int64(2)
	if rd.Format() == reader.FormatArray {
		// Array framing passes its remainder through the reader's serial
		// slot, so no successor reads this handle.
		consumers = 1
	}
	return rd.NextBuffer(make([]byte, g.BufferCapacity), consumers)
}

// skipOverArrayStart advances the cursor past leading whitespace and the
// opening '[' of a top-level-array file.
func (l *LocalState) skipOverArrayStart(rd *reader.FileReader) error {
	l.bufferOffset = skipWhitespace(l.buffer, l.bufferOffset)
	if l.bufferOffset >= len(l.buffer) || l.buffer[l.bufferOffset] != '[' {
		return &ParseError{
			File: rd.Path(),
			Msg:  "expected top-level JSON array to start with '['",
		}
	}
	l.bufferOffset++
	return nil
}

// reconstructFirstObject splices the trailing partial record of the
// predecessor buffer with the head of the current one and parses it as this
// buffer's first record.
func (l *LocalState) reconstructFirstObject(g *GlobalState, rd *reader.FileReader) error {
	var tail []byte
	switch rd.Format() {
	case reader.FormatArray:
		tail = rd.TakeTail()
	default:
		prev := rd.GetBuffer(l.currentHandle.Index - 1)
		if prev == nil {
			// The predecessor ended exactly on a record boundary and has
			// already been fully released.
			return nil
		}
		data := prev.Buffer[:prev.Size]
		if pos, found := lastNewline(data); found {
			tail = data[pos+1:]
		} else {
			tail = data
		}
		l.reconstructScratch = append(l.reconstructScratch[:0], tail...)
		tail = l.reconstructScratch
		rd.ReleaseBuffer(prev)
	}
	if allWhitespace(tail, 0) {
		return nil
	}

	// The tail and the head are scanned as one run, so the string and nesting
	// state reached at the end of the tail carries into this buffer.
	joined := append(append(l.reconstructScratch[:0], tail...), l.buffer[l.bufferOffset:]...)
	l.reconstructScratch = joined
	var end int
	var found bool
	if rd.Format() == reader.FormatArray {
		end, found = scanArrayElement(joined, 0)
	} else {
		end, found = scanToNewline(joined, 0)
	}
	if !found {
		if !l.isLast {
			size := uint64(len(tail) + len(l.buffer))
			return &SizeError{File: rd.Path(), Size: size, Limit: g.Bind.Options.MaximumObjectSize}
		}
		end = len(joined)
	}
	record := joined[:end]
	if uint64(len(record)) > g.Bind.Options.MaximumObjectSize {
		return &SizeError{File: rd.Path(), Size: uint64(len(record)), Limit: g.Bind.Options.MaximumObjectSize}
	}
	l.bufferOffset += end - len(tail)
	if found && rd.Format() != reader.FormatArray {
		l.bufferOffset++
	}
	return l.parseRecord(g, rd, record)
}

// recoverFinalRecord completes a trailing record left behind when the stream
// ended exactly on a buffer boundary.
func (l *LocalState) recoverFinalRecord(g *GlobalState, rd *reader.FileReader) (bool, error) {
	if !rd.ClaimTailRecovery() {
		return false, nil
	}
	var tail []byte
	if rd.Format() == reader.FormatArray {
		tail = rd.TakeTail()
	} else if prev := rd.LastBuffer(); prev != nil {
		data := prev.Buffer[:prev.Size]
		if pos, found := lastNewline(data); found {
			tail = data[pos+1:]
		} else {
			tail = data
		}
		l.reconstructScratch = append(l.reconstructScratch[:0], tail...)
		tail = l.reconstructScratch
		rd.ReleaseBuffer(prev)
	}
	if allWhitespace(tail, 0) {
		return false, nil
	}
	l.reconstructScratch = append(l.reconstructScratch[:0], tail...)
	l.currentHandle = nil
	l.buffer = l.reconstructScratch
	l.bufferOffset = 0
	l.isLast = true
	l.recordsInBuffer = 0
	l.BatchIndex = g.batchIndex.Add(1) - 1
	return true, nil
}

// parseNextChunk parses up to VectorSize records from the current cursor.
func (l *LocalState) parseNextChunk(g *GlobalState) error {
	rd := l.currentReader
	format := reader.FormatNewlineDelimited
	if rd != nil {
		format = rd.Format()
	}
	maxSize := g.Bind.Options.MaximumObjectSize

	for l.ScanCount < VectorSize {
		l.bufferOffset = skipWhitespace(l.buffer, l.bufferOffset)
		if l.bufferOffset >= len(l.buffer) {
			return nil
		}
		switch format {
		case reader.FormatArray:
			if l.arrayEnded {
				if !allWhitespace(l.buffer, l.bufferOffset) && !l.TransformOptions.IgnoreErrors {
					return &ParseError{File: rd.Path(), Msg: "trailing content after closing ']' of top-level array"}
				}
				l.bufferOffset = len(l.buffer)
				return nil
			}
			c := l.buffer[l.bufferOffset]
			if c == ',' {
				l.bufferOffset++
				continue
			}
			if c == ']' {
				l.arrayEnded = true
				l.bufferOffset++
				continue
			}
			end, found := scanArrayElement(l.buffer, l.bufferOffset)
			if !found {
				if l.isLast {
					record := l.buffer[l.bufferOffset:]
					l.bufferOffset = len(l.buffer)
					if err := l.parseRecord(g, rd, record); err != nil {
						return err
					}
					continue
				}
				if uint64(len(l.buffer)-l.bufferOffset) > maxSize {
					return &SizeError{File: rd.Path(), Size: uint64(len(l.buffer) - l.bufferOffset), Limit: maxSize}
				}
				l.pendingTail = l.buffer[l.bufferOffset:]
				l.bufferOffset = len(l.buffer)
				return nil
			}
			record := l.buffer[l.bufferOffset:end]
			l.bufferOffset = end
			if err := l.parseRecord(g, rd, record); err != nil {
				return err
			}
		default:
			end, found := scanToNewline(l.buffer, l.bufferOffset)
			if !found {
				if l.isLast {
					record := l.buffer[l.bufferOffset:]
					l.bufferOffset = len(l.buffer)
					if err := l.parseRecord(g, rd, record); err != nil {
						return err
					}
					continue
				}
				// The remainder travels to the successor buffer through
				// reconstruction; never dropped, even under ignore_errors.
				if uint64(len(l.buffer)-l.bufferOffset) > maxSize {
					return &SizeError{File: rd.Path(), Size: uint64(len(l.buffer) - l.bufferOffset), Limit: maxSize}
				}
				l.bufferOffset = len(l.buffer)
				return nil
			}
			record := l.buffer[l.bufferOffset:end]
			l.bufferOffset = end + 1
			if err := l.parseRecord(g, rd, record); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseRecord parses one record's bytes with the worker's DOM parser and
// appends it to the batch. Malformed records are skipped under
// ignore_errors; oversized records are always fatal.
func (l *LocalState) parseRecord(g *GlobalState, rd *reader.FileReader, record []byte) error {
	for len(record) > 0 && isWhitespace(record[len(record)-1]) {
		record = record[:len(record)-1]
	}
	if allWhitespace(record, 0) {
		return nil
	}
	if uint64(len(record)) > g.Bind.Options.MaximumObjectSize {
		return &SizeError{File: rd.Path(), Size: uint64(len(record)), Limit: g.Bind.Options.MaximumObjectSize}
	}
	recordInBuffer := l.recordsInBuffer
	l.recordsInBuffer++
	l.TotalTupleCount++
	l.TotalReadSize += uint64(len(record))

	value, err := l.parsers[l.ScanCount].ParseBytes(record)
	if err != nil {
		if l.TransformOptions.IgnoreErrors {
			return nil
		}
		return l.parseError(rd, recordInBuffer, err.Error())
	}
	l.Units[l.ScanCount] = JSONSlice(record)
	l.Values[l.ScanCount] = value
	l.ScanCount++
	return nil
}

func (l *LocalState) parseError(rd *reader.FileReader, recordInBuffer int64, msg string) error {
	e := &ParseError{
		File:           rd.Path(),
		RecordInBuffer: recordInBuffer,
		Msg:            msg,
	}
	if l.currentHandle != nil {
		e.BufferIndex = l.currentHandle.Index
		if abs, ok := rd.RecordNumber(l.currentHandle.Index, recordInBuffer); ok {
			e.Record = abs
		}
	}
	return e
}

// TransformError builds the error for a value that does not fit its column,
// with the batch-relative record resolved to a file locator where possible.
func (l *LocalState) TransformError(rd *reader.FileReader, recordInBatch int, column, msg string) error {
	e := &TransformError{Column: column, Msg: msg}
	if rd != nil {
		e.File = rd.Path()
	}
	if l.currentHandle != nil && rd != nil {
		if abs, ok := rd.RecordNumber(l.currentHandle.Index, int64(recordInBatch)); ok {
			e.Record = abs
		}
	}
	return e
}

// Reader exposes the worker's current reader, for error locators.
func (l *LocalState) Reader() *reader.FileReader { return l.currentReader }

// GetBatchIndex returns the worker's current batch index.
func (l *LocalState) GetBatchIndex() uint64 { return l.BatchIndex }
