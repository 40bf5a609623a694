// Package reader provides per-file byte access for the JSON scan.
//
// Each FileReader wraps one input file and hands out fixed-capacity,
// refcounted buffers of decoded bytes. Buffers carry a monotonically
// increasing per-file index so that a record straddling two buffers can be
// spliced back together by the consumer of the later buffer.
package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileReader reads one input file as a sequence of BufferHandles.
//
// Buffers are handed out strictly in file order. For seekable uncompressed
// newline-delimited files the reader also supports range hand-out, where a
// worker is given (offset, length) and reads directly with ReadAt.
type FileReader struct {
	path        string
	format      Format
	compression Compression

	file   *os.File
	stream io.ReadCloser
	size   int64

	mu sync.Mutex
	// nextBufferIndex is the index assigned to the next buffer handed out.
	nextBufferIndex uint64
	// buffers holds live handles, keyed by buffer index, so the consumer of
	// buffer k+1 can reach the tail of buffer k.
	buffers map[uint64]*BufferHandle
	// recordCounts maps buffer index to the number of records fully parsed
	// from that buffer; retained for the lifetime of the reader so errors can
	// report absolute record numbers.
	recordCounts map[uint64]int64
	// nextRangeOffset is the next raw-file offset to hand out in seek mode.
	nextRangeOffset int64
	// bytesRead counts decoded bytes consumed, for progress reporting.
	bytesRead int64
	// inFlight marks a serial-framing buffer that has been handed out but not
	// yet exhausted; while set, the reader must not hand out another buffer.
	inFlight bool
	// tail is the unconsumed remainder of the previous serial-framing buffer.
	tail []byte
	// tailRecovered marks that the end-of-stream remainder has been claimed.
	tailRecovered bool

	open bool
	eof  bool
}

// NewFileReader creates a reader for path with the requested framing and
// compression. Nothing is opened until Open is called.
func NewFileReader(path string, format Format, compression Compression) *FileReader {
	return &FileReader{
		path:         path,
		format:       format,
		compression:  compression,
		buffers:      make(map[uint64]*BufferHandle),
		recordCounts: make(map[uint64]int64),
	}
}

// Open opens the underlying file, resolves auto compression from the file
// extension and layers the decompression stream. Framing stays FormatAuto
// until the first buffer has been sniffed.
func (r *FileReader) Open() error {
	if r.open {
		return nil
	}
	file, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if r.compression == CompressionAuto {
		r.compression = DetectCompression(r.path)
	}
	stream, err := wrapDecompression(file, r.compression)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("%s: %w", r.path, err)
	}
	r.file = file
	r.stream = stream
	r.size = stat.Size()
	r.open = true
	return nil
}

// Path returns the file path.
func (r *FileReader) Path() string { return r.path }

// Size returns the raw (compressed) file size in bytes.
func (r *FileReader) Size() int64 { return r.size }

// Compression returns the resolved compression codec.
func (r *FileReader) Compression() Compression { return r.compression }

// Format returns the current framing, possibly still FormatAuto.
func (r *FileReader) Format() Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format
}

// SetFormat records the framing once it has been sniffed or forced.
func (r *FileReader) SetFormat(f Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = f
}

// Seekable reports whether workers may read ranges of this file directly.
// Compressed streams must be read serially.
func (r *FileReader) Seekable() bool {
	return r.open && r.compression == CompressionNone
}

// Exhausted reports whether all bytes have been handed out.
func (r *FileReader) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return false
	}
	if r.Seekable() && r.format == FormatNewlineDelimited {
		return r.nextRangeOffset >= r.size
	}
	return r.eof
}

// NextBuffer reads up to cap(buf) decoded bytes from the serial stream into
// buf and wraps them in a handle with the given consumer count. It returns
// nil when the stream has no bytes left.
func (r *FileReader) NextBuffer(buf []byte, consumers int64) (*BufferHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil, fmt.Errorf("%s: reader is not open", r.path)
	}
	if r.eof {
		return nil, nil
	}
	n, err := io.ReadFull(r.stream, buf)
	isLast := false
	switch {
	case err == nil:
		// For uncompressed files the raw size tells us whether the stream
		// ended exactly at the buffer boundary; compressed streams find out
		// on the next call.
		if r.compression == CompressionNone && r.nextRangeOffset+int64(n) >= r.size {
			isLast = true
			r.eof = true
		}
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		isLast = true
		r.eof = true
	default:
		return nil, fmt.Errorf("failed to read %s: %w", r.path, err)
	}
	if n == 0 {
		return nil, nil
	}
	if isLast {
		consumers = 1
	}
	index := r.nextBufferIndex
	r.nextBufferIndex++
	h := NewBufferHandle(index, buf, uint64(n), isLast, consumers)
	r.buffers[index] = h
	r.bytesRead += int64(n)
	if r.compression == CompressionNone {
		// Keep range hand-out in sync in case the file was opened serially for
		// framing detection and later switches to seek-mode reads.
		r.nextRangeOffset += int64(n)
	}
	return h, nil
}

// NextRange hands out the next (offset, length) range of the raw file for
// seek-mode reads, assigning the buffer index for the range. The caller reads
// the range with ReadAt without holding the reader's lock and registers the
// resulting handle.
func (r *FileReader) NextRange(capacity int64) (index uint64, offset, length int64, isLast bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextRangeOffset >= r.size {
		return 0, 0, 0, false, false
	}
	offset = r.nextRangeOffset
	length = capacity
	if offset+length >= r.size {
		length = r.size - offset
		isLast = true
		r.eof = true
	}
	r.nextRangeOffset += length
	index = r.nextBufferIndex
	r.nextBufferIndex++
	return index, offset, length, isLast, true
}

// ReadAt reads a previously handed-out range from the raw file.
func (r *FileReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.file.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("failed to read %s at offset %d: %w", r.path, off, err)
	}
	r.mu.Lock()
	r.bytesRead += int64(n)
	r.mu.Unlock()
	return n, nil
}

// RegisterBuffer publishes a seek-mode handle so later buffers can reach it.
func (r *FileReader) RegisterBuffer(h *BufferHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[h.Index] = h
}

// LastBuffer returns the most recently handed-out live handle, if any.
func (r *FileReader) LastBuffer() *BufferHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextBufferIndex == 0 {
		return nil
	}
	return r.buffers[r.nextBufferIndex-1]
}

// GetBuffer returns the live handle with the given index, if any.
func (r *FileReader) GetBuffer(index uint64) *BufferHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffers[index]
}

// ReleaseBuffer drops one consumer of the handle and removes it from the
// reader once the last consumer is gone.
func (r *FileReader) ReleaseBuffer(h *BufferHandle) {
	if h.Release() {
		r.mu.Lock()
		delete(r.buffers, h.Index)
		r.mu.Unlock()
	}
}

// SetBufferRecordCount records how many records were fully parsed out of the
// buffer with the given index.
func (r *FileReader) SetBufferRecordCount(index uint64, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordCounts[index] = n
}

// RecordNumber resolves a (buffer, record-in-buffer) pair to a 1-based
// absolute record number. It reports false when some earlier buffer has not
// finished parsing yet, in which case the absolute number is unknown.
func (r *FileReader) RecordNumber(index uint64, recordInBuffer int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for i := uint64(0); i < index; i++ {
		n, ok := r.recordCounts[i]
		if !ok {
			return 0, false
		}
		total += n
	}
	return total + recordInBuffer + 1, true
}

// ClaimTailRecovery marks the end-of-stream remainder as claimed. Only the
// first claimant may reconstruct the final record, so a trailing record
// left when the stream ends exactly on a buffer boundary is emitted once.
func (r *FileReader) ClaimTailRecovery() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tailRecovered {
		return false
	}
	r.tailRecovered = true
	return true
}

// AcquireSerial marks the reader's single serial-framing slot busy. It
// reports false if another buffer is already in flight.
func (r *FileReader) AcquireSerial() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight {
		return false
	}
	r.inFlight = true
	return true
}

// ReleaseSerial stores the unconsumed remainder of the in-flight buffer and
// frees the serial slot. The remainder is copied.
func (r *FileReader) ReleaseSerial(tail []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tail = append(r.tail[:0], tail...)
	r.inFlight = false
}

// TakeTail returns and clears the stored remainder of the previous serial
// buffer.
func (r *FileReader) TakeTail() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tail
	r.tail = nil
	return t
}

// BytesRead returns the number of decoded bytes consumed so far, clamped to
// the raw file size so progress never exceeds 100%.
func (r *FileReader) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bytesRead > r.size {
		return r.size
	}
	return r.bytesRead
}

// Close releases the underlying file. It is safe to call Close multiple
// times.
func (r *FileReader) Close() error {
	if !r.open {
		return nil
	}
	r.open = false
	if r.stream != nil {
		_ = r.stream.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
