package reader

import "sync/atomic"

// BufferHandle is a refcounted chunk of decoded bytes belonging to one
// FileReader. Handles carry a monotonically increasing per-file index; the
// index order is the byte order of the file, which the scan relies on when
// splicing records that straddle a buffer boundary.
type BufferHandle struct {
	// Index is the per-file buffer sequence number, assigned by the reader.
	Index uint64
	// Buffer holds the decoded bytes; only Buffer[:Size] is valid.
	Buffer []byte
	// Size is the number of valid bytes in Buffer.
	Size uint64
	// IsLast reports whether this buffer ends the file.
	IsLast bool

	readers atomic.Int64
}

// NewBufferHandle wraps buf[:size] in a handle with the given consumer count.
func NewBufferHandle(index uint64, buf []byte, size uint64, isLast bool, consumers int64) *BufferHandle {
	h := &BufferHandle{
		Index:  index,
		Buffer: buf,
		Size:   size,
		IsLast: isLast,
	}
	h.readers.Store(consumers)
	return h
}

// Release drops one consumer and reports whether the handle is now dead.
// The last consumer to release a handle owns its removal from the reader.
func (h *BufferHandle) Release() bool {
	return h.readers.Add(-1) == 0
}

// Retain adds a consumer.
func (h *BufferHandle) Retain() {
	h.readers.Add(1)
}
