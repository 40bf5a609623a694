package scan

import "fmt"

// ParseError reports malformed JSON with a file and record locator.
// Record is 1-based; it is zero when the absolute record number could not be
// determined because an earlier buffer had not finished parsing, in which
// case BufferIndex and RecordInBuffer locate the record instead.
type ParseError struct {
	File           string
	Record         int64
	BufferIndex    uint64
	RecordInBuffer int64
	Msg            string
}

func (e *ParseError) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("malformed JSON in file %q, at record %d: %s", e.File, e.Record, e.Msg)
	}
	return fmt.Sprintf("malformed JSON in file %q, in buffer %d at record %d: %s",
		e.File, e.BufferIndex, e.RecordInBuffer+1, e.Msg)
}

// SizeError reports a record larger than the configured maximum object size.
// It is always fatal, regardless of the ignore_errors setting.
type SizeError struct {
	File  string
	Size  uint64
	Limit uint64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("in file %q: JSON object size %d bytes exceeds maximum_object_size of %d bytes",
		e.File, e.Size, e.Limit)
}

// TransformError reports a value that cannot be cast to its declared column
// type. Under ignore_errors the offending tuple becomes NULL instead.
type TransformError struct {
	File   string
	Record int64
	Column string
	Msg    string
}

func (e *TransformError) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("failed to transform column %q in file %q, at record %d: %s",
			e.Column, e.File, e.Record, e.Msg)
	}
	return fmt.Sprintf("failed to transform column %q in file %q: %s", e.Column, e.File, e.Msg)
}
