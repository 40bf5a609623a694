package scan

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/segmentio/encoding/json"

	"github.com/quilldb/quill/reader"
)

// VectorSize is the maximum number of records per batch (K).
const VectorSize = 2048

const (
	// MinimumObjectSize is the floor for the maximum_object_size option.
	MinimumObjectSize = 16 * 1024 * 1024
	// DefaultSampleSize is the schema-detection sample bound.
	DefaultSampleSize = 10 * VectorSize
	// DefaultAvgTupleSize is the tuple size hint used before detection.
	DefaultAvgTupleSize = 420
)

// ScanType selects what the scan produces.
type ScanType uint8

const (
	// ScanTypeRecords reads JSON straight to columnar data.
	ScanTypeRecords ScanType = iota + 1
	// ScanTypeStrings reads whole JSON records as strings.
	ScanTypeStrings
	// ScanTypeSample is a bounded run for schema detection.
	ScanTypeSample
)

// ColumnSpec is one entry of the user-supplied columns parameter.
type ColumnSpec struct {
	Name string
	Type string
}

// Options are the file-level scan options, populated from table-function
// parameters with the documented defaults and clamps.
type Options struct {
	Format      reader.Format
	Compression reader.Compression
	// IgnoreErrors skips malformed records and nulls out untransformable
	// tuples instead of failing the scan.
	IgnoreErrors bool
	// MaximumObjectSize bounds a single record; clamped to at least 16 MiB.
	MaximumObjectSize uint64
	// BufferSize is the requested scan buffer capacity; the effective
	// capacity is never below MaximumObjectSize so any single record fits.
	// Zero means twice the maximum object size.
	BufferSize uint64
	AutoDetect        bool
	SampleSize        int64
	// MaxDepth bounds nested schema detection; values below it are typed,
	// anything deeper is kept as JSON text.
	MaxDepth int64
	// DateFormat and TimestampFormat force a format, skipping detection for
	// that type.
	DateFormat      string
	TimestampFormat string
	// Logger receives debug-level scan events; nil discards them.
	Logger *slog.Logger
}

func defaultOptions() Options {
	return Options{
		Format:            reader.FormatAuto,
		Compression:       reader.CompressionAuto,
		MaximumObjectSize: MinimumObjectSize,
		SampleSize:        DefaultSampleSize,
		MaxDepth:          math.MaxInt64,
	}
}

// TransformOptions control the DOM-to-column transform.
type TransformOptions struct {
	// IgnoreErrors emits NULL tuples for values that do not fit the declared
	// column type instead of failing.
	IgnoreErrors bool
}

// BindData is the immutable result of binding a JSON scan: the resolved
// file list, options, and the column schema (declared or detected).
type BindData struct {
	Type    ScanType
	Files   []string
	Options Options

	// Names and Types are the full column schema, in order.
	Names []string
	Types []arrow.DataType

	TransformOptions TransformOptions
	// DateFormats holds the retained date/timestamp format candidates.
	DateFormats *DateFormatMap
	// AvgTupleSize is the inferred average record size in bytes, used for
	// cardinality estimation.
	AvgTupleSize int64
}

// Bind resolves the table-function parameters into a BindData, expanding
// glob patterns and running schema detection when requested.
//
// Recognized parameters: format, compression, columns ([]ColumnSpec),
// auto_detect, sample_size, maximum_object_size, ignore_errors, dateformat,
// timestampformat, maximum_depth.
func Bind(scanType ScanType, patterns []string, params map[string]any) (*BindData, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("json scan requires at least one input file")
	}
	files, err := reader.ExpandPaths(patterns)
	if err != nil {
		return nil, err
	}

	bind := &BindData{
		Type:         scanType,
		Files:        files,
		Options:      defaultOptions(),
		DateFormats:  NewDateFormatMap(),
		AvgTupleSize: DefaultAvgTupleSize,
	}

	var columns []ColumnSpec
	for key, value := range params {
		switch key {
		case "format":
			s, err := paramString(key, value)
			if err != nil {
				return nil, err
			}
			if bind.Options.Format, err = reader.ParseFormat(s); err != nil {
				return nil, err
			}
		case "compression":
			s, err := paramString(key, value)
			if err != nil {
				return nil, err
			}
			if bind.Options.Compression, err = reader.ParseCompression(s); err != nil {
				return nil, err
			}
		case "columns":
			cols, ok := value.([]ColumnSpec)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a list of column specs", key)
			}
			columns = cols
		case "auto_detect":
			if bind.Options.AutoDetect, err = paramBool(key, value); err != nil {
				return nil, err
			}
		case "sample_size":
			n, err := paramInt(key, value)
			if err != nil {
				return nil, err
			}
			if n <= 0 {
				return nil, fmt.Errorf("sample_size must be positive")
			}
			bind.Options.SampleSize = n
		case "maximum_object_size":
			n, err := paramInt(key, value)
			if err != nil {
				return nil, err
			}
			bind.Options.MaximumObjectSize = uint64(n)
		case "ignore_errors":
			if bind.Options.IgnoreErrors, err = paramBool(key, value); err != nil {
				return nil, err
			}
		case "dateformat":
			if bind.Options.DateFormat, err = paramString(key, value); err != nil {
				return nil, err
			}
		case "timestampformat":
			if bind.Options.TimestampFormat, err = paramString(key, value); err != nil {
				return nil, err
			}
		case "maximum_depth":
			if bind.Options.MaxDepth, err = paramInt(key, value); err != nil {
				return nil, err
			}
		case "logger":
			logger, ok := value.(*slog.Logger)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a *slog.Logger", key)
			}
			bind.Options.Logger = logger
		default:
			return nil, fmt.Errorf("unknown parameter %q for json scan", key)
		}
	}

	if bind.Options.MaximumObjectSize < MinimumObjectSize {
		bind.Options.MaximumObjectSize = MinimumObjectSize
	}
	if bind.Options.MaxDepth <= 0 {
		bind.Options.MaxDepth = math.MaxInt64
	}
	bind.TransformOptions.IgnoreErrors = bind.Options.IgnoreErrors

	// A forced format becomes the sole candidate, skipping detection for
	// that type.
	if bind.Options.DateFormat != "" {
		if err := bind.DateFormats.AddFormat(arrow.DATE32, bind.Options.DateFormat); err != nil {
			return nil, err
		}
	}
	if bind.Options.TimestampFormat != "" {
		if err := bind.DateFormats.AddFormat(arrow.TIMESTAMP, bind.Options.TimestampFormat); err != nil {
			return nil, err
		}
	}

	switch {
	case scanType == ScanTypeStrings:
		bind.Names = []string{"json"}
		bind.Types = []arrow.DataType{arrow.BinaryTypes.String}
	case len(columns) > 0:
		if bind.Options.AutoDetect {
			return nil, fmt.Errorf("cannot combine auto_detect with an explicit columns parameter")
		}
		for _, col := range columns {
			typ, err := ParseTypeString(col.Type)
			if err != nil {
				return nil, err
			}
			bind.Names = append(bind.Names, col.Name)
			bind.Types = append(bind.Types, typ)
		}
	default:
		bind.Options.AutoDetect = true
		if err := bind.DateFormats.InitializeDefaults(); err != nil {
			return nil, err
		}
		if err := DetectSchema(bind); err != nil {
			return nil, err
		}
	}
	return bind, nil
}

func paramString(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}

func paramBool(key string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q must be a boolean", key)
	}
	return b, nil
}

func paramInt(key string, value any) (int64, error) {
	switch n := value.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %q must be an integer", key)
	}
}

// Schema returns the scan's output schema as an Arrow schema.
func (b *BindData) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(b.Names))
	for i, name := range b.Names {
		fields[i] = arrow.Field{Name: name, Type: b.Types[i], Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// EstimatedCardinality estimates the total record count across all files as
// file_size_sum / avg_tuple_size. It reports false when no file could be
// statted.
func (b *BindData) EstimatedCardinality() (int64, bool) {
	var total int64
	found := false
	for _, f := range b.Files {
		stat, err := os.Stat(f)
		if err != nil {
			continue
		}
		found = true
		total += stat.Size()
	}
	if !found {
		return 0, false
	}
	avg := b.AvgTupleSize
	if avg < 1 {
		avg = 1
	}
	return total / avg, true
}

// PruneFiles drops files rejected by keep, the seam used by complex-filter
// pushdown on the file name. It returns the number of files removed.
func (b *BindData) PruneFiles(keep func(file string) bool) int {
	kept := b.Files[:0]
	for _, f := range b.Files {
		if keep(f) {
			kept = append(kept, f)
		}
	}
	removed := len(b.Files) - len(kept)
	b.Files = kept
	return removed
}

func (b *BindData) logger() *slog.Logger {
	if b.Options.Logger != nil {
		return b.Options.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// serializedBindData is the flat record persisted for plan caching.
type serializedBindData struct {
	Type              uint8               `json:"type"`
	Files             []string            `json:"files"`
	Format            string              `json:"format"`
	Compression       string              `json:"compression"`
	IgnoreErrors      bool                `json:"ignore_errors"`
	MaximumObjectSize uint64              `json:"maximum_object_size"`
	BufferSize        uint64              `json:"buffer_size,omitempty"`
	AutoDetect        bool                `json:"auto_detect"`
	SampleSize        int64               `json:"sample_size"`
	MaxDepth          int64               `json:"maximum_depth"`
	DateFormat        string              `json:"dateformat,omitempty"`
	TimestampFormat   string              `json:"timestampformat,omitempty"`
	Names             []string            `json:"names"`
	Types             []string            `json:"types"`
	DateFormats       map[string][]string `json:"date_formats"`
	AvgTupleSize      int64               `json:"avg_tuple_size"`
}

// Serialize flattens the bind data for plan caching. The round trip
// preserves the detected schema, the retained date-format candidates and
// the inferred average tuple size.
func (b *BindData) Serialize() ([]byte, error) {
	types := make([]string, len(b.Types))
	for i, t := range b.Types {
		types[i] = FormatType(t)
	}
	return json.Marshal(serializedBindData{
		Type:              uint8(b.Type),
		Files:             b.Files,
		Format:            b.Options.Format.String(),
		Compression:       b.Options.Compression.String(),
		IgnoreErrors:      b.Options.IgnoreErrors,
		MaximumObjectSize: b.Options.MaximumObjectSize,
		BufferSize:        b.Options.BufferSize,
		AutoDetect:        b.Options.AutoDetect,
		SampleSize:        b.Options.SampleSize,
		MaxDepth:          b.Options.MaxDepth,
		DateFormat:        b.Options.DateFormat,
		TimestampFormat:   b.Options.TimestampFormat,
		Names:             b.Names,
		Types:             types,
		DateFormats:       b.DateFormats.specifiers(),
		AvgTupleSize:      b.AvgTupleSize,
	})
}

// DeserializeBindData restores a BindData serialized with Serialize.
func DeserializeBindData(data []byte) (*BindData, error) {
	var s serializedBindData
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to deserialize json scan bind data: %w", err)
	}
	bind := &BindData{
		Type:         ScanType(s.Type),
		Files:        s.Files,
		Options:      defaultOptions(),
		Names:        s.Names,
		DateFormats:  NewDateFormatMap(),
		AvgTupleSize: s.AvgTupleSize,
	}
	var err error
	if bind.Options.Format, err = reader.ParseFormat(s.Format); err != nil {
		return nil, err
	}
	if bind.Options.Compression, err = reader.ParseCompression(s.Compression); err != nil {
		return nil, err
	}
	bind.Options.IgnoreErrors = s.IgnoreErrors
	bind.Options.MaximumObjectSize = s.MaximumObjectSize
	bind.Options.BufferSize = s.BufferSize
	bind.Options.AutoDetect = s.AutoDetect
	bind.Options.SampleSize = s.SampleSize
	bind.Options.MaxDepth = s.MaxDepth
	bind.Options.DateFormat = s.DateFormat
	bind.Options.TimestampFormat = s.TimestampFormat
	bind.TransformOptions.IgnoreErrors = s.IgnoreErrors
	for _, t := range s.Types {
		typ, err := ParseTypeString(t)
		if err != nil {
			return nil, err
		}
		bind.Types = append(bind.Types, typ)
	}
	for key, specs := range s.DateFormats {
		typ, err := typeFromKey(key)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			if err := bind.DateFormats.AddFormat(typ, spec); err != nil {
				return nil, err
			}
		}
	}
	return bind, nil
}
