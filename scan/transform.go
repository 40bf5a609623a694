package scan

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/valyala/fastjson"
)

// Transformer converts a batch of DOM values into an Arrow record batch
// with the scan's projected schema.
type Transformer struct {
	scanType ScanType
	names    []string
	types    []arrow.DataType
	schema   *arrow.Schema
	builder  *array.RecordBuilder
}

// NewTransformer creates a transformer for the scan's projected columns.
func NewTransformer(alloc memory.Allocator, g *GlobalState) *Transformer {
	t := &Transformer{scanType: g.Bind.Type}
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	t.names = append(t.names, g.Names...)
	for _, idx := range g.ColumnIndices {
		t.types = append(t.types, g.Bind.Types[idx])
	}
	fields := make([]arrow.Field, len(t.names))
	for i, name := range t.names {
		fields[i] = arrow.Field{Name: name, Type: t.types[i], Nullable: true}
	}
	t.schema = arrow.NewSchema(fields, nil)
	t.builder = array.NewRecordBuilder(alloc, t.schema)
	return t
}

// Schema returns the output schema.
func (t *Transformer) Schema() *arrow.Schema { return t.schema }

// Release frees the underlying builders.
func (t *Transformer) Release() { t.builder.Release() }

// Transform materializes the local state's current batch as a record.
// A tuple that cannot be cast to the declared column types is emitted as
// NULL under ignore_errors, and fails the scan with a located error
// otherwise.
func (t *Transformer) Transform(l *LocalState) (arrow.Record, error) {
	if t.scanType == ScanTypeStrings {
		sb := t.builder.Field(0).(*array.StringBuilder)
		for i := 0; i < l.ScanCount; i++ {
			sb.Append(string(l.Units[i]))
		}
		return t.builder.NewRecord(), nil
	}
	for i := 0; i < l.ScanCount; i++ {
		value := l.Values[i]
		if col, err := t.checkRecord(l, value); err != nil {
			if l.TransformOptions.IgnoreErrors {
				t.appendNullRow()
				continue
			}
			t.builder.NewRecord().Release()
			return nil, l.TransformError(l.Reader(), i, col, err.Error())
		}
		t.appendRecord(l, value)
	}
	return t.builder.NewRecord(), nil
}

// checkRecord validates a record against the schema before anything is
// appended, so a failing tuple can still become a NULL row.
func (t *Transformer) checkRecord(l *LocalState, value *fastjson.Value) (string, error) {
	if value.Type() != fastjson.TypeObject {
		return "", fmt.Errorf("expected a JSON object, got %s", value.Type())
	}
	for i, name := range t.names {
		if err := t.checkValue(l, t.types[i], value.Get(name)); err != nil {
			return name, err
		}
	}
	return "", nil
}

func (t *Transformer) checkValue(l *LocalState, dt arrow.DataType, v *fastjson.Value) error {
	if v == nil || v.Type() == fastjson.TypeNull {
		return nil
	}
	switch dt.ID() {
	case arrow.BOOL:
		if v.Type() != fastjson.TypeTrue && v.Type() != fastjson.TypeFalse {
			return fmt.Errorf("expected BOOLEAN, got %s", v.Type())
		}
	case arrow.INT64:
		if _, err := v.Int64(); err != nil {
			return fmt.Errorf("expected BIGINT, got %s", v.Type())
		}
	case arrow.FLOAT64:
		if _, err := v.Float64(); err != nil {
			return fmt.Errorf("expected DOUBLE, got %s", v.Type())
		}
	case arrow.STRING:
		// Any JSON value stringifies.
	case arrow.DATE32, arrow.TIMESTAMP:
		s, err := v.StringBytes()
		if err != nil {
			return fmt.Errorf("expected a %s string, got %s", FormatType(dt), v.Type())
		}
		if _, err := t.parseTemporal(l, dt, string(s)); err != nil {
			return err
		}
	case arrow.LIST:
		elems, err := v.Array()
		if err != nil {
			return fmt.Errorf("expected a JSON array, got %s", v.Type())
		}
		elemType := dt.(*arrow.ListType).Elem()
		for _, elem := range elems {
			if err := t.checkValue(l, elemType, elem); err != nil {
				return err
			}
		}
	case arrow.STRUCT:
		if v.Type() != fastjson.TypeObject {
			return fmt.Errorf("expected a JSON object, got %s", v.Type())
		}
		for _, field := range dt.(*arrow.StructType).Fields() {
			if err := t.checkValue(l, field.Type, v.Get(field.Name)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported column type %s", dt)
	}
	return nil
}

func (t *Transformer) parseTemporal(l *LocalState, dt arrow.DataType, s string) (time.Time, error) {
	if format, ok := l.DateFormats.Preferred(dt.ID()); ok {
		ts, err := format.Parse(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%q does not match format %q", s, format.Specifier)
		}
		return ts, nil
	}
	layout := "2006-01-02"
	if dt.ID() == arrow.TIMESTAMP {
		layout = "2006-01-02 15:04:05"
	}
	ts, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as %s", s, FormatType(dt))
	}
	return ts, nil
}

func (t *Transformer) appendNullRow() {
	for i := range t.names {
		t.builder.Field(i).AppendNull()
	}
}

func (t *Transformer) appendRecord(l *LocalState, value *fastjson.Value) {
	for i, name := range t.names {
		t.appendValue(l, t.builder.Field(i), t.types[i], value.Get(name))
	}
}

// appendValue appends a pre-validated value to the builder.
func (t *Transformer) appendValue(l *LocalState, b array.Builder, dt arrow.DataType, v *fastjson.Value) {
	if v == nil || v.Type() == fastjson.TypeNull {
		b.AppendNull()
		return
	}
	switch dt.ID() {
	case arrow.BOOL:
		b.(*array.BooleanBuilder).Append(v.Type() == fastjson.TypeTrue)
	case arrow.INT64:
		n, _ := v.Int64()
		b.(*array.Int64Builder).Append(n)
	case arrow.FLOAT64:
		f, _ := v.Float64()
		b.(*array.Float64Builder).Append(f)
	case arrow.STRING:
		if s, err := v.StringBytes(); err == nil {
			b.(*array.StringBuilder).Append(string(s))
		} else {
			// Non-string values keep their raw JSON text.
			b.(*array.StringBuilder).Append(string(v.MarshalTo(nil)))
		}
	case arrow.DATE32:
		s, _ := v.StringBytes()
		ts, _ := t.parseTemporal(l, dt, string(s))
		b.(*array.Date32Builder).Append(arrow.Date32FromTime(ts))
	case arrow.TIMESTAMP:
		s, _ := v.StringBytes()
		ts, _ := t.parseTemporal(l, dt, string(s))
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMicro()))
	case arrow.LIST:
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		elemType := dt.(*arrow.ListType).Elem()
		elems, _ := v.Array()
		for _, elem := range elems {
			t.appendValue(l, lb.ValueBuilder(), elemType, elem)
		}
	case arrow.STRUCT:
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		for fi, field := range dt.(*arrow.StructType).Fields() {
			t.appendValue(l, sb.FieldBuilder(fi), field.Type, v.Get(field.Name))
		}
	default:
		b.AppendNull()
	}
}
