package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
)

func testRecord(t *testing.T) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "b", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	}, nil)
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	builder.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	builder.Field(1).(*array.StringBuilder).Append("alpha")
	builder.Field(1).(*array.StringBuilder).AppendNull()
	builder.Field(2).(*array.BooleanBuilder).AppendValues([]bool{true, false}, nil)

	record := builder.NewRecord()
	t.Cleanup(func() { record.Release() })
	return record
}

func TestRecordRows(t *testing.T) {
	rows := RecordRows(testRecord(t))
	if len(rows) != 2 {
		t.Fatalf("RecordRows() = %d rows, want 2", len(rows))
	}
	if rows[0]["i"] != int64(1) || rows[0]["s"] != "alpha" || rows[0]["b"] != true {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1]["s"] != nil {
		t.Errorf("row 1 s = %v, want nil", rows[1]["s"])
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(&buf)
	if err := f.Format(testRecord(t)); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q, want 2 lines", buf.String())
	}
	if !strings.Contains(lines[0], `"i":1`) || !strings.Contains(lines[0], `"s":"alpha"`) {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"s":null`) {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestCSVFormatter(t *testing.T) {
	record := testRecord(t)
	var buf bytes.Buffer
	f := NewCSVFormatter(&buf, record.Schema())
	if err := f.Format(record); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{"i,s,b", "1,alpha,true", "2,,false"}
	if len(lines) != len(want) {
		t.Fatalf("output = %q", buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTableFormatter(t *testing.T) {
	record := testRecord(t)
	var buf bytes.Buffer
	f := NewTableFormatter(&buf, record.Schema())
	if err := f.Format(record); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	out := buf.String()
	for _, cell := range []string{"i", "s", "alpha", "1", "2"} {
		if !strings.Contains(out, cell) {
			t.Errorf("table output missing %q:\n%s", cell, out)
		}
	}
}

func TestCSVFormatter_SanitizesFormulaCells(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()
	for _, v := range []string{"=SUM(A1:A9)", "+1", "@cmd", "|pipe", "plain", "it's ='x'"} {
		builder.Field(0).(*array.StringBuilder).Append(v)
	}
	record := builder.NewRecord()
	defer record.Release()

	var buf bytes.Buffer
	f := NewCSVFormatter(&buf, schema)
	if err := f.Format(record); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{"s", "'=SUM(A1:A9)", "'+1", "'@cmd", "'|pipe", "plain", "it's ='x'"}
	if len(lines) != len(want) {
		t.Fatalf("output = %q", buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

// asInt64 tolerates the integer widths the parquet reader may hand back.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func TestParquetFormatter_RoundTrip(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "l", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
		{Name: "o", Type: arrow.StructOf(
			arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			arrow.Field{Name: "y", Type: arrow.BinaryTypes.String, Nullable: true},
		), Nullable: true},
	}, nil)
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	builder.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	builder.Field(1).(*array.StringBuilder).Append("alpha")
	builder.Field(1).(*array.StringBuilder).AppendNull()
	lb := builder.Field(2).(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	lb.Append(true)
	lb.ValueBuilder().(*array.Int64Builder).Append(3)
	sb := builder.Field(3).(*array.StructBuilder)
	sb.Append(true)
	sb.FieldBuilder(0).(*array.Int64Builder).Append(9)
	sb.FieldBuilder(1).(*array.StringBuilder).Append("z")
	sb.Append(true)
	sb.FieldBuilder(0).(*array.Int64Builder).Append(8)
	sb.FieldBuilder(1).(*array.StringBuilder).Append("w")

	record := builder.NewRecord()
	defer record.Release()

	var buf bytes.Buffer
	f, err := NewParquetFormatter(&buf, schema)
	if err != nil {
		t.Fatalf("NewParquetFormatter() error = %v", err)
	}
	if err := f.Format(record); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rows, err := parquet.Read[map[string]interface{}](
		bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("failed to read written parquet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("read %d rows, want 2", len(rows))
	}

	if got, ok := asInt64(rows[0]["i"]); !ok || got != 1 {
		t.Errorf("i[0] = %v", rows[0]["i"])
	}
	if got, ok := asInt64(rows[1]["i"]); !ok || got != 2 {
		t.Errorf("i[1] = %v", rows[1]["i"])
	}
	if got, ok := rows[0]["s"].(string); !ok || got != "alpha" {
		t.Errorf("s[0] = %v", rows[0]["s"])
	}
	if rows[1]["s"] != nil {
		t.Errorf("s[1] = %v, want null", rows[1]["s"])
	}

	list, ok := rows[0]["l"].([]interface{})
	if !ok {
		t.Fatalf("l[0] = %T, want list", rows[0]["l"])
	}
	if len(list) != 2 {
		t.Fatalf("l[0] length = %d, want 2", len(list))
	}
	for i, want := range []int64{1, 2} {
		if got, ok := asInt64(list[i]); !ok || got != want {
			t.Errorf("l[0][%d] = %v, want %d", i, list[i], want)
		}
	}

	nested, ok := rows[0]["o"].(map[string]interface{})
	if !ok {
		t.Fatalf("o[0] = %T, want struct", rows[0]["o"])
	}
	if got, ok := asInt64(nested["x"]); !ok || got != 9 {
		t.Errorf("o[0].x = %v", nested["x"])
	}
	if got, ok := nested["y"].(string); !ok || got != "z" {
		t.Errorf("o[0].y = %v", nested["y"])
	}
}

func TestNewFormatter_UnknownFormat(t *testing.T) {
	if _, err := NewFormatter("yaml", &bytes.Buffer{}, testRecord(t).Schema()); err == nil {
		t.Errorf("NewFormatter(yaml) succeeded, want error")
	}
}
