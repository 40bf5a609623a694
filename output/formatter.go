// Package output provides formatters for converting scanned record batches
// to various output formats.
//
// Currently supported formats:
//   - JSON Lines: one JSON object per line
//   - CSV: comma-separated values with header row
//   - Table: aligned text table
//   - Parquet: columnar file output
//
// Example usage:
//
//	formatter := output.NewJSONFormatter(os.Stdout)
//	if err := formatter.Format(record); err != nil {
//	    log.Fatal(err)
//	}
//	if err := formatter.Close(); err != nil {
//	    log.Fatal(err)
//	}
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Formatter defines the interface for output formatters.
//
// Format may be called once per record batch; Close flushes any buffered
// output and must be called when the scan is done.
type Formatter interface {
	// Format writes one record batch in the formatter's specific format
	Format(record arrow.Record) error

	// Close flushes buffered output
	Close() error
}

// RecordRows converts a record batch into row maps keyed by column name.
func RecordRows(record arrow.Record) []map[string]interface{} {
	schema := record.Schema()
	rows := make([]map[string]interface{}, record.NumRows())
	for row := int64(0); row < record.NumRows(); row++ {
		m := make(map[string]interface{}, record.NumCols())
		for col := 0; col < int(record.NumCols()); col++ {
			m[schema.Field(col).Name] = CellValue(record.Column(col), int(row))
		}
		rows[int(row)] = m
	}
	return rows
}

// CellValue extracts one cell of an Arrow array as a plain Go value: nil,
// bool, int64, float64, string, time values, []interface{} for lists and
// map[string]interface{} for structs.
func CellValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}
	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row)
	case *array.Int64:
		return arr.Value(row)
	case *array.Float64:
		return arr.Value(row)
	case *array.String:
		return arr.Value(row)
	case *array.Date32:
		return arr.Value(row).ToTime()
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return arr.Value(row).ToTime(unit)
	case *array.List:
		start, end := arr.ValueOffsets(row)
		values := make([]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			values = append(values, CellValue(arr.ListValues(), int(i)))
		}
		return values
	case *array.Struct:
		st := arr.DataType().(*arrow.StructType)
		m := make(map[string]interface{}, st.NumFields())
		for i := 0; i < st.NumFields(); i++ {
			m[st.Field(i).Name] = CellValue(arr.Field(i), row)
		}
		return m
	default:
		return fmt.Sprintf("%v", col.ValueStr(row))
	}
}

// FormatCell renders one cell as a string, for the CSV and table formats.
func FormatCell(col arrow.Array, row int) string {
	v := CellValue(col, row)
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return sanitizeCell(val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// sanitizeCell guards against CSV injection by prefixing dangerous leading
// characters that could trigger formula execution in spreadsheet
// applications.
func sanitizeCell(val string) string {
	if len(val) > 0 {
		firstChar := val[0]
		if firstChar == '=' || firstChar == '+' || firstChar == '-' || firstChar == '@' ||
			firstChar == '\t' || firstChar == '\r' || firstChar == '\n' || firstChar == '|' {
			// Escape existing single quotes and prefix with quote to prevent
			// formula injection
			return "'" + strings.ReplaceAll(val, "'", "''")
		}
	}
	return val
}

// columnNames returns the schema's column names in order.
func columnNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i := range names {
		names[i] = schema.Field(i).Name
	}
	return names
}

// NewFormatter creates the formatter for a named format: "jsonl", "csv",
// "table" or "parquet".
func NewFormatter(format string, w io.Writer, schema *arrow.Schema) (Formatter, error) {
	switch format {
	case "jsonl", "json":
		return NewJSONFormatter(w), nil
	case "csv":
		return NewCSVFormatter(w, schema), nil
	case "table":
		return NewTableFormatter(w, schema), nil
	case "parquet":
		return NewParquetFormatter(w, schema)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
