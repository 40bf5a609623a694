package output

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/olekukonko/tablewriter"
)

// TableFormatter outputs record batches as an aligned text table. Rows are
// buffered in the table writer and rendered on Close.
type TableFormatter struct {
	table *tablewriter.Table
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(w io.Writer, schema *arrow.Schema) *TableFormatter {
	table := tablewriter.NewWriter(w)
	table.SetHeader(columnNames(schema))
	table.SetAutoFormatHeaders(false)
	return &TableFormatter{table: table}
}

// Format appends one record batch to the table
func (t *TableFormatter) Format(record arrow.Record) error {
	cells := make([]string, record.NumCols())
	for row := 0; row < int(record.NumRows()); row++ {
		for col := 0; col < int(record.NumCols()); col++ {
			cells[col] = FormatCell(record.Column(col), row)
		}
		t.table.Append(append([]string(nil), cells...))
	}
	return nil
}

// Close renders the buffered table.
func (t *TableFormatter) Close() error {
	t.table.Render()
	return nil
}
