package output

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
)

// CSVFormatter outputs record batches as CSV format
type CSVFormatter struct {
	writer      *csv.Writer
	schema      *arrow.Schema
	wroteHeader bool
}

// NewCSVFormatter creates a new CSV formatter
func NewCSVFormatter(w io.Writer, schema *arrow.Schema) *CSVFormatter {
	return &CSVFormatter{writer: csv.NewWriter(w), schema: schema}
}

// Format writes one record batch as CSV, with a header row before the
// first batch
func (c *CSVFormatter) Format(record arrow.Record) error {
	if !c.wroteHeader {
		if err := c.writer.Write(columnNames(c.schema)); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	cells := make([]string, record.NumCols())
	for row := 0; row < int(record.NumRows()); row++ {
		for col := 0; col < int(record.NumCols()); col++ {
			cells[col] = FormatCell(record.Column(col), row)
		}
		if err := c.writer.Write(cells); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the CSV writer and reports any write error.
func (c *CSVFormatter) Close() error {
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}
