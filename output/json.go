package output

import (
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/segmentio/encoding/json"
)

// JSONFormatter outputs record batches as JSON Lines format
type JSONFormatter struct {
	writer io.Writer
}

// NewJSONFormatter creates a new JSON Lines formatter
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{writer: w}
}

// Format writes one record batch as JSON Lines (one JSON object per line)
func (j *JSONFormatter) Format(record arrow.Record) error {
	encoder := json.NewEncoder(j.writer)
	for _, row := range RecordRows(record) {
		for key, value := range row {
			// Dates render as their calendar day, not a full RFC 3339 stamp.
			if t, ok := value.(time.Time); ok && t.Equal(t.Truncate(24*time.Hour)) {
				row[key] = t.Format("2006-01-02")
			}
		}
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; JSON Lines output is unbuffered.
func (j *JSONFormatter) Close() error {
	return nil
}
