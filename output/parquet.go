package output

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"
)

// ParquetFormatter writes record batches to a parquet file, mapping the
// scan's Arrow schema onto an equivalent parquet schema.
type ParquetFormatter struct {
	writer *parquet.GenericWriter[map[string]interface{}]
}

// NewParquetFormatter creates a parquet formatter for the scan schema.
func NewParquetFormatter(w io.Writer, schema *arrow.Schema) (*ParquetFormatter, error) {
	group := parquet.Group{}
	for i := 0; i < schema.NumFields(); i++ {
		field := schema.Field(i)
		node, err := parquetNode(field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name, err)
		}
		group[field.Name] = parquet.Optional(node)
	}
	pqSchema := parquet.NewSchema("records", group)
	return &ParquetFormatter{
		writer: parquet.NewGenericWriter[map[string]interface{}](w, pqSchema),
	}, nil
}

// parquetNode maps an Arrow type to a parquet schema node.
func parquetNode(t arrow.DataType) (parquet.Node, error) {
	switch t.ID() {
	case arrow.BOOL:
		return parquet.Leaf(parquet.BooleanType), nil
	case arrow.INT64:
		return parquet.Int(64), nil
	case arrow.FLOAT64:
		return parquet.Leaf(parquet.DoubleType), nil
	case arrow.STRING:
		return parquet.String(), nil
	case arrow.DATE32:
		return parquet.Date(), nil
	case arrow.TIMESTAMP:
		return parquet.Timestamp(parquet.Microsecond), nil
	case arrow.LIST:
		elem, err := parquetNode(t.(*arrow.ListType).Elem())
		if err != nil {
			return nil, err
		}
		return parquet.List(elem), nil
	case arrow.STRUCT:
		group := parquet.Group{}
		for _, field := range t.(*arrow.StructType).Fields() {
			node, err := parquetNode(field.Type)
			if err != nil {
				return nil, err
			}
			group[field.Name] = parquet.Optional(node)
		}
		return group, nil
	default:
		return nil, fmt.Errorf("type %s has no parquet mapping", t)
	}
}

// Format writes one record batch.
func (p *ParquetFormatter) Format(record arrow.Record) error {
	rows := RecordRows(record)
	if len(rows) == 0 {
		return nil
	}
	if _, err := p.writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	return nil
}

// Close finalizes the parquet file footer.
func (p *ParquetFormatter) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
