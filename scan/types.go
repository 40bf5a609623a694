package scan

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// FormatType renders a column type in the SQL-facing spelling used by the
// columns parameter and the serialized bind data.
func FormatType(t arrow.DataType) string {
	switch t.ID() {
	case arrow.NULL:
		return "NULL"
	case arrow.BOOL:
		return "BOOLEAN"
	case arrow.INT64:
		return "BIGINT"
	case arrow.FLOAT64:
		return "DOUBLE"
	case arrow.STRING:
		return "VARCHAR"
	case arrow.DATE32:
		return "DATE"
	case arrow.TIMESTAMP:
		return "TIMESTAMP"
	case arrow.LIST:
		return FormatType(t.(*arrow.ListType).Elem()) + "[]"
	case arrow.STRUCT:
		st := t.(*arrow.StructType)
		parts := make([]string, st.NumFields())
		for i, f := range st.Fields() {
			parts[i] = fmt.Sprintf("%s %s", f.Name, FormatType(f.Type))
		}
		return "STRUCT(" + strings.Join(parts, ", ") + ")"
	default:
		return t.String()
	}
}

// ParseTypeString parses the SQL-facing type spelling produced by
// FormatType: scalar names, T[] for lists, and STRUCT(name type, ...).
func ParseTypeString(s string) (arrow.DataType, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "[]") {
		elem, err := ParseTypeString(s[:len(s)-2])
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elem), nil
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "STRUCT(") && strings.HasSuffix(s, ")") {
		return parseStructType(s[len("STRUCT(") : len(s)-1])
	}
	switch upper {
	case "NULL":
		return arrow.Null, nil
	case "BOOLEAN", "BOOL":
		return arrow.FixedWidthTypes.Boolean, nil
	case "BIGINT", "INT64":
		return arrow.PrimitiveTypes.Int64, nil
	case "DOUBLE", "FLOAT64":
		return arrow.PrimitiveTypes.Float64, nil
	case "VARCHAR", "STRING", "TEXT", "JSON":
		return arrow.BinaryTypes.String, nil
	case "DATE":
		return arrow.FixedWidthTypes.Date32, nil
	case "TIMESTAMP":
		return arrow.FixedWidthTypes.Timestamp_us, nil
	default:
		return nil, fmt.Errorf("unknown type %q", s)
	}
}

func parseStructType(body string) (arrow.DataType, error) {
	var fields []arrow.Field
	for _, part := range splitTopLevel(body, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		space := strings.IndexByte(part, ' ')
		if space < 0 {
			return nil, fmt.Errorf("invalid struct field %q, expected \"name type\"", part)
		}
		typ, err := ParseTypeString(part[space+1:])
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: part[:space], Type: typ, Nullable: true})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("struct type must have at least one field")
	}
	return arrow.StructOf(fields...), nil
}

// splitTopLevel splits s on sep, ignoring separators nested in parentheses
// or brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
