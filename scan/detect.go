package scan

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/valyala/fastjson"
)

// DetectSchema infers the column schema of the scan from a bounded sample
// of the first file: up to sample_size records are parsed, field names are
// unioned in first-seen order, and per-column types are narrowed through a
// lattice (NULL, BOOL, BIGINT, DOUBLE, VARCHAR, with homogeneous arrays as
// lists and consistent object shapes as structs). VARCHAR columns whose
// samples all match a retained date or timestamp format candidate are
// promoted to DATE or TIMESTAMP.
//
// On success the bind data carries the detected names, types, surviving
// date-format candidates, and the inferred average tuple size.
func DetectSchema(bind *BindData) error {
	sampleBind := &BindData{
		Type:             ScanTypeSample,
		Files:            bind.Files[:1],
		Options:          bind.Options,
		TransformOptions: bind.TransformOptions,
		DateFormats:      bind.DateFormats,
		AvgTupleSize:     DefaultAvgTupleSize,
	}
	g, err := NewGlobalState(sampleBind)
	if err != nil {
		return err
	}
	defer func() { _ = g.Close() }()
	l := NewLocalState(g)

	root := newStructureNode()
	remaining := bind.Options.SampleSize
	for remaining > 0 {
		n, err := l.ReadNext(g)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		for i := 0; i < n && remaining > 0; i++ {
			root.observe(bind, l.Values[i], 0)
			remaining--
		}
	}
	if l.TotalTupleCount == 0 {
		return fmt.Errorf("schema detection found no records in %q", bind.Files[0])
	}
	if !root.sawObject || root.sawScalar() || root.sawArray {
		return fmt.Errorf("cannot auto-detect columns in %q: records are not JSON objects", bind.Files[0])
	}

	survivors := &formatSurvivors{date: -1, timestamp: -1}
	bind.Names = bind.Names[:0]
	bind.Types = bind.Types[:0]
	for _, name := range root.order {
		bind.Names = append(bind.Names, name)
		bind.Types = append(bind.Types, root.fields[name].resolve(survivors))
	}
	survivors.apply(bind.DateFormats)

	avg := int64(l.TotalReadSize) / int64(l.TotalTupleCount)
	if avg < 1 {
		avg = 1
	}
	bind.AvgTupleSize = avg
	bind.logger().Debug("auto-detected schema",
		"file", bind.Files[0], "columns", len(bind.Names), "avg_tuple_size", avg)
	return nil
}

// structureNode accumulates everything observed at one position of the
// sampled records.
type structureNode struct {
	sawNull, sawBool, sawInt, sawDouble, sawString bool
	sawArray, sawObject                            bool
	// forceString pins the node to VARCHAR: depth limit reached, or shapes
	// conflicted.
	forceString bool

	fields map[string]*structureNode
	order  []string
	elem   *structureNode

	// Per-node copies of the candidate formats, truncated as string samples
	// fail the preferred candidate. nil until the first string is seen.
	dateFormats, tsFormats []StrpFormat
	formatsSeeded          bool
}

func newStructureNode() *structureNode {
	return &structureNode{fields: make(map[string]*structureNode)}
}

func (n *structureNode) sawScalar() bool {
	return n.sawBool || n.sawInt || n.sawDouble || n.sawString
}

func (n *structureNode) observe(bind *BindData, v *fastjson.Value, depth int64) {
	if depth > bind.Options.MaxDepth {
		n.forceString = true
		return
	}
	switch v.Type() {
	case fastjson.TypeNull:
		n.sawNull = true
	case fastjson.TypeTrue, fastjson.TypeFalse:
		n.sawBool = true
	case fastjson.TypeNumber:
		if _, err := v.Int64(); err == nil {
			n.sawInt = true
		} else {
			n.sawDouble = true
		}
	case fastjson.TypeString:
		n.sawString = true
		s, _ := v.StringBytes()
		n.refineFormats(bind, string(s))
	case fastjson.TypeArray:
		n.sawArray = true
		if n.elem == nil {
			n.elem = newStructureNode()
		}
		elems, _ := v.Array()
		for _, elem := range elems {
			n.elem.observe(bind, elem, depth+1)
		}
	case fastjson.TypeObject:
		n.sawObject = true
		obj, _ := v.Object()
		obj.Visit(func(key []byte, value *fastjson.Value) {
			name := string(key)
			child, ok := n.fields[name]
			if !ok {
				child = newStructureNode()
				n.fields[name] = child
				n.order = append(n.order, name)
			}
			child.observe(bind, value, depth+1)
		})
	}
}

// refineFormats drops failing candidates by truncation: while the preferred
// (last) candidate rejects the sample, it is popped, promoting its
// predecessor. Candidates are never reordered.
func (n *structureNode) refineFormats(bind *BindData, s string) {
	if !n.formatsSeeded {
		n.formatsSeeded = true
		n.dateFormats = append([]StrpFormat(nil), bind.DateFormats.Candidates(arrow.DATE32)...)
		n.tsFormats = append([]StrpFormat(nil), bind.DateFormats.Candidates(arrow.TIMESTAMP)...)
	}
	n.dateFormats = truncateFailing(n.dateFormats, s)
	n.tsFormats = truncateFailing(n.tsFormats, s)
}

func truncateFailing(formats []StrpFormat, s string) []StrpFormat {
	for len(formats) > 0 {
		if _, err := formats[len(formats)-1].Parse(s); err == nil {
			return formats
		}
		formats = formats[:len(formats)-1]
	}
	return formats
}

// formatSurvivors intersects the surviving candidate lists of every column
// promoted to DATE or TIMESTAMP. Survivor lists are prefixes of the same
// seed list, so the intersection is the shortest prefix.
type formatSurvivors struct {
	date, timestamp int
}

func (fs *formatSurvivors) note(typ arrow.Type, count int) {
	switch typ {
	case arrow.DATE32:
		if fs.date < 0 || count < fs.date {
			fs.date = count
		}
	case arrow.TIMESTAMP:
		if fs.timestamp < 0 || count < fs.timestamp {
			fs.timestamp = count
		}
	}
}

func (fs *formatSurvivors) apply(m *DateFormatMap) {
	if fs.date >= 0 {
		m.SetFormats(arrow.DATE32, m.Candidates(arrow.DATE32)[:fs.date])
	}
	if fs.timestamp >= 0 {
		m.SetFormats(arrow.TIMESTAMP, m.Candidates(arrow.TIMESTAMP)[:fs.timestamp])
	}
}

// resolve narrows the node to its final type.
func (n *structureNode) resolve(survivors *formatSurvivors) arrow.DataType {
	if n.forceString {
		return arrow.BinaryTypes.String
	}
	nested := n.sawArray || n.sawObject
	if nested && n.sawScalar() || (n.sawArray && n.sawObject) {
		// Shape conflict widens to VARCHAR; values keep their raw JSON text.
		return arrow.BinaryTypes.String
	}
	if n.sawObject {
		if len(n.order) == 0 {
			return arrow.BinaryTypes.String
		}
		fields := make([]arrow.Field, len(n.order))
		for i, name := range n.order {
			fields[i] = arrow.Field{
				Name:     name,
				Type:     n.fields[name].resolve(survivors),
				Nullable: true,
			}
		}
		return arrow.StructOf(fields...)
	}
	if n.sawArray {
		elem := arrow.DataType(arrow.BinaryTypes.String)
		if n.elem != nil && (n.elem.sawScalar() || n.elem.sawArray || n.elem.sawObject || n.elem.forceString) {
			elem = n.elem.resolve(survivors)
		}
		return arrow.ListOf(elem)
	}
	switch {
	case n.sawString && !n.sawBool && !n.sawInt && !n.sawDouble:
		if len(n.dateFormats) > 0 {
			survivors.note(arrow.DATE32, len(n.dateFormats))
			return arrow.FixedWidthTypes.Date32
		}
		if len(n.tsFormats) > 0 {
			survivors.note(arrow.TIMESTAMP, len(n.tsFormats))
			return arrow.FixedWidthTypes.Timestamp_us
		}
		return arrow.BinaryTypes.String
	case n.sawString:
		return arrow.BinaryTypes.String
	case n.sawBool && !n.sawInt && !n.sawDouble:
		return arrow.FixedWidthTypes.Boolean
	case n.sawBool:
		return arrow.BinaryTypes.String
	case n.sawDouble:
		return arrow.PrimitiveTypes.Float64
	case n.sawInt:
		return arrow.PrimitiveTypes.Int64
	default:
		// Only nulls observed.
		return arrow.BinaryTypes.String
	}
}
