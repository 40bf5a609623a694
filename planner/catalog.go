// Package planner contains the logical-plan layer: catalog entries, plan
// operators, bound expressions, and the binder that rewrites an UPDATE
// statement into a scan/projection/update pipeline.
package planner

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/quilldb/quill/query"
)

// PhysicalIndex identifies a column by its position in the table's storage.
type PhysicalIndex int

// ColumnDefinition describes one column of a table.
type ColumnDefinition struct {
	Name string
	Type arrow.DataType
	// Generated columns are computed and cannot be assigned.
	Generated bool
	// Default is the column's DEFAULT expression; nil means NULL.
	Default query.Expression
}

// CheckConstraint is a bound CHECK constraint with its referenced columns.
type CheckConstraint struct {
	Expression query.Expression
	// BoundColumns are the physical indexes referenced by the expression,
	// in ascending order.
	BoundColumns []PhysicalIndex
}

// Index describes a (possibly multi-column) index on a table.
type Index struct {
	Name    string
	Columns []PhysicalIndex
}

// IndexIsUpdated reports whether any of the index's key columns is among
// the updated columns.
func (i *Index) IndexIsUpdated(updated []PhysicalIndex) bool {
	for _, key := range i.Columns {
		for _, col := range updated {
			if key == col {
				return true
			}
		}
	}
	return false
}

// TableEntry is a catalog entry for a base table.
type TableEntry struct {
	Name      string
	Temporary bool
	Columns   []ColumnDefinition
	Checks    []*CheckConstraint
	Indexes   []*Index
}

// ColumnExists reports whether the table has a column with the given name.
func (t *TableEntry) ColumnExists(name string) bool {
	_, ok := t.ColumnIndex(name)
	return ok
}

// ColumnIndex resolves a column name to its physical index.
func (t *TableEntry) ColumnIndex(name string) (PhysicalIndex, bool) {
	for i, col := range t.Columns {
		if col.Name == name {
			return PhysicalIndex(i), true
		}
	}
	return 0, false
}

// Column returns the definition at the given physical index.
func (t *TableEntry) Column(idx PhysicalIndex) *ColumnDefinition {
	return &t.Columns[idx]
}

// NewCheckConstraint builds a CHECK constraint, deriving its referenced
// column set from the expression.
func NewCheckConstraint(t *TableEntry, expr query.Expression) *CheckConstraint {
	seen := make(map[PhysicalIndex]bool)
	var walk func(e query.Expression)
	walk = func(e query.Expression) {
		switch node := e.(type) {
		case *query.ColumnRef:
			if idx, ok := t.ColumnIndex(node.Name); ok {
				seen[idx] = true
			}
		case *query.Comparison:
			walk(node.Left)
			walk(node.Right)
		case *query.Arithmetic:
			walk(node.Left)
			walk(node.Right)
		case *query.Logical:
			walk(node.Left)
			walk(node.Right)
		case *query.Between:
			walk(node.Input)
			walk(node.Lower)
			walk(node.Upper)
		case *query.IsNull:
			walk(node.Input)
		case *query.FunctionCall:
			for _, arg := range node.Args {
				walk(arg)
			}
		}
	}
	walk(expr)
	var columns []PhysicalIndex
	for i := range t.Columns {
		if seen[PhysicalIndex(i)] {
			columns = append(columns, PhysicalIndex(i))
		}
	}
	return &CheckConstraint{Expression: expr, BoundColumns: columns}
}

// Catalog holds the tables visible to the binder and tracks which catalogs
// a plan modifies.
type Catalog struct {
	Name   string
	tables map[string]*TableEntry

	modified map[string]bool
}

// NewCatalog creates an empty catalog with the given name.
func NewCatalog(name string) *Catalog {
	return &Catalog{
		Name:     name,
		tables:   make(map[string]*TableEntry),
		modified: make(map[string]bool),
	}
}

// AddTable registers a table.
func (c *Catalog) AddTable(t *TableEntry) {
	c.tables[t.Name] = t
}

// GetTable resolves a table name.
func (c *Catalog) GetTable(name string) (*TableEntry, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// MarkModified records that a plan writes to this catalog.
func (c *Catalog) MarkModified() {
	c.modified[c.Name] = true
}

// Modified reports whether any plan bound against this catalog writes to it.
func (c *Catalog) Modified() bool {
	return c.modified[c.Name]
}
