package planner

// ColumnID identifies a column requested from a table scan. Non-negative
// values are physical column indexes; RowIDColumnID requests the synthetic
// row-identifier column.
type ColumnID int

// RowIDColumnID is the reserved marker for the row-identifier column, the
// per-row address appended to every scan that feeds a mutation.
const RowIDColumnID ColumnID = -1

// LogicalOperator is a node of the owned logical plan tree. Binders that
// need to reach a specific node (the update's base-table scan) thread it as
// an observer pointer, never as shared ownership.
type LogicalOperator interface {
	Name() string
	Children() []LogicalOperator
}

// LogicalGet is a base-table scan. ColumnIDs lists the requested columns in
// insertion order; its positions are the operator's output ordinals.
type LogicalGet struct {
	TableIndex int
	Table      *TableEntry
	ColumnIDs  []ColumnID
}

func (op *LogicalGet) Name() string                { return "GET" }
func (op *LogicalGet) Children() []LogicalOperator { return nil }

// EnsureColumn returns the output ordinal of the physical column, adding it
// to the scan if not yet requested.
func (op *LogicalGet) EnsureColumn(col PhysicalIndex) int {
	for i, id := range op.ColumnIDs {
		if id == ColumnID(col) {
			return i
		}
	}
	op.ColumnIDs = append(op.ColumnIDs, ColumnID(col))
	return len(op.ColumnIDs) - 1
}

// LogicalFilter filters its child by a boolean condition.
type LogicalFilter struct {
	Condition BoundExpression
	Child     LogicalOperator
}

func (op *LogicalFilter) Name() string                { return "FILTER" }
func (op *LogicalFilter) Children() []LogicalOperator { return []LogicalOperator{op.Child} }

// LogicalCrossProduct is the cross product of two children; the update
// target is always child zero.
type LogicalCrossProduct struct {
	Left  LogicalOperator
	Right LogicalOperator
}

func (op *LogicalCrossProduct) Name() string { return "CROSS_PRODUCT" }
func (op *LogicalCrossProduct) Children() []LogicalOperator {
	return []LogicalOperator{op.Left, op.Right}
}

// LogicalProjection computes expressions over its child; its output columns
// are addressed as (TableIndex, position).
type LogicalProjection struct {
	TableIndex  int
	Expressions []BoundExpression
	Child       LogicalOperator
}

func (op *LogicalProjection) Name() string                { return "PROJECTION" }
func (op *LogicalProjection) Children() []LogicalOperator { return []LogicalOperator{op.Child} }

// LogicalUpdate applies the update. Columns and Expressions are parallel:
// Columns[i] receives Expressions[i] evaluated on the projected row image.
type LogicalUpdate struct {
	Table      *TableEntry
	TableIndex int

	Columns     []PhysicalIndex
	Expressions []BoundExpression
	// BoundDefaults holds the bound DEFAULT expression of every table
	// column, substituted where Expressions carries a BoundDefault.
	BoundDefaults []BoundExpression

	// ReturnChunk requests the updated rows as output (RETURNING).
	ReturnChunk bool
	// UpdateIsDelAndInsert executes the update as delete+insert, required
	// when index key columns or non-updatable column types are touched.
	UpdateIsDelAndInsert bool

	Child LogicalOperator
}

func (op *LogicalUpdate) Name() string                { return "UPDATE" }
func (op *LogicalUpdate) Children() []LogicalOperator { return []LogicalOperator{op.Child} }
