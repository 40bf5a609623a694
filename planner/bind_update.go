package planner

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/quilldb/quill/query"
)

// bindExtraColumns adds missing columns of a dependent column set to the
// update with a self-assignment (c = c), so the post-update row image can
// be validated. A set is expanded only when a strict non-empty subset of it
// is already being updated.
func bindExtraColumns(table *TableEntry, get *LogicalGet, proj *LogicalProjection,
	update *LogicalUpdate, boundColumns []PhysicalIndex) {
	if len(boundColumns) <= 1 {
		return
	}
	found := make(map[PhysicalIndex]bool)
	for _, col := range update.Columns {
		for _, bound := range boundColumns {
			if col == bound {
				found[col] = true
			}
		}
	}
	if len(found) == 0 || len(found) == len(boundColumns) {
		return
	}
	for _, col := range boundColumns {
		if found[col] {
			// Column is already projected.
			continue
		}
		colType := table.Column(col).Type
		update.Expressions = append(update.Expressions, &BoundColumnRef{
			Name:    table.Column(col).Name,
			Type:    colType,
			Binding: ColumnBinding{TableIndex: proj.TableIndex, ColumnIndex: len(proj.Expressions)},
		})
		proj.Expressions = append(proj.Expressions, &BoundColumnRef{
			Name:    table.Column(col).Name,
			Type:    colType,
			Binding: ColumnBinding{TableIndex: get.TableIndex, ColumnIndex: len(get.ColumnIDs)},
		})
		get.ColumnIDs = append(get.ColumnIDs, ColumnID(col))
		update.Columns = append(update.Columns, col)
	}
}

// typeSupportsRegularUpdate reports whether a column of this type can be
// updated in place. Lists, maps and unions require a delete+insert, as does
// any struct transitively containing one.
func typeSupportsRegularUpdate(t arrow.DataType) bool {
	switch t.ID() {
	case arrow.LIST, arrow.MAP, arrow.DENSE_UNION, arrow.SPARSE_UNION:
		return false
	case arrow.STRUCT:
		for _, field := range t.(*arrow.StructType).Fields() {
			if !typeSupportsRegularUpdate(field.Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func allTableColumns(table *TableEntry) []PhysicalIndex {
	all := make([]PhysicalIndex, len(table.Columns))
	for i := range table.Columns {
		all[i] = PhysicalIndex(i)
	}
	return all
}

// bindUpdateConstraints expands the projected column set for CHECK
// constraints, RETURNING, and index or type driven delete+insert rewrites.
func bindUpdateConstraints(table *TableEntry, get *LogicalGet, proj *LogicalProjection, update *LogicalUpdate) {
	// Suppose a constraint CHECK(i + j < 10) and an update of only i: j is
	// added to the update set as j = j so the constraint can be verified on
	// the full row image.
	for _, check := range table.Checks {
		bindExtraColumns(table, get, proj, update, check.BoundColumns)
	}

	if update.ReturnChunk {
		bindExtraColumns(table, get, proj, update, allTableColumns(table))
	}

	// Updates touching an index key are executed as delete+insert and thus
	// need the whole row.
	update.UpdateIsDelAndInsert = false
	for _, index := range table.Indexes {
		if index.IndexIsUpdated(update.Columns) {
			update.UpdateIsDelAndInsert = true
			break
		}
	}
	if !update.UpdateIsDelAndInsert {
		for _, col := range update.Columns {
			if !typeSupportsRegularUpdate(table.Column(col).Type) {
				update.UpdateIsDelAndInsert = true
				break
			}
		}
	}

	if update.UpdateIsDelAndInsert {
		bindExtraColumns(table, get, proj, update, allTableColumns(table))
	}
}

// bindUpdateSet binds the SET clause pairs, verifying each target column
// exists, is not generated, and is assigned only once. It always returns a
// new projection wrapping root that computes the non-DEFAULT expressions;
// when every assignment is DEFAULT the projection starts out empty.
func (b *Binder) bindUpdateSet(update *LogicalUpdate, root LogicalOperator, ctx *bindContext,
	setInfo *query.UpdateSetInfo, table *TableEntry) (LogicalOperator, error) {
	projIndex := b.GenerateTableIndex()

	var projectionExpressions []BoundExpression
	for i, colName := range setInfo.Columns {
		expr := setInfo.Expressions[i]
		if !table.ColumnExists(colName) {
			return nil, bindErrorf("referenced update column %s not found in table!", colName)
		}
		idx, _ := table.ColumnIndex(colName)
		column := table.Column(idx)
		if column.Generated {
			return nil, bindErrorf("cannot update column %q because it is a generated column!", column.Name)
		}
		for _, existing := range update.Columns {
			if existing == idx {
				return nil, bindErrorf("multiple assignments to same column %q", colName)
			}
		}
		update.Columns = append(update.Columns, idx)
		if _, ok := expr.(*query.Default); ok {
			update.Expressions = append(update.Expressions, &BoundDefault{Type: column.Type})
			continue
		}
		bound, err := b.bindExpression(ctx, expr, column.Type)
		if err != nil {
			return nil, err
		}
		b.planSubqueries(bound, root)
		update.Expressions = append(update.Expressions, &BoundColumnRef{
			Name:    column.Name,
			Type:    bound.ReturnType(),
			Binding: ColumnBinding{TableIndex: projIndex, ColumnIndex: len(projectionExpressions)},
		})
		projectionExpressions = append(projectionExpressions, bound)
	}
	proj := &LogicalProjection{TableIndex: projIndex, Expressions: projectionExpressions, Child: root}
	return proj, nil
}

// bindDefaultValues binds the DEFAULT expression of every table column.
func (b *Binder) bindDefaultValues(table *TableEntry, update *LogicalUpdate) error {
	for i := range table.Columns {
		column := table.Column(PhysicalIndex(i))
		if column.Default == nil {
			update.BoundDefaults = append(update.BoundDefaults,
				&BoundConstant{Value: nil, Type: column.Type})
			continue
		}
		bound, err := b.bindExpression(&bindContext{}, column.Default, column.Type)
		if err != nil {
			return err
		}
		update.BoundDefaults = append(update.BoundDefaults, bound)
	}
	return nil
}

// BindUpdate rewrites an UPDATE statement into a logical plan:
//
//	UPDATE <- PROJECTION <- [FILTER <-] [CROSS_PRODUCT <-] GET
//
// The projection computes every SET expression plus any columns required to
// validate CHECK constraints on the post-update row image, and ends with
// the row-identifier column. The statement returns a single BIGINT "Count"
// column, or the RETURNING projection.
func (b *Binder) BindUpdate(stmt *query.UpdateStatement) (*BoundStatement, error) {
	table, ok := b.catalog.GetTable(stmt.Table)
	if !ok {
		return nil, bindErrorf("can only update base table, %q is not a table", stmt.Table)
	}

	get := &LogicalGet{TableIndex: b.GenerateTableIndex(), Table: table}
	ctx := &bindContext{}
	ctx.add(table, get)

	var root LogicalOperator = get
	if stmt.From != "" {
		fromTable, ok := b.catalog.GetTable(stmt.From)
		if !ok {
			return nil, bindErrorf("table %q in FROM clause not found", stmt.From)
		}
		fromGet := &LogicalGet{TableIndex: b.GenerateTableIndex(), Table: fromTable}
		ctx.add(fromTable, fromGet)
		root = &LogicalCrossProduct{Left: get, Right: fromGet}
	}

	if !table.Temporary {
		// Update of a persistent table: not read only.
		b.catalog.MarkModified()
	}

	update := &LogicalUpdate{Table: table}
	if len(stmt.Returning) > 0 {
		update.ReturnChunk = true
	}
	if err := b.bindDefaultValues(table, update); err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		condition, err := b.bindExpression(ctx, stmt.Where, arrow.FixedWidthTypes.Boolean)
		if err != nil {
			return nil, err
		}
		b.planSubqueries(condition, root)
		root = &LogicalFilter{Condition: condition, Child: root}
	}

	projOp, err := b.bindUpdateSet(update, root, ctx, stmt.Set, table)
	if err != nil {
		return nil, err
	}
	proj := projOp.(*LogicalProjection)

	// Every updated column is requested from the scan, even when its new
	// value does not reference it.
	for _, col := range update.Columns {
		get.EnsureColumn(col)
	}

	// Bind any extra columns necessary for CHECK constraints or indexes,
	// then finally add the row id column to the projection list.
	bindUpdateConstraints(table, get, proj, update)
	proj.Expressions = append(proj.Expressions, &BoundColumnRef{
		Name:    "rowid",
		Type:    arrow.PrimitiveTypes.Int64,
		Binding: ColumnBinding{TableIndex: get.TableIndex, ColumnIndex: len(get.ColumnIDs)},
	})
	get.ColumnIDs = append(get.ColumnIDs, RowIDColumnID)

	update.Child = proj
	update.TableIndex = b.GenerateTableIndex()

	if len(stmt.Returning) > 0 {
		return b.bindReturning(stmt.Returning, table, update)
	}

	b.Properties.AllowStreamResult = false
	return &BoundStatement{
		Names: []string{"Count"},
		Types: []arrow.DataType{arrow.PrimitiveTypes.Int64},
		Plan:  update,
	}, nil
}

// bindReturning projects the RETURNING list over the update's output rows.
func (b *Binder) bindReturning(returning []query.Expression, table *TableEntry,
	update *LogicalUpdate) (*BoundStatement, error) {
	proj := &LogicalProjection{TableIndex: b.GenerateTableIndex(), Child: update}
	result := &BoundStatement{Plan: proj}

	appendColumn := func(idx PhysicalIndex) {
		column := table.Column(idx)
		proj.Expressions = append(proj.Expressions, &BoundColumnRef{
			Name:    column.Name,
			Type:    column.Type,
			Binding: ColumnBinding{TableIndex: update.TableIndex, ColumnIndex: int(idx)},
		})
		result.Names = append(result.Names, column.Name)
		result.Types = append(result.Types, column.Type)
	}

	for _, expr := range returning {
		switch node := expr.(type) {
		case *query.Star:
			for i := range table.Columns {
				appendColumn(PhysicalIndex(i))
			}
		case *query.ColumnRef:
			idx, ok := table.ColumnIndex(node.Name)
			if !ok {
				return nil, bindErrorf("referenced column %q in RETURNING not found", node.Name)
			}
			appendColumn(idx)
		default:
			return nil, bindErrorf("RETURNING only supports columns and *, got %q", expr.String())
		}
	}
	return result, nil
}
