package planner

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/quilldb/quill/query"
)

// StatementProperties describe how a bound statement may be executed.
type StatementProperties struct {
	// AllowStreamResult is false when the result must be fully materialized,
	// e.g. the changed-rows count of an UPDATE.
	AllowStreamResult bool
}

// BoundStatement is the binder's output: the logical plan and its result
// shape.
type BoundStatement struct {
	Names []string
	Types []arrow.DataType
	Plan  LogicalOperator
}

// Binder resolves parse trees into logical plans against a catalog.
type Binder struct {
	catalog        *Catalog
	nextTableIndex int

	Properties StatementProperties
}

// NewBinder creates a binder for the catalog.
func NewBinder(catalog *Catalog) *Binder {
	return &Binder{catalog: catalog, Properties: StatementProperties{AllowStreamResult: true}}
}

// GenerateTableIndex returns a fresh operator table index.
func (b *Binder) GenerateTableIndex() int {
	idx := b.nextTableIndex
	b.nextTableIndex++
	return idx
}

// bindContext maps column names to the table scans that produce them.
type bindContext struct {
	entries []bindContextEntry
}

type bindContextEntry struct {
	table *TableEntry
	get   *LogicalGet
}

func (ctx *bindContext) add(table *TableEntry, get *LogicalGet) {
	ctx.entries = append(ctx.entries, bindContextEntry{table: table, get: get})
}

func (ctx *bindContext) resolve(name string) (*ColumnDefinition, *LogicalGet, PhysicalIndex, bool) {
	for _, entry := range ctx.entries {
		if idx, ok := entry.table.ColumnIndex(name); ok {
			return entry.table.Column(idx), entry.get, idx, true
		}
	}
	return nil, nil, 0, false
}

// bindExpression resolves a parsed expression against the context. A
// non-nil hint coerces the result to the target type.
func (b *Binder) bindExpression(ctx *bindContext, expr query.Expression, hint arrow.DataType) (BoundExpression, error) {
	bound, err := b.bindExpressionInternal(ctx, expr)
	if err != nil {
		return nil, err
	}
	if hint != nil && !arrow.TypeEqual(bound.ReturnType(), hint) {
		bound = &BoundCast{Child: bound, Type: hint}
	}
	return bound, nil
}

func (b *Binder) bindExpressionInternal(ctx *bindContext, expr query.Expression) (BoundExpression, error) {
	switch node := expr.(type) {
	case *query.ColumnRef:
		col, get, idx, ok := ctx.resolve(node.Name)
		if !ok {
			return nil, bindErrorf("referenced column %q not found", node.Name)
		}
		return &BoundColumnRef{
			Name:    col.Name,
			Type:    col.Type,
			Binding: ColumnBinding{TableIndex: get.TableIndex, ColumnIndex: get.EnsureColumn(idx)},
		}, nil
	case *query.Constant:
		return &BoundConstant{Value: node.Value, Type: constantType(node.Value)}, nil
	case *query.Comparison:
		left, err := b.bindExpressionInternal(ctx, node.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.bindExpressionInternal(ctx, node.Right)
		if err != nil {
			return nil, err
		}
		return &BoundComparison{Op: node.Op, Left: left, Right: right}, nil
	case *query.Arithmetic:
		left, err := b.bindExpressionInternal(ctx, node.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.bindExpressionInternal(ctx, node.Right)
		if err != nil {
			return nil, err
		}
		return &BoundArithmetic{Op: node.Op, Left: left, Right: right, Type: arithmeticType(left, right)}, nil
	case *query.Logical:
		left, err := b.bindExpressionInternal(ctx, node.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.bindExpressionInternal(ctx, node.Right)
		if err != nil {
			return nil, err
		}
		return &BoundConjunction{Op: node.Op, Left: left, Right: right}, nil
	case *query.Between:
		input, err := b.bindExpressionInternal(ctx, node.Input)
		if err != nil {
			return nil, err
		}
		lower, err := b.bindExpressionInternal(ctx, node.Lower)
		if err != nil {
			return nil, err
		}
		upper, err := b.bindExpressionInternal(ctx, node.Upper)
		if err != nil {
			return nil, err
		}
		return &BoundBetween{Input: input, Lower: lower, Upper: upper, Negated: node.Negated}, nil
	case *query.IsNull:
		input, err := b.bindExpressionInternal(ctx, node.Input)
		if err != nil {
			return nil, err
		}
		return &BoundIsNull{Input: input, Negated: node.Negated}, nil
	case *query.FunctionCall:
		fn := &BoundFunction{Name: node.Name}
		for _, arg := range node.Args {
			bound, err := b.bindExpressionInternal(ctx, arg)
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, bound)
		}
		if len(fn.Args) > 0 {
			fn.Type = fn.Args[0].ReturnType()
		} else {
			fn.Type = arrow.BinaryTypes.String
		}
		return fn, nil
	case *query.Default:
		return nil, bindErrorf("DEFAULT is only allowed as a top-level SET expression")
	case *query.Star:
		return nil, bindErrorf("* is only allowed in a RETURNING list")
	default:
		return nil, bindErrorf("cannot bind expression %q", expr.String())
	}
}

func constantType(value any) arrow.DataType {
	switch value.(type) {
	case nil:
		return arrow.Null
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case int64:
		return arrow.PrimitiveTypes.Int64
	case float64:
		return arrow.PrimitiveTypes.Float64
	case string:
		return arrow.BinaryTypes.String
	default:
		return arrow.BinaryTypes.String
	}
}

func arithmeticType(left, right BoundExpression) arrow.DataType {
	if left.ReturnType().ID() == arrow.FLOAT64 || right.ReturnType().ID() == arrow.FLOAT64 {
		return arrow.PrimitiveTypes.Float64
	}
	if left.ReturnType().ID() == arrow.NULL {
		return right.ReturnType()
	}
	return left.ReturnType()
}

// planSubqueries is the seam where correlated subqueries would be planned
// against the current root. The UPDATE surface produces no subquery nodes,
// so it only preserves the call structure of the bind pass.
func (b *Binder) planSubqueries(expr BoundExpression, root LogicalOperator) {
}
