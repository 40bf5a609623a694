package planner

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// ColumnBinding addresses one output column of a plan operator.
type ColumnBinding struct {
	TableIndex  int
	ColumnIndex int
}

func (b ColumnBinding) String() string {
	return fmt.Sprintf("#[%d.%d]", b.TableIndex, b.ColumnIndex)
}

// BoundExpression is an expression resolved against the plan: every column
// reference carries a binding, every node a return type.
type BoundExpression interface {
	ReturnType() arrow.DataType
	String() string
}

// BoundColumnRef references an output column of another operator.
type BoundColumnRef struct {
	Name    string
	Type    arrow.DataType
	Binding ColumnBinding
}

func (e *BoundColumnRef) ReturnType() arrow.DataType { return e.Type }

func (e *BoundColumnRef) String() string {
	if e.Name != "" {
		return e.Name + e.Binding.String()
	}
	return e.Binding.String()
}

// BoundDefault stands for a column's default value in an UPDATE expression
// list; the executor substitutes the bound default at that position.
type BoundDefault struct {
	Type arrow.DataType
}

func (e *BoundDefault) ReturnType() arrow.DataType { return e.Type }
func (e *BoundDefault) String() string             { return "DEFAULT" }

// BoundConstant is a literal.
type BoundConstant struct {
	Value any
	Type  arrow.DataType
}

func (e *BoundConstant) ReturnType() arrow.DataType { return e.Type }

func (e *BoundConstant) String() string {
	if e.Value == nil {
		return "NULL"
	}
	if s, ok := e.Value.(string); ok {
		return "'" + s + "'"
	}
	return fmt.Sprintf("%v", e.Value)
}

// BoundCast coerces its child to the target type.
type BoundCast struct {
	Child BoundExpression
	Type  arrow.DataType
}

func (e *BoundCast) ReturnType() arrow.DataType { return e.Type }

func (e *BoundCast) String() string {
	return fmt.Sprintf("CAST(%s AS %s)", e.Child, e.Type)
}

// BoundComparison is a binary comparison, returning BOOLEAN.
type BoundComparison struct {
	Op    string
	Left  BoundExpression
	Right BoundExpression
}

func (e *BoundComparison) ReturnType() arrow.DataType { return arrow.FixedWidthTypes.Boolean }

func (e *BoundComparison) String() string {
	return fmt.Sprintf("%s %s %s", e.Left, e.Op, e.Right)
}

// BoundArithmetic is a binary arithmetic operation.
type BoundArithmetic struct {
	Op    string
	Left  BoundExpression
	Right BoundExpression
	Type  arrow.DataType
}

func (e *BoundArithmetic) ReturnType() arrow.DataType { return e.Type }

func (e *BoundArithmetic) String() string {
	return fmt.Sprintf("%s %s %s", e.Left, e.Op, e.Right)
}

// BoundConjunction is AND/OR over boolean children.
type BoundConjunction struct {
	Op    string
	Left  BoundExpression
	Right BoundExpression
}

func (e *BoundConjunction) ReturnType() arrow.DataType { return arrow.FixedWidthTypes.Boolean }

func (e *BoundConjunction) String() string {
	return fmt.Sprintf("%s %s %s", e.Left, e.Op, e.Right)
}

// BoundBetween is the bound three-child BETWEEN expression.
type BoundBetween struct {
	Input   BoundExpression
	Lower   BoundExpression
	Upper   BoundExpression
	Negated bool
}

func (e *BoundBetween) ReturnType() arrow.DataType { return arrow.FixedWidthTypes.Boolean }

func (e *BoundBetween) String() string {
	op := "BETWEEN"
	if e.Negated {
		op = "NOT BETWEEN"
	}
	return fmt.Sprintf("%s %s %s AND %s", e.Input, op, e.Lower, e.Upper)
}

// BoundIsNull is IS NULL / IS NOT NULL.
type BoundIsNull struct {
	Input   BoundExpression
	Negated bool
}

func (e *BoundIsNull) ReturnType() arrow.DataType { return arrow.FixedWidthTypes.Boolean }

func (e *BoundIsNull) String() string {
	if e.Negated {
		return fmt.Sprintf("%s IS NOT NULL", e.Input)
	}
	return fmt.Sprintf("%s IS NULL", e.Input)
}

// BoundFunction is a named function over bound arguments.
type BoundFunction struct {
	Name string
	Args []BoundExpression
	Type arrow.DataType
}

func (e *BoundFunction) ReturnType() arrow.DataType { return e.Type }

func (e *BoundFunction) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Name + "(" + strings.Join(args, ", ") + ")"
}
