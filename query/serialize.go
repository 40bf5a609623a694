package query

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

// serializedExpr is the flat wire form of an expression node.
type serializedExpr struct {
	Kind      string           `json:"kind"`
	Name      string           `json:"name,omitempty"`
	Op        string           `json:"op,omitempty"`
	ValueType string           `json:"value_type,omitempty"`
	Value     any              `json:"value,omitempty"`
	Negated   bool             `json:"negated,omitempty"`
	Children  []serializedExpr `json:"children,omitempty"`
}

// SerializeExpression renders an expression tree as JSON.
func SerializeExpression(e Expression) ([]byte, error) {
	node, err := toSerialized(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

// DeserializeExpression restores an expression serialized with
// SerializeExpression.
func DeserializeExpression(data []byte) (Expression, error) {
	var node serializedExpr
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to deserialize expression: %w", err)
	}
	return fromSerialized(node)
}

func toSerialized(e Expression) (serializedExpr, error) {
	switch expr := e.(type) {
	case *ColumnRef:
		return serializedExpr{Kind: "column", Name: expr.Name}, nil
	case *Constant:
		node := serializedExpr{Kind: "const", Value: expr.Value}
		switch expr.Value.(type) {
		case nil:
			node.ValueType = "null"
		case bool:
			node.ValueType = "bool"
		case int64:
			node.ValueType = "bigint"
		case float64:
			node.ValueType = "double"
		case string:
			node.ValueType = "varchar"
		default:
			return serializedExpr{}, fmt.Errorf("cannot serialize constant of type %T", expr.Value)
		}
		return node, nil
	case *Default:
		return serializedExpr{Kind: "default"}, nil
	case *Star:
		return serializedExpr{Kind: "star"}, nil
	case *Comparison:
		return serializeChildren("comparison", expr.Op, false, expr.Left, expr.Right)
	case *Arithmetic:
		return serializeChildren("arithmetic", expr.Op, false, expr.Left, expr.Right)
	case *Logical:
		return serializeChildren("logical", expr.Op, false, expr.Left, expr.Right)
	case *Between:
		return serializeChildren("between", "", expr.Negated, expr.Input, expr.Lower, expr.Upper)
	case *IsNull:
		return serializeChildren("is_null", "", expr.Negated, expr.Input)
	case *FunctionCall:
		node := serializedExpr{Kind: "function", Name: expr.Name}
		for _, arg := range expr.Args {
			child, err := toSerialized(arg)
			if err != nil {
				return serializedExpr{}, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	default:
		return serializedExpr{}, fmt.Errorf("cannot serialize expression of type %T", e)
	}
}

func serializeChildren(kind, op string, negated bool, children ...Expression) (serializedExpr, error) {
	node := serializedExpr{Kind: kind, Op: op, Negated: negated}
	for _, child := range children {
		c, err := toSerialized(child)
		if err != nil {
			return serializedExpr{}, err
		}
		node.Children = append(node.Children, c)
	}
	return node, nil
}

func fromSerialized(node serializedExpr) (Expression, error) {
	children := make([]Expression, len(node.Children))
	for i, c := range node.Children {
		child, err := fromSerialized(c)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	need := func(n int) error {
		if len(children) != n {
			return fmt.Errorf("expression kind %q expects %d children, got %d", node.Kind, n, len(children))
		}
		return nil
	}
	switch node.Kind {
	case "column":
		return &ColumnRef{Name: node.Name}, nil
	case "const":
		switch node.ValueType {
		case "null":
			return &Constant{}, nil
		case "bool":
			v, ok := node.Value.(bool)
			if !ok {
				return nil, fmt.Errorf("invalid bool constant %v", node.Value)
			}
			return &Constant{Value: v}, nil
		case "bigint":
			switch v := node.Value.(type) {
			case float64:
				return &Constant{Value: int64(v)}, nil
			case int64:
				return &Constant{Value: v}, nil
			}
			return nil, fmt.Errorf("invalid bigint constant %v", node.Value)
		case "double":
			v, ok := node.Value.(float64)
			if !ok {
				return nil, fmt.Errorf("invalid double constant %v", node.Value)
			}
			return &Constant{Value: v}, nil
		case "varchar":
			v, ok := node.Value.(string)
			if !ok {
				return nil, fmt.Errorf("invalid varchar constant %v", node.Value)
			}
			return &Constant{Value: v}, nil
		default:
			return nil, fmt.Errorf("unknown constant type %q", node.ValueType)
		}
	case "default":
		return &Default{}, nil
	case "star":
		return &Star{}, nil
	case "comparison":
		if err := need(2); err != nil {
			return nil, err
		}
		return &Comparison{Op: node.Op, Left: children[0], Right: children[1]}, nil
	case "arithmetic":
		if err := need(2); err != nil {
			return nil, err
		}
		return &Arithmetic{Op: node.Op, Left: children[0], Right: children[1]}, nil
	case "logical":
		if err := need(2); err != nil {
			return nil, err
		}
		return &Logical{Op: node.Op, Left: children[0], Right: children[1]}, nil
	case "between":
		if err := need(3); err != nil {
			return nil, err
		}
		return &Between{Input: children[0], Lower: children[1], Upper: children[2], Negated: node.Negated}, nil
	case "is_null":
		if err := need(1); err != nil {
			return nil, err
		}
		return &IsNull{Input: children[0], Negated: node.Negated}, nil
	case "function":
		return &FunctionCall{Name: node.Name, Args: children}, nil
	default:
		return nil, fmt.Errorf("unknown expression kind %q", node.Kind)
	}
}
