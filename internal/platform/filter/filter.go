// Package filter translates AIP-160 filter expressions into SQL conditions.
package filter

import (
	"fmt"
	"strings"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// FieldType is the declared type of a filterable field.
type FieldType int

const (
	String FieldType = iota
	Int
)

// Field declares one filterable identifier.
type Field struct {
	Name string
	Type FieldType
	// Column is the SQL expression compared against the value.
	Column string
	// Clause overrides the comparison entirely. It must contain one "?"
	// placeholder and only supports equality.
	Clause string
}

// Schema is the set of fields a filter may reference.
type Schema []Field

// SQLCondition is a WHERE clause fragment with positional parameters.
type SQLCondition struct {
	Clause string
	Params []any
}

// Empty reports whether the condition matches everything.
func (c SQLCondition) Empty() bool {
	return strings.TrimSpace(c.Clause) == ""
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) declarations() (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{filtering.DeclareStandardFunctions()}
	for _, f := range s {
		t := filtering.TypeString
		if f.Type == Int {
			t = filtering.TypeInt
		}
		opts = append(opts, filtering.DeclareIdent(f.Name, t))
	}
	return filtering.NewDeclarations(opts...)
}

// Parse parses filterStr against schema and returns the SQL condition.
// An empty filter yields an empty condition.
func Parse(filterStr string, schema Schema) (SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return SQLCondition{}, nil
	}
	decls, err := schema.declarations()
	if err != nil {
		return SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("parse filter: %w", err)
	}
	t := translator{schema: schema}
	return t.expr(parsed.CheckedExpr.GetExpr())
}

type translator struct {
	schema Schema
}

func (t translator) expr(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return t.call(kind.CallExpr)
	default:
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func (t translator) call(call *expr.Expr_Call) (SQLCondition, error) {
	switch call.Function {
	case filtering.FunctionAnd:
		return t.junction(call.Args, "AND")
	case filtering.FunctionOr:
		return t.junction(call.Args, "OR")
	case filtering.FunctionNot:
		if len(call.Args) != 1 {
			return SQLCondition{}, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := t.expr(call.Args[0])
		if err != nil {
			return SQLCondition{}, err
		}
		return SQLCondition{Clause: "NOT (" + inner.Clause + ")", Params: inner.Params}, nil
	case filtering.FunctionEquals, filtering.FunctionHas:
		return t.comparison(call.Args, "=")
	case filtering.FunctionNotEquals:
		return t.comparison(call.Args, "!=")
	case filtering.FunctionLessThan:
		return t.comparison(call.Args, "<")
	case filtering.FunctionLessEquals:
		return t.comparison(call.Args, "<=")
	case filtering.FunctionGreaterThan:
		return t.comparison(call.Args, ">")
	case filtering.FunctionGreaterEquals:
		return t.comparison(call.Args, ">=")
	default:
		return SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func (t translator) junction(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) < 2 {
		return SQLCondition{}, fmt.Errorf("%s requires 2 arguments", op)
	}
	clauses := make([]string, 0, len(args))
	var params []any
	for _, arg := range args {
		cond, err := t.expr(arg)
		if err != nil {
			return SQLCondition{}, err
		}
		clauses = append(clauses, cond.Clause)
		params = append(params, cond.Params...)
	}
	return SQLCondition{
		Clause: "(" + strings.Join(clauses, " "+op+" ") + ")",
		Params: params,
	}, nil
}

func (t translator) comparison(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	name, err := identName(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	field, ok := t.schema.field(name)
	if !ok {
		return SQLCondition{}, fmt.Errorf("unknown field: %s", name)
	}
	value, err := constValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}
	if field.Clause != "" {
		if op != "=" {
			return SQLCondition{}, fmt.Errorf("field %s only supports equality", name)
		}
		return SQLCondition{Clause: field.Clause, Params: []any{value}}, nil
	}
	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", field.Column, op),
		Params: []any{value},
	}, nil
}

func identName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	ident, ok := e.ExprKind.(*expr.Expr_IdentExpr)
	if !ok {
		return "", fmt.Errorf("expected identifier, got %T", e.ExprKind)
	}
	return ident.IdentExpr.GetName(), nil
}

func constValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	c, ok := e.ExprKind.(*expr.Expr_ConstExpr)
	if !ok {
		return nil, fmt.Errorf("expected constant, got %T", e.ExprKind)
	}
	switch kind := c.ConstExpr.GetConstantKind().(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return kind.Uint64Value, nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}
