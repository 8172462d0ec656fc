package expr

import (
	"fmt"
	"strings"
)

// Resolver supplies values for Ref paths and Var placeholders during
// evaluation. A missing path or variable resolves to Null, not an error:
// sparse rows are normal in preview data.
type Resolver interface {
	Resolve(path string) (Value, bool)
	Var(name string) (Value, bool)
}

// Eval evaluates a canonical expression tree against a resolver.
//
// Semantics:
//   - and/or short-circuit and use three-valued logic (Null propagates
//     unless the connective is already decided)
//   - not maps Null to Null
//   - coalesce yields the first non-null operand
//   - comparisons promote Int to Decimal when either side is Decimal
//   - any comparison touching Null yields Null (non-match, never an error)
//   - comparing incompatible types (string vs number) yields Null
//
// Eval errors only on malformed trees (Unrecognized nodes, unknown
// operators) - those cannot come out of a successful compilation.
func Eval(e Expr, r Resolver) (Value, error) {
	switch n := e.(type) {
	case Literal:
		return n.Value, nil

	case Ref:
		v, ok := r.Resolve(n.Path)
		if !ok {
			return Null{}, nil
		}
		return v, nil

	case Var:
		v, ok := r.Var(n.Name)
		if !ok {
			return Null{}, nil
		}
		return v, nil

	case Compare:
		left, err := Eval(n.Left, r)
		if err != nil {
			return nil, err
		}
		right, err := Eval(n.Right, r)
		if err != nil {
			return nil, err
		}
		return compare(n.Op, left, right), nil

	case Logic:
		return evalLogic(n, r)

	case Not:
		v, err := Eval(n.Operand, r)
		if err != nil {
			return nil, err
		}
		if IsNull(v) {
			return Null{}, nil
		}
		b, ok := v.(Bool)
		if !ok {
			return Null{}, nil
		}
		return Bool(!b), nil

	case Coalesce:
		for _, operand := range n.Values {
			v, err := Eval(operand, r)
			if err != nil {
				return nil, err
			}
			if !IsNull(v) {
				return v, nil
			}
		}
		return Null{}, nil

	case Unrecognized:
		return nil, fmt.Errorf("cannot evaluate unrecognized expression node: %v", n.Raw)

	default:
		return nil, fmt.Errorf("cannot evaluate expression node of type %T", e)
	}
}

// Matches evaluates a condition and reports whether it affirmatively
// matched. Null and non-boolean results count as no-match.
func Matches(e Expr, r Resolver) (bool, error) {
	v, err := Eval(e, r)
	if err != nil {
		return false, err
	}
	b, ok := v.(Bool)
	return ok && bool(b), nil
}

func evalLogic(n Logic, r Resolver) (Value, error) {
	sawNull := false
	for _, operand := range n.Operands {
		v, err := Eval(operand, r)
		if err != nil {
			return nil, err
		}
		if IsNull(v) {
			sawNull = true
			continue
		}
		b, ok := v.(Bool)
		if !ok {
			sawNull = true
			continue
		}
		// Short-circuit: false decides an and, true decides an or.
		if n.Op == OpAnd && !bool(b) {
			return Bool(false), nil
		}
		if n.Op == OpOr && bool(b) {
			return Bool(true), nil
		}
	}
	if sawNull {
		return Null{}, nil
	}
	// All operands agreed with the connective.
	return Bool(n.Op == OpAnd), nil
}

// compare applies a comparison operator with numeric promotion and null
// propagation.
func compare(op CompareOp, left, right Value) Value {
	if IsNull(left) || IsNull(right) {
		return Null{}
	}

	if cmp, ok := compareNumeric(left, right); ok {
		return orderResult(op, cmp)
	}

	switch l := left.(type) {
	case String:
		rs, ok := right.(String)
		if !ok {
			return Null{}
		}
		switch op {
		case OpEq:
			return Bool(l == rs)
		case OpNeq:
			return Bool(l != rs)
		default:
			// Lexicographic ordering of strings is never what an alert
			// condition means; ordered string comparison yields Null.
			return Null{}
		}
	case Bool:
		rb, ok := right.(Bool)
		if !ok {
			return Null{}
		}
		switch op {
		case OpEq:
			return Bool(l == rb)
		case OpNeq:
			return Bool(l != rb)
		default:
			return Null{}
		}
	default:
		return Null{}
	}
}

func orderResult(op CompareOp, cmp int) Value {
	switch op {
	case OpEq:
		return Bool(cmp == 0)
	case OpNeq:
		return Bool(cmp != 0)
	case OpLt:
		return Bool(cmp < 0)
	case OpLte:
		return Bool(cmp <= 0)
	case OpGt:
		return Bool(cmp > 0)
	case OpGte:
		return Bool(cmp >= 0)
	default:
		return Null{}
	}
}

// MapResolver resolves Ref paths against a nested map row and Var names
// against a flat variable map. Paths use the "$.a.b.c" JSONPath subset the
// compiler emits.
type MapResolver struct {
	Root map[string]any
	Vars map[string]any
}

// Resolve walks the root map along the dotted path.
func (m MapResolver) Resolve(path string) (Value, bool) {
	if len(path) < 2 || path[:2] != "$." {
		return Null{}, false
	}
	cur := any(m.Root)
	rest := path[2:]
	for rest != "" {
		obj, ok := cur.(map[string]any)
		if !ok {
			return Null{}, false
		}
		seg := rest
		if i := strings.IndexByte(rest, '.'); i >= 0 {
			seg, rest = rest[:i], rest[i+1:]
		} else {
			rest = ""
		}
		cur, ok = obj[seg]
		if !ok {
			return Null{}, false
		}
	}
	v, err := FromGo(cur)
	if err != nil {
		return Null{}, false
	}
	return v, true
}

// Var resolves a variable by name.
func (m MapResolver) Var(name string) (Value, bool) {
	raw, ok := m.Vars[name]
	if !ok {
		return Null{}, false
	}
	v, err := FromGo(raw)
	if err != nil {
		return Null{}, false
	}
	return v, true
}
