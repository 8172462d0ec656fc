package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// UnknownOperatorError reports an operator token the normalizer does not
// recognize. Unknown operators fail normalization outright - defaulting to
// some other operator would silently change alert semantics.
type UnknownOperatorError struct {
	Token string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator token %q", e.Token)
}

// operator alias table. LLM backends emit a mix of symbolic and named
// operators; everything here folds into one canonical token.
var compareAliases = map[string]CompareOp{
	"eq": OpEq, "==": OpEq, "=": OpEq, "equals": OpEq,
	"neq": OpNeq, "!=": OpNeq, "<>": OpNeq, "ne": OpNeq, "not_equals": OpNeq,
	"lt": OpLt, "<": OpLt,
	"lte": OpLte, "<=": OpLte, "le": OpLte,
	"gt": OpGt, ">": OpGt,
	"gte": OpGte, ">=": OpGte, "ge": OpGte,
}

var logicAliases = map[string]LogicOp{
	"and": OpAnd, "&&": OpAnd, "all": OpAnd,
	"or": OpOr, "||": OpOr, "any": OpOr,
}

var varPlaceholderRe = regexp.MustCompile(`^\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}$`)

// typed literal wrappers produced by some LLM backends, e.g.
// {"type":"ExprV1Number","value":1}.
const (
	wrapperNumber = "ExprV1Number"
	wrapperString = "ExprV1String"
	wrapperBool   = "ExprV1Bool"
	wrapperNull   = "ExprV1Null"
)

// Normalize converts a loosely shaped condition tree into one canonical
// Expr. It accepts typed literal wrappers, ref wrappers, {{var}}
// placeholders, $.-prefixed JSONPaths, bare identifier strings, operator
// aliases, and {"all":..}/{"any":..}/{"not":..} group shorthand.
//
// Every loose-to-canonical substitution is recorded as a human-readable
// warning so a reviewer can see what was guessed. Unknown operator tokens
// return *UnknownOperatorError. Shapes the normalizer cannot interpret at
// all become Unrecognized nodes plus a warning; the compiler rejects those
// later with a named error.
func Normalize(raw any) (Expr, []string, error) {
	n := &normalizer{}
	e, err := n.node(raw)
	if err != nil {
		return nil, n.warnings, err
	}
	return e, n.warnings, nil
}

type normalizer struct {
	warnings []string
}

func (n *normalizer) warnf(format string, args ...any) {
	n.warnings = append(n.warnings, fmt.Sprintf(format, args...))
}

func (n *normalizer) node(raw any) (Expr, error) {
	switch v := raw.(type) {
	case nil:
		return Literal{Value: Null{}}, nil
	case bool:
		return Literal{Value: Bool(v)}, nil
	case string:
		return n.leafString(v), nil
	case json.Number, float64, int, int64:
		val, err := FromGo(v)
		if err != nil {
			return nil, err
		}
		return Literal{Value: val}, nil
	case []any:
		// A bare list of conditions means "all of these".
		n.warnf("rewrote bare condition list (%d items) as and-group", len(v))
		return n.group(OpAnd, v)
	case map[string]any:
		return n.object(v)
	default:
		n.warnf("unrecognized expression node of type %T", raw)
		return Unrecognized{Raw: raw}, nil
	}
}

// leafString classifies a string leaf: JSONPath ref, {{var}} placeholder,
// or plain literal. Bare identifiers stay literals here; the compiler's
// fold stage rewrites them through the signal ref map or rejects them.
func (n *normalizer) leafString(s string) Expr {
	trimmed := strings.TrimSpace(s)
	if trimmed != s {
		n.warnf("trimmed whitespace around %q", s)
	}
	if strings.HasPrefix(trimmed, "$.") {
		return Ref{Path: trimmed}
	}
	if m := varPlaceholderRe.FindStringSubmatch(trimmed); m != nil {
		return Var{Name: m[1]}
	}
	return Literal{Value: String(trimmed)}
}

func (n *normalizer) object(obj map[string]any) (Expr, error) {
	// Typed literal wrappers.
	if t, ok := obj["type"].(string); ok {
		return n.typedWrapper(t, obj)
	}

	if rawOp, ok := obj["op"]; ok {
		tok, ok := rawOp.(string)
		if !ok {
			return nil, &UnknownOperatorError{Token: fmt.Sprintf("%v", rawOp)}
		}
		return n.operator(tok, obj)
	}

	// Group shorthand without an op key: {"all": [..]}, {"any": [..]},
	// {"not": ..}.
	if vals, ok := obj["all"]; ok {
		n.warnf(`rewrote {"all": ...} shorthand as and-group`)
		return n.group(OpAnd, asList(vals))
	}
	if vals, ok := obj["any"]; ok {
		n.warnf(`rewrote {"any": ...} shorthand as or-group`)
		return n.group(OpOr, asList(vals))
	}
	if val, ok := obj["not"]; ok {
		n.warnf(`rewrote {"not": ...} shorthand as negation`)
		inner, err := n.node(val)
		if err != nil {
			return nil, err
		}
		return Not{Operand: inner}, nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	n.warnf("unrecognized expression object with keys %v", keys)
	return Unrecognized{Raw: obj}, nil
}

func (n *normalizer) typedWrapper(t string, obj map[string]any) (Expr, error) {
	switch t {
	case wrapperNumber, wrapperString, wrapperBool:
		val, err := FromGo(obj["value"])
		if err != nil {
			return nil, fmt.Errorf("typed literal %s: %w", t, err)
		}
		n.warnf("unwrapped typed literal %s", t)
		return Literal{Value: val}, nil
	case wrapperNull:
		n.warnf("unwrapped typed literal %s", t)
		return Literal{Value: Null{}}, nil
	default:
		n.warnf("unrecognized typed wrapper %q", t)
		return Unrecognized{Raw: obj}, nil
	}
}

func (n *normalizer) operator(tok string, obj map[string]any) (Expr, error) {
	lower := strings.ToLower(strings.TrimSpace(tok))

	// Ref wrapper: {"op":"ref","values":["x"]}.
	if lower == "ref" {
		vals := asList(obj["values"])
		if len(vals) != 1 {
			return nil, fmt.Errorf("ref wrapper wants exactly one value, got %d", len(vals))
		}
		s, ok := vals[0].(string)
		if !ok {
			return nil, fmt.Errorf("ref wrapper value must be a string, got %T", vals[0])
		}
		n.warnf("rewrote ref wrapper for %q", s)
		return Ref{Path: s}, nil
	}

	if op, ok := compareAliases[lower]; ok {
		if tok != string(op) {
			n.warnf("rewrote operator %q as %q", tok, op)
		}
		left, right, err := n.comparePair(obj)
		if err != nil {
			return nil, err
		}
		return Compare{Op: op, Left: left, Right: right}, nil
	}

	if op, ok := logicAliases[lower]; ok {
		if tok != string(op) {
			n.warnf("rewrote operator %q as %q", tok, op)
		}
		operands, err := n.logicOperands(obj)
		if err != nil {
			return nil, err
		}
		return Logic{Op: op, Operands: operands}, nil
	}

	if lower == "not" || lower == "!" {
		if tok != "not" {
			n.warnf("rewrote operator %q as %q", tok, "not")
		}
		inner := obj["value"]
		if inner == nil {
			inner = obj["operand"]
		}
		if inner == nil {
			if vals := asList(obj["values"]); len(vals) == 1 {
				inner = vals[0]
			}
		}
		if inner == nil {
			return nil, fmt.Errorf("not operator missing operand")
		}
		e, err := n.node(inner)
		if err != nil {
			return nil, err
		}
		return Not{Operand: e}, nil
	}

	if lower == "coalesce" || lower == "ifnull" {
		if tok != "coalesce" {
			n.warnf("rewrote operator %q as %q", tok, "coalesce")
		}
		vals := asList(obj["values"])
		if len(vals) == 0 {
			return nil, fmt.Errorf("coalesce wants at least one value")
		}
		out := make([]Expr, len(vals))
		for i, v := range vals {
			e, err := n.node(v)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return Coalesce{Values: out}, nil
	}

	return nil, &UnknownOperatorError{Token: tok}
}

// comparePair extracts the two operands of a comparison. Accepts both
// left/right keys and a two-element values list.
func (n *normalizer) comparePair(obj map[string]any) (Expr, Expr, error) {
	rawLeft, hasLeft := obj["left"]
	rawRight, hasRight := obj["right"]
	if !hasLeft || !hasRight {
		vals := asList(obj["values"])
		if len(vals) != 2 {
			return nil, nil, fmt.Errorf("comparison wants left/right or a two-element values list")
		}
		n.warnf("rewrote values-pair comparison as left/right")
		rawLeft, rawRight = vals[0], vals[1]
	}
	left, err := n.node(rawLeft)
	if err != nil {
		return nil, nil, err
	}
	right, err := n.node(rawRight)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (n *normalizer) logicOperands(obj map[string]any) ([]Expr, error) {
	var raw []any
	if vals := asList(obj["values"]); len(vals) > 0 {
		raw = vals
	} else if vals := asList(obj["operands"]); len(vals) > 0 {
		raw = vals
	} else if l, ok := obj["left"]; ok {
		raw = []any{l}
		if r, ok := obj["right"]; ok {
			raw = append(raw, r)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("boolean operator missing operands")
	}
	out := make([]Expr, len(raw))
	for i, v := range raw {
		e, err := n.node(v)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (n *normalizer) group(op LogicOp, vals []any) (Expr, error) {
	operands := make([]Expr, len(vals))
	for i, v := range vals {
		e, err := n.node(v)
		if err != nil {
			return nil, err
		}
		operands[i] = e
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return Logic{Op: op, Operands: operands}, nil
}

func asList(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{v}
}
