package expr

// CompareOp is a canonical comparison operator.
type CompareOp string

// Canonical comparison operators.
const (
	OpEq  CompareOp = "eq"
	OpNeq CompareOp = "neq"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
)

// LogicOp is a canonical boolean connective.
type LogicOp string

// Canonical boolean connectives.
const (
	OpAnd LogicOp = "and"
	OpOr  LogicOp = "or"
)

// Expr is a sealed interface over the canonical expression node types.
// Only Compare, Logic, Not, Coalesce, Literal, Ref, Var, and Unrecognized
// implement it. Drafts arrive in many loose shapes; Normalize converts them
// all into this one form.
type Expr interface {
	expr() // Sealed - only these types implement it
}

// Compare is a binary comparison between two operands.
type Compare struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (Compare) expr() {}

// Logic is an n-ary and/or over boolean operands. Evaluation short-circuits
// and uses three-valued logic: a Null operand yields Null unless the
// connective is already decided.
type Logic struct {
	Op       LogicOp
	Operands []Expr
}

func (Logic) expr() {}

// Not negates a boolean operand. Null stays Null.
type Not struct {
	Operand Expr
}

func (Not) expr() {}

// Coalesce yields the first non-null operand, or Null when all are null.
type Coalesce struct {
	Values []Expr
}

func (Coalesce) expr() {}

// Literal is a constant leaf.
type Literal struct {
	Value Value
}

func (Literal) expr() {}

// Ref is a JSONPath reference into the evaluation row, e.g.
// "$.tx.value_native", "$.datasources.ds_cat_balance_latest.balance_latest",
// or "$.enrichment.delta". Compilation guarantees every Ref in an executable
// resolves to a known column, tx field, or enrichment output.
type Ref struct {
	Path string
}

func (Ref) expr() {}

// Var is a {{name}} placeholder resolved from instance variable values.
type Var struct {
	Name string
}

func (Var) expr() {}

// Unrecognized preserves a draft node the normalizer could not interpret.
// It never survives compilation: the fold stage rejects it with a named
// error. Keeping it as a node (instead of failing mid-walk) lets the
// normalizer report everything it guessed in one pass.
type Unrecognized struct {
	Raw any
}

func (Unrecognized) expr() {}

// ToJSON renders a canonical Expr into the plain JSON form stored inside
// compiled executables. Normalize accepts this form back unchanged, so
// executables round-trip through serialization without warnings.
func ToJSON(e Expr) any {
	switch n := e.(type) {
	case Compare:
		return map[string]any{
			"op":    string(n.Op),
			"left":  ToJSON(n.Left),
			"right": ToJSON(n.Right),
		}
	case Logic:
		vals := make([]any, len(n.Operands))
		for i, op := range n.Operands {
			vals[i] = ToJSON(op)
		}
		return map[string]any{"op": string(n.Op), "values": vals}
	case Not:
		return map[string]any{"op": "not", "value": ToJSON(n.Operand)}
	case Coalesce:
		vals := make([]any, len(n.Values))
		for i, v := range n.Values {
			vals[i] = ToJSON(v)
		}
		return map[string]any{"op": "coalesce", "values": vals}
	case Literal:
		return ToGo(n.Value)
	case Ref:
		return n.Path
	case Var:
		return "{{" + n.Name + "}}"
	case Unrecognized:
		return n.Raw
	default:
		return nil
	}
}
