package expr

// Walk visits every node of the tree in depth-first order.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch n := e.(type) {
	case Compare:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Logic:
		for _, op := range n.Operands {
			Walk(op, fn)
		}
	case Not:
		Walk(n.Operand, fn)
	case Coalesce:
		for _, v := range n.Values {
			Walk(v, fn)
		}
	}
}

// RewriteLeaves returns a copy of the tree with fn applied to every leaf
// (Literal, Ref, Var, Unrecognized). Interior nodes are rebuilt, never
// mutated, so the input tree stays usable.
func RewriteLeaves(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	switch n := e.(type) {
	case Compare:
		left, err := RewriteLeaves(n.Left, fn)
		if err != nil {
			return nil, err
		}
		right, err := RewriteLeaves(n.Right, fn)
		if err != nil {
			return nil, err
		}
		return Compare{Op: n.Op, Left: left, Right: right}, nil
	case Logic:
		operands := make([]Expr, len(n.Operands))
		for i, op := range n.Operands {
			rewritten, err := RewriteLeaves(op, fn)
			if err != nil {
				return nil, err
			}
			operands[i] = rewritten
		}
		return Logic{Op: n.Op, Operands: operands}, nil
	case Not:
		operand, err := RewriteLeaves(n.Operand, fn)
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil
	case Coalesce:
		values := make([]Expr, len(n.Values))
		for i, v := range n.Values {
			rewritten, err := RewriteLeaves(v, fn)
			if err != nil {
				return nil, err
			}
			values[i] = rewritten
		}
		return Coalesce{Values: values}, nil
	default:
		return fn(e)
	}
}

// FindUnresolvedRefs returns string literals whose text matches a known
// signal or column name but were never rewritten into an explicit Ref.
// A non-empty result means an expression reached this point only partially
// normalized, which must fail compilation rather than evaluate a name as
// if it were a string constant.
func FindUnresolvedRefs(e Expr, known map[string]struct{}) []string {
	var unresolved []string
	seen := map[string]struct{}{}
	Walk(e, func(node Expr) {
		lit, ok := node.(Literal)
		if !ok {
			return
		}
		s, ok := lit.Value.(String)
		if !ok {
			return
		}
		name := string(s)
		if _, isKnown := known[name]; !isKnown {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		unresolved = append(unresolved, name)
	})
	return unresolved
}

// CollectRefs returns every Ref path in the tree, in visit order.
func CollectRefs(e Expr) []string {
	var paths []string
	Walk(e, func(node Expr) {
		if r, ok := node.(Ref); ok {
			paths = append(paths, r.Path)
		}
	})
	return paths
}

// CollectVars returns every Var name in the tree, in visit order.
func CollectVars(e Expr) []string {
	var names []string
	Walk(e, func(node Expr) {
		if v, ok := node.(Var); ok {
			names = append(names, v.Name)
		}
	})
	return names
}

// CollectStringLiterals returns every string literal in the tree.
func CollectStringLiterals(e Expr) []string {
	var lits []string
	Walk(e, func(node Expr) {
		if l, ok := node.(Literal); ok {
			if s, ok := l.Value.(String); ok {
				lits = append(lits, string(s))
			}
		}
	})
	return lits
}
