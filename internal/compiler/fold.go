package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/klaxonhq/klaxon/internal/catalog"
	"github.com/klaxonhq/klaxon/internal/expr"
	"github.com/klaxonhq/klaxon/internal/template"
)

// txShorthand maps dotted shorthand names LLM backends emit for
// transaction fields onto their JSONPath refs. Tunable, not exhaustive.
var txShorthand = map[string]string{
	"tx_value":  "$.tx.value_native",
	"tx_hash":   "$.tx.hash",
	"tx_from":   "$.tx.from",
	"tx_to":     "$.tx.to",
	"tx_method": "$.tx.method",
}

// Literal shapes that are always acceptable as string literals: numeric,
// 0x-prefixed hex, bare 40/64-char hex (addresses and tx hashes without
// prefix), and boolean words. This is a heuristic for catching natural
// language that leaked into a condition, not a hard invariant; hex strings
// in unusual lengths will be rejected and need an explicit ref comparison.
var (
	numericShapeRe = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][+-]?\d+)?$`)
	hexShapeRe     = regexp.MustCompile(`^(0x[0-9a-fA-F]+|[0-9a-fA-F]{40}|[0-9a-fA-F]{64})$`)
	boolShapeRe    = regexp.MustCompile(`^(?i)(true|false)$`)
)

// folder carries the name environment for folding one draft's expressions.
type folder struct {
	refMap     map[string]string   // column/signal name -> JSONPath ref
	columns    map[string]struct{} // valid $.datasources.<id>.<col> paths
	variables  map[string]struct{}
	known      map[string]struct{} // names for the unresolved-ref post-pass
	enrichment map[string]struct{} // outputs declared so far, in order
}

// foldConditions normalizes and folds the draft's derivations and trigger
// condition through the signal ref map, producing the executable's
// enrichments and condition groups.
func foldConditions(d *template.Draft, bindings []template.DatasourceBinding, snap *catalog.Snapshot) ([]template.Enrichment, template.Conditions, error) {
	if d.Trigger.ConditionAST == nil {
		return nil, template.Conditions{}, newError(CodeMissingConditionAST, d.TemplateID)
	}

	ids := make([]string, len(bindings))
	for i, b := range bindings {
		ids[i] = b.CatalogID
	}
	refMap, err := snap.SignalRefMap(ids)
	if err != nil {
		return nil, template.Conditions{}, mapCatalogError(err)
	}

	f := &folder{
		refMap:     refMap,
		columns:    map[string]struct{}{},
		variables:  map[string]struct{}{},
		known:      map[string]struct{}{},
		enrichment: map[string]struct{}{},
	}
	for col, path := range refMap {
		f.columns[strings.TrimPrefix(path, "$.")] = struct{}{}
		f.known[col] = struct{}{}
	}
	for _, v := range d.Variables {
		f.variables[v.ID] = struct{}{}
	}
	for _, sig := range append(append([]template.Signal(nil), d.Signals.Principals...), d.Signals.Factors...) {
		f.known[sig.Name] = struct{}{}
	}

	// Derivations fold in declared order; each may reference the outputs
	// of the ones before it.
	enrichments := make([]template.Enrichment, 0, len(d.Derivations))
	for _, der := range d.Derivations {
		folded, err := f.fold(der.ExprAST)
		if err != nil {
			return nil, template.Conditions{}, fmt.Errorf("derivation %q: %w", der.Name, err)
		}
		f.enrichment[der.Name] = struct{}{}
		enrichments = append(enrichments, template.Enrichment{
			ID:     der.Name,
			Expr:   expr.ToJSON(folded),
			Output: "$.enrichment." + der.Name,
		})
	}

	condition, err := f.fold(d.Trigger.ConditionAST)
	if err != nil {
		return nil, template.Conditions{}, fmt.Errorf("trigger condition: %w", err)
	}

	return enrichments, groupConditions(condition), nil
}

// fold runs one expression through normalize, leaf rewriting, the
// unresolved-ref guard, and the suspicious-literal guard.
func (f *folder) fold(raw any) (expr.Expr, error) {
	e, _, err := expr.Normalize(raw)
	if err != nil {
		return nil, err
	}

	rewritten, err := expr.RewriteLeaves(e, f.rewriteLeaf)
	if err != nil {
		return nil, err
	}

	// Fail-fast guard: a leaf that still spells a known name was never
	// rewritten into an explicit ref, so the expression is only partially
	// normalized and must not reach the executable.
	if unresolved := expr.FindUnresolvedRefs(rewritten, f.known); len(unresolved) > 0 {
		return nil, newError(CodeUnresolvedRef, unresolved[0])
	}

	if err := f.checkLiterals(rewritten); err != nil {
		return nil, err
	}
	return rewritten, nil
}

func (f *folder) rewriteLeaf(leaf expr.Expr) (expr.Expr, error) {
	switch n := leaf.(type) {
	case expr.Literal:
		s, ok := n.Value.(expr.String)
		if !ok {
			return leaf, nil
		}
		if path, ok := f.lookupName(string(s)); ok {
			return expr.Ref{Path: path}, nil
		}
		return leaf, nil

	case expr.Ref:
		if !strings.HasPrefix(n.Path, "$.") {
			// Ref wrapper around a bare name.
			if path, ok := f.lookupName(n.Path); ok {
				return expr.Ref{Path: path}, nil
			}
			return nil, newError(CodeUnresolvedRef, n.Path)
		}
		if err := f.checkRefPath(n.Path); err != nil {
			return nil, err
		}
		return leaf, nil

	case expr.Var:
		if _, ok := f.variables[n.Name]; !ok {
			return nil, newError(CodeUnresolvedRef, "{{"+n.Name+"}}")
		}
		return leaf, nil

	case expr.Unrecognized:
		return nil, newError(CodeSuspiciousLiteral, rawSnippet(n.Raw))

	default:
		return leaf, nil
	}
}

// lookupName resolves a bare name through the signal ref map and the tx
// shorthand table.
func (f *folder) lookupName(name string) (string, bool) {
	if path, ok := f.refMap[name]; ok {
		return path, true
	}
	if path, ok := txShorthand[name]; ok {
		return path, true
	}
	return "", false
}

// checkRefPath validates an explicit JSONPath against the compiled name
// environment. Every ref in an executable must resolve; unresolved refs
// fail compilation, never silently pass through.
func (f *folder) checkRefPath(path string) error {
	body := strings.TrimPrefix(path, "$.")
	root := body
	if i := strings.IndexByte(body, '.'); i >= 0 {
		root = body[:i]
	}
	switch root {
	case "tx", "targets", "partition", "schedule", "run":
		return nil
	case "datasources":
		if _, ok := f.columns[body]; !ok {
			return newError(CodeUnresolvedRef, path)
		}
		return nil
	case "enrichment":
		name := strings.TrimPrefix(body, "enrichment.")
		if _, ok := f.enrichment[name]; !ok {
			return newError(CodeUnresolvedRef, path)
		}
		return nil
	case "variables":
		name := strings.TrimPrefix(body, "variables.")
		if _, ok := f.variables[name]; !ok {
			return newError(CodeUnresolvedRef, path)
		}
		return nil
	default:
		return newError(CodeUnresolvedRef, path)
	}
}

// checkLiterals rejects free-form string literals. A string literal is
// allowed only when it is numeric/hex/bool shaped, or sits directly against
// an explicit JSONPath ref in a comparison (e.g. $.tx.method == "transfer").
// This catches natural-language leakage into compiled conditions.
func (f *folder) checkLiterals(e expr.Expr) error {
	allowed := map[string]struct{}{}
	expr.Walk(e, func(node expr.Expr) {
		cmp, ok := node.(expr.Compare)
		if !ok {
			return
		}
		_, leftRef := cmp.Left.(expr.Ref)
		_, rightRef := cmp.Right.(expr.Ref)
		if leftRef {
			markAllowed(cmp.Right, allowed)
		}
		if rightRef {
			markAllowed(cmp.Left, allowed)
		}
	})

	var bad string
	expr.Walk(e, func(node expr.Expr) {
		if bad != "" {
			return
		}
		lit, ok := node.(expr.Literal)
		if !ok {
			return
		}
		s, ok := lit.Value.(expr.String)
		if !ok {
			return
		}
		text := string(s)
		if _, ok := allowed[text]; ok {
			return
		}
		if numericShapeRe.MatchString(text) || hexShapeRe.MatchString(text) || boolShapeRe.MatchString(text) {
			return
		}
		bad = text
	})
	if bad != "" {
		return newError(CodeSuspiciousLiteral, bad)
	}
	return nil
}

func markAllowed(e expr.Expr, allowed map[string]struct{}) {
	if lit, ok := e.(expr.Literal); ok {
		if s, ok := lit.Value.(expr.String); ok {
			allowed[string(s)] = struct{}{}
		}
	}
}

// groupConditions shapes the folded condition tree into the executable's
// all/any/not groups.
func groupConditions(e expr.Expr) template.Conditions {
	switch n := e.(type) {
	case expr.Logic:
		vals := make([]any, len(n.Operands))
		for i, op := range n.Operands {
			vals[i] = expr.ToJSON(op)
		}
		if n.Op == expr.OpOr {
			return template.Conditions{Any: vals}
		}
		return template.Conditions{All: vals}
	case expr.Not:
		return template.Conditions{Not: []any{expr.ToJSON(n.Operand)}}
	default:
		return template.Conditions{All: []any{expr.ToJSON(e)}}
	}
}

// mapCatalogError translates resolver errors into the closed compile error
// set.
func mapCatalogError(err error) error {
	var collision *catalog.CollisionError
	if errors.As(err, &collision) {
		return &Error{Code: CodeColumnCollision, Ident: collision.Column, Cause: err}
	}
	var unknown *catalog.UnknownEntryError
	if errors.As(err, &unknown) {
		return &Error{Code: CodeUnknownCatalogID, Ident: unknown.CatalogID, Cause: err}
	}
	return err
}

func rawSnippet(raw any) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	if len(data) > 80 {
		data = data[:80]
	}
	return string(data)
}
