// Package expr defines the canonical ExprV1 condition model shared by the
// template compiler and the preview engine.
//
// Drafts produced by LLM backends carry condition trees in several loose
// shapes: typed literal wrappers, ref wrappers, operator aliases, bare
// identifier strings, and {{var}} placeholders. Normalize folds all of them
// into one sealed Expr union and records every guess it made as a warning.
// Eval walks the canonical tree with short-circuiting boolean logic,
// decimal numeric promotion, and null-tolerant comparisons.
package expr
