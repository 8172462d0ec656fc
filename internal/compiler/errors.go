package compiler

import (
	"errors"
	"fmt"
)

// Code identifies a compilation failure. The set is closed: callers can
// switch over it exhaustively.
type Code string

const (
	CodeUnknownCatalogID    Code = "UnknownCatalogId"
	CodeColumnCollision     Code = "ColumnCollision"
	CodeUnresolvedRef       Code = "UnresolvedRef"
	CodeSuspiciousLiteral   Code = "SuspiciousLiteral"
	CodeInvalidTargetKind   Code = "InvalidTargetKind"
	CodeMissingConditionAST Code = "MissingConditionAst"
)

// Error is a fatal compilation error. It always carries the offending
// identifier so the message is actionable. Compilation never retries
// internally - the caller decides whether to run a repair pass.
type Error struct {
	Code  Code
	Ident string // the offending identifier (catalog id, column, literal...)
	Cause error
}

func (e *Error) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Ident)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, ident string) *Error {
	return &Error{Code: code, Ident: ident}
}

// missingInfoByCode maps each failure code to the structured missing_info
// entry surfaced to the caller, so a human-in-the-loop or repair pass knows
// what to supply.
var missingInfoByCode = map[Code]string{
	CodeUnknownCatalogID:    "datasource_required",
	CodeColumnCollision:     "datasource_disambiguation_required",
	CodeUnresolvedRef:       "signal_definition_required",
	CodeSuspiciousLiteral:   "condition_review_required",
	CodeInvalidTargetKind:   "target_kind_required",
	CodeMissingConditionAST: "condition_required",
}

// MissingInfo translates a compilation error into structured missing_info
// entries. Non-compilation errors yield none.
func MissingInfo(err error) []string {
	var ce *Error
	if !errors.As(err, &ce) {
		return nil
	}
	if info, ok := missingInfoByCode[ce.Code]; ok {
		return []string{info}
	}
	return nil
}
