// Package compiler turns a sanitized template draft plus a pinned catalog
// snapshot into an immutable, content-addressed executable.
//
// The pipeline runs four total stages: sanitize (ordered Draft -> Draft
// rewrite passes), bind datasources (catalog selection and parameter
// binding), fold conditions (every operand rewritten through the signal
// ref map, with unresolved-ref and suspicious-literal guards), and
// identify (UUIDv5 over identity inputs only). Errors form a closed set
// and always carry the offending identifier.
package compiler
