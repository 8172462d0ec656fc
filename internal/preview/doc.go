// Package preview evaluates compiled executables against historical or
// live data through an injected query backend.
//
// A preview run is one batch of concurrent datasource queries under a
// single deadline, followed by pure per-target evaluation: merge rows,
// run derivations in order, walk the compiled condition tree. Previews
// are all-or-nothing; an executor failure or timeout fails the whole run.
package preview
