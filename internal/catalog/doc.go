// Package catalog is the in-memory registry of allowlisted query sources.
//
// A Snapshot is built once from CUE catalog definitions, is immutable and
// lock-free afterward, and pins its own content hash (the registry
// snapshot) so compiled executables record exactly which catalog state they
// were compiled against. Refreshing the catalog means constructing a new
// Snapshot and restarting the consumers - there is no hot in-place
// mutation.
package catalog
