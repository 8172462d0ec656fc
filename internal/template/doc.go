// Package template holds the shared data model of the compilation
// pipeline: the untrusted Draft, the compiled content-addressed Executable,
// user Instances, and the canonical JSON serialization plus hash functions
// (spec hash, semantic fingerprint, UUIDv5 executable identity) that give
// those artifacts stable identities.
package template
