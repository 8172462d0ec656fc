// Package runtime projects compiled templates and configured instances
// into the key-value store the out-of-process evaluators read.
//
// The projector is the only writer. Every mutation for one instance is
// applied as a single atomic batch, so readers never observe a record
// without its index memberships or vice versa. Secondary indexes are
// maintained by diffing the new target selector against the previously
// stored record.
package runtime
