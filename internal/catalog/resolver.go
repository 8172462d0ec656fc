package catalog

import (
	"fmt"
	"sort"
)

// CollisionError reports a column name exposed by two selected catalog
// entries under different datasource ids. Resolution fails instead of
// picking one - determinism over convenience.
type CollisionError struct {
	Column string
	First  string // derived datasource id that claimed the column first
	Second string // derived datasource id that collided
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("column %q exposed by both %s and %s", e.Column, e.First, e.Second)
}

// UnknownEntryError reports a catalog id that does not resolve (unknown or
// disabled).
type UnknownEntryError struct {
	CatalogID string
}

func (e *UnknownEntryError) Error() string {
	return fmt.Sprintf("unknown or disabled catalog id %q", e.CatalogID)
}

// SignalRefMap enumerates the result columns of the selected catalog
// entries and maps each column name to its JSONPath ref,
// "$.datasources.<derived_id>.<column>". Two entries exposing the same
// column name under different derived ids fail with *CollisionError.
func (s *Snapshot) SignalRefMap(catalogIDs []string) (map[string]string, error) {
	// Deterministic claim order regardless of caller order.
	ids := append([]string(nil), catalogIDs...)
	sort.Strings(ids)

	refs := make(map[string]string)
	owner := make(map[string]string) // column -> derived id
	for _, id := range ids {
		entry, ok := s.Resolve(id)
		if !ok {
			return nil, &UnknownEntryError{CatalogID: id}
		}
		derived := DerivedID(id)
		for _, col := range entry.Schema.Columns {
			if prev, claimed := owner[col.Name]; claimed {
				if prev == derived {
					continue
				}
				return nil, &CollisionError{Column: col.Name, First: prev, Second: derived}
			}
			owner[col.Name] = derived
			refs[col.Name] = "$.datasources." + derived + "." + col.Name
		}
	}
	return refs, nil
}

// ColumnOwners returns, for each column name across all enabled entries,
// the catalog ids that expose it. Used by the compiler's datasource
// inference fallback: a bare column name in a condition selects its catalog
// only when exactly one entry owns it.
func (s *Snapshot) ColumnOwners() map[string][]string {
	owners := make(map[string][]string)
	for _, e := range s.List() {
		for _, col := range e.Schema.Columns {
			owners[col.Name] = append(owners[col.Name], e.CatalogID)
		}
	}
	return owners
}
