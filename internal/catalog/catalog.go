package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/klaxonhq/klaxon/internal/template"
)

// Entry is one allowlisted query source. Entries are immutable for the
// process lifetime; refreshing the catalog means building a new Snapshot.
type Entry struct {
	CatalogID string       `json:"catalog_id"`
	Enabled   bool         `json:"enabled"`
	Query     QuerySpec    `json:"query"`
	Params    []Param      `json:"params,omitempty"`
	Schema    ResultSchema `json:"result_schema"`
	Cache     CachePolicy  `json:"cache"`
	Timeouts  Timeouts     `json:"timeouts"`
}

// QuerySpec names the backing table and the parameterized SQL text the
// remote query service executes. The SQL dialect is the remote service's
// concern, not ours.
type QuerySpec struct {
	Table string `json:"table"`
	SQL   string `json:"sql"`
}

// Param is a typed, named query parameter. Types: string, int64, bool,
// decimal, timestamp, string_list.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// ResultSchema describes the rows an entry returns.
type ResultSchema struct {
	Columns    []Column `json:"columns"`
	KeyColumns []string `json:"key_columns"`
}

// Column is one result column with its type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CachePolicy controls result caching at the evaluator.
type CachePolicy struct {
	TTLSecs int `json:"ttl_secs"`
}

// Timeouts bounds query execution.
type Timeouts struct {
	QueryMS int `json:"query_ms"`
}

// Snapshot is an immutable, shareable view of the catalog. It is read-only
// after construction and safe for concurrent use without locking; pass it
// explicitly into compiler and resolver calls, there is no ambient global.
type Snapshot struct {
	entries  map[string]*Entry
	ordered  []*Entry
	registry template.RegistrySnapshot
}

// NewSnapshot builds a catalog snapshot from entries. Duplicate catalog ids
// are rejected. The registry hash covers the compiler-visible view only
// (ids, enablement, params, result schemas) so operational tuning of cache
// TTLs and timeouts does not re-identify compiled executables.
func NewSnapshot(entries []Entry, version string) (*Snapshot, error) {
	if version == "" {
		version = "v1"
	}

	s := &Snapshot{entries: make(map[string]*Entry, len(entries))}
	for i := range entries {
		e := entries[i]
		if e.CatalogID == "" {
			return nil, fmt.Errorf("catalog entry %d has empty catalog_id", i)
		}
		if _, dup := s.entries[e.CatalogID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %q", e.CatalogID)
		}
		s.entries[e.CatalogID] = &e
		s.ordered = append(s.ordered, &e)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		return s.ordered[i].CatalogID < s.ordered[j].CatalogID
	})

	hash, err := template.HashCanonical(template.DomainRegistry, s.compilerView())
	if err != nil {
		return nil, fmt.Errorf("hash catalog view: %w", err)
	}
	s.registry = template.RegistrySnapshot{
		Kind:    "datasource_catalog",
		Version: version,
		Hash:    hash,
	}
	return s, nil
}

// compilerView is the part of the catalog that affects compilation output.
func (s *Snapshot) compilerView() []map[string]any {
	view := make([]map[string]any, 0, len(s.ordered))
	for _, e := range s.ordered {
		params := make([]map[string]any, 0, len(e.Params))
		for _, p := range e.Params {
			params = append(params, map[string]any{
				"name": p.Name, "type": p.Type, "required": p.Required,
			})
		}
		cols := make([]map[string]any, 0, len(e.Schema.Columns))
		for _, c := range e.Schema.Columns {
			cols = append(cols, map[string]any{"name": c.Name, "type": c.Type})
		}
		view = append(view, map[string]any{
			"catalog_id":  e.CatalogID,
			"enabled":     e.Enabled,
			"params":      params,
			"columns":     cols,
			"key_columns": e.Schema.KeyColumns,
		})
	}
	return view
}

// Resolve looks up an entry by exact catalog id. Unknown or disabled
// entries miss.
func (s *Snapshot) Resolve(catalogID string) (*Entry, bool) {
	e, ok := s.entries[catalogID]
	if !ok || !e.Enabled {
		return nil, false
	}
	return e, true
}

// List returns enabled entries in stable catalog-id order.
func (s *Snapshot) List() []*Entry {
	out := make([]*Entry, 0, len(s.ordered))
	for _, e := range s.ordered {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Registry returns the pinned snapshot descriptor embedded into compiled
// executables.
func (s *Snapshot) Registry() template.RegistrySnapshot {
	return s.registry
}

// DerivedID maps a catalog id to the internal datasource id used in
// JSONPath refs. Pure: lower-case, dots to underscores, ds_ prefix - the
// same catalog id always yields the same datasource id.
func DerivedID(catalogID string) string {
	return "ds_" + strings.ToLower(strings.ReplaceAll(catalogID, ".", "_"))
}
