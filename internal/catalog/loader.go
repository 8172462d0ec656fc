package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// entryDoc is the CUE-facing shape of a catalog entry. Catalog files look
// like:
//
//	catalog: {
//		"cat.balance_latest": {
//			enabled: true
//			query: {table: "balances", sql: "SELECT ..."}
//			params: [{name: "target_keys", type: "string_list", required: true}]
//			result_schema: {
//				columns: [{name: "balance_latest", type: "decimal"}]
//				key_columns: ["target_key"]
//			}
//			cache: {ttl_secs: 60}
//			timeouts: {query_ms: 5000}
//		}
//	}
type entryDoc struct {
	Enabled bool      `json:"enabled"`
	Query   QuerySpec `json:"query"`
	Params  []Param   `json:"params"`
	Schema  struct {
		Columns    []Column `json:"columns"`
		KeyColumns []string `json:"key_columns"`
	} `json:"result_schema"`
	Cache    CachePolicy `json:"cache"`
	Timeouts Timeouts    `json:"timeouts"`
}

// LoadDir loads every *.cue file in dir and decodes the catalog entries it
// declares. Files are processed in name order so the resulting entry list
// is deterministic.
func LoadDir(dir string) ([]Entry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog path %s is not a directory", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan catalog directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}
	sort.Strings(matches)

	ctx := cuecontext.New()
	var entries []Entry
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		fileEntries, err := decodeFile(ctx, path, data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

// Parse decodes catalog entries from a single CUE source. Used by tests and
// by callers that hold catalog definitions in memory.
func Parse(filename string, src []byte) ([]Entry, error) {
	return decodeFile(cuecontext.New(), filename, src)
}

func decodeFile(ctx *cue.Context, path string, src []byte) ([]Entry, error) {
	v := ctx.CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}

	catalogVal := v.LookupPath(cue.ParsePath("catalog"))
	if !catalogVal.Exists() {
		return nil, fmt.Errorf("%s: missing top-level catalog struct", path)
	}

	iter, err := catalogVal.Fields(cue.Optional(false))
	if err != nil {
		return nil, fmt.Errorf("%s: iterate catalog entries: %w", path, err)
	}

	var entries []Entry
	for iter.Next() {
		id := iter.Selector().Unquoted()
		var doc entryDoc
		if err := iter.Value().Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: entry %q: %w", path, id, err)
		}
		if len(doc.Schema.Columns) == 0 {
			return nil, fmt.Errorf("%s: entry %q declares no result columns", path, id)
		}
		entries = append(entries, Entry{
			CatalogID: id,
			Enabled:   doc.Enabled,
			Query:     doc.Query,
			Params:    doc.Params,
			Schema: ResultSchema{
				Columns:    doc.Schema.Columns,
				KeyColumns: doc.Schema.KeyColumns,
			},
			Cache:    doc.Cache,
			Timeouts: doc.Timeouts,
		})
	}
	return entries, nil
}
