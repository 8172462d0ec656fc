package compiler

import (
	"sort"

	"github.com/klaxonhq/klaxon/internal/catalog"
	"github.com/klaxonhq/klaxon/internal/expr"
	"github.com/klaxonhq/klaxon/internal/template"
)

// defaultParamBindings maps well-known catalog parameter names to the
// evaluation-context paths they are filled from at query time.
var defaultParamBindings = map[string]string{
	"target_keys": "$.targets.keys",
	"as_of":       "$.schedule.effective_as_of",
	"network":     "$.partition.network",
	"subnet":      "$.partition.subnet",
	"chain_id":    "$.partition.chain_id",
	"limit":       "$.run.limit",
}

// bindDatasources selects the catalog entries an executable needs and
// builds their parameter bindings.
//
// Primary source: signal update-source refs. Fallback: bare column names
// in the condition AST, accepted only when exactly one enabled catalog
// entry owns the column. Unknown or disabled catalog ids are rejected
// outright.
func bindDatasources(d *template.Draft, snap *catalog.Snapshot) ([]template.DatasourceBinding, error) {
	selected := map[string]struct{}{}

	for _, sig := range append(append([]template.Signal(nil), d.Signals.Principals...), d.Signals.Factors...) {
		for _, src := range sig.UpdateSources {
			if src.Ref == "" {
				continue
			}
			if _, ok := snap.Resolve(src.Ref); !ok {
				return nil, newError(CodeUnknownCatalogID, src.Ref)
			}
			selected[src.Ref] = struct{}{}
		}
	}

	// Fallback inference from bare column names in the trigger condition.
	if len(selected) == 0 && d.Trigger.ConditionAST != nil {
		inferred, err := inferFromCondition(d.Trigger.ConditionAST, snap)
		if err != nil {
			return nil, err
		}
		for id := range inferred {
			selected[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bindings := make([]template.DatasourceBinding, 0, len(ids))
	for _, id := range ids {
		entry, _ := snap.Resolve(id)
		bindings = append(bindings, template.DatasourceBinding{
			ID:           catalog.DerivedID(id),
			CatalogID:    id,
			Bindings:     paramBindings(entry, d),
			CacheTTLSecs: entry.Cache.TTLSecs,
			TimeoutMS:    entry.Timeouts.QueryMS,
		})
	}
	return bindings, nil
}

// inferFromCondition finds catalog entries via column names mentioned as
// bare string leaves in the condition. Ambiguous columns (owned by more
// than one entry) never select anything here; the fold stage will fail on
// the unresolved name instead.
func inferFromCondition(raw any, snap *catalog.Snapshot) (map[string]struct{}, error) {
	e, _, err := expr.Normalize(raw)
	if err != nil {
		// Condition problems are reported by the fold stage with the
		// right error code; inference just declines.
		return nil, nil
	}
	owners := snap.ColumnOwners()
	selected := map[string]struct{}{}
	for _, lit := range expr.CollectStringLiterals(e) {
		if ids := owners[lit]; len(ids) == 1 {
			selected[ids[0]] = struct{}{}
		}
	}
	return selected, nil
}

// paramBindings builds the context-path binding for each declared
// parameter. Well-known names use the fixed defaults; other required
// parameters bind to instance variables of the same name.
func paramBindings(entry *catalog.Entry, d *template.Draft) map[string]string {
	out := make(map[string]string, len(entry.Params))
	for _, p := range entry.Params {
		if path, ok := defaultParamBindings[p.Name]; ok {
			out[p.Name] = path
			continue
		}
		if p.Required || hasVariable(d, p.Name) {
			out[p.Name] = "$.variables." + p.Name
		}
	}
	return out
}

func hasVariable(d *template.Draft, name string) bool {
	for _, v := range d.Variables {
		if v.ID == name {
			return true
		}
	}
	return false
}
