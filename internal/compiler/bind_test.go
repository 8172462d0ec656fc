package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/internal/catalog"
	"github.com/klaxonhq/klaxon/internal/template"
	"github.com/klaxonhq/klaxon/internal/testutil"
)

func TestBindDatasourcesFromSignals(t *testing.T) {
	snap := testutil.Snapshot(t)
	d := testutil.BalanceDraft(t)

	bindings, err := bindDatasources(d, snap)
	require.NoError(t, err)
	require.Len(t, bindings, 1)

	b := bindings[0]
	assert.Equal(t, "ds_cat_balance_latest", b.ID)
	assert.Equal(t, "cat.balance_latest", b.CatalogID)
	assert.Equal(t, "$.targets.keys", b.Bindings["target_keys"])
	assert.Equal(t, "$.schedule.effective_as_of", b.Bindings["as_of"])
	assert.Equal(t, 60, b.CacheTTLSecs)
	assert.Equal(t, 5000, b.TimeoutMS)
}

func TestBindDatasourcesUnknownRef(t *testing.T) {
	snap := testutil.Snapshot(t)
	d := testutil.BalanceDraft(t)
	d.Signals.Principals[0].UpdateSources[0].Ref = "cat.does_not_exist"

	_, err := bindDatasources(d, snap)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeUnknownCatalogID, ce.Code)
	assert.Equal(t, "cat.does_not_exist", ce.Ident)
}

func TestBindDatasourcesInferenceFallback(t *testing.T) {
	snap := testutil.Snapshot(t)

	// No signals at all; the bare column name in the condition selects
	// its single owner.
	d := &template.Draft{
		TargetKind: "wallet",
		Trigger: template.Trigger{
			ConditionAST: map[string]any{
				"op": "gt", "left": "transfer_count", "right": 5,
			},
		},
	}

	bindings, err := bindDatasources(d, snap)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "cat.transfers", bindings[0].CatalogID)
}

func TestBindDatasourcesAmbiguousColumnNotInferred(t *testing.T) {
	snap := testutil.Snapshot(t)

	// target_key is owned by both fixture entries; inference declines.
	d := &template.Draft{
		TargetKind: "wallet",
		Trigger: template.Trigger{
			ConditionAST: map[string]any{
				"op": "eq", "left": "target_key", "right": "0xabc",
			},
		},
	}

	bindings, err := bindDatasources(d, snap)
	require.NoError(t, err)
	assert.Empty(t, bindings)
}

func TestParamBindingsVariableFallback(t *testing.T) {
	// A required non-well-known param binds to an instance variable of
	// the same name; an optional one binds only when declared.
	entries := testutil.BalanceEntries()
	entries[0].Params = append(entries[0].Params,
		catalog.Param{Name: "min_value", Type: "decimal", Required: true},
		catalog.Param{Name: "optional_extra", Type: "string", Required: false},
	)
	snap, err := catalog.NewSnapshot(entries, "v-test")
	require.NoError(t, err)

	d := testutil.BalanceDraft(t)
	bindings, err := bindDatasources(d, snap)
	require.NoError(t, err)
	require.Len(t, bindings, 1)

	assert.Equal(t, "$.variables.min_value", bindings[0].Bindings["min_value"])
	_, bound := bindings[0].Bindings["optional_extra"]
	assert.False(t, bound, "undeclared optional params stay unbound")
}
