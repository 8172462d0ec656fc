package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/internal/template"
	"github.com/klaxonhq/klaxon/internal/testutil"
)

func foldFixture(t *testing.T, conditionAST any) ([]template.Enrichment, template.Conditions, error) {
	t.Helper()
	snap := testutil.Snapshot(t)
	d := testutil.BalanceDraft(t)
	d.Trigger.ConditionAST = conditionAST
	bindings, err := bindDatasources(d, snap)
	require.NoError(t, err)
	return foldConditions(d, bindings, snap)
}

func TestFoldRewritesBareColumnName(t *testing.T) {
	_, conds, err := foldFixture(t, map[string]any{
		"op": "gt", "left": "balance_latest", "right": "{{threshold}}",
	})
	require.NoError(t, err)

	require.Len(t, conds.All, 1)
	cmp := conds.All[0].(map[string]any)
	assert.Equal(t, "gt", cmp["op"])
	assert.Equal(t, "$.datasources.ds_cat_balance_latest.balance_latest", cmp["left"])
	assert.Equal(t, "{{threshold}}", cmp["right"])
}

func TestFoldTxShorthand(t *testing.T) {
	_, conds, err := foldFixture(t, map[string]any{
		"op": "gt", "left": "tx_value", "right": 1,
	})
	require.NoError(t, err)
	cmp := conds.All[0].(map[string]any)
	assert.Equal(t, "$.tx.value_native", cmp["left"])
}

func TestFoldMissingCondition(t *testing.T) {
	_, _, err := foldFixture(t, nil)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeMissingConditionAST, ce.Code)
}

func TestFoldUnresolvedExplicitRef(t *testing.T) {
	_, _, err := foldFixture(t, map[string]any{
		"op": "gt", "left": "$.datasources.ds_cat_balance_latest.not_a_column", "right": 1,
	})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeUnresolvedRef, ce.Code)

	_, _, err = foldFixture(t, map[string]any{
		"op": "gt", "left": "$.bogus_root.x", "right": 1,
	})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeUnresolvedRef, ce.Code)
}

func TestFoldUndeclaredVariable(t *testing.T) {
	_, _, err := foldFixture(t, map[string]any{
		"op": "gt", "left": "balance_latest", "right": "{{never_declared}}",
	})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeUnresolvedRef, ce.Code)
	assert.Equal(t, "{{never_declared}}", ce.Ident)
}

func TestFoldSuspiciousLiteral(t *testing.T) {
	// Free-form prose compared against a number: nothing anchors it.
	_, _, err := foldFixture(t, map[string]any{
		"op": "eq", "left": "whenever something looks odd", "right": "also odd",
	})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeSuspiciousLiteral, ce.Code)
}

func TestFoldLiteralAllowedAgainstRef(t *testing.T) {
	// A string literal compared directly against an explicit ref is fine.
	_, conds, err := foldFixture(t, map[string]any{
		"op": "eq", "left": "$.tx.method", "right": "transfer",
	})
	require.NoError(t, err)
	cmp := conds.All[0].(map[string]any)
	assert.Equal(t, "transfer", cmp["right"])
}

func TestFoldShapedLiteralsAllowed(t *testing.T) {
	for _, lit := range []string{
		"123", "-1.5", "1e18",
		"0xdeadbeef",
		"00112233445566778899aabbccddeeff00112233", // 40 hex chars
		"true",
	} {
		_, _, err := foldFixture(t, map[string]any{
			"op": "eq", "left": lit, "right": lit,
		})
		assert.NoError(t, err, "literal %q should pass the shape check", lit)
	}
}

func TestFoldGroupShapes(t *testing.T) {
	// or-group becomes Any.
	_, conds, err := foldFixture(t, map[string]any{
		"op": "or",
		"values": []any{
			map[string]any{"op": "gt", "left": "balance_latest", "right": 1},
			map[string]any{"op": "lt", "left": "balance_latest", "right": 0},
		},
	})
	require.NoError(t, err)
	assert.Len(t, conds.Any, 2)
	assert.Empty(t, conds.All)

	// not becomes Not.
	_, conds, err = foldFixture(t, map[string]any{
		"op": "not", "value": map[string]any{"op": "gt", "left": "balance_latest", "right": 1},
	})
	require.NoError(t, err)
	assert.Len(t, conds.Not, 1)

	// single comparison becomes a one-element All.
	_, conds, err = foldFixture(t, map[string]any{
		"op": "gt", "left": "balance_latest", "right": 1,
	})
	require.NoError(t, err)
	assert.Len(t, conds.All, 1)
}

func TestFoldDerivationsInOrder(t *testing.T) {
	snap := testutil.Snapshot(t)
	d := testutil.BalanceDraft(t)
	d.Derivations = []template.Derivation{
		{Name: "native", ExprAST: map[string]any{
			"op": "coalesce", "values": []any{"balance_latest", 0},
		}},
		{Name: "doubled", ExprAST: "$.enrichment.native"},
	}
	d.Trigger.ConditionAST = map[string]any{
		"op": "gt", "left": "$.enrichment.doubled", "right": "{{threshold}}",
	}

	bindings, err := bindDatasources(d, snap)
	require.NoError(t, err)
	enrichments, conds, err := foldConditions(d, bindings, snap)
	require.NoError(t, err)

	require.Len(t, enrichments, 2)
	assert.Equal(t, "native", enrichments[0].ID)
	assert.Equal(t, "$.enrichment.native", enrichments[0].Output)
	assert.Equal(t, "$.enrichment.native", enrichments[1].Expr)
	require.Len(t, conds.All, 1)
}

func TestFoldDerivationForwardReferenceRejected(t *testing.T) {
	snap := testutil.Snapshot(t)
	d := testutil.BalanceDraft(t)
	d.Derivations = []template.Derivation{
		{Name: "early", ExprAST: "$.enrichment.late"},
		{Name: "late", ExprAST: map[string]any{
			"op": "coalesce", "values": []any{"balance_latest", 0},
		}},
	}

	bindings, err := bindDatasources(d, snap)
	require.NoError(t, err)
	_, _, err = foldConditions(d, bindings, snap)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeUnresolvedRef, ce.Code)
}
