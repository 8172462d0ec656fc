package expr

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode parses a JSON condition the way drafts are decoded: with
// UseNumber so numeric literals stay exact.
func decode(t *testing.T, src string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestNormalizeOperatorAliases(t *testing.T) {
	tests := []struct {
		token string
		want  CompareOp
	}{
		{">", OpGt},
		{">=", OpGte},
		{"<", OpLt},
		{"<=", OpLte},
		{"==", OpEq},
		{"=", OpEq},
		{"equals", OpEq},
		{"!=", OpNeq},
		{"<>", OpNeq},
		{"GT", OpGt},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			raw := map[string]any{
				"op":    tt.token,
				"left":  "$.tx.value_native",
				"right": json.Number("5"),
			}
			e, warnings, err := Normalize(raw)
			require.NoError(t, err)
			cmp, ok := e.(Compare)
			require.True(t, ok, "want Compare, got %T", e)
			assert.Equal(t, tt.want, cmp.Op)
			if tt.token != string(tt.want) {
				assert.NotEmpty(t, warnings, "alias rewrite must warn")
			}
		})
	}
}

func TestNormalizeUnknownOperator(t *testing.T) {
	_, _, err := Normalize(map[string]any{"op": "approximately", "left": "a", "right": "b"})
	var opErr *UnknownOperatorError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "approximately", opErr.Token)
}

func TestNormalizeLeafStrings(t *testing.T) {
	e, _, err := Normalize("$.tx.value_native")
	require.NoError(t, err)
	assert.Equal(t, Ref{Path: "$.tx.value_native"}, e)

	e, _, err = Normalize("{{threshold}}")
	require.NoError(t, err)
	assert.Equal(t, Var{Name: "threshold"}, e)

	e, _, err = Normalize("{{ threshold }}")
	require.NoError(t, err)
	assert.Equal(t, Var{Name: "threshold"}, e)

	// Bare identifiers stay literals here; fold resolves or rejects them.
	e, _, err = Normalize("balance_latest")
	require.NoError(t, err)
	assert.Equal(t, Literal{Value: String("balance_latest")}, e)
}

func TestNormalizeTypedWrappers(t *testing.T) {
	raw := decode(t, `{"op":"gt","left":{"type":"ExprV1Number","value":1.5},"right":{"type":"ExprV1Null"}}`)
	e, warnings, err := Normalize(raw)
	require.NoError(t, err)
	cmp := e.(Compare)
	lit := cmp.Left.(Literal)
	dec, ok := lit.Value.(Decimal)
	require.True(t, ok)
	assert.Zero(t, MustDecimal("1.5").Dec.Cmp(dec.Dec))
	assert.Equal(t, Literal{Value: Null{}}, cmp.Right)
	assert.NotEmpty(t, warnings)
}

func TestNormalizeRefWrapper(t *testing.T) {
	raw := decode(t, `{"op":"ref","values":["$.enrichment.delta"]}`)
	e, warnings, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, Ref{Path: "$.enrichment.delta"}, e)
	assert.NotEmpty(t, warnings)
}

func TestNormalizeGroupShorthand(t *testing.T) {
	raw := decode(t, `{"all":[
		{"op":"gt","left":"$.tx.value_native","right":1},
		{"any":[
			{"op":"eq","left":"$.tx.direction","right":"in"},
			{"op":"eq","left":"$.tx.direction","right":"out"}
		]}
	]}`)
	e, _, err := Normalize(raw)
	require.NoError(t, err)
	outer, ok := e.(Logic)
	require.True(t, ok)
	assert.Equal(t, OpAnd, outer.Op)
	require.Len(t, outer.Operands, 2)
	inner, ok := outer.Operands[1].(Logic)
	require.True(t, ok)
	assert.Equal(t, OpOr, inner.Op)
}

func TestNormalizeBareListIsAndGroup(t *testing.T) {
	raw := decode(t, `[
		{"op":"gt","left":"$.tx.value_native","right":1},
		{"op":"lt","left":"$.tx.value_native","right":10}
	]`)
	e, warnings, err := Normalize(raw)
	require.NoError(t, err)
	logic, ok := e.(Logic)
	require.True(t, ok)
	assert.Equal(t, OpAnd, logic.Op)
	assert.Len(t, logic.Operands, 2)
	assert.NotEmpty(t, warnings)
}

func TestNormalizeValuesPairComparison(t *testing.T) {
	raw := decode(t, `{"op":"gte","values":["$.tx.value_native",2]}`)
	e, warnings, err := Normalize(raw)
	require.NoError(t, err)
	cmp := e.(Compare)
	assert.Equal(t, Ref{Path: "$.tx.value_native"}, cmp.Left)
	assert.Equal(t, Literal{Value: Int(2)}, cmp.Right)
	assert.NotEmpty(t, warnings)
}

func TestNormalizeNotAndCoalesce(t *testing.T) {
	raw := decode(t, `{"op":"not","value":{"op":"eq","left":"$.tx.direction","right":"in"}}`)
	e, _, err := Normalize(raw)
	require.NoError(t, err)
	_, ok := e.(Not)
	require.True(t, ok)

	raw = decode(t, `{"op":"coalesce","values":["$.tx.value_usd","$.tx.value_native",0]}`)
	e, _, err = Normalize(raw)
	require.NoError(t, err)
	co, ok := e.(Coalesce)
	require.True(t, ok)
	assert.Len(t, co.Values, 3)
}

func TestNormalizeUnrecognizedShapeKept(t *testing.T) {
	raw := decode(t, `{"op":"gt","left":{"weird_key":1},"right":2}`)
	e, warnings, err := Normalize(raw)
	require.NoError(t, err)
	cmp := e.(Compare)
	_, ok := cmp.Left.(Unrecognized)
	assert.True(t, ok, "uninterpretable shapes become Unrecognized nodes")
	assert.NotEmpty(t, warnings)
}

func TestNormalizeIdempotentOnCanonicalForm(t *testing.T) {
	raw := decode(t, `{"op":"and","values":[
		{"op":"gt","left":"$.datasources.ds_cat_balance_latest.balance_latest","right":1.5},
		{"op":"eq","left":"$.targets.key","right":"{{wallet}}"}
	]}`)

	first, warnings, err := Normalize(raw)
	require.NoError(t, err)
	assert.Empty(t, warnings, "canonical input must not trigger rewrites")

	// Render back to JSON form and normalize again: same tree, no warnings.
	second, warnings, err := Normalize(ToJSON(first))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, ToJSON(first), ToJSON(second))
}
