package preview

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamMarshalOneVariant(t *testing.T) {
	s := "x"
	data, err := json.Marshal(Param{String: &s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"String":"x"}`, string(data))

	n := int64(7)
	data, err = json.Marshal(Param{Int64: &n})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Int64":7}`, string(data))

	_, err = json.Marshal(Param{})
	require.Error(t, err)
}

func TestParamUnmarshal(t *testing.T) {
	var p Param
	require.NoError(t, json.Unmarshal([]byte(`{"Decimal":"0.5"}`), &p))
	require.NotNil(t, p.Decimal)
	assert.Equal(t, "0.5", *p.Decimal)

	var empty Param
	require.Error(t, json.Unmarshal([]byte(`{}`), &empty))

	var two Param
	require.Error(t, json.Unmarshal([]byte(`{"Int64":1,"Bool":true}`), &two))

	var unknown Param
	require.Error(t, json.Unmarshal([]byte(`{"Float":1.0}`), &unknown))
}

func TestParamArg(t *testing.T) {
	b := true
	arg, err := Param{Bool: &b}.Arg()
	require.NoError(t, err)
	assert.Equal(t, true, arg)

	_, err = Param{}.Arg()
	require.Error(t, err)
}

func TestCoerceParam(t *testing.T) {
	p, err := coerceParam("string", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", *p.String)

	p, err = coerceParam("string", json.Number("42"))
	require.NoError(t, err)
	assert.Equal(t, "42", *p.String)

	// Lists ride inside a String parameter as JSON text; the query SQL
	// unpacks them with json_each.
	p, err = coerceParam("string_list", []string{"a", "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, *p.String)

	p, err = coerceParam("int64", json.Number("9"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), *p.Int64)

	p, err = coerceParam("bool", true)
	require.NoError(t, err)
	assert.True(t, *p.Bool)

	p, err = coerceParam("decimal", json.Number("1.50"))
	require.NoError(t, err)
	assert.Equal(t, "1.50", *p.Decimal)

	p, err = coerceParam("decimal", 1.5)
	require.NoError(t, err)
	assert.Equal(t, "1.5", *p.Decimal)

	_, err = coerceParam("decimal", "not a number")
	require.Error(t, err)

	at := time.Unix(1700000000, 0)
	p, err = coerceParam("timestamp", at)
	require.NoError(t, err)
	assert.Equal(t, at.UnixMilli(), *p.Timestamp)

	_, err = coerceParam("geo_point", "x")
	require.Error(t, err)
}
