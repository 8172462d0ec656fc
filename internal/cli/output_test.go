package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 2, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, 1, GetExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, 2, GetExitCode(wrapped))

	err := WrapExitError(ExitFailure, "compile failed", errors.New("boom"))
	assert.Equal(t, "compile failed: boom", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

func TestFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Success(map[string]string{"executable_id": "abc"}))
	assert.JSONEq(t, `{"status":"ok","data":{"executable_id":"abc"}}`, buf.String())

	buf.Reset()
	require.NoError(t, f.Error(&CLIError{
		Code:        "UnresolvedRef",
		Message:     "unknown signal",
		MissingInfo: "signal_definition_required",
	}))
	assert.JSONEq(t, `{"status":"error","error":{"code":"UnresolvedRef","message":"unknown signal","missing_info":"signal_definition_required"}}`, buf.String())
}

func TestFormatterText(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	require.NoError(t, f.Error(&CLIError{Code: "ColumnCollision", Message: "target_key is ambiguous"}))
	assert.Contains(t, buf.String(), "Error [ColumnCollision]: target_key is ambiguous")
}

func TestVerboseLog(t *testing.T) {
	var out, diag bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &diag, Verbose: true}

	f.VerboseLog("loaded %d entries", 2)
	assert.Empty(t, out.String(), "diagnostics must not pollute the JSON stream")
	assert.Contains(t, diag.String(), "loaded 2 entries")

	quiet := &OutputFormatter{Writer: &out, ErrWriter: &diag}
	diag.Reset()
	quiet.VerboseLog("hidden")
	assert.Empty(t, diag.String())
}
