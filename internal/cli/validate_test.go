package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_Valid(t *testing.T) {
	path := writeFile(t, "ok.yaml", validConfig)

	out, err := runValidateCmd(t, "text", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid: 2 nodes, 1 groups, 1 send rules, 0 receive rules")
}

func TestValidate_ValidJSON(t *testing.T) {
	path := writeFile(t, "ok.yaml", validConfig)

	out, err := runValidateCmd(t, "json", "--config", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Nodes)
}

const invalidConfig = `
configuration:
  - {name: alice, ip: 127.0.0.1, port: 12344, memberOf: [g1]}
  - {name: alice, ip: 127.0.0.1, port: 14255}
groups:
  - {name: g1, members: [alice, zoe]}
`

func TestValidate_Invalid(t *testing.T) {
	path := writeFile(t, "bad.yaml", invalidConfig)

	out, err := runValidateCmd(t, "text", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E201")
	assert.Contains(t, out, "E203")
}

func TestValidate_InvalidJSON(t *testing.T) {
	path := writeFile(t, "bad.yaml", invalidConfig)

	out, err := runValidateCmd(t, "json", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.GreaterOrEqual(t, len(resp.Data.Errors), 2)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := runValidateCmd(t, "text", "--config", "/nonexistent/testbed.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_RequiresConfig(t *testing.T) {
	_, err := runValidateCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"config" not set`)
}
