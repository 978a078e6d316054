package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/drop_rule.yaml")
	require.NoError(t, err)

	assert.Equal(t, "drop_rule", s.Name)
	require.Len(t, s.Steps, 5)
	require.NotNil(t, s.Steps[0].Send)
	assert.Equal(t, "ping", s.Steps[0].Send.Kind)
	require.NotNil(t, s.Steps[3].Rules)
	require.Len(t, s.Steps[3].Rules.Receive, 1)
	assert.Equal(t, "duplicate", s.Steps[3].Rules.Receive[0].Action)
	assert.Empty(t, s.Steps[3].Rules.Send)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: d
config: "configuration: []"
steps:
  - node: A
    mark: true
assertion:
  - type: clock
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	const head = "name: n\ndescription: d\nconfig: c\n"
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no name", "description: d\nconfig: c\nsteps: [{node: A, mark: true}]", "name is required"},
		{"no description", "name: n\nconfig: c\nsteps: [{node: A, mark: true}]", "description is required"},
		{"no config", "name: n\ndescription: d\nsteps: [{node: A, mark: true}]", "config is required"},
		{"no steps", head, "steps list is required"},
		{"no node", head + "steps: [{mark: true}]", "steps[0]: node is required"},
		{"no action", head + "steps: [{node: A}]", "exactly one action is required, got 0"},
		{"two actions", head + "steps: [{node: A, mark: true, request: true}]", "exactly one action is required, got 2"},
		{"send without kind", head + "steps: [{node: A, send: {dest: B}}]", "steps[0].send: dest and kind are required"},
		{"multicast without group", head + "steps: [{node: A, multicast: {body: x}}]", "group is required"},
		{"assertion without type", head + "steps: [{node: A, mark: true}]\nassertions: [{node: A}]", "type is required"},
		{"assertion without node", head + "steps: [{node: A, mark: true}]\nassertions: [{type: clock, clock: '1'}]", "node is required for clock"},
		{"unknown assertion", head + "steps: [{node: A, mark: true}]\nassertions: [{type: bogus, node: A}]", `unknown assertion type "bogus"`},
		{"order without labels", head + "steps: [{node: A, mark: true}]\nassertions: [{type: delivered_order, node: A}]", "labels list is required"},
		{"count without label", head + "steps: [{node: A, mark: true}]\nassertions: [{type: delivered_count, node: A}]", "label is required"},
		{"negative count", head + "steps: [{node: A, mark: true}]\nassertions: [{type: delivered_count, node: A, label: x, count: -1}]", "count must be non-negative"},
		{"mutex without state", head + "steps: [{node: A, mark: true}]\nassertions: [{type: mutex_state, node: A}]", "state is required"},
		{"clock without value", head + "steps: [{node: A, mark: true}]\nassertions: [{type: clock, node: A}]", "clock is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_LoggedNeedsNoNode(t *testing.T) {
	s, err := ParseScenario([]byte("name: n\ndescription: d\nconfig: c\nsteps: [{node: A, mark: true}]\nassertions: [{type: logged}]"))
	require.NoError(t, err)
	require.Len(t, s.Assertions, 1)
	assert.Empty(t, s.Assertions[0].Labels)
}
