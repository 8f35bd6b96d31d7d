package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSchema = `{
  "nodes": [
    {"id": "t", "type": "trigger-message"},
    {"id": "c", "type": "condition-text-contains", "data": {"pattern": "hello"}},
    {"id": "yes", "type": "action-send-message", "data": {"message": "Hello to you too"}},
    {"id": "no", "type": "action-send-message", "data": {"message": "Say hello first"}}
  ],
  "edges": [
    {"source": "t", "target": "c"},
    {"source": "c", "target": "yes", "sourceHandle": "true"},
    {"source": "c", "target": "no", "sourceHandle": "false"}
  ]
}`

const brokenSchema = `{
  "nodes": [
    {"id": "t", "type": "trigger-message"},
    {"id": "x", "type": "action-teleport"}
  ],
  "edges": [{"source": "t", "target": "x"}, {"source": "x", "target": "nowhere"}]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the root command with a memory-only settings file.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	settings := writeFile(t, "settings.yaml", "persistence: memory\n")
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", settings}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "botrunner", cmd.Use)

	for _, name := range []string{"serve", "validate", "simulate", "mcp", "diagram", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(commandError(errors.New("bad flag"))))
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestValidateCommand(t *testing.T) {
	good := writeFile(t, "hello.json", helloSchema)
	out, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "hello.json: ok (0 errors")

	bad := writeFile(t, "broken.json", brokenSchema)
	out, _, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "broken.json: INVALID")
	assert.Contains(t, out, "UNKNOWN_NODE_TYPE")
}

func TestValidateCommand_JSON(t *testing.T) {
	bad := writeFile(t, "broken.json", brokenSchema)
	out, _, err := execute(t, "--format", "json", "validate", bad)
	require.Error(t, err)

	var reports []FileReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Valid)
	assert.NotEmpty(t, reports[0].Errors)
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulateCommand(t *testing.T) {
	path := writeFile(t, "hello.json", helloSchema)
	out, _, err := execute(t, "simulate", path, "hello bot", "bye")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"cli -> bot: hello bot",
		"bot -> cli: Hello to you too",
		"cli -> bot: bye",
		"bot -> cli: Say hello first",
	}, lines)
}

func TestSimulateCommand_JSON(t *testing.T) {
	path := writeFile(t, "hello.json", helloSchema)
	out, _, err := execute(t, "--format", "json", "simulate", "--user", "u7", path, "hello")
	require.NoError(t, err)

	var steps []SimulationStep
	require.NoError(t, json.Unmarshal([]byte(out), &steps))
	require.Len(t, steps, 1)
	assert.True(t, steps[0].Success)
	require.Len(t, steps[0].Responses, 1)
	assert.Equal(t, "Hello to you too", steps[0].Responses[0].Data["message"])
	assert.Equal(t, "u7", steps[0].Responses[0].Data["chatId"])
}

func TestSimulateCommand_InvalidSchema(t *testing.T) {
	path := writeFile(t, "broken.json", brokenSchema)
	_, _, err := execute(t, "simulate", path, "hi")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDiagramCommand(t *testing.T) {
	path := writeFile(t, "hello.json", helloSchema)

	out, _, err := execute(t, "diagram", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD\n    %% hello\n"), out)
	assert.Contains(t, out, "c -->|true| yes")

	out, _, err = execute(t, "diagram", "--type", "ascii", path)
	require.NoError(t, err)
	assert.Contains(t, out, "=== hello ===")
}

func TestDiagramCommand_ToFile(t *testing.T) {
	path := writeFile(t, "hello.json", helloSchema)
	target := filepath.Join(t.TempDir(), "hello.png")

	out, _, err := execute(t, "diagram", "-o", target, path)
	require.NoError(t, err)
	assert.Empty(t, out)

	png, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Greater(t, len(png), 4)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestDiagramCommand_Errors(t *testing.T) {
	path := writeFile(t, "hello.json", helloSchema)

	_, _, err := execute(t, "diagram", "--type", "gif", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "diagram", "--type", "png", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "diagram", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
