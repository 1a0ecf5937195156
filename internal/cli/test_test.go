package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "testdata/scenarios"

// scenarioWorkspace copies the blog models into a temp dir and writes the
// given scenarios next to them. It returns the scenarios directory.
func scenarioWorkspace(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	root := t.TempDir()
	models, err := os.ReadFile(filepath.Join(modelsDir, "blog.cue"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "models", "blog.cue"), models, 0644))

	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, src := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
	}
	return dir
}

func publishPost(t *testing.T) string {
	t.Helper()
	src, err := os.ReadFile(filepath.Join(scenariosDir, "publish_post.yaml"))
	require.NoError(t, err)
	return string(src)
}

const wrongCount = `name: wrong_count
models:
  - ../models/blog.cue
steps:
  - create: author
    attrs: { name: Ada }
  - find: author
    expect: { count: 2 }
`

func TestRunScenarios(t *testing.T) {
	out, err := execute(t, "text", NewTestCommand, scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ publish_post\n")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestRunScenarioFile(t *testing.T) {
	out, err := execute(t, "json", NewTestCommand, filepath.Join(scenariosDir, "publish_post.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, TestResult{
		Scenarios: []ScenarioResult{{Name: "publish_post", Pass: true}},
		Passed:    1,
		Total:     1,
	}, resp.Data)
}

func TestRunScenarioFailedExpectation(t *testing.T) {
	dir := scenarioWorkspace(t, map[string]string{"wrong_count.yaml": wrongCount})

	out, err := execute(t, "text", NewTestCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "step 2: expected 2 results, got 1")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestRunScenarioFailedJSON(t *testing.T) {
	dir := scenarioWorkspace(t, map[string]string{"wrong_count.yaml": wrongCount})

	out, err := execute(t, "json", NewTestCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestRunScenarioUpdateGolden(t *testing.T) {
	dir := scenarioWorkspace(t, map[string]string{"publish_post.yaml": publishPost(t)})

	out, err := execute(t, "text", NewTestCommand, dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ publish_post (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "publish_post.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(scenariosDir, "golden", "publish_post.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	// The golden directory is not scanned for scenarios.
	out, err = execute(t, "text", NewTestCommand, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestRunScenarioGoldenMismatch(t *testing.T) {
	dir := scenarioWorkspace(t, map[string]string{"publish_post.yaml": publishPost(t)})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "publish_post.golden"), []byte("{}\n"), 0644))

	out, err := execute(t, "text", NewTestCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestRunScenarioFilter(t *testing.T) {
	dir := scenarioWorkspace(t, map[string]string{
		"publish_post.yaml": publishPost(t),
		"wrong_count.yaml":  wrongCount,
	})

	out, err := execute(t, "text", NewTestCommand, dir, "--filter", "publish*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "wrong_count")

	out, err = execute(t, "text", NewTestCommand, dir, "--filter", "nothing*")
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestRunScenarioUnloadable(t *testing.T) {
	dir := scenarioWorkspace(t, map[string]string{"broken.yaml": "name: broken\nsteps: []\n"})

	out, err := execute(t, "text", NewTestCommand, dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestRunScenarioMissingPath(t *testing.T) {
	_, err := execute(t, "text", NewTestCommand, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}
