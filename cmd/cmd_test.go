package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respguard/metrics"
	"respguard/processor"
	"respguard/server"
	"respguard/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "respguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand("respguard test")
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestProcessCommandFromFile(t *testing.T) {
	auditDir := t.TempDir()
	cfg := writeConfig(t, "log_level: ERROR\naudit:\n  dir: "+auditDir+"\n")
	input := filepath.Join(t.TempDir(), "response.txt")
	require.NoError(t, os.WriteFile(input, []byte("```json\n{grade: 'b', coverage: '85%'}\n```"), 0o600))

	stdout, _, err := runCommand(t, "", "--config", cfg, "process", input)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "B", result["data"].(map[string]interface{})["grade"])

	files, err := filepath.Glob(filepath.Join(auditDir, "audit-*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestProcessCommandFromStdin(t *testing.T) {
	cfg := writeConfig(t, "log_level: ERROR\n")

	stdout, _, err := runCommand(t, "", "--config", cfg, "process", "-")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, false, result["success"])
	assert.Equal(t, true, result["fallbackUsed"])
}

func TestProcessCommandUnknownShape(t *testing.T) {
	cfg := writeConfig(t, "log_level: ERROR\n")
	_, _, err := runCommand(t, "{}", "--config", cfg, "process", "--shape", "nope")
	assert.ErrorIs(t, err, processor.ErrUnknownShape)
}

func TestAnalyzeCommand(t *testing.T) {
	var prompts []string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.OpenAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompts = append(prompts, req.Messages[len(req.Messages)-1].Content)
		_ = json.NewEncoder(w).Encode(types.OpenAIResponse{
			Choices: []types.OpenAIChoice{{Message: types.OpenAIMessage{Role: "assistant", Content: "Grade: A\nCoverage: 90%\n"}}},
		})
	}))
	defer provider.Close()

	cfg := writeConfig(t, `log_level: ERROR
provider:
  endpoints: [`+provider.URL+`]
  model: test-model
prompt_overrides:
  append: " Reply in JSON."
`)

	stdout, _, err := runCommand(t, "", "--config", cfg, "analyze", "--prompt", "Review main.go.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Review main.go. Reply in JSON."}, prompts)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "A", result["data"].(map[string]interface{})["grade"])
}

func TestAnalyzeCommandNeedsProvider(t *testing.T) {
	cfg := writeConfig(t, "log_level: ERROR\n")

	_, _, err := runCommand(t, "", "--config", cfg, "analyze", "--prompt", "x")
	assert.Error(t, err)

	_, _, err = runCommand(t, "", "--config", cfg, "analyze")
	assert.ErrorContains(t, err, "prompt is required")
}

func TestMetricsExportImportCommands(t *testing.T) {
	collector := metrics.NewCollector(10)
	p := processor.New(processor.WithMetrics(collector))
	handler, err := server.NewHandler(server.Options{Processor: p})
	require.NoError(t, err)
	srv := httptest.NewServer(handler.Routes())
	defer srv.Close()

	p.ProcessAnalysis(t.Context(), "")
	require.EqualValues(t, 1, collector.Metrics().TotalErrors)

	out := filepath.Join(t.TempDir(), "metrics.json")
	_, _, err = runCommand(t, "", "metrics", "export", "--server", srv.URL, "-o", out)
	require.NoError(t, err)
	blob, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(blob), `"totalErrors":1`)

	collector.Reset()
	stdout, _, err := runCommand(t, "", "metrics", "import", "--server", srv.URL, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"totalErrors":1`)
	assert.EqualValues(t, 1, collector.Metrics().TotalErrors)
}

func TestMetricsImportRejectsBadBlob(t *testing.T) {
	handler, err := server.NewHandler(server.Options{Processor: processor.New(processor.WithMetrics(metrics.NewCollector(10)))})
	require.NoError(t, err)
	srv := httptest.NewServer(handler.Routes())
	defer srv.Close()

	_, _, err = runCommand(t, "{not json", "metrics", "import", "--server", srv.URL)
	assert.ErrorContains(t, err, "server returned 400")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCommand(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "respguard test\n", stdout)
}
