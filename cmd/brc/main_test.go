package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Corphon/BugReportConstructor/internal/app"
	"github.com/Corphon/BugReportConstructor/internal/auth"
	"github.com/Corphon/BugReportConstructor/internal/config"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/render"
)

// runCLI executes brc in an empty working directory.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"BRC_SERVER_URL", "BRC_USER_ID", "BRC_TOKEN", "BRC_AUTH_SECRET", "BRC_DEBUG_MODE"} {
		t.Setenv(key, "")
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func startServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	a, err := app.New(&config.Config{
		Port:               "0",
		DataDir:            dir,
		StoreBackend:       "file",
		RateLimitPerMinute: 0,
		CacheTTL:           time.Minute,
	}, nil)
	require.NoError(t, err)
	server := httptest.NewServer(a.Router)
	t.Cleanup(func() {
		server.Close()
		_ = a.Close()
	})
	return server.URL
}

func TestRender_TemplateFromFile(t *testing.T) {
	dir := isolate(t)
	tmpl := writeFile(t, dir, "tmpl.md", "{{summary}} | {{steps_numbered}} | {{unknown}}")

	out, err := runCLI(t, "summary: S\nsteps:\n  - x\n", "render", "--template", tmpl)
	require.NoError(t, err)
	assert.Equal(t, "S | 1. x |\n", out)
}

func TestRender_JSONDraftWithBuiltInLayout(t *testing.T) {
	dir := isolate(t)
	draftJSON := `{"summary":"S","preconditions":["a"],"steps":["x"],"expected":"E","actual":"A","additionalInfo":"","attachments":[]}`
	draftPath := writeFile(t, dir, "draft.json", draftJSON)

	out, err := runCLI(t, "", "render", draftPath)
	require.NoError(t, err)

	draft, err := parseDraft([]byte(draftJSON))
	require.NoError(t, err)
	assert.Equal(t, render.Render(draft, models.DefaultFormatID, render.Options{}), out)
}

func TestRender_FormatsFile(t *testing.T) {
	dir := isolate(t)
	formats := writeFile(t, dir, "formats.yaml", `activeFormat: short
formats:
  - id: short
    name: Short
    template: "Bug: {{summary}}"
  - id: long
    name: Long
    template: "{{summary}} / {{expected}}"
`)

	out, err := runCLI(t, "summary: crash\nexpected: no crash\n", "render", "--formats", formats)
	require.NoError(t, err)
	assert.Equal(t, "Bug: crash\n", out)

	out, err = runCLI(t, "summary: crash\nexpected: no crash\n", "render", "--formats", formats, "--format", "long")
	require.NoError(t, err)
	assert.Equal(t, "crash / no crash\n", out)

	_, err = runCLI(t, "summary: crash\n", "render", "--formats", formats, "--format", "missing")
	assert.ErrorContains(t, err, `"missing" not found`)
}

func TestParseDraft_RejectsUnknownFields(t *testing.T) {
	_, err := parseDraft([]byte("summery: typo\n"))
	assert.Error(t, err)

	draft, err := parseDraft([]byte("   \n"))
	require.NoError(t, err)
	assert.Empty(t, draft.Summary)
}

func TestParseFormats_AppliesShapeChecks(t *testing.T) {
	_, err := parseFormats([]byte("activeFormat: a\nformats:\n  - {id: a, name: A, template: x}\n  - {id: a, name: B, template: y}\n"))
	assert.Error(t, err)

	formats, err := parseFormats([]byte(`{"activeFormat":"gone","formats":[]}`))
	require.NoError(t, err)
	assert.Equal(t, models.DefaultFormatID, formats.ActiveFormat)
}

func TestFieldsTable(t *testing.T) {
	cfg := render.Infer("custom", "## Setup\n{{preconditions_bullets}}\n## Repro\n{{steps_numbered}}\n")
	table := fieldsTable(cfg, false)
	lines := strings.Split(table, "\n")
	require.Len(t, lines, len(models.FieldKeys)+1)

	assert.True(t, strings.HasPrefix(lines[0], "FIELD"))
	assert.Contains(t, lines[2], "Setup")
	assert.True(t, strings.HasSuffix(lines[2], "yes"))
	assert.Contains(t, lines[3], "Repro")
	assert.True(t, strings.HasSuffix(lines[4], "no"), lines[4])
}

func TestFields_Command(t *testing.T) {
	isolate(t)
	out, err := runCLI(t, "", "fields", "--format", models.DefaultFormatID)
	require.NoError(t, err)
	assert.Contains(t, out, "Steps to reproduce:")
	assert.NotContains(t, out, " no\n")
}

func TestBlocks_EndToEnd(t *testing.T) {
	isolate(t)
	url := startServer(t)
	base := []string{"--server", url, "--user", "alice"}

	out, err := runCLI(t, "", append(base, "blocks", "get", "steps")...)
	require.NoError(t, err)
	assert.Equal(t, "steps:\n  (none)\n", out)

	out, err = runCLI(t, "", append(base, "blocks", "add", "steps", "open", "the", "app")...)
	require.NoError(t, err)
	assert.Equal(t, "Block saved.\n", out)

	out, err = runCLI(t, "", append(base, "blocks", "add", "steps", "  OPEN the   app ")...)
	require.NoError(t, err)
	assert.Equal(t, "Block already saved.\n", out)

	_, err = runCLI(t, "", append(base, "blocks", "add", "summary", "crash on save")...)
	require.NoError(t, err)

	out, err = runCLI(t, "", append(base, "blocks", "get")...)
	require.NoError(t, err)
	assert.Equal(t, "summary:\n  1. crash on save\n\npreconditions:\n  (none)\n\nsteps:\n  1. open the app\n", out)

	out, err = runCLI(t, "", append(base, "blocks", "rm", "steps", "1")...)
	require.NoError(t, err)
	assert.Equal(t, "Block removed.\n", out)

	_, err = runCLI(t, "", append(base, "blocks", "rm", "steps", "1")...)
	assert.Error(t, err)

	// other users see their own document
	out, err = runCLI(t, "", "--server", url, "--user", "bob", "blocks", "get", "summary")
	require.NoError(t, err)
	assert.Equal(t, "summary:\n  (none)\n", out)
}

func TestFormats_EndToEnd(t *testing.T) {
	isolate(t)
	url := startServer(t)
	base := []string{"--server", url, "--user", "alice"}

	out, err := runCLI(t, "Bug: {{summary}}", append(base, "formats", "add", "--name", "Short", "--use")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Format saved.", lines[0])
	id := lines[1]
	assert.True(t, strings.HasPrefix(id, "short-"), id)

	out, err = runCLI(t, "", append(base, "formats", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "* "+id+" Short\n")
	assert.Contains(t, out, "  "+models.DefaultFormatID+" (built-in)\n")

	out, err = runCLI(t, "summary: crash\n", append(base, "render", "--remote")...)
	require.NoError(t, err)
	assert.Equal(t, "Bug: crash\n", out)

	out, err = runCLI(t, "", append(base, "formats", "export")...)
	require.NoError(t, err)
	var exported models.OutputFormatsPayload
	require.NoError(t, yaml.Unmarshal([]byte(out), &exported))
	assert.Equal(t, id, exported.ActiveFormat)
	require.Len(t, exported.Formats, 1)
	assert.Equal(t, "Bug: {{summary}}", exported.Formats[0].Template)

	_, err = runCLI(t, "", append(base, "formats", "use", "nope")...)
	assert.Error(t, err)

	out, err = runCLI(t, "", append(base, "formats", "rm", id)...)
	require.NoError(t, err)
	assert.Equal(t, "Format deleted.\n", out)

	out, err = runCLI(t, "", append(base, "formats", "list")...)
	require.NoError(t, err)
	assert.Equal(t, "* "+models.DefaultFormatID+" (built-in)\n", out)
}

func TestBlocks_ServerUnavailable(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "", "--server", "http://127.0.0.1:1", "blocks", "get")
	assert.ErrorContains(t, err, "document store unavailable")
}

func TestToken(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "", "token", "alice")
	assert.ErrorContains(t, err, "auth_secret is not configured")

	t.Setenv("BRC_AUTH_SECRET", "s3cret")
	out, err := runCLI(t, "", "token", "alice")
	require.NoError(t, err)

	parsed, err := auth.ParseToken(strings.TrimSpace(out), auth.NewTokenConfig("s3cret", 0))
	require.NoError(t, err)
	assert.Equal(t, "alice", parsed.UserID)

	_, err = runCLI(t, "", "token", "../etc")
	assert.Error(t, err)

	out, err = runCLI(t, "", "token", "--new-secret")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 64)
}
