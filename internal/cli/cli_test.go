package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerateAndAnalyze(t *testing.T) {
	dir := t.TempDir()
	trace := filepath.Join(dir, "trace.pcap")

	out, err := execute(t, "generate", "-o", trace, "-c", "500", "--flows", "20", "--step", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Generated 500 packets")

	snapshots := filepath.Join(dir, "snapshots")
	out, err = execute(t, "analyze", trace, "--out", snapshots)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`Packets:\s+500`), out)
	assert.Regexp(t, regexp.MustCompile(`Flows exported:\s+[1-9]`), out)

	matches, err := filepath.Glob(filepath.Join(snapshots, "*", "five_tuple", "flows.txt"))
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
	matches, err = filepath.Glob(filepath.Join(snapshots, "*", "traffic", "flows.txt"))
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestAnalyze_WithConfig(t *testing.T) {
	dir := t.TempDir()
	trace := filepath.Join(dir, "trace.pcap")
	_, err := execute(t, "generate", "-o", trace, "-c", "200")
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
classifiers:
  - name: by_dst
    type: flowcount
    buckets: 64
    flush_interval: 50ms
    key_fields: [DstIP]
exporters:
  - type: gob
    enabled: true
    root_path: `+filepath.Join(dir, "gob")+`
log:
  level: warn
`), 0o644))

	out, err := execute(t, "analyze", trace, "--config", cfgPath)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`Packets:\s+200`), out)

	summaries, err := filepath.Glob(filepath.Join(dir, "gob", "*", "by_dst", "summary.json"))
	require.NoError(t, err)
	assert.Greater(t, len(summaries), 1, "a 200ms trace spans several 50ms intervals")
}

func TestAnalyze_RequiresFile(t *testing.T) {
	_, err := execute(t, "analyze")
	assert.Error(t, err)
}

func TestRun_RequiresSources(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("classifiers: []\n"), 0o644))
	_, err := execute(t, "run", "--config", cfgPath)
	assert.ErrorContains(t, err, "no sources configured")
}

func TestGenerate_InvalidCount(t *testing.T) {
	_, err := execute(t, "generate", "-o", filepath.Join(t.TempDir(), "x.pcap"), "-c", "0")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	trace := filepath.Join(dir, "trace.pcap")
	_, err := execute(t, "generate", "-o", trace, "-c", "50", "--flows", "3")
	require.NoError(t, err)

	out, err := execute(t, "inspect", "pcap", trace, "-n", "5")
	require.NoError(t, err)
	assert.Len(t, regexp.MustCompile(`(?m)^\[`).FindAllString(out, -1), 5)
	assert.Contains(t, out, " -> ")

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
classifiers:
  - name: all
    type: flowcount
    buckets: 16
    flush_interval: 1h
    key_fields: [SrcIP, DstIP, SrcPort, DstPort, Protocol]
exporters:
  - type: gob
    enabled: true
    root_path: `+filepath.Join(dir, "gob")+`
log:
  level: error
`), 0o644))
	_, err = execute(t, "analyze", trace, "--config", cfgPath)
	require.NoError(t, err)

	parts, err := filepath.Glob(filepath.Join(dir, "gob", "*", "all", "part_*.dat"))
	require.NoError(t, err)
	require.NotEmpty(t, parts)
	out, err = execute(t, "inspect", "gob", parts[0])
	require.NoError(t, err)
	assert.Contains(t, out, "packets=")
	assert.Regexp(t, regexp.MustCompile(`(?m)^[1-3] flows$`), out)
}
