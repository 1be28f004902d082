package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("RTFBRIDGE_CONFIG", "")
	t.Setenv("ENGINE_MAX_THREADS", "2")
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConvert_FileToStdout(t *testing.T) {
	path := writeTemp(t, "letter.rtf", `{\rtf1\ansi Hello \b World\b0}`)
	out, _, err := run(t, "", "convert", path)
	require.NoError(t, err)
	assert.Equal(t, "Hello **World**\n", out, "a buffer is not a terminal, so no rendering")
}

func TestConvert_StdinNeedsFrom(t *testing.T) {
	_, _, err := run(t, "# hi", "convert", "-")
	assert.ErrorContains(t, err, "--from is required")

	out, _, err := run(t, "# hi", "convert", "-", "--from", "md")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `{\rtf1`), out)
}

func TestConvert_ImportToFile(t *testing.T) {
	src := writeTemp(t, "table.csv", "a,b\n1,2\n")
	dest := filepath.Join(t.TempDir(), "table.md")
	_, _, err := run(t, "", "convert", src, "-o", dest)
	require.NoError(t, err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(got), "| a | b |")
}

func TestConvert_ReportsFailures(t *testing.T) {
	path := writeTemp(t, "bad.rtf", `{\rtf1 hi {\object x}}`)
	_, _, err := run(t, "", "convert", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.rtf")

	path = writeTemp(t, "same.md", "# x")
	_, _, err = run(t, "", "convert", path, "--to", "md")
	assert.ErrorContains(t, err, "already in the target format")
}

func TestBatch(t *testing.T) {
	a := writeTemp(t, "a.rtf", `{\rtf1 one}`)
	b := writeTemp(t, "b.md", "two")
	bad := writeTemp(t, "c.rtf", `{\rtf1 {\pict x}}`)
	outDir := filepath.Join(t.TempDir(), "out")

	out, errOut, err := run(t, "", "batch", "--out-dir", outDir, "-j", "2", a, b)
	require.NoError(t, err, errOut)
	assert.Contains(t, out, "a.rtf")
	md, err := os.ReadFile(filepath.Join(outDir, "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(md))
	rtf, err := os.ReadFile(filepath.Join(outDir, "b.rtf"))
	require.NoError(t, err)
	assert.Contains(t, string(rtf), "two")

	_, errOut, err = run(t, "", "batch", "--out-dir", outDir, a, bad)
	assert.ErrorContains(t, err, "1 of 2 files failed")
	assert.Contains(t, errOut, "FAIL "+bad)
}

func TestTargetFor(t *testing.T) {
	tests := []struct {
		name, to string
		want     convert.Format
	}{
		{"a.rtf", "", convert.FormatMarkdown},
		{"a.md", "", convert.FormatRTF},
		{"a.docx", "", convert.FormatMarkdown},
		{"a.html", "rtf", convert.FormatRTF},
	}
	for _, tt := range tests {
		got, err := targetFor(tt.name, tt.to)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.name)
	}
	_, err := targetFor("a.rtf", "pdf")
	assert.Error(t, err)
	assert.Equal(t, "report.rtf", outputName("dir/report.md", convert.FormatRTF))
}

func TestServe_RequiresAPIKey(t *testing.T) {
	t.Setenv("RTFBRIDGE_API_KEY", "")
	_, _, err := run(t, "", "serve")
	assert.ErrorContains(t, err, "RTFBRIDGE_API_KEY")
}

func TestTerminalWidth_NotATerminal(t *testing.T) {
	_, ok := terminalWidth(&lockedWriter{w: &bytes.Buffer{}})
	assert.False(t, ok)
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	_, ok = terminalWidth(&lockedWriter{w: f})
	assert.False(t, ok, "regular files are not terminals")
}
