package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/internal/testutil"
	"github.com/klasslink/pkg/model"
)

func counter(body byte, extra ...string) []byte {
	b := testutil.NewClass("p/Counter", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper).
		Field(testutil.AccPrivate, "count", "I").
		Method(testutil.AccPublic, "<init>", "()V").
		Method(testutil.AccPublic, "value", "()I", testutil.WithCode(1, 1, []byte{body, 0xac}))
	for _, name := range extra {
		b.Method(testutil.AccPublic, name, "()V")
	}
	return b.Build()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	verbose, configPath, classPath, outputPath, jsonOutput, timing = false, "", nil, "", false, false
	showLayout, showDispatch, prepareClasses = false, false, false
	diffCapability, redefineCapability = "", ""
	preloadAll = false
	historyClass, historyLoader, historyLimit = "", "", 20

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func classDir(t *testing.T) string {
	return testutil.ClassDir(t, map[string][]byte{
		symbol.ObjectName: testutil.ObjectClass(),
		"p/Counter":       counter(0x03),
	})
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version dev")
	assert.Contains(t, out, "Go Version:")
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeFile(t, dir, "old.class", counter(0x03))

	t.Run("MethodBody", func(t *testing.T) {
		newPath := writeFile(t, dir, "body.class", counter(0x04))

		out, _, err := run(t, "diff", oldPath, newPath, "--json")
		require.NoError(t, err)

		var reports []model.DiffReport
		require.NoError(t, json.Unmarshal([]byte(out), &reports))
		require.Len(t, reports, 1)
		assert.Equal(t, "p/Counter", reports[0].Class)
		assert.Equal(t, "method_body_change", reports[0].Change)
		assert.Equal(t, "method_body", reports[0].Capability)
		assert.Equal(t, 0, reports[0].Status)
	})

	t.Run("AddMethod", func(t *testing.T) {
		newPath := writeFile(t, dir, "add.class", counter(0x03, "reset"))

		out, _, err := run(t, "diff", oldPath, newPath)
		require.NoError(t, err)
		assert.Contains(t, out, "Change:     add_method")
		assert.Contains(t, out, "(63)")

		out, _, err = run(t, "diff", oldPath, newPath, "--capability", "add_method", "--json")
		require.NoError(t, err)
		var reports []model.DiffReport
		require.NoError(t, json.Unmarshal([]byte(out), &reports))
		assert.True(t, reports[0].Accepted())
	})

	t.Run("WrongClass", func(t *testing.T) {
		other := writeFile(t, dir, "other.class", testutil.SimpleClass("p/Other"))
		_, _, err := run(t, "diff", oldPath, other)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wrong name")
	})

	t.Run("UnknownCapability", func(t *testing.T) {
		_, _, err := run(t, "diff", oldPath, oldPath, "--capability", "everything")
		require.Error(t, err)
	})
}

func TestLink(t *testing.T) {
	dir := classDir(t)

	t.Run("JSON", func(t *testing.T) {
		out, _, err := run(t, "link", "--classpath", dir, "--layout", "--json", "p.Counter")
		require.NoError(t, err)

		var reports []model.ClassReport
		require.NoError(t, json.Unmarshal([]byte(out), &reports))
		require.Len(t, reports, 1)
		assert.Equal(t, "p/Counter", reports[0].Name)
		require.NotNil(t, reports[0].Layout)
		assert.Nil(t, reports[0].Dispatch)
		assert.Equal(t, 4, reports[0].Layout.InstanceBytes)
	})

	t.Run("Text", func(t *testing.T) {
		out, _, err := run(t, "link", "--classpath", dir, "p/Counter")
		require.NoError(t, err)
		assert.Contains(t, out, "=== p/Counter ===")
		assert.Contains(t, out, "VTable")
	})

	t.Run("CompressedOutput", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json.zst")
		_, _, err := run(t, "link", "--classpath", dir, "-o", path, "p/Counter")
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	})

	t.Run("Missing", func(t *testing.T) {
		_, _, err := run(t, "link", "--classpath", dir, "p/Missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "p/Missing")
	})
}

func TestPreload(t *testing.T) {
	dir := classDir(t)

	out, _, err := run(t, "preload", "--classpath", dir, "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Requested:      2")
	assert.Contains(t, out, "Loaded:         2")
	assert.NotContains(t, out, "timing ===")

	t.Run("Timing", func(t *testing.T) {
		out, _, err := run(t, "preload", "--classpath", dir, "--timing", "p/Counter")
		require.NoError(t, err)
		assert.Contains(t, out, "=== Preload timing ===")
		assert.Contains(t, out, "1. class path:")
		assert.Contains(t, out, "2. registries:")
		assert.Contains(t, out, "3. load:")
		assert.NotContains(t, out, "list class path")
	})
}

func TestRedefineAndHistory(t *testing.T) {
	dir := classDir(t)
	tmp := t.TempDir()
	configFile := writeFile(t, tmp, "klasslink.yaml", []byte(fmt.Sprintf(`
classpath:
  entries: [%q]
redefinition:
  persist_fingerprints: true
database:
  type: sqlite
  path: %q
`, dir, filepath.Join(tmp, "klasslink.db"))))

	t.Run("Success", func(t *testing.T) {
		patched := writeFile(t, tmp, "Counter.class", counter(0x05))
		out, _, err := run(t, "redefine", "-c", configFile, patched)
		require.NoError(t, err)
		assert.Contains(t, out, "method_body_change")
	})

	t.Run("Declined", func(t *testing.T) {
		patched := writeFile(t, tmp, "Counter2.class", counter(0x05, "reset"))
		_, _, err := run(t, "redefine", "-c", configFile, patched)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declined")
	})

	t.Run("History", func(t *testing.T) {
		out, _, err := run(t, "history", "-c", configFile, "--class", "p.Counter", "--json")
		require.NoError(t, err)

		var reports []model.RedefinitionReport
		require.NoError(t, json.Unmarshal([]byte(out), &reports))
		require.Len(t, reports, 2)
		assert.Equal(t, "add_method", reports[0].Change)
		assert.Equal(t, 63, reports[0].Status)
		assert.Equal(t, "method_body_change", reports[1].Change)
		assert.Equal(t, 1, reports[1].Version)
	})
}
