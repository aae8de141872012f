package workspace

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMaterializeRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir(), "script.kts", testLogger())

	content := "val π = 3.14\nprintln(\"héllo\")\n"
	path, err := m.Materialize(content)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(path))
	require.Equal(t, "script.kts", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte(content), data)
}

func TestMaterializeUniqueDirs(t *testing.T) {
	m := NewManager(t.TempDir(), "script.kts", testLogger())

	first, err := m.Materialize("a")
	require.NoError(t, err)
	second, err := m.Materialize("b")
	require.NoError(t, err)

	require.NotEqual(t, filepath.Dir(first), filepath.Dir(second))
}

func TestCleanupRemovesFileAndDir(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, "script.kts", testLogger())

	path, err := m.Materialize("println(1)")
	require.NoError(t, err)

	m.Cleanup(path)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Dir(path))
	require.True(t, os.IsNotExist(err))
}

func TestCleanupIdempotent(t *testing.T) {
	m := NewManager(t.TempDir(), "script.kts", testLogger())

	path, err := m.Materialize("println(1)")
	require.NoError(t, err)

	m.Cleanup(path)
	m.Cleanup(path) // second call on a removed path is a no-op
	m.Cleanup("")
}

func TestMaterializeFailsOnUnwritableRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	root := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.Mkdir(root, 0555))

	m := NewManager(filepath.Join(root, "nested"), "script.kts", testLogger())
	_, err := m.Materialize("x")
	require.Error(t, err)
}
