package system

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livewall/internal/config"
)

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "loop.mp4")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	var c FileChecker
	assert.True(t, c.Exists(file))
	assert.False(t, c.Exists(filepath.Join(dir, "gone.mp4")))
	assert.False(t, c.Exists(dir), "directories are not sources")
}

func TestParseDF(t *testing.T) {
	out := `Filesystem     1024-blocks      Used Available Capacity Mounted on
/dev/nvme0n1p2   479670976 201234560 254000000      45% /
`
	pct, free, err := parseDF(out)
	require.NoError(t, err)
	assert.Equal(t, 45.0, pct)
	assert.Equal(t, uint64(254000000*1024), free)
}

func TestParseDFRejectsGarbage(t *testing.T) {
	_, _, err := parseDF("nothing here")
	assert.Error(t, err)

	_, _, err = parseDF("header\n/dev/x 1 2 notanumber 10% /")
	assert.Error(t, err)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExistingParent(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, existingParent(filepath.Join(dir, "missing", "state.json")))
}

func TestRunHealthCheckCountsLibraryVideos(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mov", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	cfg := config.DefaultConfig()
	cfg.Library.Dir = dir
	cfg.State.Path = filepath.Join(dir, "state.json")
	cfg.VLC.Path = filepath.Join(dir, "no-vlc")

	status := RunHealthCheck(cfg)
	assert.Equal(t, 2, status.LibraryFiles)
	assert.Empty(t, status.LibraryErr)
	assert.NotEmpty(t, status.VLCErr)
	assert.False(t, status.OK())
	assert.Len(t, status.Disks, 2)
}

func TestRunHealthCheckMissingLibrary(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Library.Dir = filepath.Join(t.TempDir(), "missing")

	status := RunHealthCheck(cfg)
	assert.NotEmpty(t, status.LibraryErr)
	assert.False(t, status.OK())
}
