package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/b1naryth1ef/sshexplorer/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintRows(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printRows(&out, []cache.Row{
		{Name: "etc", Owner: "root", Permissions: "drwxr-xr-x", Glyph: cache.GlyphDirectory},
		{Name: "motd", Owner: "root", Permissions: "-rw-r--r--", Size: "2.0 KiB", Glyph: cache.GlyphFile},
	}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "etc/"))
	assert.Contains(t, lines[2], "2.0 KiB")
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cache", "report.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o700))
	require.NoError(t, os.WriteFile(src, []byte("pdf"), 0o600))

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(dest, 0o755))
	require.NoError(t, moveFile(src, dest))

	data, err := os.ReadFile(filepath.Join(dest, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestErrorFor(t *testing.T) {
	ev := appEvent{Type: appEventError, Path: "/home/alice/", Err: errors.New("permission denied")}
	assert.True(t, errorFor(ev, "/home/alice"))
	assert.False(t, errorFor(ev, "/home"))
	assert.False(t, errorFor(appEvent{Type: appEventListed, Path: "/home/alice"}, "/home/alice"))
	assert.False(t, errorFor(appEvent{Type: appEventError}, "/"))
}
