package logger

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_RotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "rotate.log")

	// 1 MB max; write just over it in two chunks
	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	chunk := []byte(strings.Repeat("x", 600*1024))
	_, err = rw.Write(chunk)
	require.NoError(t, err)
	_, err = rw.Write(chunk)
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.NotEmpty(t, rotated, "expected a rotated file")
}

func TestRotatingWriter_AppendsBelowLimit(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "small.log")

	rw, err := NewRotatingWriter(logFile, 10, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte("line one\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("line two\n"))
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Empty(t, rotated)
}
