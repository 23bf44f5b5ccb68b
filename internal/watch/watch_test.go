package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLater(t *testing.T, path string, delay time.Duration) {
	t.Helper()
	go func() {
		time.Sleep(delay)
		_ = os.WriteFile(path, []byte("Feature: x\n"), 0o644)
	}()
}

func TestNextReportsFeatureChange(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	target := filepath.Join(dir, "proxy.feature")
	writeLater(t, target, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	changed, err := w.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, changed)
}

func TestNextIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	writeLater(t, filepath.Join(dir, "notes.txt"), 20*time.Millisecond)
	target := filepath.Join(dir, "late.feature")
	writeLater(t, target, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	changed, err := w.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, changed)
}

func TestNextWatchesNamedFileOnly(t *testing.T) {
	dir := t.TempDir()
	named := filepath.Join(dir, "named.feature")
	require.NoError(t, os.WriteFile(named, []byte("Feature: named\n"), 0o644))

	w, err := New([]string{named}, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	writeLater(t, filepath.Join(dir, "sibling.feature"), 20*time.Millisecond)
	writeLater(t, named, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	changed, err := w.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, named, changed)
}

func TestNextWatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(dir, "nested")
	target := filepath.Join(sub, "deep.feature")
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.Mkdir(sub, 0o755)
		time.Sleep(200 * time.Millisecond)
		_ = os.WriteFile(target, []byte("Feature: deep\n"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	changed, err := w.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, changed)
}

func TestNextStopsOnCancel(t *testing.T) {
	w, err := New([]string{t.TempDir()}, 0)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = w.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewMissingPath(t *testing.T) {
	_, err := New([]string{filepath.Join(t.TempDir(), "absent")}, 0)
	assert.Error(t, err)
}
