package geoip

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "geoip")
	s := NewService(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Watch(ctx))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWatchExistingDir(t *testing.T) {
	dir := t.TempDir()
	s := NewService(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, s.Watch(ctx))
}
