package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Lifecycle(t *testing.T) {
	store, err := NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("bag bytes for archival")

	// 1. Put
	require.NoError(t, store.Put(ctx, "runs/skidpad_01.bag", bytes.NewReader(data), int64(len(data))))

	// 2. Open and read back
	rc, err := store.Open(ctx, "runs/skidpad_01.bag")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	// 3. Overwrite is atomic and replaces content
	require.NoError(t, store.Put(ctx, "runs/skidpad_01.bag", strings.NewReader("v2"), 2))
	rc, err = store.Open(ctx, "runs/skidpad_01.bag")
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "v2", string(got))

	// 4. Delete, twice (idempotent)
	require.NoError(t, store.Delete(ctx, "runs/skidpad_01.bag"))
	require.NoError(t, store.Delete(ctx, "runs/skidpad_01.bag"))

	_, err = store.Open(ctx, "runs/skidpad_01.bag")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_NoTempLeftovers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")
	store, err := NewLocal(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "a.bag", strings.NewReader("x"), 1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.bag", entries[0].Name())
}

func TestArchiver_RelativeKeys(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "skidpad"), 0o750))
	src := filepath.Join(root, "skidpad", "run_01.bag")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	store, err := NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	a := NewArchiver(store, root)
	ctx := context.Background()
	require.NoError(t, a.Archive(ctx, src))

	rc, err := store.Open(ctx, "skidpad/run_01.bag")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(got))
}

func TestArchiver_OutsideRootFallsBackToBase(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "elsewhere.bag")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	store, err := NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	a := NewArchiver(store, filepath.Join(t.TempDir(), "root"))
	require.NoError(t, a.Archive(context.Background(), outside))

	_, err = store.Open(context.Background(), "elsewhere.bag")
	require.NoError(t, err)
}
