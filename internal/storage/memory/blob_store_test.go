package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"runId":"r1"}`)
	uri, err := store.PutObject(context.Background(), "runs/r1.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/r1.json", uri)

	body, contentType, ok := store.Object("runs/r1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)
	require.Equal(t, payload, body)

	body[0] = 'X'
	again, _, _ := store.Object("runs/r1.json")
	require.Equal(t, payload, again)
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
