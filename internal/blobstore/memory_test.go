package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "idp-har", "example.com/abc.har", []byte("payload"), "application/json"))

	data, contentType, err := s.Get(ctx, "idp-har", "example.com/abc.har")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "application/json", contentType)

	require.NoError(t, s.Remove(ctx, "idp-har", "example.com/abc.har"))
	_, _, err = s.Get(ctx, "idp-har", "example.com/abc.har")
	assert.Error(t, err)
}

func TestMemoryStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "b", "o", []byte("v1"), "text/plain"))
	require.NoError(t, s.Put(ctx, "b", "o", []byte("v1"), "text/plain"))

	data, _, err := s.Get(ctx, "b", "o")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)
}
