package nestedalter

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakePutter struct {
	puts []put
}

type put struct {
	bucket, object, contentType string
	data                        []byte
}

func (f *fakePutter) Put(_ context.Context, bucket, object string, data []byte, contentType string) error {
	f.puts = append(f.puts, put{bucket, object, contentType, data})
	return nil
}

func zlibBase64(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestOffloadReplacesScreenshotWithBlobReference(t *testing.T) {
	raw := []byte("fake-png-bytes")
	doc := []byte(`{
		"login_page_candidates": [
			{"url": "https://example.com/login", "login_page_candidate_screenshot": "` + zlibBase64(t, raw) + `"}
		]
	}`)

	store := &fakePutter{}
	out, err := Offload(context.Background(), store, "example.com", doc)
	require.NoError(t, err)

	require.Len(t, store.puts, 1)
	assert.Equal(t, "login-page-candidate-screenshot", store.puts[0].bucket)
	assert.Equal(t, "image/png", store.puts[0].contentType)
	assert.Equal(t, raw, store.puts[0].data)

	result := gjson.GetBytes(out, "login_page_candidates.0.login_page_candidate_screenshot")
	assert.Equal(t, "reference", result.Get("type").String())
	assert.Equal(t, "login-page-candidate-screenshot", result.Get("data.bucket_name").String())
	assert.Equal(t, "png", result.Get("data.extension").String())
}

func TestOffloadLeavesJSONKeysLiteral(t *testing.T) {
	doc := []byte(`{"metadata_data": {"openid-configuration": {"issuer": "https://idp.example.com"}}}`)

	store := &fakePutter{}
	out, err := Offload(context.Background(), store, "example.com", doc)
	require.NoError(t, err)

	require.Len(t, store.puts, 1)
	assert.Equal(t, "metadata-data", store.puts[0].bucket)
	assert.JSONEq(t, `{"openid-configuration": {"issuer": "https://idp.example.com"}}`, string(store.puts[0].data))

	result := gjson.GetBytes(out, "metadata_data")
	assert.Equal(t, "reference", result.Get("type").String())
}

func TestOffloadIsIdempotent(t *testing.T) {
	raw := []byte("fake-har-bytes")
	doc := []byte(`{"idp_har": "` + zlibBase64(t, raw) + `"}`)

	store := &fakePutter{}
	once, err := Offload(context.Background(), store, "example.com", doc)
	require.NoError(t, err)
	require.Len(t, store.puts, 1)

	twice, err := Offload(context.Background(), store, "example.com", once)
	require.NoError(t, err)
	assert.Len(t, store.puts, 1, "re-offloading an already-offloaded reference must not put again")
	assert.JSONEq(t, string(once), string(twice))
}

func TestOffloadWalksNestedArraysAndObjects(t *testing.T) {
	doc := []byte(`{
		"identity_providers": [
			{"idp_name": "GOOGLE", "idp_har": "` + zlibBase64(t, []byte("har-1")) + `"},
			{"idp_name": "OKTA", "idp_screenshot": "` + zlibBase64(t, []byte("png-1")) + `"}
		]
	}`)

	store := &fakePutter{}
	_, err := Offload(context.Background(), store, "example.com", doc)
	require.NoError(t, err)
	assert.Len(t, store.puts, 2)
}
