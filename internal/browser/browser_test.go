package browser

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

func TestCompressBase64RoundTrips(t *testing.T) {
	raw := []byte("fake-png-bytes")
	encoded := compressBase64(raw)

	compressed, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, raw, decompressed)
}

func TestOnloadSleepDefaultsToFiveSeconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, onloadSleep(models.BrowserConfig{}))
	assert.Equal(t, 3*time.Second, onloadSleep(models.BrowserConfig{SleepAfterOnload: 3}))
}

func TestNetworkIdleTailSleepDefaultsToTwoSeconds(t *testing.T) {
	assert.Equal(t, 2*time.Second, networkIdleTailSleep(models.BrowserConfig{}))
	assert.Equal(t, 500*time.Millisecond, networkIdleTailSleep(models.BrowserConfig{SleepAfterNetworkIdle: 0.5}))
}

func TestNavigationFailureErrorIncludesStatusCode(t *testing.T) {
	f := NavigationFailure{Kind: FailureOther, StatusCode: 500, Detail: "server error"}
	assert.Contains(t, f.Error(), "500")
	assert.Contains(t, f.Error(), "server error")
}
