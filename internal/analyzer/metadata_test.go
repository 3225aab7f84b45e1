package analyzer

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

type fakeGetter struct {
	responses map[string]string
}

func (f *fakeGetter) Get(url string) (*http.Response, error) {
	body, ok := f.responses[url]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestProbeMetadataMarksAvailabilityAndParsesJSON(t *testing.T) {
	client := &fakeGetter{responses: map[string]string{
		"https://example.com/.well-known/openid-configuration": `{"issuer": "https://example.com"}`,
		"https://example.com/robots.txt":                       "User-agent: *",
	}}

	available, data := ProbeMetadata(client, "https://example.com")

	require.True(t, available[models.EndpointOpenIDConfiguration])
	require.True(t, available[models.EndpointRobotsTxt])
	assert.False(t, available[models.EndpointJWKS])

	parsed, ok := data[models.EndpointOpenIDConfiguration].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", parsed["issuer"])

	_, hasRobotsData := data[models.EndpointRobotsTxt]
	assert.False(t, hasRobotsData, "robots.txt is availability-only")
}
