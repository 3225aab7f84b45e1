package analyzer

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// HTTPGetter abstracts the metadata-probing HTTP client so it can be
// exercised with a fake in tests. Satisfied by *http.Client.
type HTTPGetter interface {
	Get(url string) (*http.Response, error)
}

// wellKnownPaths maps each probed endpoint to its path relative to the
// site origin (§4.7 stage 5).
var wellKnownPaths = map[models.WellKnownEndpoint]string{
	models.EndpointRobotsTxt:           "/robots.txt",
	models.EndpointSecurityTxt:         "/.well-known/security.txt",
	models.EndpointOpenIDConfiguration: "/.well-known/openid-configuration",
	models.EndpointOAuthAuthServer:     "/.well-known/oauth-authorization-server",
	models.EndpointWebfinger:           "/.well-known/webfinger",
	models.EndpointJWKS:                "/.well-known/jwks.json",
	models.EndpointPasskeyEndpoints:    "/.well-known/passkey-endpoints",
	models.EndpointAssetlinks:          "/.well-known/assetlinks.json",
	models.EndpointAppleAppSiteAssoc:   "/.well-known/apple-app-site-association",
	models.EndpointFIDOConfig:          "/.well-known/fido-configuration",
	models.EndpointUMA2Configuration:   "/.well-known/uma2-configuration",
	models.EndpointBrowserID:           "/.well-known/browserid",
	models.EndpointWebIdentity:         "/.well-known/web-identity",
}

// jsonEndpoints are parsed into MetadataData when they 200 with a
// JSON-looking body; the rest (robots.txt, security.txt, browserid) are
// availability-only per §4.7.
var jsonEndpoints = map[models.WellKnownEndpoint]bool{
	models.EndpointOpenIDConfiguration: true,
	models.EndpointOAuthAuthServer:     true,
	models.EndpointWebfinger:           true,
	models.EndpointJWKS:                true,
	models.EndpointPasskeyEndpoints:    true,
	models.EndpointAssetlinks:          true,
	models.EndpointAppleAppSiteAssoc:   true,
	models.EndpointFIDOConfig:          true,
	models.EndpointUMA2Configuration:   true,
	models.EndpointWebIdentity:         true,
}

// ProbeMetadata fetches every well-known endpoint against origin and
// reports which were available, parsing JSON bodies where expected (§4.7
// stage 5).
func ProbeMetadata(client HTTPGetter, origin string) (map[models.WellKnownEndpoint]bool, map[models.WellKnownEndpoint]any) {
	available := make(map[models.WellKnownEndpoint]bool, len(wellKnownPaths))
	data := make(map[models.WellKnownEndpoint]any)

	for endpoint, path := range wellKnownPaths {
		resp, err := client.Get(origin + path)
		if err != nil {
			available[endpoint] = false
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		ok := resp.StatusCode == 200
		available[endpoint] = ok
		if !ok || !jsonEndpoints[endpoint] {
			continue
		}

		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			data[endpoint] = parsed
		}
	}
	return available, data
}
