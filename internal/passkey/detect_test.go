package passkey

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// fakeEvaluator dispatches based on a substring of the script, since each
// layer issues a distinct, identifiable JS snippet.
type fakeEvaluator struct {
	apiAvailable bool
	uiElements   []uiElement
	jsImpls      []jsImplementation
	visibleText  string
}

func (f *fakeEvaluator) Evaluate(js string, out any) error {
	switch {
	case strings.Contains(js, "PublicKeyCredential !== 'undefined'"):
		*out.(*bool) = f.apiAvailable
	case strings.Contains(js, "querySelectorAll('button"):
		raw, _ := json.Marshal(f.uiElements)
		return json.Unmarshal(raw, out)
	case strings.Contains(js, "document.scripts"):
		raw, _ := json.Marshal(f.jsImpls)
		return json.Unmarshal(raw, out)
	case strings.Contains(js, "document.body.innerText"):
		*out.(*string) = f.visibleText
	}
	return nil
}

func TestDetectReturnsNotDetectedWhenAPIUnavailable(t *testing.T) {
	ev := &fakeEvaluator{apiAvailable: false}
	d, err := Detect(ev, "https://example.com/login", "example.com")
	require.NoError(t, err)
	assert.False(t, d.Detected)
	assert.False(t, d.WebAuthnAPIAvailable)
	assert.True(t, d.Valid())
}

func TestDetectReturnsNotDetectedWhenNoIndicators(t *testing.T) {
	ev := &fakeEvaluator{apiAvailable: true}
	d, err := Detect(ev, "https://example.com/login", "example.com")
	require.NoError(t, err)
	assert.False(t, d.Detected)
	assert.True(t, d.WebAuthnAPIAvailable)
	assert.True(t, d.Valid())
}

func TestDetectHighConfidenceFromTwoHighIndicators(t *testing.T) {
	ev := &fakeEvaluator{
		apiAvailable: true,
		uiElements:   []uiElement{{Text: "sign in with passkey", IsAuthButton: true}},
		jsImpls:      []jsImplementation{{Type: "credential_get"}},
	}
	d, err := Detect(ev, "https://example.com/login", "example.com")
	require.NoError(t, err)
	assert.True(t, d.Detected)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)
	assert.Contains(t, d.DetectionMethods, models.MethodUI)
	assert.Contains(t, d.DetectionMethods, models.MethodJS)
	assert.True(t, d.Valid())
}

func TestDetectMediumConfidenceFromSingleHighIndicator(t *testing.T) {
	ev := &fakeEvaluator{
		apiAvailable: true,
		jsImpls:      []jsImplementation{{Type: "credential_create"}},
	}
	d, err := Detect(ev, "https://example.com/other", "example.com")
	require.NoError(t, err)
	assert.True(t, d.Detected)
	assert.Equal(t, models.ConfidenceMedium, d.Confidence)
}

func TestDetectLowConfidenceFromWeakKeywordOnly(t *testing.T) {
	ev := &fakeEvaluator{
		apiAvailable: true,
		visibleText:  "learn more about webauthn standards",
	}
	d, err := Detect(ev, "https://example.com/blog", "example.com")
	require.NoError(t, err)
	assert.True(t, d.Detected)
	assert.Equal(t, models.ConfidenceLow, d.Confidence)
	assert.True(t, d.Valid())
}

func TestDetectEnterpriseHeuristicMatchesKnownDomain(t *testing.T) {
	ev := &fakeEvaluator{
		apiAvailable: true,
		visibleText:  "Use your passkey or Windows Hello to sign in",
	}
	d, err := Detect(ev, "https://login.microsoftonline.com/common", "login.microsoftonline.com")
	require.NoError(t, err)
	assert.True(t, d.Detected)
	assert.Contains(t, d.DetectionMethods, models.MethodEnterprise)
}

func TestAggregateOrdersMethodsDeterministically(t *testing.T) {
	indicators := []indicator{
		{method: models.MethodKeyword, confidence: models.ConfidenceLow},
		{method: models.MethodUI, confidence: models.ConfidenceHigh},
	}
	_, methods, _ := aggregate(indicators, false)
	assert.Equal(t, []models.PasskeyDetectionMethod{models.MethodUI, models.MethodKeyword}, methods)
}
