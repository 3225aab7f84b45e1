package idp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/locators"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

func TestIsFalsePositiveRejectsBareSocialLinks(t *testing.T) {
	assert.True(t, isFalsePositive(locators.Element{InnerText: "Follow us on Google"}))
	assert.False(t, isFalsePositive(locators.Element{InnerText: "Sign in with Google"}))
	assert.False(t, isFalsePositive(locators.Element{InnerText: "Continue with Facebook"}))
}

func TestClassifyMarksNoIntegrationWithoutInterceptor(t *testing.T) {
	d := &Detector{}
	detection := &models.IdentityProviderDetection{}
	ruleset := models.IdPRuleset{Name: "GOOGLE"}

	err := d.classify(context.Background(), nil, locators.Element{}, ruleset, detection)
	require.NoError(t, err)
	assert.Equal(t, models.NoIntegration, detection.IdPIntegration)
}

func TestClassifyMatchesLoginRequestAndSDK(t *testing.T) {
	ruleset := models.IdPRuleset{
		Name: "GOOGLE",
		LoginRequestRule: models.LoginRequestRule{
			DomainRegex: "accounts.google.com",
			PathRegex:   "/o/oauth2",
		},
		SDKs: []models.SDKRule{
			{Name: "GOOGLE_OAUTH", LoginRequestRule: models.LoginRequestRule{DomainRegex: "accounts.google.com", PathRegex: "/o/oauth2"}},
		},
	}
	d := &Detector{Interceptor: Interceptor{
		ClickAndCapture: func(ctx context.Context, el locators.Element) (*models.CapturedRequest, error) {
			return &models.CapturedRequest{URL: "https://accounts.google.com/o/oauth2/auth", Method: "GET", Frame: models.FramePopup}, nil
		},
	}}
	detection := &models.IdentityProviderDetection{}

	err := d.classify(context.Background(), nil, locators.Element{}, ruleset, detection)
	require.NoError(t, err)
	assert.Equal(t, models.IdPIntegration("GOOGLE_OAUTH"), detection.IdPIntegration)
	assert.Equal(t, models.FramePopup, detection.IdPFrame)
	require.NotNil(t, detection.IdPLoginRequest)
	assert.Equal(t, models.RecognitionRequest, detection.RecognitionStrategy)
}

func TestClassifyFallsBackToCustomIntegration(t *testing.T) {
	ruleset := models.IdPRuleset{
		Name:             "GOOGLE",
		LoginRequestRule: models.LoginRequestRule{DomainRegex: "accounts.google.com", PathRegex: "/o/oauth2"},
	}
	d := &Detector{Interceptor: Interceptor{
		ClickAndCapture: func(ctx context.Context, el locators.Element) (*models.CapturedRequest, error) {
			return &models.CapturedRequest{URL: "https://accounts.google.com/custom/flow", Frame: models.FrameTopmost}, nil
		},
	}}
	detection := &models.IdentityProviderDetection{}

	err := d.classify(context.Background(), nil, locators.Element{}, ruleset, detection)
	require.NoError(t, err)
	assert.Equal(t, models.CustomIntegration, detection.IdPIntegration)
	assert.Empty(t, detection.IdPLoginRequest)
}

func TestScanCandidatesFastStopsAtFirstRecognition(t *testing.T) {
	candidates := []models.LoginPageCandidate{{URL: "a"}, {URL: "b"}, {URL: "c"}}
	var scanned []string
	detections, recognized, err := ScanCandidates(models.RecognitionFast, candidates, func(c models.LoginPageCandidate) ([]models.IdentityProviderDetection, error) {
		scanned = append(scanned, c.URL)
		if c.URL == "b" {
			return []models.IdentityProviderDetection{{IdPName: "GOOGLE"}}, nil
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, scanned, "candidate c must never be scanned once b is recognized")
	require.Len(t, detections, 1)
	require.Len(t, recognized, 1)
	assert.Equal(t, "b", recognized[0].URL)
}

func TestScanCandidatesNormalKeepsOnlyRecognizedCandidates(t *testing.T) {
	candidates := []models.LoginPageCandidate{{URL: "a"}, {URL: "b"}}
	detections, recognized, err := ScanCandidates(models.RecognitionNormal, candidates, func(c models.LoginPageCandidate) ([]models.IdentityProviderDetection, error) {
		if c.URL == "a" {
			return []models.IdentityProviderDetection{{IdPName: "GOOGLE"}}, nil
		}
		return nil, nil
	})
	require.NoError(t, err)
	require.Len(t, detections, 1)
	require.Len(t, recognized, 1)
	assert.Equal(t, "a", recognized[0].URL)
}

func TestScanCandidatesExtensiveScansAndKeepsEverything(t *testing.T) {
	candidates := []models.LoginPageCandidate{{URL: "a"}, {URL: "b"}}
	var scanned []string
	_, recognized, err := ScanCandidates(models.RecognitionExtensive, candidates, func(c models.LoginPageCandidate) ([]models.IdentityProviderDetection, error) {
		scanned = append(scanned, c.URL)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Len(t, scanned, 2)
	assert.Len(t, recognized, 2)
}
