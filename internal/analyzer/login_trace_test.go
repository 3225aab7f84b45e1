package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// fakeEngine is a minimal Engine fake: Resolve always succeeds, the
// remaining stages return their configured canned values.
type fakeEngine struct {
	resolved   models.ResolveResult
	candidates []models.LoginPageCandidate
	pw         models.PasswordDetection
}

func (f *fakeEngine) Resolve(ctx context.Context, domain string) (models.ResolveResult, error) {
	return f.resolved, nil
}

func (f *fakeEngine) DiscoverLoginPages(ctx context.Context, resolved models.ResolveResult, cfg models.LoginPageConfig, forced []string) ([]models.LoginPageCandidate, error) {
	if len(forced) > 0 {
		var out []models.LoginPageCandidate
		for _, url := range forced {
			out = append(out, models.LoginPageCandidate{URL: url})
		}
		return out, nil
	}
	return f.candidates, nil
}

func (f *fakeEngine) AnalyzeAuth(ctx context.Context, candidate models.LoginPageCandidate) (models.ResolveResult, models.PasswordDetection, models.MFADetection, models.PasskeyDetection, error) {
	pw := f.pw
	pw.LoginPageURL = candidate.URL
	resolved := models.ResolveResult{Reachable: true, URL: candidate.URL}
	return resolved, pw, models.MFADetection{}, models.PasskeyDetection{}, nil
}

func (f *fakeEngine) DetectIdPs(ctx context.Context, candidate models.LoginPageCandidate, idpScope []string, recognition models.RecognitionConfig) ([]models.IdentityProviderDetection, error) {
	return nil, nil
}

func (f *fakeEngine) ProbeMetadata(ctx context.Context, origin string) (map[models.WellKnownEndpoint]bool, map[models.WellKnownEndpoint]any, error) {
	return nil, nil, nil
}

func TestLoginTraceRunsAuthAnalysisAgainstForcedCandidates(t *testing.T) {
	engine := &fakeEngine{
		resolved: models.ResolveResult{Reachable: true, Domain: "example.com", URL: "https://example.com"},
		pw:       models.PasswordDetection{Detected: true, HasPassword: true, Confidence: models.ConfidenceHigh},
	}
	o := NewLoginTrace(engine)

	task := models.Task{
		TaskID: "t1",
		Domain: "example.com",
		AnalyzerConfig: models.AnalyzerConfig{
			ForcedCandidates: []string{"https://example.com/login"},
		},
	}

	result, err := o.Run(context.Background(), task)
	require.NoError(t, err)
	require.Empty(t, result.Exception)
	require.Len(t, result.LoginPageCandidates, 1)
	require.Len(t, result.AuthenticationMechanisms.Password, 1)
	assert.Equal(t, "https://example.com/login", result.AuthenticationMechanisms.Password[0].LoginPageURL)
}

func TestLoginTraceErrorsWithoutForcedCandidates(t *testing.T) {
	engine := &fakeEngine{resolved: models.ResolveResult{Reachable: true}}
	o := NewLoginTrace(engine)

	result, err := o.Run(context.Background(), models.Task{TaskID: "t2", Domain: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, ErrNoKnownLoginPages.Error(), result.Exception)
}
