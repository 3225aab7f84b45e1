package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

type fakeWildcardEngine struct {
	fakeEngine
	detection *models.WildcardReceiverDetection
	probeErr  error
}

func (f *fakeWildcardEngine) ProbeWildcardReceiver(ctx context.Context, pageURL string) (*models.WildcardReceiverDetection, error) {
	return f.detection, f.probeErr
}

func TestWildcardReceiverProbesResolvedPage(t *testing.T) {
	engine := &fakeWildcardEngine{
		fakeEngine: fakeEngine{resolved: models.ResolveResult{Reachable: true, Domain: "example.com", URL: "https://example.com"}},
		detection:  &models.WildcardReceiverDetection{Origin: "example.com", AcceptsWildcard: true},
	}
	o := NewWildcardReceiver(engine)

	result, err := o.Run(context.Background(), models.Task{TaskID: "t1", Domain: "example.com"})
	require.NoError(t, err)
	require.NotNil(t, result.WildcardReceiver)
	assert.True(t, result.WildcardReceiver.AcceptsWildcard)
	assert.Empty(t, result.LoginPageCandidates, "wildcard-receiver never runs login-page discovery")
}

func TestWildcardReceiverSkipsProbeWhenUnreachable(t *testing.T) {
	engine := &fakeWildcardEngine{
		fakeEngine: fakeEngine{resolved: models.ResolveResult{Reachable: false, Domain: "example.com"}},
	}
	o := NewWildcardReceiver(engine)

	result, err := o.Run(context.Background(), models.Task{TaskID: "t2", Domain: "example.com"})
	require.NoError(t, err)
	assert.Nil(t, result.WildcardReceiver)
}
