package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCrossReferences(t *testing.T) {
	r := TaskResult{
		LoginPageCandidates: []LoginPageCandidate{
			{URL: "https://example.com/login"},
		},
		AuthenticationMechanisms: AuthenticationMechanisms{
			Password: []PasswordDetection{{LoginPageURL: "https://example.com/login"}},
		},
		IdentityProviders: []IdentityProviderDetection{
			{LoginPageURL: "https://example.com/other"},
		},
	}

	bad, ok := r.ValidateCrossReferences()
	assert.False(t, ok)
	assert.Equal(t, "https://example.com/other", bad)
}

func TestValidateCrossReferences_OK(t *testing.T) {
	r := TaskResult{
		LoginPageCandidates: []LoginPageCandidate{
			{URL: "https://example.com/login"},
		},
		IdentityProviders: []IdentityProviderDetection{
			{LoginPageURL: "https://example.com/login"},
		},
	}

	_, ok := r.ValidateCrossReferences()
	assert.True(t, ok)
}

func TestIsPriorityNonIncreasing(t *testing.T) {
	r := TaskResult{
		LoginPageCandidates: []LoginPageCandidate{
			{Priority: CandidatePriority{Priority: 100}},
			{Priority: CandidatePriority{Priority: 50}},
			{Priority: CandidatePriority{Priority: 50}},
		},
	}
	assert.True(t, r.IsPriorityNonIncreasing())

	r.LoginPageCandidates[1].Priority.Priority = 200
	assert.False(t, r.IsPriorityNonIncreasing())
}

func TestPasskeyDetectionValid(t *testing.T) {
	cases := []struct {
		name string
		d    PasskeyDetection
		want bool
	}{
		{"not detected", PasskeyDetection{Detected: false}, true},
		{"detected no methods", PasskeyDetection{Detected: true}, false},
		{"detected api available", PasskeyDetection{
			Detected: true, DetectionMethods: []PasskeyDetectionMethod{MethodUI}, WebAuthnAPIAvailable: true,
		}, true},
		{"detected high confidence no api", PasskeyDetection{
			Detected: true, DetectionMethods: []PasskeyDetectionMethod{MethodJS}, Confidence: ConfidenceHigh,
		}, true},
		{"detected low confidence no api", PasskeyDetection{
			Detected: true, DetectionMethods: []PasskeyDetectionMethod{MethodKeyword}, Confidence: ConfidenceLow,
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.d.Valid())
		})
	}
}

func TestTaskStateTransitions(t *testing.T) {
	assert.True(t, TaskRequestSent.CanAdvanceTo(TaskRequestReceived))
	assert.True(t, TaskRequestReceived.CanAdvanceTo(TaskResponseSent))
	assert.True(t, TaskResponseSent.CanAdvanceTo(TaskResponseReceived))
	assert.False(t, TaskResponseReceived.CanAdvanceTo(TaskRequestSent))
	assert.False(t, TaskRequestSent.CanAdvanceTo(TaskResponseSent))
}

func TestMaxConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, MaxConfidence(ConfidenceLow, ConfidenceHigh))
	assert.Equal(t, ConfidenceMedium, MaxConfidence(ConfidenceMedium, ConfidenceNone))
}
