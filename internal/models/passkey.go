package models

import "github.com/go-webauthn/webauthn/protocol"

// PasskeyDetectionMethod is one of the layers that can independently
// contribute to a PasskeyDetection (§4.5).
type PasskeyDetectionMethod string

const (
	MethodUI         PasskeyDetectionMethod = "UI"
	MethodJS         PasskeyDetectionMethod = "JS"
	MethodKeyword    PasskeyDetectionMethod = "KEYWORD"
	MethodEnterprise PasskeyDetectionMethod = "ENTERPRISE"
)

// Confidence is a coarse detection confidence shared by passkey, password,
// and MFA detectors.
type Confidence string

const (
	ConfidenceNone   Confidence = "NONE"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// rank orders confidences so Max can pick the strongest.
var confidenceRank = map[Confidence]int{
	ConfidenceNone:   0,
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
}

// MaxConfidence returns whichever of a, b ranks higher.
func MaxConfidence(a, b Confidence) Confidence {
	if confidenceRank[b] > confidenceRank[a] {
		return b
	}
	return a
}

// PasskeyDetection is the consolidated result of all detection layers plus,
// when capture succeeded, the actual WebAuthn ceremony parameters (§3).
// Invariant: Detected && len(DetectionMethods)==0 is never true.
type PasskeyDetection struct {
	LoginPageURL          string                    `json:"login_page_url" bson:"login_page_url"`
	Detected              bool                      `json:"detected" bson:"detected"`
	DetectionMethods      []PasskeyDetectionMethod  `json:"detection_methods" bson:"detection_methods"`
	Confidence            Confidence                `json:"confidence" bson:"confidence"`
	Indicators            []string                  `json:"indicators" bson:"indicators"`
	WebAuthnAPIAvailable  bool                       `json:"webauthn_api_available" bson:"webauthn_api_available"`
	ElementCoordinates    *ElementCoordinates        `json:"element_coordinates,omitempty" bson:"element_coordinates,omitempty"`
	ElementInnerText      string                     `json:"element_inner_text,omitempty" bson:"element_inner_text,omitempty"`
	ElementOuterHTML      string                     `json:"element_outer_html,omitempty" bson:"element_outer_html,omitempty"`
	Implementation        WebAuthnImplementation     `json:"implementation" bson:"implementation"`
}

// Valid reports whether d satisfies the PasskeyDetection invariant (§8):
// detected implies API availability or at least MEDIUM confidence.
func (d PasskeyDetection) Valid() bool {
	if !d.Detected {
		return true
	}
	if len(d.DetectionMethods) == 0 {
		return false
	}
	return d.WebAuthnAPIAvailable || d.Confidence == ConfidenceMedium || d.Confidence == ConfidenceHigh
}

// WebAuthnImplementation captures what the CDP virtual-authenticator
// instrumentation observed (§4.5 "Implementation capture").
type WebAuthnImplementation struct {
	Captured       bool                                            `json:"captured" bson:"captured"`
	CreateOptions  *protocol.PublicKeyCredentialCreationOptions     `json:"create_options,omitempty" bson:"create_options,omitempty"`
	GetOptions     *protocol.PublicKeyCredentialRequestOptions      `json:"get_options,omitempty" bson:"get_options,omitempty"`
	Credentials    []VirtualCredential                              `json:"credentials,omitempty" bson:"credentials,omitempty"`
	CDPEvents      []string                                         `json:"cdp_events,omitempty" bson:"cdp_events,omitempty"`
}

// VirtualCredential is one credential minted by the CDP virtual
// authenticator during capture.
type VirtualCredential struct {
	CredentialID   string `json:"credential_id" bson:"credential_id"`
	IsResidentCredential bool `json:"is_resident_credential" bson:"is_resident_credential"`
	RPID           string `json:"rp_id" bson:"rp_id"`
	SignCount      int64  `json:"sign_count" bson:"sign_count"`
}
