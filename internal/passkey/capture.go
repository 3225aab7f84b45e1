package passkey

import (
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/BetterCallFirewall/authlandscape/internal/browser"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// Trigger abstracts the candidate-triggering actions the implementation
// capture tries in order, stopping at the first one that produces a
// capture (§4.5 "Implementation capture"): passive wait, click the
// passkey button, fill a test username and submit.
type Trigger func(browserCtx *browser.Context) error

type captureEntry struct {
	Method  string          `json:"method"`
	Options json.RawMessage `json:"options"`
}

// Capture installs a virtual authenticator and runs triggers in order
// until window.__webauthn_capture records a create/get call (installed at
// Context.Open time via webauthnCaptureScript), then reads back the
// authenticator's minted credentials.
func Capture(browserCtx *browser.Context, triggers []Trigger) (models.WebAuthnImplementation, error) {
	if err := browserCtx.EnableWebAuthn(); err != nil {
		return models.WebAuthnImplementation{}, err
	}
	authenticatorID, err := browserCtx.AddVirtualAuthenticator()
	if err != nil {
		return models.WebAuthnImplementation{}, err
	}

	var events []string
	browserCtx.NetworkEvents(func(url, method string) {
		events = append(events, method+" "+url)
	})

	for _, trigger := range triggers {
		if err := trigger(browserCtx); err != nil {
			continue
		}

		var captures []captureEntry
		if err := browserCtx.Evaluate(`() => window.__webauthn_capture || []`, &captures); err != nil {
			continue
		}
		if len(captures) == 0 {
			continue
		}

		impl := models.WebAuthnImplementation{Captured: true, CDPEvents: events}
		for _, c := range captures {
			switch c.Method {
			case "create":
				var opts struct {
					PublicKey json.RawMessage `json:"publicKey"`
				}
				if err := json.Unmarshal(c.Options, &opts); err == nil {
					impl.CreateOptions = decodeCreateOptions(opts.PublicKey)
				}
			case "get":
				var opts struct {
					PublicKey json.RawMessage `json:"publicKey"`
				}
				if err := json.Unmarshal(c.Options, &opts); err == nil {
					impl.GetOptions = decodeGetOptions(opts.PublicKey)
				}
			}
		}

		creds, err := browserCtx.GetCredentials(authenticatorID)
		if err == nil {
			for _, cred := range creds {
				impl.Credentials = append(impl.Credentials, models.VirtualCredential{
					CredentialID:         string(cred.CredentialID),
					IsResidentCredential: cred.IsResidentCredential,
					RPID:                 cred.RpID,
					SignCount:            int64(cred.SignCount),
				})
			}
		}
		return impl, nil
	}

	return models.WebAuthnImplementation{Captured: false, CDPEvents: events}, nil
}

func decodeCreateOptions(raw json.RawMessage) *protocol.PublicKeyCredentialCreationOptions {
	if len(raw) == 0 {
		return nil
	}
	var opts protocol.PublicKeyCredentialCreationOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil
	}
	return &opts
}

func decodeGetOptions(raw json.RawMessage) *protocol.PublicKeyCredentialRequestOptions {
	if len(raw) == 0 {
		return nil
	}
	var opts protocol.PublicKeyCredentialRequestOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil
	}
	return &opts
}
