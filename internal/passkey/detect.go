// Package passkey implements the §4.5 layered WebAuthn/passkey detector:
// API availability, enterprise heuristics, UI, JS, and keyword layers, each
// contributing indicators that are aggregated into one PasskeyDetection.
// Grounded in original_source's
// landscape-worker/modules/detectors/enhanced_passkey_detector.py
// (indicator model and confidence aggregation) and passkey_detector.py
// (enterprise heuristics).
package passkey

import (
	"regexp"
	"strings"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// Evaluator runs JS in the page under test and decodes its return value
// into out. Satisfied by *browser.Context.
type Evaluator interface {
	Evaluate(js string, out any) error
}

type indicator struct {
	method     models.PasskeyDetectionMethod
	desc       string
	confidence models.Confidence
}

// enterpriseDomainPatterns maps a known enterprise-IdP domain fragment to
// visible-text patterns that corroborate a passkey flow on that domain
// (§4.5 step 2).
var enterpriseDomainPatterns = map[string][]string{
	"microsoftonline.com": {"security key", "windows hello", "use face, fingerprint"},
	"accounts.google.com": {"use your passkey", "use your fingerprint, face"},
	"appleid.apple.com":   {"use a passkey", "face id or touch id"},
	"adobe.com":           {"passkey"},
	"bestbuy.com":         {"passkey"},
}

var highConfidenceTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sign\s*in\s*with\s*passkey`),
	regexp.MustCompile(`(?i)continue\s*with\s*passkey`),
	regexp.MustCompile(`(?i)use\s*(?:your\s*)?passkey`),
	regexp.MustCompile(`(?i)passkey\s*authentication`),
}

var mediumConfidenceTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)passkey`),
	regexp.MustCompile(`(?i)webauthn`),
	regexp.MustCompile(`(?i)security\s*key`),
	regexp.MustCompile(`(?i)biometric\s*authentication`),
}

const webauthnAPICheckScript = `() => typeof window.PublicKeyCredential !== 'undefined' && typeof navigator.credentials !== 'undefined'`

// checkAPIAvailable is step 1 (§4.5): PublicKeyCredential existing is a
// prerequisite for every other layer.
func checkAPIAvailable(ev Evaluator) (bool, error) {
	var available bool
	if err := ev.Evaluate(webauthnAPICheckScript, &available); err != nil {
		return false, err
	}
	return available, nil
}

const uiElementsScript = `() => {
  const isVisible = (el) => el && el.offsetWidth > 0 && el.offsetHeight > 0;
  const results = [];
  document.querySelectorAll('button, [role="button"], a').forEach(el => {
    if (!isVisible(el)) return;
    const text = (el.textContent || '').toLowerCase();
    const aria = (el.getAttribute('aria-label') || '').toLowerCase();
    if (/passkey|security.?key|webauthn/.test(text) || /passkey|security.?key|webauthn/.test(aria)) {
      results.push({text, isAuthButton: /sign.?in|log.?in|continue/.test(text)});
    }
  });
  return results;
}`

type uiElement struct {
	Text        string `json:"text"`
	IsAuthButton bool  `json:"isAuthButton"`
}

// detectUI is the UI layer (§4.5 step 3).
func detectUI(ev Evaluator) ([]indicator, error) {
	var elements []uiElement
	if err := ev.Evaluate(uiElementsScript, &elements); err != nil {
		return nil, err
	}
	out := make([]indicator, 0, len(elements))
	for _, el := range elements {
		confidence := models.ConfidenceMedium
		if el.IsAuthButton {
			confidence = models.ConfidenceHigh
		}
		out = append(out, indicator{method: models.MethodUI, desc: "passkey button: " + el.Text, confidence: confidence})
	}
	return out, nil
}

const jsImplementationScript = `() => {
  const results = [];
  const patterns = {
    credential_create: /navigator\.credentials\.create\s*\(\s*\{[\s\S]*?publicKey/,
    credential_get: /navigator\.credentials\.get\s*\(\s*\{[\s\S]*?publicKey/,
    platform_check: /isUserVerifyingPlatformAuthenticatorAvailable/,
    conditional_ui: /isConditionalMediationAvailable/
  };
  const libraries = ['@simplewebauthn/browser', 'webauthn-json', 'fido2-lib', '@github/webauthn-json'];
  Array.from(document.scripts).forEach(script => {
    const content = script.textContent || '';
    if (!content.trim()) return;
    Object.entries(patterns).forEach(([key, pattern]) => {
      if (pattern.test(content)) results.push({type: key});
    });
    libraries.forEach(lib => { if (content.includes(lib)) results.push({type: 'library', name: lib}); });
  });
  return results;
}`

type jsImplementation struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

var highConfidenceJSTypes = map[string]bool{"credential_create": true, "credential_get": true, "platform_check": true, "library": true}

// detectJS is the JS layer (§4.5 step 4): inline-script pattern scanning
// for strong (credential create/get, platform checks, known libraries) and
// weak (conditional UI hints) WebAuthn call patterns.
func detectJS(ev Evaluator) ([]indicator, error) {
	var impls []jsImplementation
	if err := ev.Evaluate(jsImplementationScript, &impls); err != nil {
		return nil, err
	}
	out := make([]indicator, 0, len(impls))
	for _, impl := range impls {
		confidence := models.ConfidenceMedium
		if highConfidenceJSTypes[impl.Type] {
			confidence = models.ConfidenceHigh
		}
		desc := impl.Type
		if impl.Name != "" {
			desc = "library: " + impl.Name
		}
		out = append(out, indicator{method: models.MethodJS, desc: desc, confidence: confidence})
	}
	return out, nil
}

const visibleTextScript = `() => document.body ? document.body.innerText : ''`

// detectKeyword is the keyword layer (§4.5 step 5): scans visible page
// text for passkey/webauthn/security-key phrases, boosted to HIGH
// confidence when phrased as an explicit call to action.
func detectKeyword(ev Evaluator) ([]indicator, error) {
	var text string
	if err := ev.Evaluate(visibleTextScript, &text); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)

	var out []indicator
	for _, re := range highConfidenceTextPatterns {
		if re.MatchString(lower) {
			out = append(out, indicator{method: models.MethodKeyword, desc: re.String(), confidence: models.ConfidenceHigh})
		}
	}
	for _, re := range mediumConfidenceTextPatterns {
		if re.MatchString(lower) {
			out = append(out, indicator{method: models.MethodKeyword, desc: re.String(), confidence: models.ConfidenceMedium})
		}
	}
	return out, nil
}

// detectEnterprise is the enterprise-heuristics layer (§4.5 step 2): for a
// known provider domain, checks whether any of its corroborating text
// patterns appear on the page.
func detectEnterprise(ev Evaluator, domain string) ([]indicator, error) {
	var patterns []string
	for fragment, texts := range enterpriseDomainPatterns {
		if strings.Contains(domain, fragment) {
			patterns = texts
			break
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	var text string
	if err := ev.Evaluate(visibleTextScript, &text); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)

	var out []indicator
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			out = append(out, indicator{method: models.MethodEnterprise, desc: p, confidence: models.ConfidenceHigh})
		}
	}
	return out, nil
}

// validateAuthContext checks whether the page looks like an authentication
// surface, used to boost aggregated confidence (§4.5 final aggregation,
// mirrors _validate_auth_context).
func validateAuthContext(loginPageURL string) bool {
	lower := strings.ToLower(loginPageURL)
	return strings.Contains(lower, "login") || strings.Contains(lower, "signin") ||
		strings.Contains(lower, "auth") || strings.Contains(lower, "account")
}

// Detect runs every layer and aggregates the results into a
// PasskeyDetection (§4.5). domain is the candidate's host name, used by
// the enterprise layer.
func Detect(ev Evaluator, loginPageURL, domain string) (models.PasskeyDetection, error) {
	apiAvailable, err := checkAPIAvailable(ev)
	if err != nil {
		return models.PasskeyDetection{}, err
	}
	if !apiAvailable {
		return models.PasskeyDetection{LoginPageURL: loginPageURL, Detected: false, WebAuthnAPIAvailable: false}, nil
	}

	var all []indicator
	for _, fn := range []func(Evaluator) ([]indicator, error){detectUI, detectJS, detectKeyword} {
		found, err := fn(ev)
		if err != nil {
			return models.PasskeyDetection{}, err
		}
		all = append(all, found...)
	}
	enterprise, err := detectEnterprise(ev, domain)
	if err != nil {
		return models.PasskeyDetection{}, err
	}
	all = append(all, enterprise...)

	if len(all) == 0 {
		return models.PasskeyDetection{LoginPageURL: loginPageURL, Detected: false, WebAuthnAPIAvailable: true}, nil
	}

	authContext := validateAuthContext(loginPageURL)
	confidence, methods, indicatorText := aggregate(all, authContext)

	return models.PasskeyDetection{
		LoginPageURL:         loginPageURL,
		Detected:             true,
		DetectionMethods:     methods,
		Confidence:           confidence,
		Indicators:           indicatorText,
		WebAuthnAPIAvailable: true,
	}, nil
}

// aggregate mirrors _calculate_final_result: HIGH if >=2 high-confidence
// indicators, or >=1 with auth context; MEDIUM if >=1 high-confidence, or
// >=2 medium-confidence with auth context; else LOW.
func aggregate(indicators []indicator, authContext bool) (models.Confidence, []models.PasskeyDetectionMethod, []string) {
	var high, medium int
	methodSet := make(map[models.PasskeyDetectionMethod]bool)
	texts := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		switch ind.confidence {
		case models.ConfidenceHigh:
			high++
		case models.ConfidenceMedium:
			medium++
		}
		methodSet[ind.method] = true
		texts = append(texts, ind.desc)
	}

	confidence := models.ConfidenceLow
	switch {
	case high >= 2 || (high >= 1 && authContext):
		confidence = models.ConfidenceHigh
	case high >= 1 || (medium >= 2 && authContext):
		confidence = models.ConfidenceMedium
	}

	methods := make([]models.PasskeyDetectionMethod, 0, len(methodSet))
	for _, m := range []models.PasskeyDetectionMethod{models.MethodEnterprise, models.MethodUI, models.MethodJS, models.MethodKeyword} {
		if methodSet[m] {
			methods = append(methods, m)
		}
	}
	return confidence, methods, texts
}
