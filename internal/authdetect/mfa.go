package authdetect

import (
	"strings"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// negativeIndicators are contexts where an OTP-like input is likely not
// MFA (password reset, registration, payment forms), requiring stronger
// corroboration before a detection fires (§4.6).
var negativeIndicators = []string{
	"password", "sign up", "register", "create account", "passkey",
	"reset password", "zip code", "postal code", "credit card", "pin",
	"ssn", "social security",
}

var strongMFAContextPhrases = []string{
	"two-factor authentication", "2-factor authentication", "multi-factor authentication",
	"two-step verification", "2-step verification", "additional security step",
	"verify your identity", "authentication code",
	"we sent a code to your", "enter the code we sent", "verification code sent",
	"check your phone for a code", "check your email for a code", "use your authenticator app",
}

var highConfidenceMFAText = map[models.MFAType][]string{
	models.MFATOTP: {
		"authenticator app code", "google authenticator code", "microsoft authenticator code",
		"authy code", "totp code", "use your authenticator app", "open your authenticator app",
	},
	models.MFASMS: {
		"verification code via sms", "verification code by text", "code sent to your phone",
		"text message with a code", "sms verification code", "code sent to phone number",
		"we've sent a text to",
	},
	models.MFAEmail: {
		"verification code via email", "code sent to your email", "check your inbox for a code",
		"we've sent a code to your email", "email verification code",
	},
}

var mediumConfidenceMFAText = map[models.MFAType][]string{
	models.MFATOTP:  {"authenticator", "google authenticator", "microsoft authenticator", "authy", "totp"},
	models.MFASMS:   {"sms code", "text message code", "via text message"},
	models.MFAEmail: {"email code", "sent to your email", "check your inbox"},
}

var verificationContextPhrases = []string{
	"enter the code", "verification code", "security code", "one-time code",
	"2fa code", "two-factor", "verify your identity",
}

const mfaPageScanScript = `() => {
  const isVisible = (el) => el && el.offsetWidth > 0 && el.offsetHeight > 0;
  const highConfidenceSelectors = [
    'input[autocomplete="one-time-code"]', 'input[name="otp"]', 'input[name="verificationCode"]',
    'input[aria-label*="verification code" i]', 'input[placeholder*="verification code" i]'
  ];
  const mediumConfidenceSelectors = [
    'input[name="code"]', 'input[placeholder*="code" i][maxlength="6"]',
    'input[placeholder*="code" i][maxlength="8"]', 'input[placeholder*="code" i][maxlength="4"]'
  ];
  const count = (selectors) => selectors.reduce((n, sel) => {
    try { return n + Array.from(document.querySelectorAll(sel)).filter(isVisible).length; }
    catch (e) { return n; }
  }, 0);
  const segmented = Array.from(document.querySelectorAll('input[maxlength="1"]')).filter(isVisible);
  const yPositions = segmented.map(el => el.getBoundingClientRect().y);
  const xPositions = segmented.map(el => el.getBoundingClientRect().x).sort((a, b) => a - b);
  let sequential = xPositions.length >= 4;
  for (let i = 1; i < xPositions.length; i++) {
    if (xPositions[i] - xPositions[i - 1] > 100) { sequential = false; break; }
  }
  const rowAligned = yPositions.length > 0 && (Math.max(...yPositions) - Math.min(...yPositions) < 10);
  return {
    pageText: (document.body ? document.body.innerText : '').toLowerCase(),
    highConfidenceOTP: count(highConfidenceSelectors) > 0,
    mediumConfidenceOTP: count(mediumConfidenceSelectors) > 0,
    segmentedRowCount: segmented.length,
    segmentedIsRow: rowAligned && sequential
  };
}`

type mfaPageScan struct {
	PageText            string `json:"pageText"`
	HighConfidenceOTP    bool   `json:"highConfidenceOTP"`
	MediumConfidenceOTP  bool   `json:"mediumConfidenceOTP"`
	SegmentedRowCount    int    `json:"segmentedRowCount"`
	SegmentedIsRow       bool   `json:"segmentedIsRow"`
}

// DetectMFA runs the §4.6 MFA heuristic: strong context phrases,
// OTP-field shape, and text indicators each contribute a signal; when
// negative indicators (password reset, signup, payment forms, etc.) are
// also present, two corroborating signals are required instead of one.
func DetectMFA(ev Evaluator, loginPageURL string) (models.MFADetection, error) {
	var scan mfaPageScan
	if err := ev.Evaluate(mfaPageScanScript, &scan); err != nil {
		return models.MFADetection{}, err
	}

	requiredSignals := 1
	if containsAny(scan.PageText, negativeIndicators) {
		requiredSignals = 2
	}

	strongContext := containsAny(scan.PageText, strongMFAContextPhrases)
	signals := 0
	var mfaType models.MFAType
	var indicators []string

	if strongContext {
		signals++
		indicators = append(indicators, "strong MFA context phrase")
	}

	if scan.HighConfidenceOTP || (scan.MediumConfidenceOTP && strongContext) {
		signals++
		mfaType = determineMFAType(scan.PageText)
		indicators = append(indicators, "OTP input field")
	}

	if signals < requiredSignals {
		if found, textType := detectMFAText(scan.PageText); found {
			signals++
			if mfaType == "" {
				mfaType = textType
			}
			indicators = append(indicators, "MFA keyword text")
		}
	}

	if signals < requiredSignals && strongContext && scan.SegmentedRowCount >= 4 && scan.SegmentedIsRow {
		signals++
		if mfaType == "" {
			mfaType = models.MFAQR
		}
		indicators = append(indicators, "segmented OTP input row")
	}

	if signals < requiredSignals {
		return models.MFADetection{LoginPageURL: loginPageURL, Detected: false}, nil
	}

	confidence := models.ConfidenceMedium
	if signals > 1 {
		confidence = models.ConfidenceHigh
	}
	if mfaType == "" {
		mfaType = models.MFACustom
	}

	return models.MFADetection{
		LoginPageURL: loginPageURL,
		Detected:     true,
		MFAType:      mfaType,
		Confidence:   confidence,
		Indicators:   indicators,
	}, nil
}

func detectMFAText(pageText string) (bool, models.MFAType) {
	for mfaType, phrases := range highConfidenceMFAText {
		if containsAny(pageText, phrases) {
			return true, mfaType
		}
	}
	if !containsAny(pageText, verificationContextPhrases) {
		return false, ""
	}
	for mfaType, phrases := range mediumConfidenceMFAText {
		if containsAny(pageText, phrases) {
			return true, mfaType
		}
	}
	return false, ""
}

func determineMFAType(pageText string) models.MFAType {
	switch {
	case containsAny(pageText, []string{"authenticator app", "google authenticator", "microsoft authenticator", "authy", "totp"}):
		return models.MFATOTP
	case containsAny(pageText, []string{"sent to your phone", "text message with a code", "sms verification code", "mobile number"}):
		return models.MFASMS
	case containsAny(pageText, []string{"sent to your email", "check your inbox", "check your email for a code"}):
		return models.MFAEmail
	case containsAny(pageText, []string{"scan qr code", "scan this code", "scan with authenticator"}):
		return models.MFAQR
	default:
		return models.MFACustom
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
