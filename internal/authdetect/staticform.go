package authdetect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// DetectPasswordFormStatic runs the §4.6 password-form heuristic over a
// static HTML body instead of a live page, for candidates the PATHS
// discovery strategy (§4.3) already fetched over plain HTTP before any
// browser session opened them. Grounded in the teacher's
// internal/utils/form_extractor.go goquery usage, adapted from whole-form
// extraction to the same username/password field counting
// DetectPasswordForm applies against a rendered DOM, so a candidate can
// carry a password-form signal even when the browser stage never visits it
// (§4.3 "Paths" only confirms reachability, not content).
func DetectPasswordFormStatic(html, loginPageURL string) models.PasswordDetection {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.PasswordDetection{LoginPageURL: loginPageURL}
	}

	usernameCount := doc.Find(usernameSelector).Length()
	passwordCount := doc.Find(`input[type="password"]`).Length()
	hasSubmit := doc.Find(`button[type="submit"], input[type="submit"]`).Length() > 0

	if usernameCount == 0 || passwordCount == 0 {
		return models.PasswordDetection{LoginPageURL: loginPageURL}
	}

	confidence := models.ConfidenceMedium
	if usernameCount == 1 && passwordCount == 1 {
		confidence = models.ConfidenceHigh
	}

	return models.PasswordDetection{
		LoginPageURL: loginPageURL,
		Detected:     true,
		HasUsername:  true,
		HasPassword:  true,
		HasSubmit:    hasSubmit,
		Confidence:   confidence,
	}
}

const usernameSelector = `input[type="text"][name*="user" i], input[type="text"][name*="email" i], input[type="email"], input[type="text"][placeholder*="email" i]`
