package idp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BetterCallFirewall/authlandscape/internal/browser"
	"github.com/BetterCallFirewall/authlandscape/internal/locators"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// socialLinkPatterns are anchor/element shapes that commonly carry IdP
// keywords without being a sign-in affordance (footer "follow us on
// Google+" links, share buttons). A KEYWORD match against one of these is
// rejected unless sign-in context is also present (§4.4 false-positive
// filter).
var socialLinkPatterns = []string{"follow", "share", "subscribe", "rate us"}

// signinContextPhrases boosts an otherwise-ambiguous keyword match back
// into consideration when found near the matched element's text.
var signinContextPhrases = []string{"sign in", "log in", "continue with", "connect with"}

// Interceptor abstracts the live-browser click-and-observe step (§4.4 step
// 4) so the detection algorithm can be exercised with a fake in tests.
type Interceptor struct {
	// ClickAndCapture clicks the given element and returns the first
	// navigation/XHR request observed within the click window, or nil if
	// the click neither navigated nor opened a popup.
	ClickAndCapture func(ctx context.Context, el locators.Element) (*models.CapturedRequest, error)
}

// Detector runs the per-candidate x per-IdP recognition loop.
type Detector struct {
	Rulesets    []models.IdPRuleset
	Recognition models.RecognitionConfig
	Keyword     models.KeywordRecognitionConfig
	Logo        models.LogoRecognitionConfig
	Interceptor Interceptor
}

// DetectOnPage runs every configured recognition strategy, in scope order,
// for a single IdP against the page currently loaded in browserCtx, and
// returns at most one detection: the first strategy to find a qualifying,
// non-false-positive element (§4.4 steps 1-3).
func (d *Detector) DetectOnPage(ctx context.Context, browserCtx *browser.Context, ruleset models.IdPRuleset, loginPageURL string) (*models.IdentityProviderDetection, error) {
	for _, strategy := range d.Recognition.StrategyScope {
		var elements []locators.Element
		var err error

		switch strategy {
		case models.RecognitionKeywordCSS:
			elements, err = d.locateKeywordCSS(browserCtx, ruleset)
		case models.RecognitionKeywordXPath:
			elements, err = d.locateKeywordXPath(browserCtx, ruleset)
		case models.RecognitionKeywordAccessibility:
			elements, err = locators.LocateAccessibility(browserCtx, ruleset.Keywords)
		case models.RecognitionLogo:
			elements, err = d.locateLogo(browserCtx, ruleset)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, el := range elements {
			if isFalsePositive(el) {
				continue
			}

			detection := &models.IdentityProviderDetection{
				IdPName:             ruleset.Name,
				LoginPageURL:        loginPageURL,
				ElementCoordinates:  models.ElementCoordinates{X: el.X, Y: el.Y, Width: el.Width, Height: el.Height},
				ElementInnerText:    el.InnerText,
				ElementOuterHTML:    el.OuterHTML,
				ElementTree:         el.ElementTree,
				RecognitionStrategy: strategy,
			}
			if strategy == models.RecognitionLogo {
				detection.IdPFrame = models.FrameTopmost
				return detection, nil
			}

			if err := d.classify(ctx, browserCtx, el, ruleset, detection); err != nil {
				return nil, err
			}
			return detection, nil
		}
	}
	return nil, nil
}

func (d *Detector) locateKeywordCSS(browserCtx *browser.Context, ruleset models.IdPRuleset) ([]locators.Element, error) {
	query := locators.BuildCSSQuery(ruleset.Keywords, d.Keyword.Keywords)
	return locators.LocateCSS(browserCtx, query)
}

func (d *Detector) locateKeywordXPath(browserCtx *browser.Context, ruleset models.IdPRuleset) ([]locators.Element, error) {
	expr := locators.BuildXPathQuery(ruleset.Keywords, d.Keyword.XPath, false)
	return locators.LocateXPath(browserCtx, expr)
}

func (d *Detector) locateLogo(browserCtx *browser.Context, ruleset models.IdPRuleset) ([]locators.Element, error) {
	screenshot, err := browserCtx.ScreenshotRaw()
	if err != nil {
		return nil, err
	}
	template, err := loadLogo(ruleset.LogoDir)
	if err != nil || template == nil {
		return nil, err
	}
	matches, err := locators.MatchTemplate(screenshot, template, d.Logo)
	if err != nil {
		return nil, err
	}
	out := make([]locators.Element, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Element)
	}
	return out, nil
}

// logoFile is the reference template filename expected inside a ruleset's
// LogoDir, matched against the page screenshot by the LOGO strategy.
const logoFile = "logo.png"

// loadLogo reads logoDir's reference template from disk. Declared as a var
// so it can be overridden in tests without filesystem access. A ruleset
// with no LogoDir configured, or no template present yet, yields (nil, nil)
// so locateLogo treats LOGO as simply not applicable rather than an error.
var loadLogo = func(logoDir string) ([]byte, error) {
	if logoDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(logoDir, logoFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idp: read logo template for %s: %w", logoDir, err)
	}
	return data, nil
}

// isFalsePositive rejects elements whose matched text looks like a social
// link/share affordance unless accompanied by sign-in context (§4.4 false
// positive filter).
func isFalsePositive(el locators.Element) bool {
	text := strings.ToLower(el.InnerText + " " + el.OuterHTML)
	social := containsAnyOf(text, socialLinkPatterns)
	if !social {
		return false
	}
	return !containsAnyOf(text, signinContextPhrases)
}

func containsAnyOf(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// classify clicks the located element, captures the navigation it
// triggers, and classifies the detection's IdPIntegration/IdPLoginRequest
// via the ruleset's LoginRequestRule and SDK rules (§4.4 step 5).
func (d *Detector) classify(ctx context.Context, browserCtx *browser.Context, el locators.Element, ruleset models.IdPRuleset, detection *models.IdentityProviderDetection) error {
	if d.Interceptor.ClickAndCapture == nil {
		detection.IdPIntegration = models.NoIntegration
		return nil
	}

	captured, err := d.Interceptor.ClickAndCapture(ctx, el)
	if err != nil {
		return err
	}
	if captured == nil {
		detection.IdPIntegration = models.NoIntegration
		return nil
	}

	detection.IdPFrame = captured.Frame
	if MatchRequest(captured.URL, ruleset.LoginRequestRule) {
		detection.IdPLoginRequest = captured
		detection.RecognitionStrategy = models.RecognitionRequest
	}

	if sdk := ClassifySDK(ruleset, captured.URL); sdk != "" {
		detection.IdPIntegration = models.IdPIntegration(sdk)
	} else {
		detection.IdPIntegration = models.CustomIntegration
	}
	return nil
}

// ScanCandidates runs detect over candidates in order, honoring the
// cross-candidate semantics a recognition mode requires (§4.4): FAST stops
// scanning the remaining candidates as soon as any IdP is recognized on any
// candidate and reports back only that candidate; NORMAL and EXTENSIVE scan every candidate, but NORMAL reports
// back only the candidates some IdP was actually recognized on, per "after
// the first pass, retain only candidates on which some IdP was recognized".
// detect is called once per candidate and must run the full per-candidate
// IdP loop (DetectOnPage over every in-scope ruleset).
func ScanCandidates(mode models.RecognitionMode, candidates []models.LoginPageCandidate, detect func(models.LoginPageCandidate) ([]models.IdentityProviderDetection, error)) ([]models.IdentityProviderDetection, []models.LoginPageCandidate, error) {
	var detections []models.IdentityProviderDetection
	var recognized []models.LoginPageCandidate

	for _, candidate := range candidates {
		found, err := detect(candidate)
		if err != nil {
			continue
		}
		if len(found) > 0 {
			detections = append(detections, found...)
			recognized = append(recognized, candidate)
			if mode == models.RecognitionFast {
				recognized = []models.LoginPageCandidate{candidate}
				break
			}
			continue
		}
		if mode != models.RecognitionNormal {
			recognized = append(recognized, candidate)
		}
	}
	return detections, recognized, nil
}
