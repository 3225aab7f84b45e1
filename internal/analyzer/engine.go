package analyzer

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/authdetect"
	"github.com/BetterCallFirewall/authlandscape/internal/browser"
	"github.com/BetterCallFirewall/authlandscape/internal/idp"
	"github.com/BetterCallFirewall/authlandscape/internal/locators"
	"github.com/BetterCallFirewall/authlandscape/internal/loginpage"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/passkey"
	"github.com/BetterCallFirewall/authlandscape/internal/urlutil"
)

// clickWaitWindow is how long a click-and-observe click waits for a popup
// open or a same-tab navigation before concluding neither happened
// (§4.3 CRAWLING kind (b), §4.4 steps 3-5).
const clickWaitWindow = 3 * time.Second

// BrowserEngine is the production Engine: a single browser.Context driving
// navigation for every stage, backed by C3-C6's packages. One BrowserEngine
// is created per task so its browser profile is never shared across
// domains (§4.1/§5).
type BrowserEngine struct {
	Browser  *browser.Context
	HTTP     *http.Client
	Rulesets []models.IdPRuleset
}

func (e *BrowserEngine) Resolve(ctx context.Context, domain string) (models.ResolveResult, error) {
	finalURL, err := e.Browser.Navigate(ctx, "https://"+domain)
	if err != nil {
		return models.ResolveResult{Reachable: false, Domain: domain, ErrorMsg: err.Error()}, nil
	}
	return models.ResolveResult{Reachable: true, Domain: domain, URL: finalURL}, nil
}

func (e *BrowserEngine) DiscoverLoginPages(ctx context.Context, resolved models.ResolveResult, cfg models.LoginPageConfig, forced []string) ([]models.LoginPageCandidate, error) {
	var candidates []models.LoginPageCandidate

	if len(forced) > 0 {
		candidates = append(candidates, loginpage.Manual(models.ManualStrategyConfig{URLs: forced}, cfg.URLRegexes)...)
		return loginpage.Finalize(candidates), nil
	}

	for _, strategy := range cfg.StrategyScope {
		switch strategy {
		case models.StrategyHomepage:
			candidates = append(candidates, loginpage.Homepage(resolved.URL, cfg.URLRegexes))
		case models.StrategyManual:
			candidates = append(candidates, loginpage.Manual(cfg.Manual, cfg.URLRegexes)...)
		case models.StrategyPaths:
			domain := urlutil.RegistrableDomain(resolved.Domain)
			found, err := loginpage.Paths(e.HTTP, domain, cfg.Paths, cfg.URLRegexes)
			if err == nil {
				candidates = append(candidates, found...)
			}
		case models.StrategyCrawling:
			clicker := &browserClicker{browser: e.Browser, homeURL: resolved.URL}
			found, err := loginpage.Crawling(ctx, clicker, resolved.URL, cfg.Crawling, cfg.URLRegexes)
			if err == nil {
				candidates = append(candidates, found...)
			}
		case models.StrategySitemap:
			found, err := loginpage.Sitemap(e.HTTP, resolved.URL, cfg.Sitemap, cfg.URLRegexes)
			if err == nil {
				candidates = append(candidates, found...)
			}
		case models.StrategyRobots:
			found, err := loginpage.Robots(e.HTTP, resolved.URL, cfg.Robots, cfg.URLRegexes)
			if err == nil {
				candidates = append(candidates, found...)
			}
		case models.StrategyMetasearch:
			querier := loginpage.NewSearxQuerier(e.HTTP, cfg.Metasearch.Endpoint)
			found, err := loginpage.Metasearch(ctx, querier, resolved.URL, cfg.Metasearch, cfg.URLRegexes)
			if err == nil {
				candidates = append(candidates, found...)
			}
		}
	}
	return loginpage.Finalize(candidates), nil
}

// AnalyzeAuth navigates to candidate and runs C5/C6's password, MFA, and
// passkey detectors against it (§4.7 stage 3). The returned ResolveResult
// is what the orchestrator records onto the candidate so later stages know
// whether it was ever actually reached.
func (e *BrowserEngine) AnalyzeAuth(ctx context.Context, candidate models.LoginPageCandidate) (models.ResolveResult, models.PasswordDetection, models.MFADetection, models.PasskeyDetection, error) {
	finalURL, err := e.Browser.Navigate(ctx, candidate.URL)
	if err != nil {
		resolved := models.ResolveResult{Reachable: false, URL: candidate.URL, ErrorMsg: err.Error()}
		return resolved, models.PasswordDetection{}, models.MFADetection{}, models.PasskeyDetection{}, err
	}
	resolved := models.ResolveResult{Reachable: true, URL: finalURL}

	pw, err := authdetect.DetectPasswordForm(e.Browser, candidate.URL)
	if err != nil {
		return resolved, models.PasswordDetection{}, models.MFADetection{}, models.PasskeyDetection{}, err
	}
	mfa, err := authdetect.DetectMFA(e.Browser, candidate.URL)
	if err != nil {
		return resolved, pw, models.MFADetection{}, models.PasskeyDetection{}, err
	}
	host := candidate.URL
	if u, err := url.Parse(candidate.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	pk, err := passkey.Detect(e.Browser, candidate.URL, host)
	if err != nil {
		return resolved, pw, mfa, models.PasskeyDetection{}, err
	}
	if pk.Detected {
		if impl, err := passkey.Capture(e.Browser, passkey.DefaultTriggers()); err == nil {
			pk.Implementation = impl
		}
	}
	return resolved, pw, mfa, pk, nil
}

func (e *BrowserEngine) DetectIdPs(ctx context.Context, candidate models.LoginPageCandidate, idpScope []string, recognition models.RecognitionConfig) ([]models.IdentityProviderDetection, error) {
	if _, err := e.Browser.Navigate(ctx, candidate.URL); err != nil {
		return nil, err
	}

	detector := &idp.Detector{
		Rulesets:    scopedRulesets(e.Rulesets, idpScope),
		Recognition: recognition,
		Interceptor: idp.Interceptor{ClickAndCapture: e.clickAndCapture(candidate.URL)},
	}
	var out []models.IdentityProviderDetection
	for _, ruleset := range detector.Rulesets {
		detection, err := detector.DetectOnPage(ctx, e.Browser, ruleset, candidate.URL)
		if err != nil || detection == nil {
			continue
		}
		out = append(out, *detection)
	}
	return out, nil
}

// clickAndCapture builds the IdP detector's live click-and-observe step
// (§4.4 steps 3-5): click the element's bounding-box center, observe whether
// it opened a popup or navigated the tab, and report the first request
// captured during that window along with which kind of frame it landed in.
// It returns nil when the click neither navigated nor opened a popup, even
// if a request was captured. restoreURL
// is the candidate's login page, navigated back to after a same-tab
// navigation so the next ruleset's detection runs against a clean page.
func (e *BrowserEngine) clickAndCapture(restoreURL string) func(ctx context.Context, el locators.Element) (*models.CapturedRequest, error) {
	return func(ctx context.Context, el locators.Element) (*models.CapturedRequest, error) {
		var captured *models.CapturedRequest
		e.Browser.NetworkEvents(func(url, method string) {
			if captured == nil {
				captured = &models.CapturedRequest{URL: url, Method: method}
			}
		})

		result, err := e.Browser.ClickAndObserve(ctx, el.X+el.Width/2, el.Y+el.Height/2, clickWaitWindow)
		if err != nil {
			return nil, err
		}

		switch {
		case result.PopupOpened:
			if captured == nil {
				captured = &models.CapturedRequest{URL: result.PopupURL}
			}
			captured.Frame = models.FramePopup
		case result.NavigatedURL != "":
			if captured == nil {
				captured = &models.CapturedRequest{URL: result.NavigatedURL}
			}
			captured.Frame = models.FrameTopmost
			if err := e.Browser.Restore(ctx, restoreURL); err != nil {
				return nil, err
			}
		default:
			return nil, nil
		}
		return captured, nil
	}
}

func (e *BrowserEngine) ProbeMetadata(ctx context.Context, origin string) (map[models.WellKnownEndpoint]bool, map[models.WellKnownEndpoint]any, error) {
	available, data := ProbeMetadata(e.HTTP, origin)
	return available, data, nil
}

// ProbeWildcardReceiver sends a marked postMessage to the already-navigated
// page and reports whether any listener picked it up, per §9 supplemented
// feature 2/3. Since CDP can't forge a cross-origin sender, the marker
// payload itself stands in for "a message from an unchecked origin" — a
// listener that processes it without an event.origin check is indicated by
// the marker reappearing in the page's own capture buffer.
func (e *BrowserEngine) ProbeWildcardReceiver(ctx context.Context, pageURL string) (*models.WildcardReceiverDetection, error) {
	const marker = `{"__authlandscape_probe":"wildcard-receiver"}`
	if err := e.Browser.PostMessage(marker); err != nil {
		return nil, err
	}

	broadcasts, err := e.Browser.CapturedBroadcasts()
	if err != nil {
		return nil, err
	}

	detection := &models.WildcardReceiverDetection{
		Origin:       urlutil.RegistrableDomain(pageURL),
		ProbePayload: marker,
	}
	for _, b := range broadcasts {
		detection.ObservedKinds = append(detection.ObservedKinds, b.Kind)
		if b.Data == marker {
			detection.AcceptsWildcard = true
		}
	}
	return detection, nil
}

func scopedRulesets(all []models.IdPRuleset, scope []string) []models.IdPRuleset {
	if len(scope) == 0 {
		return all
	}
	allowed := make(map[string]bool, len(scope))
	for _, name := range scope {
		allowed[name] = true
	}
	var out []models.IdPRuleset
	for _, r := range all {
		if allowed[r.Name] {
			out = append(out, r)
		}
	}
	return out
}

// browserClicker adapts browser.Context to loginpage.Clicker for the
// CRAWLING strategy.
type browserClicker struct {
	browser *browser.Context
	homeURL string
}

func (b *browserClicker) Anchors(ctx context.Context) ([]string, error) {
	var hrefs []string
	err := b.browser.Evaluate(`() => Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`, &hrefs)
	return hrefs, err
}

// genericClickAttrPatterns matches keywords directly against an element's
// attributes rather than substituting them into a wrapping phrase, since
// CRAWLING's generic_keywords (e.g. "sign in", "log in") are themselves the
// full text to look for (§4.3 kind (b)).
var genericClickAttrPatterns = []string{"%s"}

// ClickAndObserve clicks up to maxClicks elements matching keywords and
// reports the URL each click navigated to or opened in a popup (§4.3
// CRAWLING kind (b)). A same-tab navigation restores the homepage before
// the next click so every click starts from the same page.
func (b *browserClicker) ClickAndObserve(ctx context.Context, keywords []string, maxClicks int) ([]string, error) {
	query := locators.BuildCSSQuery(keywords, genericClickAttrPatterns)
	elements, err := locators.LocateCSS(b.browser, query)
	if err != nil {
		return nil, err
	}
	if len(elements) > maxClicks {
		elements = elements[:maxClicks]
	}

	var out []string
	for _, el := range elements {
		result, err := b.browser.ClickAndObserve(ctx, el.X+el.Width/2, el.Y+el.Height/2, clickWaitWindow)
		if err != nil {
			continue
		}
		switch {
		case result.PopupOpened:
			out = append(out, result.PopupURL)
		case result.NavigatedURL != "":
			out = append(out, result.NavigatedURL)
			b.browser.Restore(ctx, b.homeURL)
		}
	}
	return out, nil
}
