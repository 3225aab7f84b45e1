// Package browser drives headless browser sessions over the Chrome
// DevTools Protocol (§4.1, C1). It is the one package in this module built
// on a dependency absent from the retrieval pack: chromedp/chromedp and
// chromedp/cdproto are the idiomatic, ecosystem-standard Go CDP client —
// nothing in the pack offers browser automation, so this is a deliberate,
// disclosed exception (see DESIGN.md).
package browser

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/webauthn"
	"github.com/chromedp/chromedp"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// FailureKind classifies why a navigation did not succeed (§4.1).
type FailureKind string

const (
	FailureTimeout            FailureKind = "Timeout"
	FailureDNS                FailureKind = "DNS"
	FailureReset              FailureKind = "Reset"
	FailurePageCrash          FailureKind = "PageCrash"
	FailureEmptyResponse      FailureKind = "EmptyResponse"
	FailureAddressUnreachable FailureKind = "AddressUnreachable"
	FailureOther              FailureKind = "Other"
)

// NavigationFailure carries a typed failure reason plus the underlying
// status code, when one was returned.
type NavigationFailure struct {
	Kind       FailureKind
	StatusCode int
	Detail     string
}

func (f NavigationFailure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("browser: %s (status %d): %s", f.Kind, f.StatusCode, f.Detail)
	}
	return fmt.Sprintf("browser: %s: %s", f.Kind, f.Detail)
}

// webauthnCaptureScript wraps navigator.credentials.create/get to record
// their arguments into window.__webauthn_capture. It must be installed via
// Context.AddInitScript before navigation so it runs in every document
// (§4.1).
const webauthnCaptureScript = `
(function() {
  if (!window.navigator.credentials) { return; }
  window.__webauthn_capture = window.__webauthn_capture || [];
  function encode(value) {
    if (value instanceof ArrayBuffer) {
      return btoa(String.fromCharCode.apply(null, new Uint8Array(value)));
    }
    return value;
  }
  function wrap(name) {
    var original = window.navigator.credentials[name];
    if (!original) { return; }
    window.navigator.credentials[name] = function(options) {
      try {
        window.__webauthn_capture.push({method: name, options: JSON.parse(JSON.stringify(options, function(k, v) { return encode(v); }))});
      } catch (e) {}
      return original.call(window.navigator.credentials, options);
    };
  }
  wrap('create');
  wrap('get');
})();
`

// inbcCaptureScript buffers window.postMessage and BroadcastChannel traffic
// into window.__inbc_capture, the way webauthnCaptureScript buffers WebAuthn
// calls, feeding the wildcard-receiver analyzer's cross-origin-acceptance
// probe (§9 supplemented feature 3, grounded in original_source's
// landscape-worker/modules/helper/url.py parse_inbc).
const inbcCaptureScript = `
(function() {
  window.__inbc_capture = window.__inbc_capture || [];
  window.addEventListener('message', function(ev) {
    try {
      window.__inbc_capture.push({kind: 'postMessage', origin: ev.origin, data: JSON.stringify(ev.data)});
    } catch (e) {}
  });
  var OriginalBC = window.BroadcastChannel;
  if (OriginalBC) {
    window.BroadcastChannel = function(name) {
      var bc = new OriginalBC(name);
      bc.addEventListener('message', function(ev) {
        try {
          window.__inbc_capture.push({kind: 'broadcastChannel', channel: name, data: JSON.stringify(ev.data)});
        } catch (e) {}
      });
      return bc;
    };
    window.BroadcastChannel.prototype = OriginalBC.prototype;
  }
})();
`

// InboundBroadcast is one captured postMessage or BroadcastChannel delivery
// (§9 supplemented feature 3).
type InboundBroadcast struct {
	Kind    string `json:"kind"`
	Origin  string `json:"origin,omitempty"`
	Channel string `json:"channel,omitempty"`
	Data    string `json:"data"`
}

// CapturedBroadcasts returns the contents of window.__inbc_capture without
// clearing it, used by the
// wildcard-receiver analyzer to check whether the page accepted a
// same-origin-unchecked message (§9).
func (c *Context) CapturedBroadcasts() ([]InboundBroadcast, error) {
	var out []InboundBroadcast
	if err := c.Evaluate(`() => window.__inbc_capture || []`, &out); err != nil {
		return nil, fmt.Errorf("browser: read captured broadcasts: %w", err)
	}
	return out, nil
}

// PostMessage posts data to the current page's window with target origin
// '*', standing in for an arbitrary cross-origin sender for the wildcard-receiver
// probe (§9). Since CDP cannot truly forge postMessage's origin, this runs
// in-page via window.postMessage against the target window itself, which is
// sufficient to observe whether any installed "message" listener processes
// payloads without checking event.origin.
func (c *Context) PostMessage(data string) error {
	script := fmt.Sprintf(`() => { window.postMessage(%s, '*'); }`, data)
	var discard any
	return c.Evaluate(script, &discard)
}

// Context wraps one isolated browser profile/session (§4.1 "open(cfg) →
// (Context, Page)"). Every Context owns its own chromedp allocator so
// profiles never share cookies unless explicitly restored.
type Context struct {
	allocCtx   context.Context
	allocStop  context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	profileDir string
	cfg        models.BrowserConfig
}

// Open launches a browser per cfg and returns a scoped Context. The caller
// must call Close on every exit path; Close removes the profile directory.
func Open(ctx context.Context, cfg models.BrowserConfig) (*Context, error) {
	profileDir, err := os.MkdirTemp("", "authlandscape-profile-*")
	if err != nil {
		return nil, fmt.Errorf("browser: create profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.Width, cfg.Height),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.Flag("lang", cfg.Locale),
		chromedp.IgnoreCertErrors,
	)

	allocCtx, allocStop := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocStop()
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("browser: start: %w", err)
	}

	bc := &Context{
		allocCtx:   allocCtx,
		allocStop:  allocStop,
		ctx:        browserCtx,
		cancel:     cancel,
		profileDir: profileDir,
		cfg:        cfg,
	}

	if err := bc.addWebAuthnCaptureScript(); err != nil {
		bc.Close()
		return nil, err
	}
	if err := bc.addInbcCaptureScript(); err != nil {
		bc.Close()
		return nil, err
	}
	for _, script := range cfg.Scripts {
		if err := chromedp.Run(bc.ctx, page.AddScriptToEvaluateOnNewDocument(script)); err != nil {
			bc.Close()
			return nil, fmt.Errorf("browser: add init script: %w", err)
		}
	}

	return bc, nil
}

func (c *Context) addWebAuthnCaptureScript() error {
	if err := chromedp.Run(c.ctx, page.AddScriptToEvaluateOnNewDocument(webauthnCaptureScript)); err != nil {
		return fmt.Errorf("browser: add webauthn capture script: %w", err)
	}
	return nil
}

func (c *Context) addInbcCaptureScript() error {
	if err := chromedp.Run(c.ctx, page.AddScriptToEvaluateOnNewDocument(inbcCaptureScript)); err != nil {
		return fmt.Errorf("browser: add in-browser-communication capture script: %w", err)
	}
	return nil
}

// Close releases the browser and deletes its profile directory. Safe to
// call more than once.
func (c *Context) Close() {
	c.cancel()
	c.allocStop()
	os.RemoveAll(c.profileDir)
}

// Run executes chromedp actions against this context's page.
func (c *Context) Run(ctx context.Context, actions ...chromedp.Action) error {
	return chromedp.Run(c.ctx, actions...)
}

// Navigate performs the HTTPS-then-HTTP fallback navigation described in
// §4.1: navigation must not fail on TLS errors, and only reports
// unreachable if both schemes fail. On success it returns the URL the page
// ended on after redirects (the requested URL if that cannot be read).
func (c *Context) Navigate(ctx context.Context, rawURL string) (finalURL string, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", NavigationFailure{Kind: FailureOther, Detail: parseErr.Error()}
	}

	candidates := []string{rawURL}
	if u.Scheme == "" {
		httpsURL := *u
		httpsURL.Scheme = "https"
		httpURL := *u
		httpURL.Scheme = "http"
		candidates = []string{httpsURL.String(), httpURL.String()}
	} else if u.Scheme == "https" {
		httpURL := *u
		httpURL.Scheme = "http"
		candidates = []string{u.String(), httpURL.String()}
	}

	var lastErr error
	for _, candidate := range candidates {
		navCtx, cancel := context.WithTimeout(c.ctx, c.navigationTimeout())
		err := chromedp.Run(navCtx, chromedp.Navigate(candidate))
		cancel()
		if err == nil {
			c.WaitForLoad(ctx)
			var landed string
			if chromedp.Run(c.ctx, chromedp.Location(&landed)) == nil && landed != "" {
				return landed, nil
			}
			return candidate, nil
		}
		lastErr = err
	}

	return "", classifyNavigationError(lastErr)
}

func (c *Context) navigationTimeout() time.Duration {
	if c.cfg.TimeoutNavigation > 0 {
		return time.Duration(c.cfg.TimeoutNavigation) * time.Second
	}
	return 30 * time.Second
}

func classifyNavigationError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case context.DeadlineExceeded == err:
		return NavigationFailure{Kind: FailureTimeout, Detail: err.Error()}
	default:
		return NavigationFailure{Kind: FailureOther, Detail: err.Error()}
	}
}

// WaitForLoad performs the onload sleep, then, when WaitForNetworkIdle is
// set, waits up to TimeoutNetworkIdle for the document body to be ready and
// adds a bounded tail sleep (§4.1). In-flight network requests are not
// tracked; the wait ends as soon as the body is ready.
func (c *Context) WaitForLoad(ctx context.Context) {
	c.Sleep(onloadSleep(c.cfg))
	if c.cfg.WaitForNetworkIdle {
		c.waitNetworkIdle()
		c.Sleep(networkIdleTailSleep(c.cfg))
	}
}

func onloadSleep(cfg models.BrowserConfig) time.Duration {
	if cfg.SleepAfterOnload > 0 {
		return time.Duration(cfg.SleepAfterOnload*1000) * time.Millisecond
	}
	return 5 * time.Second
}

func networkIdleTailSleep(cfg models.BrowserConfig) time.Duration {
	if cfg.SleepAfterNetworkIdle > 0 {
		return time.Duration(cfg.SleepAfterNetworkIdle*1000) * time.Millisecond
	}
	return 2 * time.Second
}

func (c *Context) waitNetworkIdle() {
	timeout := 10 * time.Second
	if c.cfg.TimeoutNetworkIdle > 0 {
		timeout = time.Duration(c.cfg.TimeoutNetworkIdle) * time.Second
	}
	idleCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	chromedp.Run(idleCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.WaitReady("body").Do(ctx)
	}))
}

// Sleep blocks for d without doing I/O, used between onload and
// network-idle waits.
func (c *Context) Sleep(d time.Duration) {
	chromedp.Run(c.ctx, chromedp.Sleep(d))
}

// Reload reloads the current page and re-runs WaitForLoad.
func (c *Context) Reload(ctx context.Context) error {
	if err := chromedp.Run(c.ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	c.WaitForLoad(ctx)
	return nil
}

// Restore navigates back to url, used to return a page to its pre-click
// state after an IdP click-and-observe probe (§4.4).
func (c *Context) Restore(ctx context.Context, url string) error {
	_, err := c.Navigate(ctx, url)
	return err
}

// SetAboutBlank navigates to about:blank, used to neutralize a page before
// closing or reusing a context.
func (c *Context) SetAboutBlank() error {
	return chromedp.Run(c.ctx, chromedp.Navigate("about:blank"))
}

// ContentAnalyzable reports whether the current document is suitable for
// detection: not about:blank and HTML-ish content-type (§4.1).
func (c *Context) ContentAnalyzable() (bool, string) {
	var currentURL, contentType string
	err := chromedp.Run(c.ctx,
		chromedp.Location(&currentURL),
		chromedp.Evaluate(`document.contentType`, &contentType),
	)
	if err != nil {
		return false, fmt.Sprintf("evaluate failed: %v", err)
	}
	if currentURL == "about:blank" {
		return false, "about:blank"
	}
	if contentType != "" && contentType != "text/html" && contentType != "application/xhtml+xml" {
		return false, fmt.Sprintf("non-html content-type %q", contentType)
	}
	return true, ""
}

// Screenshot captures the visible viewport and returns base64(zlib(png))
// per §4.1's wire convention.
func (c *Context) Screenshot() (string, error) {
	var raw []byte
	if err := chromedp.Run(c.ctx, chromedp.CaptureScreenshot(&raw)); err != nil {
		return "", fmt.Errorf("browser: screenshot: %w", err)
	}
	return compressBase64(raw), nil
}

// ScreenshotRaw returns the raw PNG bytes, used by the logo locator, which
// needs pixels rather than the wire-encoded form.
func (c *Context) ScreenshotRaw() ([]byte, error) {
	var raw []byte
	if err := chromedp.Run(c.ctx, chromedp.CaptureScreenshot(&raw)); err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return raw, nil
}

func compressBase64(raw []byte) string {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(raw)
	w.Close()
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// EnableWebAuthn turns on the CDP WebAuthn domain for this page, a
// prerequisite for AddVirtualAuthenticator (§4.1).
func (c *Context) EnableWebAuthn() error {
	if err := chromedp.Run(c.ctx, webauthn.Enable()); err != nil {
		return fmt.Errorf("browser: enable webauthn: %w", err)
	}
	return nil
}

// AddVirtualAuthenticator registers a CDP virtual authenticator configured
// per §4.1/§4.5 (ctap2, internal transport, resident-key + user-verification
// support, automatic presence and consent simulation) and returns its id.
func (c *Context) AddVirtualAuthenticator() (string, error) {
	var authenticatorID webauthn.AuthenticatorID
	options := &webauthn.VirtualAuthenticatorOptions{
		Protocol:                    webauthn.AuthenticatorProtocolCtap2,
		Transport:                   webauthn.AuthenticatorTransportInternal,
		HasResidentKey:              true,
		HasUserVerification:         true,
		IsUserVerified:              true,
		AutomaticPresenceSimulation: true,
	}
	err := chromedp.Run(c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := webauthn.AddVirtualAuthenticator(options).Do(ctx)
		if err != nil {
			return err
		}
		authenticatorID = id
		return nil
	}))
	if err != nil {
		return "", fmt.Errorf("browser: add virtual authenticator: %w", err)
	}
	return string(authenticatorID), nil
}

// GetCredentials returns every credential registered on the virtual
// authenticator identified by authenticatorID (§4.1).
func (c *Context) GetCredentials(authenticatorID string) ([]*webauthn.Credential, error) {
	var creds []*webauthn.Credential
	err := chromedp.Run(c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		result, err := webauthn.GetCredentials(webauthn.AuthenticatorID(authenticatorID)).Do(ctx)
		if err != nil {
			return err
		}
		creds = result
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: get credentials: %w", err)
	}
	return creds, nil
}

// NetworkEvents subscribes to CDP Network domain events for the lifetime of
// the context, invoking onRequest for every outgoing request. Used by the
// IdP click-and-observe interceptor (§4.4).
func (c *Context) NetworkEvents(onRequest func(url, method string)) {
	chromedp.ListenTarget(c.ctx, func(ev interface{}) {
		if req, ok := ev.(*network.EventRequestWillBeSent); ok {
			onRequest(req.Request.URL, req.Request.Method)
		}
	})
}

// ClickResult is what a ClickAndObserve click produced within its wait
// window: a same-tab navigation, a popup window, or neither.
type ClickResult struct {
	NavigatedURL string
	PopupOpened  bool
	PopupURL     string
}

// ClickAndObserve clicks the page at (x, y) — the center of a located
// element's bounding box — then waits up to waitFor for a popup window
// (window.open), reporting it as soon as it opens. If no popup opens, the
// page location is read once waitFor has elapsed and reported as a
// same-tab navigation when it differs from the pre-click location (§4.3
// CRAWLING kind (b), §4.4 steps 3-5). Neither
// happening within the window is not an error; it just means the click had
// no observable navigation effect.
func (c *Context) ClickAndObserve(ctx context.Context, x, y float64, waitFor time.Duration) (*ClickResult, error) {
	var startURL string
	if err := chromedp.Run(c.ctx, chromedp.Location(&startURL)); err != nil {
		return nil, fmt.Errorf("browser: click: read start location: %w", err)
	}

	listenCtx, cancel := context.WithTimeout(c.ctx, waitFor)
	defer cancel()

	popupCh := make(chan string, 1)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if w, ok := ev.(*page.EventWindowOpen); ok {
			select {
			case popupCh <- w.URL:
			default:
			}
		}
	})

	if err := chromedp.Run(c.ctx, chromedp.MouseClickXY(x, y)); err != nil {
		return nil, fmt.Errorf("browser: click at (%.0f, %.0f): %w", x, y, err)
	}

	select {
	case popupURL := <-popupCh:
		return &ClickResult{PopupOpened: true, PopupURL: popupURL}, nil
	case <-listenCtx.Done():
		var currentURL string
		chromedp.Run(c.ctx, chromedp.Location(&currentURL))
		result := &ClickResult{}
		if currentURL != startURL {
			result.NavigatedURL = currentURL
		}
		return result, nil
	}
}

// Cookie is the subset of a browser cookie the IdP cookie store (§5) needs
// to persist and restore: enough to reconstruct a logged-in session without
// carrying every CDP-specific field.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// SetCookies installs cookies into the current browser profile before
// navigation, restoring an IdP session a prior run's cookie capture left
// behind (§5 "IdP cookie stores... loaded into a fresh context from disk").
func (c *Context) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		param := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.Expires > 0 {
			param.Expires = network.TimeSinceEpoch(ck.Expires)
		}
		params = append(params, param)
	}
	if err := chromedp.Run(c.ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

// GetCookies reads every cookie visible to the current page, so a
// successful IdP login can be written back to the cookie store (§5).
func (c *Context) GetCookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := chromedp.Run(c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		raw = cookies
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}

	out := make([]Cookie, 0, len(raw))
	for _, ck := range raw {
		out = append(out, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  float64(ck.Expires),
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		})
	}
	return out, nil
}

// Evaluate runs js and decodes the result into out.
func (c *Context) Evaluate(js string, out any) error {
	return chromedp.Run(c.ctx, chromedp.Evaluate(js, out))
}

// InnerContext exposes the underlying chromedp context for packages (C2
// locators, C4/C5 detectors) that need to run raw chromedp actions this
// wrapper doesn't expose.
func (c *Context) InnerContext() context.Context { return c.ctx }
