package models

// IdPIntegration names the SDK variant an IdP detection was classified as,
// or CUSTOM for a hand-rolled OAuth flow (§3).
type IdPIntegration string

const CustomIntegration IdPIntegration = "CUSTOM"
const NoIntegration IdPIntegration = "N/A"

// IdPFrame is where an IdP flow ran: the top-level page, a new window, or
// an embedded frame.
type IdPFrame string

const (
	FrameTopmost IdPFrame = "TOPMOST"
	FramePopup   IdPFrame = "POPUP"
	FrameIframe  IdPFrame = "IFRAME"
)

// ElementCoordinates is a page-absolute bounding box, as produced by any
// locator in internal/locators.
type ElementCoordinates struct {
	X      float64 `json:"x" bson:"x"`
	Y      float64 `json:"y" bson:"y"`
	Width  float64 `json:"width" bson:"width"`
	Height float64 `json:"height" bson:"height"`
}

// IdentityProviderDetection records one confirmed "Sign in with X"
// affordance (§3). Invariant: if RecognitionStrategy is REQUEST and
// IdPLoginRequest is non-nil, the URL matches the IdP ruleset's
// LoginRequestRule.
type IdentityProviderDetection struct {
	IdPName            string              `json:"idp_name" bson:"idp_name"`
	IdPIntegration     IdPIntegration      `json:"idp_integration" bson:"idp_integration"`
	IdPFrame           IdPFrame            `json:"idp_frame" bson:"idp_frame"`
	LoginPageURL       string              `json:"login_page_url" bson:"login_page_url"`
	ElementCoordinates ElementCoordinates  `json:"element_coordinates" bson:"element_coordinates"`
	ElementInnerText   string              `json:"element_inner_text" bson:"element_inner_text"`
	ElementOuterHTML   string              `json:"element_outer_html" bson:"element_outer_html"`
	ElementTree        []string            `json:"element_tree,omitempty" bson:"element_tree,omitempty"`
	RecognitionStrategy RecognitionStrategy `json:"recognition_strategy" bson:"recognition_strategy"`

	KeywordMatched string `json:"keyword_matched,omitempty" bson:"keyword_matched,omitempty"`
	KeywordTier    string `json:"keyword_validity_tier,omitempty" bson:"keyword_validity_tier,omitempty"`
	LogoScore      float64 `json:"logo_score,omitempty" bson:"logo_score,omitempty"`
	LogoScale      float64 `json:"logo_scale,omitempty" bson:"logo_scale,omitempty"`

	IdPLoginRequest *CapturedRequest `json:"idp_login_request,omitempty" bson:"idp_login_request,omitempty"`
	IdPScreenshot   any              `json:"idp_screenshot,omitempty" bson:"idp_screenshot,omitempty"`
	IdPHAR          any              `json:"idp_har,omitempty" bson:"idp_har,omitempty"`
}

// CapturedRequest is a navigation request intercepted during a click (§4.4
// step 4).
type CapturedRequest struct {
	URL    string   `json:"url" bson:"url"`
	Method string   `json:"method" bson:"method"`
	Frame  IdPFrame `json:"frame" bson:"frame"`
}

// LoginRequestRule matches a navigation request against an IdP's login
// endpoint (§3 IdpRuleset, grounded in original_source's
// landscape-worker/modules/helper/url.py URLHelper.match_url).
type LoginRequestRule struct {
	DomainRegex string        `json:"domain" bson:"domain" yaml:"domain"`
	PathRegex   string        `json:"path" bson:"path" yaml:"path"`
	Params      []ParamRegex  `json:"params,omitempty" bson:"params,omitempty" yaml:"params,omitempty"`
}

type ParamRegex struct {
	Name  string `json:"name" bson:"name" yaml:"name"`
	Value string `json:"value" bson:"value" yaml:"value"`
}

// SDKRule classifies a CUSTOM-looking login request as a named SDK
// integration (e.g. GOOGLE_ONE_TAP) when its request shape matches.
type SDKRule struct {
	Name             string           `json:"name" bson:"name" yaml:"name"`
	LoginRequestRule LoginRequestRule `json:"login_request_rule" bson:"login_request_rule" yaml:"login_request_rule"`
}

// IdPRuleset is one IdP's static, process-wide, read-only detection config
// (§3). Loaded at worker startup; hot-swappable via an atomic pointer.
type IdPRuleset struct {
	Name                      string             `json:"idp_name" bson:"idp_name" yaml:"idp_name"`
	Keywords                  []string           `json:"keywords" bson:"keywords" yaml:"keywords"`
	LogoDir                   string             `json:"logo_dir" bson:"logo_dir" yaml:"logo_dir"`
	LoginRequestRule          LoginRequestRule   `json:"login_request_rule" bson:"login_request_rule" yaml:"login_request_rule"`
	PassiveLoginRequestRule   *LoginRequestRule  `json:"passive_login_request_rule,omitempty" bson:"passive_login_request_rule,omitempty" yaml:"passive_login_request_rule,omitempty"`
	LoginResponseRule         *LoginRequestRule  `json:"login_response_rule,omitempty" bson:"login_response_rule,omitempty" yaml:"login_response_rule,omitempty"`
	LoginResponseOriginatorRule *LoginRequestRule `json:"login_response_originator_rule,omitempty" bson:"login_response_originator_rule,omitempty" yaml:"login_response_originator_rule,omitempty"`
	SDKs                      []SDKRule          `json:"sdks,omitempty" bson:"sdks,omitempty" yaml:"sdks,omitempty"`
}
