// Package idp implements the SSO/IdP detector (§4.4, C4): recognition
// strategies, click-and-observe request interception, SDK classification,
// and the FAST/NORMAL/EXTENSIVE recognition-mode semantics. Request-rule
// matching is grounded in original_source's
// landscape-worker/modules/helper/url.py URLHelper.match_url/match_params.
package idp

import (
	"net/url"
	"regexp"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// MatchRequest reports whether rawURL's domain, path, and (query or
// fragment) parameters all match rule, mirroring URLHelper.match_url.
func MatchRequest(rawURL string, rule models.LoginRequestRule) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if !matchesRegex(rule.DomainRegex, u.Host) {
		return false
	}
	if !matchesRegex(rule.PathRegex, u.Path) {
		return false
	}

	if len(rule.Params) == 0 {
		return true
	}
	return matchParams(rule.Params, u.Query()) || matchParams(rule.Params, fragmentParams(u.Fragment))
}

func fragmentParams(fragment string) url.Values {
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return url.Values{}
	}
	return values
}

func matchesRegex(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// matchParams reports whether every entry in regexes finds at least one
// (name, value) pair in params whose name and value both match, mirroring
// URLHelper.match_params.
func matchParams(regexes []models.ParamRegex, params url.Values) bool {
	for _, pr := range regexes {
		nameRe, err := regexp.Compile(pr.Name)
		if err != nil {
			return false
		}
		valueRe, err := regexp.Compile(pr.Value)
		if err != nil {
			return false
		}

		matched := false
		for name, values := range params {
			if !nameRe.MatchString(name) {
				continue
			}
			for _, v := range values {
				if valueRe.MatchString(v) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// ClassifySDK returns the name of the first SDK rule in ruleset.SDKs whose
// LoginRequestRule matches capturedURL, or "" if none match, in which case
// the caller should classify the detection as CUSTOM (§4.4 step 5).
func ClassifySDK(ruleset models.IdPRuleset, capturedURL string) string {
	for _, sdk := range ruleset.SDKs {
		if MatchRequest(capturedURL, sdk.LoginRequestRule) {
			return sdk.Name
		}
	}
	return ""
}
