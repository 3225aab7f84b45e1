// Package locators implements the §4.2 element-finding strategies: CSS,
// XPath, Accessibility, and Pattern (logo) locators. Each produces a ranked
// list of absolute-coordinate element descriptors from a live page.
package locators

import (
	"fmt"
	"strings"
)

// Element is one located element, in absolute page coordinates (§4.2).
type Element struct {
	X, Y, Width, Height float64
	InnerText           string
	OuterHTML           string
	ElementTree         []string
}

// highValidityAttrs is the restricted attribute set used when substituting
// keywords into high_validity_patterns (§4.2).
var highValidityAttrs = []string{"title", "aria-label", "value", "id", "alt", "label", "name", "placeholder"}

// lowValidityAttrs extends the high-validity set for raw-keyword matching.
var lowValidityAttrs = []string{"title", "aria-label", "value", "id", "alt", "label", "name", "placeholder", "class", "action", "href", "data"}

// structuralTags are excluded from any locator's candidate set (§4.2).
var structuralTags = map[string]bool{"script": true, "html": true, "body": true, "head": true, "noscript": true}

const maxCandidates = 100

// CSSQuery is the pair of selectors produced for one keyword set: a
// high-validity selector built from high_validity_patterns with %s
// substituted, and a low-validity selector built from the raw keywords.
type CSSQuery struct {
	HighValidity string
	LowValidity  string
}

// BuildCSSQuery builds the two selectors described in §4.2. Patterns
// containing "%s" are instantiated once per keyword; patterns without it
// are used as-is.
func BuildCSSQuery(keywords []string, highValidityPatterns []string) CSSQuery {
	var high []string
	for _, pattern := range highValidityPatterns {
		for _, kw := range keywords {
			high = append(high, instantiate(pattern, kw, highValidityAttrs))
		}
	}

	var low []string
	for _, kw := range keywords {
		low = append(low, keywordSelector(kw, lowValidityAttrs))
	}

	return CSSQuery{
		HighValidity: strings.Join(dedupStrings(high), ", "),
		LowValidity:  strings.Join(dedupStrings(low), ", "),
	}
}

// instantiate substitutes keyword into a "%s"-templated pattern (e.g. "sign
// in with %s") and builds an attribute-contains selector for each attribute
// in attrs, matched case-insensitively.
func instantiate(pattern, keyword string, attrs []string) string {
	value := strings.ReplaceAll(pattern, "%s", keyword)
	return keywordSelector(value, attrs)
}

func keywordSelector(value string, attrs []string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var clauses []string
	for _, attr := range attrs {
		clauses = append(clauses, fmt.Sprintf(`[%s*="%s" i]`, attr, escapeSelectorValue(value)))
	}
	selector := "*:is(" + strings.Join(clauses, ", ") + ")"
	for tag := range structuralTags {
		selector += fmt.Sprintf(":not(%s)", tag)
	}
	return selector
}

func escapeSelectorValue(v string) string {
	return strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`)
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// cappedCandidates enforces the 100-candidate cap shared by CSS and XPath
// locators (§4.2).
func cappedCandidates(elements []Element) []Element {
	if len(elements) > maxCandidates {
		return elements[:maxCandidates]
	}
	return elements
}
