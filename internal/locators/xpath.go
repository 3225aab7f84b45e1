package locators

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BetterCallFirewall/authlandscape/internal/browser"
)

// BuildXPathQuery builds an XPath expression equivalent to BuildCSSQuery's
// selectors, using translate() for case-insensitive matching and an
// exact-match mode for callers that need whole-value equality instead of
// substring containment (§4.2).
func BuildXPathQuery(keywords []string, attrs []string, exact bool) string {
	var clauses []string
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for _, attr := range attrs {
			if exact {
				clauses = append(clauses, fmt.Sprintf(
					`translate(@%s, '%s', '%s')='%s'`, attr, upper, lower, kw))
			} else {
				clauses = append(clauses, fmt.Sprintf(
					`contains(translate(@%s, '%s', '%s'), '%s')`, attr, upper, lower, kw))
			}
		}
	}
	predicate := strings.Join(dedupStrings(clauses), " or ")
	excluded := make([]string, 0, len(structuralTags))
	for tag := range structuralTags {
		excluded = append(excluded, fmt.Sprintf("self::%s", tag))
	}
	return fmt.Sprintf("//*[(%s) and not(%s)]", predicate, strings.Join(excluded, " or "))
}

const (
	upper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower = "abcdefghijklmnopqrstuvwxyz"
)

// xpathQueryScript evaluates an XPath expression via document.evaluate and
// returns the same geometry shape as the CSS locator's in-page script.
const xpathQueryScript = `
(function(expr, cap) {
  var out = [];
  var result;
  try {
    result = document.evaluate(expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  } catch (e) { return out; }
  for (var i = 0; i < result.snapshotLength && out.length < cap; i++) {
    var el = result.snapshotItem(i);
    var rect = el.getBoundingClientRect();
    var style = window.getComputedStyle(el);
    if (rect.width <= 0 || rect.height <= 0) { continue; }
    if (style.visibility === 'hidden' || style.display === 'none') { continue; }
    out.push({
      X: rect.left + window.scrollX,
      Y: rect.top + window.scrollY,
      Width: rect.width,
      Height: rect.height,
      innerText: (el.innerText || '').slice(0, 500),
      outerHTML: el.outerHTML.slice(0, 2000)
    });
  }
  return out;
})(%s, %d)
`

// LocateXPath evaluates expr against the live page.
func LocateXPath(ctx *browser.Context, expr string) ([]Element, error) {
	if expr == "" {
		return nil, nil
	}
	exprLiteral, err := json.Marshal(expr)
	if err != nil {
		return nil, fmt.Errorf("locators: marshal xpath: %w", err)
	}

	var raw []rawElement
	js := fmt.Sprintf(xpathQueryScript, string(exprLiteral), maxCandidates)
	if err := ctx.Evaluate(js, &raw); err != nil {
		return nil, fmt.Errorf("locators: evaluate xpath query: %w", err)
	}

	elements := make([]Element, 0, len(raw))
	for _, r := range raw {
		elements = append(elements, Element{
			X: r.X, Y: r.Y, Width: r.Width, Height: r.Height,
			InnerText: r.InnerText, OuterHTML: r.OuterHTML,
		})
	}
	return cappedCandidates(elements), nil
}
