package locators

import (
	"encoding/json"
	"fmt"

	"github.com/BetterCallFirewall/authlandscape/internal/browser"
)

// rawElement mirrors the JSON shape the in-page query script returns.
type rawElement struct {
	X, Y, Width, Height float64
	InnerText           string `json:"innerText"`
	OuterHTML           string `json:"outerHTML"`
}

// queryScript returns a JS expression that selects selector, filters by
// visibility and non-zero bounding box, caps at maxCandidates, and returns
// absolute-coordinate geometry plus text content (§4.2).
const queryScript = `
(function(selector, cap) {
  var out = [];
  var nodes;
  try { nodes = document.querySelectorAll(selector); } catch (e) { return out; }
  for (var i = 0; i < nodes.length && out.length < cap; i++) {
    var el = nodes[i];
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

// LocateCSS evaluates query's high-validity selector first; if it yields no
// elements, falls back to the low-validity selector (§4.2).
func LocateCSS(ctx *browser.Context, query CSSQuery) ([]Element, error) {
	if elements, err := evalSelector(ctx, query.HighValidity); err != nil {
		return nil, err
	} else if len(elements) > 0 {
		return elements, nil
	}
	return evalSelector(ctx, query.LowValidity)
}

func evalSelector(ctx *browser.Context, selector string) ([]Element, error) {
	if selector == "" {
		return nil, nil
	}
	selectorLiteral, err := json.Marshal(selector)
	if err != nil {
		return nil, fmt.Errorf("locators: marshal selector: %w", err)
	}

	var raw []rawElement
	js := fmt.Sprintf(queryScript, string(selectorLiteral), maxCandidates)
	if err := ctx.Evaluate(js, &raw); err != nil {
		return nil, fmt.Errorf("locators: evaluate css query: %w", err)
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
