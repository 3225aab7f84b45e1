package locators

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/BetterCallFirewall/authlandscape/internal/browser"
)

// LocateAccessibility enumerates the full accessibility tree via CDP and
// matches nodes whose name contains any of keywords (case-insensitive),
// resolving each match's box via DOM.getBoxModel (§4.2).
func LocateAccessibility(ctx *browser.Context, keywords []string) ([]Element, error) {
	var nodes []*accessibility.Node
	err := chromedp.Run(ctx.InnerContext(), chromedp.ActionFunc(func(c context.Context) error {
		result, err := accessibility.GetFullAXTree().Do(c)
		if err != nil {
			return err
		}
		nodes = result
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("locators: get accessibility tree: %w", err)
	}

	lowerKeywords := make([]string, len(keywords))
	for i, kw := range keywords {
		lowerKeywords[i] = strings.ToLower(kw)
	}

	var elements []Element
	for _, node := range nodes {
		if len(elements) >= maxCandidates {
			break
		}
		if node.BackendDOMNodeID == 0 {
			continue
		}
		name := accessibleName(node)
		if name == "" || !containsAny(strings.ToLower(name), lowerKeywords) {
			continue
		}

		box, ok := boxModel(ctx, int64(node.BackendDOMNodeID))
		if !ok {
			continue
		}
		elements = append(elements, Element{
			X: box.X, Y: box.Y, Width: box.Width, Height: box.Height,
			InnerText: name,
		})
	}
	return elements, nil
}

func accessibleName(node *accessibility.Node) string {
	if node.Name == nil || node.Name.Value == nil {
		return ""
	}
	if s, ok := node.Name.Value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", node.Name.Value)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

type box struct{ X, Y, Width, Height float64 }

func boxModel(ctx *browser.Context, backendNodeID int64) (box, bool) {
	var model *dom.BoxModel
	err := chromedp.Run(ctx.InnerContext(), chromedp.ActionFunc(func(c context.Context) error {
		m, err := dom.GetBoxModel().WithBackendNodeID(dom.BackendNodeID(backendNodeID)).Do(c)
		if err != nil {
			return err
		}
		model = m
		return nil
	}))
	if err != nil || model == nil || len(model.Content) < 8 {
		return box{}, false
	}

	minX, minY, maxX, maxY := model.Content[0], model.Content[1], model.Content[0], model.Content[1]
	for i := 0; i < len(model.Content); i += 2 {
		x, y := model.Content[i], model.Content[i+1]
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
}
