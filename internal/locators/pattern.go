package locators

import (
	"bytes"
	"image"
	_ "image/png"
	"math"
	"sort"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// PatternMatch is one template-matching hit, ranked by Score descending
// (§4.2).
type PatternMatch struct {
	Element
	Score float64
	Scale float64
}

// grayImage is a minimal grayscale raster used for correlation/SSD scoring,
// avoiding a dependency on an image-processing library the retrieval pack
// does not carry.
type grayImage struct {
	w, h int
	pix  []float64
}

func toGray(img image.Image) grayImage {
	bounds := img.Bounds()
	g := grayImage{w: bounds.Dx(), h: bounds.Dy(), pix: make([]float64, bounds.Dx()*bounds.Dy())}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			r, gr, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := 0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)
			g.pix[y*g.w+x] = lum
		}
	}
	return g
}

func (g grayImage) at(x, y int) float64 {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return 0
	}
	return g.pix[y*g.w+x]
}

// resize performs nearest-neighbor resampling for the multi-scale sweep
// this locator performs; no finer resampling pass follows it.
func (g grayImage) resize(w, h int) grayImage {
	if w <= 0 || h <= 0 {
		return grayImage{}
	}
	out := grayImage{w: w, h: h, pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		sy := y * g.h / h
		for x := 0; x < w; x++ {
			sx := x * g.w / w
			out.pix[y*w+x] = g.at(sx, sy)
		}
	}
	return out
}

// ScaleSpace generates count scale factors between lower and upper using
// either a linear (linspace) or geometric (geomspace) progression, ordered
// per order (§4.2). Factors are clamped to >= 0.05.
func ScaleSpace(space models.ScaleSpace, order models.ScaleOrder, lower, upper float64, count int) []float64 {
	if lower < 0.05 {
		lower = 0.05
	}
	if upper < lower {
		upper = lower
	}
	if count < 1 {
		count = 1
	}

	out := make([]float64, count)
	for i := 0; i < count; i++ {
		t := 0.0
		if count > 1 {
			t = float64(i) / float64(count-1)
		}
		if space == models.ScaleGeomspace && lower > 0 {
			logLower, logUpper := math.Log(lower), math.Log(upper)
			out[i] = math.Exp(logLower + t*(logUpper-logLower))
		} else {
			out[i] = lower + t*(upper-lower)
		}
	}

	if order == models.ScaleDescending {
		sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	} else {
		sort.Float64s(out)
	}
	return out
}

// scoreAt computes a match score for template placed at (x, y) on scene
// using algo; returns a value where higher is always better (min-based
// algorithms are inverted so callers can always compare "higher wins").
func scoreAt(scene, template grayImage, x, y int, algo models.MatchAlgorithm) float64 {
	var sum, sceneNorm, templateNorm, ssd float64
	n := 0
	for ty := 0; ty < template.h; ty++ {
		for tx := 0; tx < template.w; tx++ {
			sv := scene.at(x+tx, y+ty)
			tv := template.pix[ty*template.w+tx]
			sum += sv * tv
			sceneNorm += sv * sv
			templateNorm += tv * tv
			diff := sv - tv
			ssd += diff * diff
			n++
		}
	}
	if n == 0 {
		return 0
	}

	switch algo {
	case models.MatchSumSquaredDiffs:
		meanSSD := ssd / float64(n)
		return 1.0 / (1.0 + meanSSD)
	default: // correlation
		denom := math.Sqrt(sceneNorm * templateNorm)
		if denom == 0 {
			return 0
		}
		return sum / denom
	}
}

// MatchTemplate runs multi-scale template matching of template against
// screenshotPNG (§4.2). It tries each configured scale, applying the scale
// to either the template or the screenshot per cfg.ScaleMethod, and returns
// matches sorted by score descending. It exits early once a match exceeds
// cfg.MaxMatching.
func MatchTemplate(screenshotPNG, templatePNG []byte, cfg models.LogoRecognitionConfig) ([]PatternMatch, error) {
	scene, err := decodeGray(screenshotPNG)
	if err != nil {
		return nil, err
	}
	template, err := decodeGray(templatePNG)
	if err != nil {
		return nil, err
	}

	scales := ScaleSpace(cfg.ScaleSpace, cfg.ScaleOrder, cfg.ScaleLowerBound, cfg.ScaleUpperBound, max(cfg.MatchIntensity, 1))

	var matches []PatternMatch
	for _, scale := range scales {
		s, t := scene, template
		if cfg.ScaleMethod == models.ScaleTemplate {
			t = template.resize(int(float64(template.w)*scale), int(float64(template.h)*scale))
		} else {
			s = scene.resize(int(float64(scene.w)*scale), int(float64(scene.h)*scale))
		}
		if t.w == 0 || t.h == 0 || s.w < t.w || s.h < t.h {
			continue
		}

		best := PatternMatch{}
		found := false
		stepX := max(t.w/8, 1)
		stepY := max(t.h/8, 1)
		for y := 0; y <= s.h-t.h; y += stepY {
			for x := 0; x <= s.w-t.w; x += stepX {
				score := scoreAt(s, t, x, y, cfg.MatchAlgorithm)
				if !found || score > best.Score {
					scaleBackX, scaleBackY := float64(x), float64(y)
					if cfg.ScaleMethod != models.ScaleTemplate && scale > 0 {
						scaleBackX, scaleBackY = scaleBackX/scale, scaleBackY/scale
					}
					best = PatternMatch{
						Element: Element{X: scaleBackX, Y: scaleBackY, Width: float64(template.w), Height: float64(template.h)},
						Score:   score,
						Scale:   scale,
					}
					found = true
				}
			}
		}
		if found && best.Score >= cfg.LowerBound {
			matches = append(matches, best)
		}
		if found && best.Score >= cfg.MaxMatching {
			break
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func decodeGray(pngBytes []byte) (grayImage, error) {
	img, _, err := image.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return grayImage{}, err
	}
	return toGray(img), nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
