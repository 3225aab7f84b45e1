package locators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

func TestBuildCSSQueryIncludesKeywordAndExcludesStructuralTags(t *testing.T) {
	q := BuildCSSQuery([]string{"google"}, []string{"sign in with %s"})
	assert.Contains(t, q.HighValidity, "sign in with google")
	assert.Contains(t, q.HighValidity, ":not(script)")
	assert.Contains(t, q.LowValidity, "google")
}

func TestBuildXPathQueryExactVsContains(t *testing.T) {
	contains := BuildXPathQuery([]string{"login"}, []string{"id"}, false)
	assert.Contains(t, contains, "contains(translate(")

	exact := BuildXPathQuery([]string{"login"}, []string{"id"}, true)
	assert.Contains(t, exact, "='login'")
}

func TestScaleSpaceLinspaceAscending(t *testing.T) {
	scales := ScaleSpace(models.ScaleLinspace, models.ScaleAscending, 0.5, 1.5, 3)
	assert.Equal(t, []float64{0.5, 1.0, 1.5}, scales)
}

func TestScaleSpaceDescendingReversesOrder(t *testing.T) {
	scales := ScaleSpace(models.ScaleLinspace, models.ScaleDescending, 0.5, 1.5, 3)
	assert.Equal(t, []float64{1.5, 1.0, 0.5}, scales)
}

func TestScaleSpaceClampsLowerBound(t *testing.T) {
	scales := ScaleSpace(models.ScaleLinspace, models.ScaleAscending, 0.0, 0.2, 2)
	assert.GreaterOrEqual(t, scales[0], 0.05)
}

func TestCappedCandidatesEnforcesLimit(t *testing.T) {
	elements := make([]Element, 150)
	out := cappedCandidates(elements)
	assert.Len(t, out, maxCandidates)
}
