package urlutil

import (
	"regexp"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// PriorityOf returns the highest-priority rule in rules whose regex matches
// url, mirroring original_source's URLHelper.prio_of_url (max-priority
// regex match over a rule table). Rules that fail to compile are skipped.
// If no rule matches, the zero CandidatePriority (priority 0) is returned.
func PriorityOf(url string, rules []models.PriorityRule) models.CandidatePriority {
	best := models.CandidatePriority{}
	haveMatch := false

	for _, rule := range rules {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			continue
		}
		if !re.MatchString(url) {
			continue
		}
		if !haveMatch || rule.Priority > best.Priority {
			best = models.CandidatePriority{Regex: rule.Regex, Priority: rule.Priority}
			haveMatch = true
		}
	}

	return best
}

// CompiledPriorityRules precompiles a rule table for repeated PriorityOf-style
// lookups against many URLs. The login-page strategies call PriorityOf per
// URL and do not use it.
type CompiledPriorityRules struct {
	rules []compiledRule
}

type compiledRule struct {
	re       *regexp.Regexp
	priority int
	source   string
}

// CompileRules compiles rules once for reuse. Rules that fail to compile are
// dropped silently, matching the best-effort nature of the original's
// regex-rule table.
func CompileRules(rules []models.PriorityRule) CompiledPriorityRules {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledRule{re: re, priority: rule.Priority, source: rule.Regex})
	}
	return CompiledPriorityRules{rules: compiled}
}

// Of returns the maximum-priority match for url among the precompiled rules.
func (c CompiledPriorityRules) Of(url string) models.CandidatePriority {
	best := models.CandidatePriority{}
	haveMatch := false
	for _, rule := range c.rules {
		if !rule.re.MatchString(url) {
			continue
		}
		if !haveMatch || rule.priority > best.Priority {
			best = models.CandidatePriority{Regex: rule.source, Priority: rule.priority}
			haveMatch = true
		}
	}
	return best
}
