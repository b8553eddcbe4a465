// Package normalize applies user-supplied regular-expression rewrite rules
// to dialogue context before keyword extraction.
//
// Rules come from user settings and are not trusted: each rule is compiled
// on its own, and an invalid rule is skipped with a warning instead of
// failing the whole rule set.
package normalize

import (
	"regexp"

	"go.uber.org/zap"
)

// Rule is one rewrite rule.
type Rule struct {
	// Pattern is a Go regular expression.
	Pattern string `json:"pattern" yaml:"pattern"`

	// Replacement follows regexp.ReplaceAllString expansion syntax.
	Replacement string `json:"replacement" yaml:"replacement"`
}

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// Normalizer applies a compiled rule set in order.
type Normalizer struct {
	rules   []compiledRule
	skipped []Rule
}

// Compile compiles rules, skipping invalid ones. logger may be nil.
func Compile(rules []Rule, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Normalizer{}
	for i, r := range rules {
		if r.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			logger.Warn("skipping invalid normalization rule",
				zap.Int("index", i),
				zap.String("pattern", r.Pattern),
				zap.Error(err))
			n.skipped = append(n.skipped, r)
			continue
		}
		n.rules = append(n.rules, compiledRule{re: re, replacement: r.Replacement})
	}
	return n
}

// Apply rewrites text with every valid rule. A nil Normalizer returns text
// unchanged.
func (n *Normalizer) Apply(text string) string {
	if n == nil {
		return text
	}
	for _, r := range n.rules {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return text
}

// Len returns the number of active rules.
func (n *Normalizer) Len() int {
	if n == nil {
		return 0
	}
	return len(n.rules)
}

// Skipped returns the rules rejected at compile time.
func (n *Normalizer) Skipped() []Rule {
	if n == nil {
		return nil
	}
	return append([]Rule(nil), n.skipped...)
}
