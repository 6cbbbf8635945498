// Package classify implements a lightweight intent classifier over query
// text. The result narrows which auxiliary capabilities the execution
// backend may use.
package classify

import "strings"

// DomainRule pairs a named domain with the keywords that select it and the
// tool hints it grants.
type DomainRule struct {
	Name     string
	Keywords []string
	Hints    []string
}

// rules is the fixed ordered list of domain keyword sets. Order is a
// tie-break policy: more specific domains are checked before generic ones,
// since queries can match multiple sets. First match wins.
var rules = []DomainRule{
	{
		Name:     "code",
		Keywords: []string{"code", "function", "compile", "debug", "stack trace", "refactor", "script", "regex"},
		Hints:    []string{"code_interpreter"},
	},
	{
		Name:     "math",
		Keywords: []string{"calculate", "sum of", "equation", "how many", "percent", "average", "multiply", "divide"},
		Hints:    []string{"calculator"},
	},
	{
		Name:     "current",
		Keywords: []string{"today", "latest", "current", "news", "weather", "right now", "this week"},
		Hints:    []string{"web_search"},
	},
	{
		Name:     "document",
		Keywords: []string{"summarize", "summary", "rewrite", "translate", "proofread"},
		Hints:    []string{"document_tools"},
	},
}

// Rules returns the classifier's ordered rule list.
func Rules() []DomainRule {
	out := make([]DomainRule, len(rules))
	copy(out, rules)
	return out
}

// Hints classifies the query text and returns the tool hints of the first
// matching domain. No match means no hints. Pure and stateless.
func Hints(text string) []string {
	lowered := strings.ToLower(text)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, kw) {
				return rule.Hints
			}
		}
	}
	return nil
}
