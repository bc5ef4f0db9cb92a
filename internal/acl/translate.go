// Package acl turns incoming access tokens into Docs4U user/group IDs.
package acl

import (
	"regexp"

	"docs4usync/internal/types"
)

// Translator applies one security rule to access tokens.
type Translator struct {
	re          *regexp.Regexp
	replacement string
}

func NewTranslator(rule types.SecurityRule) (*Translator, error) {
	re, err := rule.Compile()
	if err != nil {
		return nil, err
	}
	return &Translator{re: re, replacement: rule.Replacement}, nil
}

// Translate rewrites token with the first match of the rule's pattern, expanding the
// replacement template against that match. A token the pattern does not match, or any
// token when there is no rule, is returned unchanged.
func (t *Translator) Translate(token string) string {
	if t == nil || t.re == nil {
		return token
	}
	m := t.re.FindStringSubmatchIndex(token)
	if m == nil {
		return token
	}
	return string(t.re.ExpandString(nil, t.replacement, token, m))
}
