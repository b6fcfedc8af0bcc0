// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"regexp"
)

// PIIType categorizes personal data the masker recognizes.
type PIIType string

const (
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIISSN        PIIType = "ssn"
	PIICreditCard PIIType = "credit_card"
	PIIIPAddress  PIIType = "ip_address"
)

type piiPattern struct {
	piiType PIIType
	pattern *regexp.Regexp
	mask    string
}

// Order matters: the more specific numeric patterns run before the
// phone pattern they overlap with.
var defaultPIIPatterns = []struct {
	piiType PIIType
	pattern string
	mask    string
}{
	{PIICreditCard, `\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`, "[CREDIT_CARD]"},
	{PIISSN, `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`, "[SSN]"},
	{PIIEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "[EMAIL]"},
	{PIIPhone, `\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`, "[PHONE]"},
	{PIIIPAddress, `\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`, "[IP_ADDRESS]"},
}

// PIIMasker replaces personal data in answers with typed placeholders.
type PIIMasker struct {
	patterns []piiPattern
	enabled  map[PIIType]bool
}

// PIIMaskerOption configures a PIIMasker.
type PIIMaskerOption func(*PIIMasker)

// NewPIIMasker creates a masker with every PII type enabled.
func NewPIIMasker(opts ...PIIMaskerOption) *PIIMasker {
	m := &PIIMasker{enabled: make(map[PIIType]bool)}
	for _, p := range defaultPIIPatterns {
		if re, err := regexp.Compile(p.pattern); err == nil {
			m.patterns = append(m.patterns, piiPattern{piiType: p.piiType, pattern: re, mask: p.mask})
			m.enabled[p.piiType] = true
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithPIITypes restricts masking to the given types.
func WithPIITypes(types ...PIIType) PIIMaskerOption {
	return func(m *PIIMasker) {
		for k := range m.enabled {
			m.enabled[k] = false
		}
		for _, t := range types {
			m.enabled[t] = true
		}
	}
}

// ID implements AnswerFilter.
func (m *PIIMasker) ID() string { return "pii" }

// FilterAnswer implements AnswerFilter. Matches are replaced back to
// front so earlier positions stay valid.
func (m *PIIMasker) FilterAnswer(ctx context.Context, answer string) FilterResult {
	result := FilterResult{Content: answer}
	if answer == "" {
		return result
	}
	for _, p := range m.patterns {
		if !m.enabled[p.piiType] {
			continue
		}
		if ctx.Err() != nil {
			return result
		}
		matches := p.pattern.FindAllStringIndex(result.Content, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			match := matches[i]
			result.Redactions = append(result.Redactions, Redaction{
				Type:        string(p.piiType),
				Replacement: p.mask,
				Position:    match[0],
			})
			result.Content = result.Content[:match[0]] + p.mask + result.Content[match[1]:]
			result.Modified = true
		}
	}
	return result
}

// WithPIIMasker adds PII masking to the answer path.
func WithPIIMasker(opts ...PIIMaskerOption) Option {
	return WithAnswerFilter(NewPIIMasker(opts...))
}
