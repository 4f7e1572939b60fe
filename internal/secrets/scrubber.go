// internal/secrets/scrubber.go
package secrets

import (
	"regexp"
	"sort"
	"strings"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool `koanf:"enabled"`

	// Rules are the detection rules. Empty means DefaultRules.
	Rules []Rule `koanf:"rules"`

	// RedactionString replaces detected secrets. Default "[REDACTED]".
	RedactionString string `koanf:"redaction_string"`

	// AllowList skips matches that also match one of these patterns.
	AllowList []string `koanf:"allow_list"`
}

// Finding records a detected secret. The matched value is deliberately
// absent.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
	Line        int    `json:"line,omitempty"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// HasFindings reports whether any secrets were found.
func (r *Result) HasFindings() bool { return len(r.Findings) > 0 }

// Scrubber detects and redacts secrets.
type Scrubber interface {
	// Scrub redacts secrets and reports findings.
	Scrub(content string) *Result

	// Check detects secrets without modifying the content.
	Check(content string) *Result

	// IsEnabled reports whether scrubbing is active.
	IsEnabled() bool
}

type scrubber struct {
	enabled   bool
	redaction string
	rules     []*compiledRule
	allowList []*regexp.Regexp
}

var _ Scrubber = (*scrubber)(nil)

// New creates a Scrubber. A nil config enables scrubbing with
// DefaultRules.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = &Config{Enabled: true}
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}

	allowList := make([]*regexp.Regexp, 0, len(cfg.AllowList))
	for _, pattern := range cfg.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		allowList = append(allowList, re)
	}

	redaction := cfg.RedactionString
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	return &scrubber{
		enabled:   cfg.Enabled,
		redaction: redaction,
		rules:     compiled,
		allowList: allowList,
	}, nil
}

// MustNew creates a Scrubber, panicking on bad configuration.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) IsEnabled() bool { return s.enabled }

// Check detects without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = content
	return result
}

type span struct{ start, end int }

// Scrub applies all rules, merges overlapping matches, and replaces each
// merged span with the redaction string.
func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: make(map[string]int)}
	if !s.enabled {
		return result
	}

	var spans []span
	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		for _, match := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[match[0]:match[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				StartIndex:  match[0],
				EndIndex:    match[1],
				Line:        strings.Count(content[:match[0]], "\n") + 1,
			})
			result.ByRule[rule.ID]++
			spans = append(spans, span{match[0], match[1]})
		}
	}
	if len(spans) == 0 {
		return result
	}

	merged := mergeSpans(spans)
	var b strings.Builder
	last := 0
	for _, sp := range merged {
		b.WriteString(content[last:sp.start])
		b.WriteString(s.redaction)
		last = sp.end
	}
	b.WriteString(content[last:])
	result.Scrubbed = b.String()
	return result
}

// applies checks the keyword pre-filter.
func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *scrubber) isAllowed(match string) bool {
	for _, re := range s.allowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans and merges overlaps so redactions never
// corrupt indices.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// NoopScrubber disables scrubbing. Testing only.
type NoopScrubber struct{}

var _ Scrubber = (*NoopScrubber)(nil)

func (NoopScrubber) Scrub(content string) *Result { return &Result{Scrubbed: content} }
func (NoopScrubber) Check(content string) *Result { return &Result{Scrubbed: content} }
func (NoopScrubber) IsEnabled() bool              { return false }
