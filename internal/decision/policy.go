// internal/decision/policy.go
package decision

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Policy errors.
var (
	ErrInvalidEffect        = errors.New("invalid policy effect")
	ErrMissingJustification = errors.New("policy exception requires a justification")
	ErrBadActionPattern     = errors.New("invalid action pattern")
)

// Effect is the result class of a policy evaluation.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
)

// Rule matches actions by glob pattern and assigns an effect.
type Rule struct {
	Name    string   `toml:"name"`
	Actions []string `toml:"actions"`
	Effect  Effect   `toml:"effect"`
	Reason  string   `toml:"reason"`

	// Tags restricts the rule to decisions carrying at least one of
	// these tags. Empty matches everything.
	Tags []string `toml:"tags"`
}

// Exception carves an action out of deny and approval rules. A
// justification is mandatory; an expired exception is inert.
type Exception struct {
	Name          string    `toml:"name"`
	Action        string    `toml:"action"`
	Justification string    `toml:"justification"`
	Expires       time.Time `toml:"expires"`
}

// Expired reports whether the exception has lapsed. A zero Expires
// never expires.
func (e *Exception) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && now.After(e.Expires)
}

// policyFile is the TOML document layout.
type policyFile struct {
	Strict     bool        `toml:"strict"`
	Rules      []Rule      `toml:"rule"`
	Exceptions []Exception `toml:"exception"`
}

// Verdict is the outcome of evaluating one action.
type Verdict struct {
	Effect Effect `json:"effect"`

	// Rule names the rule or exception that decided the verdict.
	// Empty when the default applied.
	Rule string `json:"rule,omitempty"`

	Reason string `json:"reason,omitempty"`

	// Exception reports whether an exception overrode a rule.
	Exception bool `json:"exception"`
}

// PolicyEngine evaluates proposed actions against loaded rules.
// Engines are immutable after load.
type PolicyEngine struct {
	strict     bool
	rules      []Rule
	exceptions []Exception
	logger     *zap.Logger

	now func() time.Time
}

// NewPolicyEngine builds an engine from rules already in hand.
func NewPolicyEngine(strict bool, rules []Rule, exceptions []Exception, logger *zap.Logger) (*PolicyEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &PolicyEngine{
		strict:     strict,
		rules:      rules,
		exceptions: exceptions,
		logger:     logger,
		now:        time.Now,
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadPolicyDir reads every *.toml file in dir into one engine. A
// missing or empty dir yields a permissive engine unless strict is set
// by a file.
func LoadPolicyDir(dir string, logger *zap.Logger) (*PolicyEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		return NewPolicyEngine(false, nil, nil, logger)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Info("policy directory absent, policy disabled", zap.String("dir", dir))
		return NewPolicyEngine(false, nil, nil, logger)
	}
	sort.Strings(matches)

	var strict bool
	var rules []Rule
	var exceptions []Exception
	for _, file := range matches {
		var doc policyFile
		if _, err := toml.DecodeFile(file, &doc); err != nil {
			return nil, fmt.Errorf("parse policy %s: %w", file, err)
		}
		strict = strict || doc.Strict
		rules = append(rules, doc.Rules...)
		exceptions = append(exceptions, doc.Exceptions...)
	}
	logger.Info("policy loaded",
		zap.String("dir", dir),
		zap.Int("rules", len(rules)),
		zap.Int("exceptions", len(exceptions)),
		zap.Bool("strict", strict))
	return NewPolicyEngine(strict, rules, exceptions, logger)
}

// Strict reports whether unmatched actions are denied.
func (e *PolicyEngine) Strict() bool { return e.strict }

// Evaluate decides an action. Precedence: unexpired exception, then
// deny, then require_approval, then allow. Unmatched actions are
// allowed, or denied in strict mode.
func (e *PolicyEngine) Evaluate(action string, tags []string) Verdict {
	now := e.now()
	for _, exc := range e.exceptions {
		if exc.Expired(now) {
			continue
		}
		if matchAction(exc.Action, action) {
			return Verdict{
				Effect:    EffectAllow,
				Rule:      exc.Name,
				Reason:    exc.Justification,
				Exception: true,
			}
		}
	}

	byEffect := map[Effect]*Rule{}
	for i := range e.rules {
		rule := &e.rules[i]
		if !ruleMatches(rule, action, tags) {
			continue
		}
		if byEffect[rule.Effect] == nil {
			byEffect[rule.Effect] = rule
		}
	}
	for _, effect := range []Effect{EffectDeny, EffectRequireApproval, EffectAllow} {
		if rule := byEffect[effect]; rule != nil {
			return Verdict{Effect: effect, Rule: rule.Name, Reason: rule.Reason}
		}
	}

	if e.strict {
		return Verdict{Effect: EffectDeny, Reason: "no rule matched in strict mode"}
	}
	return Verdict{Effect: EffectAllow}
}

func (e *PolicyEngine) validate() error {
	for _, rule := range e.rules {
		switch rule.Effect {
		case EffectAllow, EffectDeny, EffectRequireApproval:
		default:
			return fmt.Errorf("%w: rule %q has effect %q", ErrInvalidEffect, rule.Name, rule.Effect)
		}
		for _, pattern := range rule.Actions {
			if _, err := path.Match(pattern, ""); err != nil {
				return fmt.Errorf("%w: rule %q pattern %q", ErrBadActionPattern, rule.Name, pattern)
			}
		}
	}
	for _, exc := range e.exceptions {
		if exc.Justification == "" {
			return fmt.Errorf("%w: exception %q", ErrMissingJustification, exc.Name)
		}
		if _, err := path.Match(exc.Action, ""); err != nil {
			return fmt.Errorf("%w: exception %q pattern %q", ErrBadActionPattern, exc.Name, exc.Action)
		}
	}
	return nil
}

func ruleMatches(rule *Rule, action string, tags []string) bool {
	matched := false
	for _, pattern := range rule.Actions {
		if matchAction(pattern, action) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if len(rule.Tags) == 0 {
		return true
	}
	for _, want := range rule.Tags {
		for _, have := range tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// matchAction treats patterns as path globs over dot-separated action
// names ("deploy.*" matches "deploy.production").
func matchAction(pattern, action string) bool {
	ok, err := path.Match(pattern, action)
	return err == nil && ok
}
