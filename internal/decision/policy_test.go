package decision

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadPolicyDir(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "base.toml", `
strict = false

[[rule]]
name = "no-prod-deletes"
actions = ["delete.production.*"]
effect = "deny"
reason = "production data is sacred"

[[rule]]
name = "deploys-need-approval"
actions = ["deploy.*"]
effect = "require_approval"
`)

	engine, err := LoadPolicyDir(dir, nil)
	require.NoError(t, err)
	assert.False(t, engine.Strict())

	v := engine.Evaluate("delete.production.users", nil)
	assert.Equal(t, EffectDeny, v.Effect)
	assert.Equal(t, "no-prod-deletes", v.Rule)
	assert.Equal(t, "production data is sacred", v.Reason)

	v = engine.Evaluate("deploy.staging", nil)
	assert.Equal(t, EffectRequireApproval, v.Effect)

	v = engine.Evaluate("read.logs", nil)
	assert.Equal(t, EffectAllow, v.Effect)
	assert.Empty(t, v.Rule)
}

func TestPolicyStrictDeniesUnmatched(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "strict.toml", `
strict = true

[[rule]]
name = "reads-ok"
actions = ["read.*"]
effect = "allow"
`)

	engine, err := LoadPolicyDir(dir, nil)
	require.NoError(t, err)
	assert.True(t, engine.Strict())

	assert.Equal(t, EffectAllow, engine.Evaluate("read.logs", nil).Effect)
	assert.Equal(t, EffectDeny, engine.Evaluate("write.config", nil).Effect)
}

func TestPolicyDenyBeatsAllow(t *testing.T) {
	engine, err := NewPolicyEngine(false, []Rule{
		{Name: "allow-all-deploys", Actions: []string{"deploy.*"}, Effect: EffectAllow},
		{Name: "deny-prod", Actions: []string{"deploy.production"}, Effect: EffectDeny},
	}, nil, nil)
	require.NoError(t, err)

	v := engine.Evaluate("deploy.production", nil)
	assert.Equal(t, EffectDeny, v.Effect)
	assert.Equal(t, "deny-prod", v.Rule)

	assert.Equal(t, EffectAllow, engine.Evaluate("deploy.staging", nil).Effect)
}

func TestPolicyExceptionBeatsDeny(t *testing.T) {
	engine, err := NewPolicyEngine(false, []Rule{
		{Name: "deny-prod", Actions: []string{"deploy.production"}, Effect: EffectDeny},
	}, []Exception{
		{Name: "incident-42", Action: "deploy.production", Justification: "hotfix for outage"},
	}, nil)
	require.NoError(t, err)

	v := engine.Evaluate("deploy.production", nil)
	assert.Equal(t, EffectAllow, v.Effect)
	assert.True(t, v.Exception)
	assert.Equal(t, "incident-42", v.Rule)
	assert.Equal(t, "hotfix for outage", v.Reason)
}

func TestPolicyExpiredExceptionIgnored(t *testing.T) {
	engine, err := NewPolicyEngine(false, []Rule{
		{Name: "deny-prod", Actions: []string{"deploy.production"}, Effect: EffectDeny},
	}, []Exception{
		{
			Name:          "lapsed",
			Action:        "deploy.production",
			Justification: "was a hotfix",
			Expires:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}, nil)
	require.NoError(t, err)
	engine.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	v := engine.Evaluate("deploy.production", nil)
	assert.Equal(t, EffectDeny, v.Effect)
	assert.False(t, v.Exception)
}

func TestPolicyTagRestriction(t *testing.T) {
	engine, err := NewPolicyEngine(false, []Rule{
		{Name: "risky-needs-approval", Actions: []string{"*"}, Effect: EffectRequireApproval, Tags: []string{"risky"}},
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, EffectRequireApproval, engine.Evaluate("anything", []string{"risky"}).Effect)
	assert.Equal(t, EffectAllow, engine.Evaluate("anything", []string{"safe"}).Effect)
	assert.Equal(t, EffectAllow, engine.Evaluate("anything", nil).Effect)
}

func TestPolicyValidation(t *testing.T) {
	_, err := NewPolicyEngine(false, []Rule{
		{Name: "bad", Actions: []string{"x"}, Effect: Effect("maybe")},
	}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidEffect)

	_, err = NewPolicyEngine(false, nil, []Exception{
		{Name: "no-reason", Action: "x"},
	}, nil)
	assert.ErrorIs(t, err, ErrMissingJustification)

	_, err = NewPolicyEngine(false, []Rule{
		{Name: "bad-glob", Actions: []string{"[unclosed"}, Effect: EffectAllow},
	}, nil, nil)
	assert.ErrorIs(t, err, ErrBadActionPattern)
}

func TestPolicyMissingDir(t *testing.T) {
	engine, err := LoadPolicyDir(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, engine.Evaluate("anything", nil).Effect)
}

func TestPolicyExpiresParsedFromTOML(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "exc.toml", `
[[rule]]
name = "deny-prod"
actions = ["deploy.production"]
effect = "deny"

[[exception]]
name = "window"
action = "deploy.production"
justification = "planned maintenance"
expires = 2099-01-01T00:00:00Z
`)

	engine, err := LoadPolicyDir(dir, nil)
	require.NoError(t, err)

	v := engine.Evaluate("deploy.production", nil)
	assert.Equal(t, EffectAllow, v.Effect)
	assert.True(t, v.Exception)
}
