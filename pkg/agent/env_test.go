package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvMapNeverLeaksOutsideAllowList(t *testing.T) {
	host := []string{
		"PATH=/usr/bin",
		"HOME=/home/op",
		"AWS_SECRET_ACCESS_KEY=real-aws-secret",
		"DATABASE_URL=postgres://op:pw@db/prod",
		"ANTHROPIC_API_KEY=sk-ant-real",
		"GH_TOKEN=ghp_real",
		"MALFORMED",
	}
	allow := []string{"PATH", "HOME", "USER", "LANG", "GH_TOKEN", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"}

	allowed := make(map[string]bool)
	for _, k := range allow {
		allowed[k] = true
	}

	for _, isolated := range []bool{false, true} {
		env := EnvMap(host, allow, isolated)
		for key := range env {
			assert.True(t, allowed[key], "key %s escaped the allow-list", key)
		}
		assert.NotContains(t, env, "AWS_SECRET_ACCESS_KEY")
		assert.NotContains(t, env, "DATABASE_URL")
		assert.Equal(t, "/usr/bin", env["PATH"])
	}
}

func TestEnvMapGhostsCredentialsWhenIsolated(t *testing.T) {
	host := []string{"ANTHROPIC_API_KEY=sk-ant-real", "GH_TOKEN=ghp_real", "LANG=C"}
	allow := []string{"ANTHROPIC_API_KEY", "GH_TOKEN", "LANG"}

	env := EnvMap(host, allow, true)
	assert.Equal(t, "sk-airlock-ghost-anthropic", env["ANTHROPIC_API_KEY"])
	assert.Equal(t, "sk-airlock-ghost-gh", env["GH_TOKEN"])
	assert.Equal(t, "C", env["LANG"])

	for _, kv := range BuildEnv(host, allow, true) {
		assert.False(t, strings.Contains(kv, "real"), "real credential leaked: %s", kv)
	}

	direct := EnvMap(host, allow, false)
	assert.Equal(t, "sk-ant-real", direct["ANTHROPIC_API_KEY"])
}

func TestBuildEnvSorted(t *testing.T) {
	env := BuildEnv([]string{"USER=op", "HOME=/h", "PATH=/bin"}, []string{"PATH", "HOME", "USER"}, false)
	assert.Equal(t, []string{"HOME=/h", "PATH=/bin", "USER=op"}, env)
}
