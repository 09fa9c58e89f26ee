package agent

import (
	"sort"
	"strings"
)

// CredentialKeys are allow-listed variables that hold secrets. In isolated
// mode they are replaced by ghost values.
var CredentialKeys = []string{
	"GH_TOKEN",
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"GEMINI_API_KEY",
}

// GhostValue returns the decoy placed where the agent would look for key.
func GhostValue(key string) string {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSuffix(key, "_API_KEY"), "_TOKEN"))
	return "sk-airlock-ghost-" + name
}

// EnvMap filters host (KEY=VALUE pairs, as from os.Environ) down to the
// allow-listed names. Nothing outside allow survives.
func EnvMap(host, allow []string, isolated bool) map[string]string {
	allowed := make(map[string]bool, len(allow))
	for _, key := range allow {
		allowed[key] = true
	}
	secret := make(map[string]bool, len(CredentialKeys))
	for _, key := range CredentialKeys {
		secret[key] = true
	}

	out := make(map[string]string, len(allow))
	for _, kv := range host {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !allowed[key] {
			continue
		}
		if isolated && secret[key] {
			value = GhostValue(key)
		}
		out[key] = value
	}
	return out
}

// BuildEnv is EnvMap rendered as a sorted KEY=VALUE list for exec.Cmd.Env.
func BuildEnv(host, allow []string, isolated bool) []string {
	m := EnvMap(host, allow, isolated)
	env := make([]string, 0, len(m))
	for key, value := range m {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)
	return env
}
