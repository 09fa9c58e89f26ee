// Package credproxy is the host side of the blind credential path: an HTTP
// proxy on a workspace Unix socket that swaps the agent's ghost API keys for
// the real ones kept on the host.
package credproxy

import (
	"sort"

	"github.com/grovetools/airlock/config"
)

// Provider describes how to reach and authenticate one model API.
type Provider struct {
	// Name is the route prefix: /<name>/... is forwarded to Target.
	Name   string
	Target string
	// KeyEnv is the host variable holding the real key.
	KeyEnv string
	// Header carries the key, formatted with HeaderFormat.
	Header       string
	HeaderFormat string
	// BaseURLEnv is what the agent reads to find the provider; the launch
	// script points it at the local relay.
	BaseURLEnv string
}

// Builtin is the default provider table.
func Builtin() []Provider {
	return []Provider{
		{
			Name:         "anthropic",
			Target:       "https://api.anthropic.com",
			KeyEnv:       "ANTHROPIC_API_KEY",
			Header:       "x-api-key",
			HeaderFormat: "%s",
			BaseURLEnv:   "ANTHROPIC_BASE_URL",
		},
		{
			Name:         "google",
			Target:       "https://generativelanguage.googleapis.com",
			KeyEnv:       "GOOGLE_API_KEY",
			Header:       "x-goog-api-key",
			HeaderFormat: "%s",
			BaseURLEnv:   "GOOGLE_GENERATIVE_AI_BASE_URL",
		},
		{
			Name:         "openai",
			Target:       "https://api.openai.com",
			KeyEnv:       "OPENAI_API_KEY",
			Header:       "Authorization",
			HeaderFormat: "Bearer %s",
			BaseURLEnv:   "OPENAI_BASE_URL",
		},
	}
}

// Resolve applies configured overrides to the built-in table. An override
// for an unknown name adds a provider; empty override fields keep the
// built-in value. The result is sorted by name.
func Resolve(overrides []config.ProviderConfig) []Provider {
	byName := make(map[string]Provider)
	for _, p := range Builtin() {
		byName[p.Name] = p
	}

	for _, o := range overrides {
		p := byName[o.Name]
		p.Name = o.Name
		if o.Target != "" {
			p.Target = o.Target
		}
		if o.KeyEnv != "" {
			p.KeyEnv = o.KeyEnv
		}
		if o.Header != "" {
			p.Header = o.Header
		}
		if o.HeaderFormat != "" {
			p.HeaderFormat = o.HeaderFormat
		}
		if o.BaseURLEnv != "" {
			p.BaseURLEnv = o.BaseURLEnv
		}
		if p.HeaderFormat == "" {
			p.HeaderFormat = "%s"
		}
		byName[o.Name] = p
	}

	out := make([]Provider, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
