// Package policy compiles the settings file read by the external sandbox
// executor: outbound domains, filesystem rules and denied command patterns.
package policy

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/grovetools/airlock/errors"
)

// Network modes.
const (
	ModeMerge   = "merge"
	ModeReplace = "replace"
	ModeStrict  = "strict"
)

// DestructivePattern is denied regardless of configuration.
const DestructivePattern = "rm -rf /"

// BuiltinDomains is the fixed allow-list used by strict and merge modes.
var BuiltinDomains = []string{
	// Model providers
	"api.anthropic.com",
	"api.openai.com",
	"generativelanguage.googleapis.com",
	"opencode.ai",
	"models.dev",

	// Source hosting
	"github.com",
	"api.github.com",
	"*.githubusercontent.com",

	// Package registries
	"registry.npmjs.org",
	"pypi.org",
	"files.pythonhosted.org",
	"proxy.golang.org",
	"sum.golang.org",
	"crates.io",
	"static.crates.io",
}

// Policy is the settings document.
type Policy struct {
	Network    NetworkRules    `json:"network"`
	Filesystem FilesystemRules `json:"filesystem"`
	Command    CommandRules    `json:"command"`
}

// NetworkRules lists reachable domains.
type NetworkRules struct {
	AllowedDomains []string `json:"allowedDomains"`
}

// FilesystemRules lists readable and writable paths.
type FilesystemRules struct {
	AllowWrite []string `json:"allowWrite"`
	AllowRead  []string `json:"allowRead"`
	DenyRead   []string `json:"denyRead"`
	DenyWrite  []string `json:"denyWrite"`
}

// CommandRules lists denied command prefixes.
type CommandRules struct {
	Deny []string `json:"deny"`
}

// Options are the inputs to Compile.
type Options struct {
	Mode              string
	AllowedDomains    []string
	ProtectedBranches []string

	// Workspace is the session's directory; the only durable writable tree.
	Workspace string
	// ControlDir holds the launch script, sockets and this policy file.
	ControlDir string
	// TempDir is the scratch area. Defaults to os.TempDir().
	TempDir string
	// HostHome is the operator's real home directory.
	HostHome string
	// SourceDir is the operator's source tree, hidden from the agent.
	SourceDir string
	// StateDir holds the registry and must not be writable by the agent.
	StateDir string
	// DenyRead adds operator-specified paths.
	DenyRead []string
}

// Compile derives the policy. It is deterministic for the same options.
func Compile(opts Options) (*Policy, error) {
	domains, err := Domains(opts.Mode, opts.AllowedDomains)
	if err != nil {
		return nil, err
	}

	tmp := opts.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}

	secrets := SecretPaths(opts.HostHome)

	denyRead := append([]string(nil), secrets...)
	if opts.SourceDir != "" {
		denyRead = append(denyRead, opts.SourceDir)
	}
	denyRead = append(denyRead, opts.DenyRead...)

	denyWrite := append([]string(nil), secrets...)
	for _, p := range []string{opts.SourceDir, opts.StateDir, opts.ControlDir} {
		if p != "" {
			denyWrite = append(denyWrite, p)
		}
	}

	return &Policy{
		Network: NetworkRules{AllowedDomains: domains},
		Filesystem: FilesystemRules{
			AllowWrite: dedupe([]string{opts.Workspace, tmp}),
			AllowRead:  dedupe([]string{opts.Workspace, tmp}),
			DenyRead:   dedupe(denyRead),
			DenyWrite:  dedupe(denyWrite),
		},
		Command: CommandRules{Deny: DeniedCommands(opts.ProtectedBranches)},
	}, nil
}

// Domains combines the built-in and operator lists according to mode.
// An empty mode means merge.
func Domains(mode string, operator []string) ([]string, error) {
	switch strings.ToLower(mode) {
	case ModeStrict:
		return dedupe(normalizeDomains(BuiltinDomains)), nil
	case ModeReplace:
		return dedupe(normalizeDomains(operator)), nil
	case ModeMerge, "":
		all := append(normalizeDomains(BuiltinDomains), normalizeDomains(operator)...)
		return dedupe(all), nil
	default:
		return nil, errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unknown network mode '%s'", mode)).
			WithDetail("mode", mode)
	}
}

// DeniedCommands expands protected branches into forbidden invocations:
// checking the branch out, and pushing to it by name or by refspec.
func DeniedCommands(branches []string) []string {
	var out []string
	for _, b := range branches {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		out = append(out,
			"git checkout "+b,
			"git push origin "+b,
			"git push origin HEAD:"+b,
		)
	}
	out = append(out, DestructivePattern)
	return dedupe(out)
}

// AllowsHost reports whether host matches one of domains. "*.example.com"
// matches any subdomain but not example.com itself; other entries match
// exactly. A port on host is ignored.
func AllowsHost(domains []string, host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return false
	}
	for _, pattern := range normalizeDomains(domains) {
		if pattern == host {
			return true
		}
		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:]
			if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
				return true
			}
		}
	}
	return false
}

// SecretPaths lists credential locations under a home directory.
func SecretPaths(home string) []string {
	if home == "" {
		return nil
	}
	rel := []string{
		".ssh",
		".aws",
		".gnupg",
		".netrc",
		".docker/config.json",
		".config/gh",
		".config/gcloud",
		".local/share/opencode/auth.json",
		".git-credentials",
	}
	out := make([]string, 0, len(rel))
	for _, r := range rel {
		out = append(out, filepath.Join(home, r))
	}
	return out
}

// Denies reports the pattern a command line matches, if any. Matching is by
// whitespace-normalized prefix on word boundaries.
func (p *Policy) Denies(commandLine string) (string, bool) {
	return MatchDenied(p.Command.Deny, commandLine)
}

// MatchDenied is Denies over a bare pattern list.
func MatchDenied(patterns []string, commandLine string) (string, bool) {
	line := strings.Join(strings.Fields(commandLine), " ")
	for _, pattern := range patterns {
		pat := strings.Join(strings.Fields(pattern), " ")
		if pat == "" {
			continue
		}
		if line == pat || strings.HasPrefix(line, pat+" ") {
			return pattern, true
		}
	}
	return "", false
}

// Render encodes the policy as indented JSON.
func (p *Policy) Render() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Write replaces the file at path with the rendered policy.
func (p *Policy) Write(path string) error {
	data, err := p.Render()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode policy")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create policy directory").
			WithDetail("path", dir)
	}

	tmp, err := os.CreateTemp(dir, ".policy-*.json")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create policy temp file")
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write policy")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write policy")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set policy permissions")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace policy").WithDetail("path", path)
	}
	return nil
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "https://")
		d = strings.TrimPrefix(d, "http://")
		d = strings.TrimSuffix(d, "/")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// dedupe drops empties and repeats, keeping first occurrences in order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
