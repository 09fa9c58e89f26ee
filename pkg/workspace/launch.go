package workspace

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"text/template"

	"github.com/grovetools/airlock/pkg/credproxy"
	"github.com/grovetools/airlock/util/sanitize"
)

// RelaySettle is how long the launch script waits for the relay to bind.
const RelaySettle = "0.5"

const launchTemplate = `#!/bin/sh
# Generated by airlock; rewritten on every prepare.
{{- range .Isolated }}
export {{ .Key }}={{ .Value }}
{{- end }}

{{ .Self }} relay --port {{ .Port }} --socket {{ .ProxySocket }} >{{ .RelayLog }} 2>&1 &
sleep {{ .Settle }}
{{ range .BaseURLs }}
export {{ .Key }}={{ .Value }}
{{- end }}
export BRIDGE_SOCK={{ .BridgeSocket }}
export PATH={{ .BinDir }}:"$PATH"

exec "$@"
`

var launchTmpl = template.Must(template.New("launch").Parse(launchTemplate))

type envLine struct {
	Key   string
	Value string
}

type launchData struct {
	Self         string
	Port         int
	Settle       string
	ProxySocket  string
	RelayLog     string
	BridgeSocket string
	BinDir       string
	Isolated     []envLine
	BaseURLs     []envLine
}

// RelayURL is the base URL a provider is reached at from inside the workspace.
func RelayURL(port int, provider string) string {
	return fmt.Sprintf("http://127.0.0.1:%d/%s", port, provider)
}

// renderLaunchScript produces the script that exports the isolated
// environment, starts the relay and execs its arguments. Every value is
// shell quoted.
func renderLaunchScript(w *Workspace, self string, providers []credproxy.Provider) ([]byte, error) {
	data := launchData{
		Self:         sanitize.ShellQuote(self),
		Port:         w.Port,
		Settle:       RelaySettle,
		ProxySocket:  sanitize.ShellQuote(w.ProxySocket),
		RelayLog:     sanitize.ShellQuote(w.RelayLog),
		BridgeSocket: sanitize.ShellQuote(w.BridgeSocket),
		BinDir:       sanitize.ShellQuote(w.BinDir),
	}

	env := w.Env()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data.Isolated = append(data.Isolated, envLine{Key: k, Value: sanitize.ShellQuote(env[k])})
	}

	for _, p := range providers {
		if p.BaseURLEnv == "" {
			continue
		}
		data.BaseURLs = append(data.BaseURLs, envLine{Key: p.BaseURLEnv, Value: sanitize.ShellQuote(RelayURL(w.Port, p.Name))})
	}

	var buf bytes.Buffer
	if err := launchTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render launch script: %w", err)
	}
	return buf.Bytes(), nil
}

func writeLaunchScript(w *Workspace, self string, providers []credproxy.Provider) error {
	content, err := renderLaunchScript(w, self, providers)
	if err != nil {
		return err
	}
	return writeFileAtomic(w.LaunchScript, content, 0o755)
}

// writeShims installs one wrapper per brokered command. Each forwards its
// arguments to the host bridge through "airlock shim".
func writeShims(w *Workspace, self string, commands []string) error {
	for _, name := range commands {
		script := fmt.Sprintf("#!/bin/sh\nSHIM_COMMAND=%s exec %s shim -- \"$@\"\n",
			sanitize.ShellQuote(name), sanitize.ShellQuote(self))
		if err := writeFileAtomic(w.BinDir+"/"+name, []byte(script), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
