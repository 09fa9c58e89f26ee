package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grovetools/airlock/pkg/agent"
	"github.com/grovetools/airlock/pkg/credproxy"
)

type ghostEntry struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// GhostAuthPath is where the agent keeps its credential store inside the workspace.
func GhostAuthPath(w *Workspace, binary string) string {
	return filepath.Join(w.DataHome, binary, "auth.json")
}

// writeGhostCredentials fills the agent's auth store with decoy keys so a
// process reading its own configuration finds nothing real.
func writeGhostCredentials(w *Workspace, binary string, providers []credproxy.Provider) error {
	store := make(map[string]ghostEntry, len(providers))
	for _, p := range providers {
		store[p.Name] = ghostEntry{Type: "api", Key: agent.GhostValue(p.KeyEnv)}
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ghost credentials: %w", err)
	}

	path := GhostAuthPath(w, binary)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}
