// Package workspace materializes the on-disk tree one agent session runs
// in: an isolated HOME with XDG directories, a control directory holding the
// launch script, sockets and command shims, a ghost credential store and a
// sanitized copy of the operator's agent configuration.
package workspace

import (
	"path/filepath"
)

// ControlDirName is the per-workspace directory the agent never needs to
// write to.
const ControlDirName = ".airlock"

// Workspace is the resolved layout of one workspace folder.
type Workspace struct {
	Folder string
	// Dir is the workspace root; the agent runs with it as working directory.
	Dir string

	Home       string
	ConfigHome string
	DataHome   string
	CacheHome  string
	StateHome  string

	ControlDir   string
	BinDir       string
	LaunchScript string
	BridgeSocket string
	ProxySocket  string
	PolicyFile   string
	RelayLog     string

	// Port is the loopback port the in-workspace relay listens on.
	Port int
}

// Layout computes the paths for folder under root without touching disk.
func Layout(root, folder string) *Workspace {
	dir := filepath.Join(root, folder)
	home := filepath.Join(dir, "home")
	control := filepath.Join(dir, ControlDirName)
	return &Workspace{
		Folder:       folder,
		Dir:          dir,
		Home:         home,
		ConfigHome:   filepath.Join(home, ".config"),
		DataHome:     filepath.Join(home, ".local", "share"),
		CacheHome:    filepath.Join(home, ".cache"),
		StateHome:    filepath.Join(home, ".local", "state"),
		ControlDir:   control,
		BinDir:       filepath.Join(control, "bin"),
		LaunchScript: filepath.Join(control, "launch.sh"),
		BridgeSocket: filepath.Join(control, "bridge.sock"),
		ProxySocket:  filepath.Join(control, "proxy.sock"),
		PolicyFile:   filepath.Join(control, "sandbox-settings.json"),
		RelayLog:     filepath.Join(control, "relay.log"),
	}
}

// Env returns the isolated variables the launch script exports.
func (w *Workspace) Env() map[string]string {
	return map[string]string{
		"HOME":            w.Home,
		"XDG_CONFIG_HOME": w.ConfigHome,
		"XDG_DATA_HOME":   w.DataHome,
		"XDG_CACHE_HOME":  w.CacheHome,
		"XDG_STATE_HOME":  w.StateHome,
	}
}

func (w *Workspace) dirs() []string {
	return []string{w.Dir, w.Home, w.ConfigHome, w.DataHome, w.CacheHome, w.StateHome, w.ControlDir, w.BinDir}
}
