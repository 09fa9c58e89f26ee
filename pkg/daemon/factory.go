package daemon

import (
	"net"
	"os"
	"time"

	"github.com/grovetools/airlock/pkg/session"
)

// New returns a RemoteClient when a daemon answers on socketPath, otherwise
// a LocalClient over the manager built by local. Callers use the same API
// either way.
func New(socketPath string, local func() (*session.Manager, error)) (Client, error) {
	if Reachable(socketPath) {
		if client, err := NewRemoteClient(socketPath); err == nil && client.IsRunning() {
			return client, nil
		}
	}

	mgr, err := local()
	if err != nil {
		return nil, err
	}
	return NewLocalClient(mgr), nil
}

// Reachable reports whether something accepts connections on socketPath.
func Reachable(socketPath string) bool {
	if socketPath == "" {
		return false
	}
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
