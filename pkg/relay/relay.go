// Package relay forwards loopback TCP connections to a Unix socket. The
// launch script runs it inside the workspace so provider SDKs can reach the
// host credential proxy through a plain http://127.0.0.1 base URL.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxPortAttempts is how many consecutive ports Start tries.
const MaxPortAttempts = 20

// Relay forwards TCP connections on 127.0.0.1 to SocketPath.
type Relay struct {
	// Port is the first port tried; Start walks upward on conflicts.
	Port       int
	SocketPath string
	Logger     *logrus.Entry

	listener    net.Listener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
}

func (r *Relay) logger() *logrus.Entry {
	if r.Logger != nil {
		return r.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Start binds the listener and serves in the background. It returns the
// bound port.
func (r *Relay) Start(ctx context.Context) (int, error) {
	if r.SocketPath == "" {
		return 0, fmt.Errorf("relay: socket path is required")
	}

	listener, err := listenFrom(r.Port)
	if err != nil {
		return 0, err
	}
	r.listener = listener

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.acceptLoop(ctx)
	}()

	port := r.Addr().(*net.TCPAddr).Port
	r.logger().WithField("port", port).WithField("socket", r.SocketPath).Info("Relay started")
	return port, nil
}

// listenFrom binds 127.0.0.1 starting at port, trying up to MaxPortAttempts
// ports when the address is in use. Port 0 asks the kernel for any port.
func listenFrom(port int) (net.Listener, error) {
	var lastErr error
	for i := 0; i < MaxPortAttempts; i++ {
		candidate := port + i
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", candidate))
		if err == nil {
			return l, nil
		}
		lastErr = err
		if port == 0 || !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
	}
	return nil, fmt.Errorf("relay: could not bind near port %d: %w", port, lastErr)
}

// Addr returns the bound address, or nil before Start.
func (r *Relay) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop closes the listener and waits for open connections to drain.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.listener != nil {
		r.listener.Close()
	}
	if r.done != nil {
		<-r.done
	}
}

// Wait blocks until the relay has stopped.
func (r *Relay) Wait() {
	if r.done != nil {
		<-r.done
	}
}

func (r *Relay) acceptLoop(ctx context.Context) {
	var id int64
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				r.connections.Wait()
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				r.connections.Wait()
				return
			}
			r.logger().WithError(err).Error("Relay accept failed")
			continue
		}

		id++
		r.connections.Add(1)
		go func(conn net.Conn, id int64) {
			defer r.connections.Done()
			r.handle(conn, id)
		}(conn, id)
	}
}

func (r *Relay) handle(tcpConn net.Conn, id int64) {
	defer tcpConn.Close()
	logger := r.logger().WithField("connection", id)

	unixConn, err := net.DialTimeout("unix", r.SocketPath, 5*time.Second)
	if err != nil {
		logger.WithError(err).Error("Relay could not reach socket")
		return
	}
	defer unixConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(unixConn, tcpConn)
		if c, ok := unixConn.(*net.UnixConn); ok {
			_ = c.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(tcpConn, unixConn)
		if c, ok := tcpConn.(*net.TCPConn); ok {
			_ = c.CloseWrite()
		}
	}()
	wg.Wait()
	logger.Debug("Relay connection closed")
}
