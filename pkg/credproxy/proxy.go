package credproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Headers never forwarded in either direction.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Upstream response headers dropped because the body is re-framed here.
var reframedHeaders = map[string]bool{
	"content-encoding":  true,
	"transfer-encoding": true,
	"content-length":    true,
}

// Options configures a Proxy.
type Options struct {
	Providers []Provider
	// Lookup returns the real key for a host variable. Defaults to os.Getenv.
	Lookup func(key string) string
	// Client performs upstream requests. Defaults to a client without a
	// total timeout so streamed responses are not cut off.
	Client *http.Client
	Logger *logrus.Entry
}

// Proxy forwards /<provider>/<rest> to the provider with the real key.
type Proxy struct {
	providers map[string]Provider
	// authHeaders is every header any provider authenticates with.
	authHeaders []string
	lookup      func(string) string
	client      *http.Client
	logger      *logrus.Entry

	server   *http.Server
	listener net.Listener
}

// New creates a Proxy.
func New(opts Options) *Proxy {
	if opts.Lookup == nil {
		opts.Lookup = os.Getenv
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 5 * time.Minute,
				// Compressed bodies pass through untouched.
				DisableCompression: true,
			},
		}
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = logrus.NewEntry(l)
	}

	p := &Proxy{
		providers: make(map[string]Provider, len(opts.Providers)),
		lookup:    opts.Lookup,
		client:    opts.Client,
		logger:    opts.Logger,
	}
	seen := make(map[string]bool)
	for _, prov := range opts.Providers {
		p.providers[prov.Name] = prov
		h := strings.ToLower(prov.Header)
		if h != "" && !seen[h] {
			seen[h] = true
			p.authHeaders = append(p.authHeaders, h)
		}
	}
	return p
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	name, rest := splitRoute(r.URL.Path)
	prov, ok := p.providers[name]
	if !ok {
		p.logger.WithField("path", r.URL.Path).Warn("Credential proxy: unknown provider")
		http.Error(w, "Provider Not Found", http.StatusNotFound)
		return
	}

	key := p.lookup(prov.KeyEnv)
	if key == "" {
		p.logger.WithField("provider", name).WithField("key_env", prov.KeyEnv).Error("Credential proxy: host key not set")
		http.Error(w, fmt.Sprintf("missing credential for %s", name), http.StatusServiceUnavailable)
		return
	}

	target := strings.TrimRight(prov.Target, "/") + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}
	upstreamReq.ContentLength = r.ContentLength

	for k, values := range r.Header {
		if p.stripInbound(k) {
			continue
		}
		for _, v := range values {
			upstreamReq.Header.Add(k, v)
		}
	}
	upstreamReq.Header.Set(prov.Header, fmt.Sprintf(prov.HeaderFormat, key))

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		p.logger.WithError(err).WithField("provider", name).Error("Credential proxy: upstream request failed")
		http.Error(w, fmt.Sprintf("upstream request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, values := range resp.Header {
		lk := strings.ToLower(k)
		if hopByHopHeaders[lk] || reframedHeaders[lk] {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	n := p.copyFlushing(w, resp.Body)
	p.logger.WithFields(logrus.Fields{
		"provider": name,
		"method":   r.Method,
		"path":     rest,
		"status":   resp.StatusCode,
		"bytes":    n,
		"duration": time.Since(start).String(),
	}).Debug("Credential proxy request complete")
}

// copyFlushing flushes after every chunk so server-sent events reach the
// agent as they arrive.
func (p *Proxy) copyFlushing(w http.ResponseWriter, body io.Reader) int64 {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			written, werr := w.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return total
		}
	}
}

// stripInbound drops hop-by-hop headers, Host, and any auth header: those
// carry only ghost values from inside the workspace.
func (p *Proxy) stripInbound(name string) bool {
	lk := strings.ToLower(name)
	if hopByHopHeaders[lk] || lk == "host" {
		return true
	}
	for _, h := range p.authHeaders {
		if lk == h {
			return true
		}
	}
	return false
}

// ListenUnix serves on a Unix socket at path with the given permission bits.
// A stale socket file is removed first.
func (p *Proxy) ListenUnix(path string, mode os.FileMode) error {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		l.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	p.listener = l
	p.server = &http.Server{Handler: p, ReadHeaderTimeout: 30 * time.Second}
	go func() {
		if err := p.server.Serve(l); err != nil && err != http.ErrServerClosed {
			p.logger.WithError(err).Error("Credential proxy stopped")
		}
	}()
	p.logger.WithField("socket", path).Info("Credential proxy listening")
	return nil
}

// Close shuts the server down and removes its socket.
func (p *Proxy) Close(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	path := p.listener.Addr().String()
	err := p.server.Shutdown(ctx)
	_ = os.Remove(path)
	return err
}

func splitRoute(path string) (name, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	name, rest, _ = strings.Cut(trimmed, "/")
	return name, "/" + rest
}
