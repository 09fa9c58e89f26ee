package credproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/grovetools/airlock/config"
	"github.com/grovetools/airlock/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProviders(target string) []Provider {
	var out []Provider
	for _, p := range Builtin() {
		p.Target = target
		out = append(out, p)
	}
	return out
}

func realKeys(key string) string {
	return map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-real",
		"OPENAI_API_KEY":    "sk-openai-real",
		"GOOGLE_API_KEY":    "g-real",
	}[key]
}

func TestProxyInjectsRealKey(t *testing.T) {
	var got *http.Request
	var body string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	p := New(Options{Providers: testProviders(upstream.URL), Lookup: realKeys})

	tests := []struct {
		route      string
		inHeader   string
		outHeader  string
		wantHeader string
	}{
		{"/anthropic/v1/messages", "x-api-key", "x-api-key", "sk-ant-real"},
		{"/openai/v1/chat/completions", "Authorization", "Authorization", "Bearer sk-openai-real"},
		{"/google/v1beta/models", "x-goog-api-key", "x-goog-api-key", "g-real"},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.route+"?stream=false", strings.NewReader(`{"q":1}`))
			req.Header.Set(tt.inHeader, "sk-airlock-ghost-x")
			req.Header.Set("Connection", "keep-alive")
			req.Header.Set("X-Custom", "kept")
			rec := httptest.NewRecorder()

			p.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, `{"ok":true}`, rec.Body.String())
			assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
			assert.Empty(t, rec.Header().Get("Content-Length"))

			require.NotNil(t, got)
			assert.Equal(t, tt.wantHeader, got.Header.Get(tt.outHeader))
			assert.Equal(t, "kept", got.Header.Get("X-Custom"))
			assert.Equal(t, "stream=false", got.URL.RawQuery)
			assert.Equal(t, `{"q":1}`, body)
			assert.Equal(t, strings.SplitN(tt.route, "/", 3)[2], strings.TrimPrefix(got.URL.Path, "/"))
			for _, values := range got.Header {
				for _, v := range values {
					assert.NotContains(t, v, "ghost")
				}
			}
		})
	}
}

func TestProxyUnknownProvider(t *testing.T) {
	p := New(Options{Providers: Builtin(), Lookup: realKeys})
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/evil/steal", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyMissingHostKey(t *testing.T) {
	p := New(Options{Providers: Builtin(), Lookup: func(string) string { return "" }})
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openai/v1/models", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProxyUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	p := New(Options{Providers: testProviders(url), Lookup: realKeys})
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anthropic/v1/models", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxyStreamsEvents(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: first\n\n")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: second\n\n")
	}))
	defer upstream.Close()

	front := httptest.NewServer(New(Options{Providers: testProviders(upstream.URL), Lookup: realKeys}))
	defer front.Close()

	resp, err := http.Get(front.URL + "/anthropic/v1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	defer close(release)

	buf := make([]byte, len("data: first\n\n"))
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(resp.Body, buf)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, "data: first\n\n", string(buf))
	case <-time.After(3 * time.Second):
		t.Fatal("first event was not flushed")
	}
}

func TestProxyListenUnix(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Header.Get("x-api-key"))
	}))
	defer upstream.Close()

	sock := testutil.SocketPath(t, "proxy.sock")
	p := New(Options{Providers: testProviders(upstream.URL), Lookup: realKeys})
	require.NoError(t, p.ListenUnix(sock, 0o666))
	defer p.Close(context.Background())

	info, err := os.Stat(sock)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), info.Mode().Perm())

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", sock)
		},
	}}
	resp, err := client.Get("http://airlock/anthropic/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "sk-ant-real", string(b))
}

func TestResolveOverrides(t *testing.T) {
	providers := Resolve([]config.ProviderConfig{
		{Name: "openai", Target: "https://gateway.internal/openai"},
		{Name: "groq", Target: "https://api.groq.com/openai/v1", KeyEnv: "GROQ_API_KEY", Header: "Authorization", HeaderFormat: "Bearer %s", BaseURLEnv: "GROQ_BASE_URL"},
	})

	names := make([]string, 0, len(providers))
	byName := make(map[string]Provider)
	for _, p := range providers {
		names = append(names, p.Name)
		byName[p.Name] = p
	}
	assert.Equal(t, []string{"anthropic", "google", "groq", "openai"}, names)
	assert.Equal(t, "https://gateway.internal/openai", byName["openai"].Target)
	assert.Equal(t, "Bearer %s", byName["openai"].HeaderFormat)
	assert.Equal(t, "GROQ_BASE_URL", byName["groq"].BaseURLEnv)
}
