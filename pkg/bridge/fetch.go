package bridge

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grovetools/airlock/errors"
	"github.com/grovetools/airlock/pkg/policy"
	"github.com/sirupsen/logrus"
)

const (
	// FetchTimeout bounds one outbound fetch.
	FetchTimeout = 60 * time.Second
	// MaxFetchBody caps the response body relayed back to the caller.
	MaxFetchBody = 32 << 20
)

// Request headers the bridge does not forward. Accept-Encoding is left to
// the HTTP client so bodies come back decoded.
var droppedFetchHeaders = map[string]bool{
	"connection":          true,
	"proxy-connection":    true,
	"keep-alive":          true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
	"accept-encoding":     true,
}

func newFetchClient(domains []string) *http.Client {
	return &http.Client{
		Timeout: FetchTimeout,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.FetchRejected(r.URL.Redacted(), "too many redirects")
			}
			if !policy.AllowsHost(domains, r.URL.Host) {
				return errors.FetchRejected(r.URL.Redacted(), "redirect to '"+r.URL.Hostname()+"' is not allowed")
			}
			return nil
		},
	}
}

// fetch performs a proxy_fetch request and writes one response or error
// frame.
func (s *Server) fetch(ctx context.Context, fw *frameWriter, req Request) {
	u, err := s.validateFetch(req)
	logger := s.logger.WithField("method", req.Method)
	if u != nil {
		logger = logger.WithField("url", u.Redacted())
	}
	if err != nil {
		logger.WithError(err).Warn("Host bridge rejected fetch")
		_ = fw.write(Frame{Type: FrameError, Message: err.Error()})
		return
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		_ = fw.write(Frame{Type: FrameError, Message: errors.FetchRejected(u.Redacted(), err.Error()).Error()})
		return
	}
	for k, v := range req.Headers {
		if !droppedFetchHeaders[strings.ToLower(k)] {
			out.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := s.opts.HTTPClient.Do(out)
	if err != nil {
		logger.WithError(err).Warn("Host bridge fetch failed")
		_ = fw.write(Frame{Type: FrameError, Message: "fetch " + u.Host + ": " + err.Error()})
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBody+1))
	if err != nil {
		_ = fw.write(Frame{Type: FrameError, Message: "read response from " + u.Host + ": " + err.Error()})
		return
	}
	if len(data) > MaxFetchBody {
		_ = fw.write(Frame{Type: FrameError, Message: "response from " + u.Host + " exceeds the size limit"})
		return
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}

	logger.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	}).Info("Host bridge fetch finished")
	_ = fw.write(Frame{Type: FrameResponse, Status: resp.StatusCode, Headers: headers, Body: data})
}

func (s *Server) validateFetch(req Request) (*url.URL, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return nil, errors.FetchRejected("", "invalid url")
	}
	target := u.Redacted()
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.FetchRejected(target, "unsupported scheme '"+u.Scheme+"'")
	}
	if u.User != nil {
		return nil, errors.FetchRejected(target, "credentials in url")
	}
	if !policy.AllowsHost(s.opts.FetchDomains, u.Host) {
		return nil, errors.FetchRejected(target, "host '"+u.Hostname()+"' is not allowed")
	}
	return u, nil
}
