package bridge

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Response headers recomputed by the local server.
var reframedFetchHeaders = map[string]bool{
	"content-encoding":  true,
	"transfer-encoding": true,
	"content-length":    true,
	"connection":        true,
}

// FetchProxy is a plain HTTP proxy for use inside a workspace. Each request
// is framed onto the host bridge as a proxy_fetch; absolute-form targets are
// used as is and origin-form ones are sent to https://Host.
type FetchProxy struct {
	Socket string
	Logger *logrus.Entry
}

func (p *FetchProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.String()
	if !r.URL.IsAbs() {
		target = "https://" + r.Host + r.URL.RequestURI()
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxFetchBody))
	if err != nil {
		http.Error(w, "read request body: "+err.Error(), http.StatusBadGateway)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}

	ctx, cancel := context.WithTimeout(r.Context(), FetchTimeout)
	defer cancel()
	resp, err := Fetch(ctx, p.Socket, Request{
		URL:     target,
		Method:  r.Method,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		if p.Logger != nil {
			p.Logger.WithError(err).WithField("method", r.Method).Warn("Fetch through host bridge failed")
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	for k, v := range resp.Headers {
		if !reframedFetchHeaders[strings.ToLower(k)] {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
