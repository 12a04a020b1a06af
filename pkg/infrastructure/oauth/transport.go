package oauth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that authenticates requests for one user.
// It refreshes proactively through Source and, on a 401, force-refreshes once and
// retries the request once.
type Transport struct {
	Source TokenSource
	UserID string
	// Threshold is the proactive refresh window for this call context.
	Threshold time.Duration

	// Base is the base RoundTripper used to make the actual HTTP requests.
	// If nil, http.DefaultTransport is used.
	Base   http.RoundTripper
	Logger *slog.Logger
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	ctx := req.Context()
	rec, err := t.Source.Token(ctx, t.UserID, t.Threshold)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("oauth: cannot get token: %w", err)
	}

	req2 := cloneRequest(req)
	req2.Header.Set("Authorization", "Bearer "+rec.AccessToken)

	resp, err := base.RoundTrip(req2)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || !replayable(req) {
		return resp, nil
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("Got 401 Unauthorized, attempting force refresh", "url", req.URL.Redacted())

	rec, err = t.Source.ForceRefresh(ctx, t.UserID)
	if err != nil {
		// Hand the original 401 back so the caller can classify it.
		logger.Warn("Force refresh failed", "error", err)
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	req3 := cloneRequest(req)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("oauth: replay body: %w", err)
		}
		req3.Body = body
	}
	req3.Header.Set("Authorization", "Bearer "+rec.AccessToken)
	return base.RoundTrip(req3)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

// cloneRequest returns a clone of the provided *http.Request.
// The clone is a shallow copy of the struct and its Header map.
func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header))
	for k, s := range r.Header {
		r2.Header[k] = append([]string(nil), s...)
	}
	return r2
}

// NewHTTPClient wraps base so every request carries the user's bearer token.
// base supplies the timeout and the underlying transport (proxy, dialer).
func NewHTTPClient(base *http.Client, source TokenSource, userID string, threshold time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &http.Client{
		Timeout: base.Timeout,
		Transport: &Transport{
			Source:    source,
			UserID:    userID,
			Threshold: threshold,
			Base:      base.Transport,
		},
	}
}
