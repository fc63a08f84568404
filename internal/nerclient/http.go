package nerclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 10 << 20

// HTTPCaller posts text to a plain JSON NER endpoint.
type HTTPCaller struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	tokenCfg   *clientcredentials.Config
	tokenCtx   context.Context
}

// HTTPOption configures an HTTPCaller.
type HTTPOption func(*HTTPCaller)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPCaller) { h.httpClient = c }
}

// WithTimeout bounds each call. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPCaller) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithOAuth2 authenticates calls with client-credentials tokens. ctx
// scopes the token source and should live as long as the caller.
func WithOAuth2(ctx context.Context, o OAuth2) HTTPOption {
	if ctx == nil {
		ctx = context.Background()
	}
	return func(h *HTTPCaller) {
		h.tokenCtx = ctx
		h.tokenCfg = &clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
		}
	}
}

// NewHTTP returns a caller for the endpoint at url.
func NewHTTP(url string, opts ...HTTPOption) (*HTTPCaller, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("ner endpoint url is required")
	}
	h := &HTTPCaller{url: url, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(h)
	}
	if h.httpClient == nil {
		h.httpClient = &http.Client{}
	}
	if h.tokenCfg != nil {
		// Token fetches go through the configured client too.
		ctx := context.WithValue(h.tokenCtx, oauth2.HTTPClient, h.httpClient)
		h.httpClient = h.tokenCfg.Client(ctx)
	}
	c := *h.httpClient
	c.Timeout = h.timeout
	h.httpClient = &c
	return h, nil
}

// URL returns the endpoint address.
func (h *HTTPCaller) URL() string { return h.url }

// Call implements Caller.
func (h *HTTPCaller) Call(ctx context.Context, text string, extra map[string]string) (map[string]string, error) {
	body, err := requestBody(text, extra)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UnreachableError{Endpoint: h.url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UnreachableError{Endpoint: h.url, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: h.url, Code: resp.StatusCode, Message: snippet(respBody)}
	}

	entities, err := decodeEntities(respBody)
	if err != nil {
		return nil, &ProtocolError{Endpoint: h.url, Err: err}
	}
	return entities, nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
