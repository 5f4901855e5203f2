// Package heygen provides a client for the HeyGen streaming avatar API.
package heygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://api.heygen.com"

// Response codes the API uses for success.
const (
	codeOK      = 0
	codeSuccess = 100
)

// Config represents HeyGen client configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client is a HeyGen streaming API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("heygen API error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// envelope is the common response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// New creates a new HeyGen client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("heygen API key is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// bearerClient returns an HTTP client that authenticates with a session token.
func (c *Client) bearerClient(token string) *http.Client {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = c.httpClient.Timeout
	return hc
}

// websocketURL converts the base URL into a websocket URL for the given path.
func (c *Client) websocketURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", errors.Wrap(err, "failed to build websocket URL")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// post sends a JSON POST request and decodes the envelope data into out.
func post(ctx context.Context, hc *http.Client, reqURL string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
			}
			return errors.Wrap(err, "failed to parse response")
		}
	}

	if resp.StatusCode >= http.StatusBadRequest || (env.Code != codeOK && env.Code != codeSuccess) {
		msg := env.Message
		if msg == "" && len(env.Error) > 0 && string(env.Error) != "null" {
			msg = string(env.Error)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: msg}
	}

	zlog.Debug().Msgf("heygen POST %s: status=%d", req.URL.Path, resp.StatusCode)

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(err, "failed to parse response data")
	}
	return nil
}
