package mdm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deviceops/categorysync/internal/config"
	"github.com/pkg/errors"
)

const (
	defaultHTTPTimeout  = 60 * time.Second
	tokenExpiryFallback = 30 * time.Minute
	tokenPath           = "/api/oauth/token"
)

// Client wraps the device-management platform REST API.
//
// A single Client carries the authenticated session for the whole run; it is
// constructed once and passed to every component instead of re-authenticating
// per call.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string

	httpClient *http.Client

	// used for mock test
	doJSONRequestFunc func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error)

	tokenMu       sync.Mutex
	accessToken   string
	tokenExpireAt time.Time
}

// NewClientFromEnv constructs a Client using environment variables.
//
// Required variables:
//   - MDM_BASE_URL
//   - MDM_CLIENT_ID
//   - MDM_CLIENT_SECRET
//
// Optional variables:
//   - MDM_HTTP_TIMEOUT (Go duration, defaults to 60s)
func NewClientFromEnv() (*Client, error) {
	baseURL := config.String("MDM_BASE_URL", "")
	clientID := config.String("MDM_CLIENT_ID", "")
	clientSecret := config.String("MDM_CLIENT_SECRET", "")
	timeout := config.Duration("MDM_HTTP_TIMEOUT", defaultHTTPTimeout)

	if baseURL == "" {
		return nil, errors.New("mdm: MDM_BASE_URL must be set in environment")
	}
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("mdm: MDM_CLIENT_ID and MDM_CLIENT_SECRET must be set in environment")
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// getAccessToken retrieves (and caches) an access token for API calls.
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpireAt.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	payload := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "mdm: marshal token request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(raw))
	if err != nil {
		return "", errors.Wrap(err, "mdm: build token request")
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "mdm: request access token")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "mdm: read token response")
	}
	if resp.StatusCode >= 400 {
		return "", errors.Errorf("mdm: token http %d response: %s", resp.StatusCode, strings.TrimSpace(string(rawBody)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", errors.Wrap(err, "mdm: decode token response")
	}
	if parsed.AccessToken == "" {
		return "", errors.New("mdm: access token missing in response")
	}

	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = tokenExpiryFallback
	}

	c.accessToken = parsed.AccessToken
	c.tokenExpireAt = time.Now().Add(ttl)

	return c.accessToken, nil
}

func (c *Client) doJSONRequest(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
	if c.doJSONRequestFunc != nil {
		return c.doJSONRequestFunc(ctx, method, path, payload)
	}
	return c.doJSONRequestInternal(ctx, method, path, payload)
}

func (c *Client) doJSONRequestInternal(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	var req *http.Request
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, errors.Wrap(err, "mdm: marshal request payload")
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return nil, nil, errors.Wrap(err, "mdm: build request")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, "mdm: build request")
		}
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mdm: execute request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, errors.Wrap(err, "mdm: read response")
	}

	if resp.StatusCode >= 400 {
		return resp, rawBody, errors.Errorf("mdm: http %d response: %s", resp.StatusCode, strings.TrimSpace(string(rawBody)))
	}

	return resp, rawBody, nil
}

func decodeEnvelope(raw []byte, out any) error {
	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.Wrap(err, "mdm: decode response envelope")
	}
	if envelope.Code != 0 {
		return errors.Errorf("mdm: api error code=%d msg=%s", envelope.Code, envelope.Msg)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.Wrap(err, "mdm: decode response data")
	}
	return nil
}
