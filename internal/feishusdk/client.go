package feishusdk

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deviceops/categorysync/internal/config"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkauth "github.com/larksuite/oapi-sdk-go/v3/service/auth/v3"
	"github.com/pkg/errors"
)

const (
	defaultBaseURL      = "https://open.feishu.cn"
	defaultHTTPTimeout  = 60 * time.Second
	tokenExpiryFallback = 60 * time.Minute
)

// Client wraps the Feishu spreadsheet APIs used by the sheet-driven source.
type Client struct {
	appID     string
	appSecret string

	baseURL    string
	larkClient *lark.Client
	httpClient *http.Client

	coreConfigOnce sync.Once
	coreConfig     *larkcore.Config
	coreConfigErr  error

	// used for mock test
	doSDKRequestFunc func(ctx context.Context, req *larkcore.ApiReq, cfg *larkcore.Config, options ...larkcore.RequestOptionFunc) (*larkcore.ApiResp, error)

	tokenMu       sync.Mutex
	tenantToken   string
	tokenExpireAt time.Time
}

// NewClientFromEnv constructs a Client using environment variables.
//
// Required variables:
//   - FEISHU_APP_ID
//   - FEISHU_APP_SECRET
//
// Optional variables:
//   - FEISHU_BASE_URL (defaults to https://open.feishu.cn)
func NewClientFromEnv() (*Client, error) {
	appID := config.String("FEISHU_APP_ID", "")
	appSecret := config.String("FEISHU_APP_SECRET", "")
	baseURL := config.String("FEISHU_BASE_URL", "")

	if appID == "" || appSecret == "" {
		return nil, errors.New("feishu: FEISHU_APP_ID and FEISHU_APP_SECRET must be set in environment")
	}

	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelError),
	}
	if baseURL != lark.FeishuBaseUrl {
		opts = append(opts, lark.WithOpenBaseUrl(baseURL))
	}

	return &Client{
		appID:      appID,
		appSecret:  appSecret,
		baseURL:    baseURL,
		larkClient: lark.NewClient(appID, appSecret, opts...),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// getTenantAccessToken retrieves (and caches) a tenant_access_token.
func (c *Client) getTenantAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.tenantToken != "" && time.Now().Before(c.tokenExpireAt.Add(-30*time.Second)) {
		return c.tenantToken, nil
	}

	body := larkauth.NewInternalTenantAccessTokenReqBodyBuilder().
		AppId(c.appID).
		AppSecret(c.appSecret).
		Build()

	req := larkauth.NewInternalTenantAccessTokenReqBuilder().
		Body(body).
		Build()

	resp, err := c.larkClient.Auth.V3.TenantAccessToken.Internal(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "feishu: request tenant access token failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return "", errors.New("feishu: empty response when fetching tenant access token")
	}

	var parsed struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.Unmarshal(resp.ApiResp.RawBody, &parsed); err != nil {
		return "", errors.Wrap(err, "feishu: decode tenant access token response")
	}
	if parsed.Code != 0 {
		return "", errors.Errorf("feishu: tenant access token error code=%d msg=%s", parsed.Code, parsed.Msg)
	}
	if parsed.TenantAccessToken == "" {
		return "", errors.New("feishu: tenant access token missing in response")
	}

	ttl := time.Duration(parsed.Expire) * time.Second
	if ttl <= 0 {
		ttl = tokenExpiryFallback
	}

	c.tenantToken = parsed.TenantAccessToken
	c.tokenExpireAt = time.Now().Add(ttl)

	return c.tenantToken, nil
}

func (c *Client) sdkCoreConfig() (*larkcore.Config, error) {
	if c == nil {
		return nil, errors.New("feishu: client is nil")
	}
	c.coreConfigOnce.Do(func() {
		if strings.TrimSpace(c.appID) == "" || strings.TrimSpace(c.appSecret) == "" {
			c.coreConfigErr = errors.New("feishu: app credentials are missing")
			return
		}
		cfg := &larkcore.Config{
			BaseUrl:    c.baseURL,
			AppId:      c.appID,
			AppSecret:  c.appSecret,
			ReqTimeout: defaultHTTPTimeout,
			LogLevel:   larkcore.LogLevelError,
			AppType:    larkcore.AppTypeSelfBuilt,
			HttpClient: c.httpClient,
		}
		larkcore.NewLogger(cfg)
		larkcore.NewHttpClient(cfg)
		larkcore.NewSerialization(cfg)
		c.coreConfig = cfg
	})
	if c.coreConfigErr != nil {
		return nil, c.coreConfigErr
	}
	if c.coreConfig == nil {
		return nil, errors.New("feishu: sdk core config is nil")
	}
	return c.coreConfig, nil
}

func (c *Client) doSDKOpenAPIRequest(ctx context.Context, req *larkcore.ApiReq, options ...larkcore.RequestOptionFunc) (*larkcore.ApiResp, error) {
	if c == nil {
		return nil, errors.New("feishu: client is nil")
	}
	if req == nil {
		return nil, errors.New("feishu: openapi request is nil")
	}
	cfg, err := c.sdkCoreConfig()
	if err != nil {
		return nil, err
	}
	if c.doSDKRequestFunc != nil {
		return c.doSDKRequestFunc(ctx, req, cfg, options...)
	}
	return larkcore.Request(ctx, req, cfg, options...)
}

func (c *Client) tenantRequestOptions(token string) []larkcore.RequestOptionFunc {
	return []larkcore.RequestOptionFunc{larkcore.WithTenantAccessToken(token)}
}
