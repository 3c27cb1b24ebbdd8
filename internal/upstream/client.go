// Package upstream implements the two HTTPS calls this server makes against
// Sentry's OAuth token endpoint: authorization-code exchange and
// refresh-token exchange. The transport construction follows
// connector/oauth/oauth.go's newHTTPClient pattern (explicit timeouts,
// a dedicated http.Client rather than http.DefaultClient); the disjoint
// error-union return keeps a failed call from ever producing both a
// response and an error.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getsentry/sentry-mcp-oauth/internal/telemetry"
)

const (
	defaultHost    = "sentry.io"
	userAgent      = "sentry-mcp-oauth/1.0"
	requestTimeout = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	// Host is the upstream authority, e.g. "sentry.io". Defaults to
	// defaultHost when empty.
	Host       string
	HTTPClient *http.Client
	// Metrics, if non-nil, receives counts of the alert-worthy upstream
	// failures (5xx, parse failure).
	Metrics *telemetry.Metrics
}

// Client calls Sentry's OAuth token endpoint.
type Client struct {
	clientID     string
	clientSecret string
	host         string
	httpClient   *http.Client
	metrics      *telemetry.Metrics
}

// New builds a Client from cfg, filling in a timeout-bounded default
// http.Client and host when unset.
func New(cfg Config) *Client {
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          50,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}
	return &Client{clientID: cfg.ClientID, clientSecret: cfg.ClientSecret, host: host, httpClient: httpClient, metrics: cfg.Metrics}
}

func (c *Client) tokenURL() string {
	return "https://" + c.host + "/oauth/token/"
}

// ExchangeCodeForAccessToken sends grant_type=authorization_code to the
// upstream token endpoint.
func (c *Client) ExchangeCodeForAccessToken(ctx context.Context, code, redirectURI string) Result {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	return c.do(ctx, form)
}

// RefreshAccessToken sends grant_type=refresh_token to the upstream token
// endpoint.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) Result {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
	}
	return c.do(ctx, form)
}

func (c *Client) do(ctx context.Context, form url.Values) Result {
	correlationID := uuid.NewString()
	issuedAt := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return Result{Err: c.operatorFacing(correlationID, fmt.Sprintf("build upstream request: %v", err))}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Err: c.operatorFacing(correlationID, fmt.Sprintf("upstream request failed: %v", err))}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Err: c.operatorFacing(correlationID, fmt.Sprintf("read upstream response: %v", err))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return Result{Err: c.operatorFacing(correlationID, fmt.Sprintf("upstream returned %d", resp.StatusCode))}
		}
		return Result{Err: newUserFacing(correlationID, fmt.Sprintf("upstream rejected the request (%d)", resp.StatusCode))}
	}

	var parsed TokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		if c.metrics != nil {
			c.metrics.UpstreamParseFailures.Inc()
		}
		return Result{Err: newOperatorFacing(correlationID, "upstream response did not match the expected token schema")}
	}
	if parsed.ExpiresIn > 0 {
		parsed.AccessTokenExpiresAt = issuedAt.Add(time.Duration(parsed.ExpiresIn) * time.Second).Unix()
	}

	return Result{Response: &parsed}
}

func (c *Client) operatorFacing(correlationID, msg string) *UpstreamError {
	if c.metrics != nil {
		c.metrics.UpstreamServerErrors.Inc()
	}
	return newOperatorFacing(correlationID, msg)
}
