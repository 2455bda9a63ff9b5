// Package beacon reads the raw position table from the Beacon RPC proxy.
package beacon

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultAPIURL  = "/r/apps/wmp-proxy"
	defaultTimeout = 60 * time.Second
	renewMargin    = 60 * time.Second
	maxErrorBody   = 512
)

// Config locates the credentials and the proxy endpoint.
type Config struct {
	SecretsDir         string
	TokenFile          string
	ClientIDFile       string
	APIURL             string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Client issues authenticated requests against the Beacon proxy. The bearer
// token is renewed shortly before it expires.
type Client struct {
	http      *http.Client
	domainURL string
	apiURL    string
	login     loginToken
	client    clientCredentials
	now       func() time.Time

	mu        sync.Mutex
	authToken string
	expiry    time.Time
}

func NewClient(cfg Config) (*Client, error) {
	login, client, err := loadCredentials(cfg.SecretsDir, cfg.TokenFile, cfg.ClientIDFile)
	if err != nil {
		return nil, err
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		http:      &http.Client{Timeout: timeout, Transport: transport},
		domainURL: login.URL,
		apiURL:    apiURL,
		login:     login,
		client:    client,
		now:       time.Now,
	}, nil
}

// DomainURL is the base URL taken from the login token.
func (c *Client) DomainURL() string {
	return c.domainURL
}

// GetRPC calls <domain><api_url>/rpc/<function> and returns the raw body.
func (c *Client) GetRPC(ctx context.Context, function string, params url.Values) ([]byte, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := c.endpoint("rpc/" + strings.TrimLeft(function, "/"))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req)
}

func (c *Client) endpoint(command string) string {
	base := c.apiURL
	if !strings.HasPrefix(base, c.domainURL) {
		base = c.domainURL + "/" + strings.TrimLeft(base, "/")
	}
	return strings.TrimRight(base, "/") + "/" + command
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authToken != "" && c.now().Add(renewMargin).Before(c.expiry) {
		return c.authToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.domainURL+"/login/authtoken", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Token %s,%s,%s,%s",
		c.login.TokenID, c.login.TokenSecret, c.client.ClientID, c.client.ClientSecret))
	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("request auth token: %w", err)
	}
	token := strings.TrimSpace(string(body))
	expiry, err := tokenExpiry(token)
	if err != nil {
		return "", err
	}
	c.authToken = token
	c.expiry = expiry
	return token, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// StatusError is returned for non-2xx proxy responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("beacon responded %d: %s", e.Code, e.Body)
}

// tokenExpiry reads the exp claim of a JWT without verifying it.
func tokenExpiry(token string) (time.Time, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) < 2 {
		return time.Time{}, errors.New("auth token is not a jwt")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, fmt.Errorf("decode auth token payload: %w", err)
	}
	var claims struct {
		Exp float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("decode auth token claims: %w", err)
	}
	return time.Unix(int64(claims.Exp), 0), nil
}
