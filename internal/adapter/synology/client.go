package synology

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Client is a Synology Web API client with a lazily established session
type Client struct {
	baseURL        string
	username       string
	password       string
	httpClient     *http.Client
	downloadClient *http.Client

	sid   string
	sidMu sync.RWMutex

	apiInfo   map[string]APIEndpoint
	apiInfoMu sync.RWMutex
}

// ClientConfig contains connection settings
type ClientConfig struct {
	BaseURL       string
	Username      string
	Password      string
	SkipTLSVerify bool
	Timeout       time.Duration
}

// NewClient creates a new Synology API client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	downloadTransport := transport.Clone()
	downloadTransport.MaxIdleConnsPerHost = 50
	downloadTransport.DisableCompression = true
	downloadTransport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		// no overall timeout, bodies can be large
		downloadClient: &http.Client{
			Transport: downloadTransport,
		},
		apiInfo: make(map[string]APIEndpoint),
	}
}

// BaseURL returns the NAS address
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) getSID() string {
	c.sidMu.RLock()
	defer c.sidMu.RUnlock()
	return c.sid
}

func (c *Client) setSID(sid string) {
	c.sidMu.Lock()
	defer c.sidMu.Unlock()
	c.sid = sid
}

// IsLoggedIn returns true if the client has a session
func (c *Client) IsLoggedIn() bool {
	return c.getSID() != ""
}

func (c *Client) getAPIPath(ctx context.Context, apiName string) (string, int, error) {
	c.apiInfoMu.RLock()
	info, ok := c.apiInfo[apiName]
	c.apiInfoMu.RUnlock()

	if !ok {
		if err := c.QueryAPIInfo(ctx, apiName); err != nil {
			return "", 0, err
		}

		c.apiInfoMu.RLock()
		info, ok = c.apiInfo[apiName]
		c.apiInfoMu.RUnlock()
		if !ok {
			return "", 0, &APIError{Code: CodeNoSuchAPI, Detail: fmt.Sprintf("synology: api %s not found", apiName)}
		}
	}

	return info.Path, info.MaxVersion, nil
}

func (c *Client) buildURL(path string, params url.Values) string {
	if sid := c.getSID(); sid != "" {
		params.Set("_sid", sid)
	}
	return fmt.Sprintf("%s/webapi/%s?%s", c.baseURL, path, params.Encode())
}

func (c *Client) get(ctx context.Context, client *http.Client, urlStr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// call performs an API request and decodes the envelope
func (c *Client) call(ctx context.Context, urlStr string) (*Response, error) {
	resp, err := c.get(ctx, c.httpClient, urlStr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return decodeResponse(resp.Body)
}

func decodeResponse(r io.Reader) (*Response, error) {
	var apiResp Response
	if err := json.NewDecoder(r).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !apiResp.Success {
		code := 0
		if apiResp.Error != nil {
			code = apiResp.Error.Code
		}
		return nil, &APIError{Code: code}
	}

	return &apiResp, nil
}

// callWithLogin logs in when needed and retries once on session errors
func (c *Client) callWithLogin(ctx context.Context, path string, params url.Values) (*Response, error) {
	if !c.IsLoggedIn() {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.call(ctx, c.buildURL(path, params))
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.sessionExpired() {
		if loginErr := c.Login(ctx); loginErr != nil {
			return nil, fmt.Errorf("session expired and re-login failed: %w", loginErr)
		}
		return c.call(ctx, c.buildURL(path, params))
	}
	return resp, err
}

// QueryAPIInfo queries and caches API paths
func (c *Client) QueryAPIInfo(ctx context.Context, apis ...string) error {
	query := "all"
	if len(apis) > 0 {
		query = strings.Join(apis, ",")
	}

	params := url.Values{
		"api":     {"SYNO.API.Info"},
		"version": {"1"},
		"method":  {"query"},
		"query":   {query},
	}

	resp, err := c.call(ctx, fmt.Sprintf("%s/webapi/%s?%s", c.baseURL, apiInfoPath, params.Encode()))
	if err != nil {
		return fmt.Errorf("api info query failed: %w", err)
	}

	var data map[string]APIEndpoint
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("failed to decode api info response: %w", err)
	}

	c.apiInfoMu.Lock()
	for name, info := range data {
		c.apiInfo[name] = info
	}
	c.apiInfoMu.Unlock()

	return nil
}

// Login authenticates with the NAS
func (c *Client) Login(ctx context.Context) error {
	params := url.Values{
		"api":     {"SYNO.API.Auth"},
		"version": {"3"},
		"method":  {"login"},
		"account": {c.username},
		"passwd":  {c.password},
		"session": {sessionName},
		"format":  {"sid"},
	}

	resp, err := c.call(ctx, fmt.Sprintf("%s/webapi/%s?%s", c.baseURL, authPath, params.Encode()))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	var data struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}

	c.setSID(data.SID)
	return nil
}

// Logout terminates the current session
func (c *Client) Logout(ctx context.Context) error {
	if !c.IsLoggedIn() {
		return nil
	}

	params := url.Values{
		"api":     {"SYNO.API.Auth"},
		"version": {"1"},
		"method":  {"logout"},
		"session": {sessionName},
	}

	_, err := c.call(ctx, c.buildURL(authPath, params))
	c.setSID("")
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}
