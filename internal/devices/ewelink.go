// ABOUTME: eWeLink v2 open API client implementing Provider
// ABOUTME: Refreshes OAuth tokens via x/oauth2 and throttles requests with x/time/rate

package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/2389/ewelink-gateway/internal/store"
)

const (
	itemTypeDevice = 1

	// errCodeDeviceMissing is returned for unknown or unshared devices.
	errCodeDeviceMissing = 4002

	maxResponseSize = 4 << 20
)

// TokenSaver persists refreshed tokens.
type TokenSaver interface {
	SaveDeviceCredential(ctx context.Context, c *store.DeviceCredential) error
}

// ClientConfig configures the eWeLink client.
type ClientConfig struct {
	AppID     string
	AppSecret string
	// Region selects https://{region}-apia.coolkit.cc unless BaseURL is set.
	Region  string
	BaseURL string
	// TokenURL enables refresh-token exchange when set.
	TokenURL string

	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables
	RateBurst int

	HTTPClient *http.Client
	Tokens     TokenSaver
	Logger     *slog.Logger
}

// Client talks to the eWeLink cloud.
type Client struct {
	http    *http.Client
	appID   string
	region  string
	baseURL string
	oauth   *oauth2.Config
	limiter *rate.Limiter
	tokens  TokenSaver
	logger  *slog.Logger
}

var _ Provider = (*Client)(nil)

// RegionBaseURL returns the API host for a region.
func RegionBaseURL(region string) string {
	if region == "cn" {
		return "https://cn-apia.coolkit.cn"
	}
	return "https://" + region + "-apia.coolkit.cc"
}

// NewClient creates an eWeLink client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AppID == "" {
		return nil, errors.New("eWeLink app id is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	region := cfg.Region
	if region == "" {
		region = "us"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = RegionBaseURL(region)
	}

	c := &Client{
		http:    httpClient,
		appID:   cfg.AppID,
		region:  region,
		baseURL: baseURL,
		tokens:  cfg.Tokens,
		logger:  logger.With("component", "ewelink"),
	}

	if cfg.TokenURL != "" {
		c.oauth = &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c, nil
}

// envelope is the response wrapper used by every v2 endpoint.
type envelope struct {
	Error int             `json:"error"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

type thingItem struct {
	ItemType int `json:"itemType"`
	ItemData struct {
		DeviceID     string         `json:"deviceid"`
		Name         string         `json:"name"`
		BrandName    string         `json:"brandName"`
		ProductModel string         `json:"productModel"`
		Online       bool           `json:"online"`
		Params       map[string]any `json:"params"`
		Family       struct {
			FamilyID string `json:"familyid"`
		} `json:"family"`
	} `json:"itemData"`
}

type thingList struct {
	ThingList []thingItem `json:"thingList"`
	Total     int         `json:"total"`
}

func (t thingItem) device() Device {
	return Device{
		ID:       t.ItemData.DeviceID,
		Name:     t.ItemData.Name,
		Brand:    t.ItemData.BrandName,
		Model:    t.ItemData.ProductModel,
		Online:   t.ItemData.Online,
		FamilyID: t.ItemData.Family.FamilyID,
		Params:   t.ItemData.Params,
	}
}

// ListDevices returns every device the credential can see.
func (c *Client) ListDevices(ctx context.Context, cred *store.DeviceCredential) ([]Device, error) {
	var out thingList
	if err := c.do(ctx, cred, http.MethodGet, "/v2/device/thing", url.Values{"num": {"0"}}, nil, &out); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(out.ThingList))
	for _, item := range out.ThingList {
		if item.ItemType != itemTypeDevice {
			continue
		}
		devices = append(devices, item.device())
	}
	return devices, nil
}

// GetDevice returns one device.
func (c *Client) GetDevice(ctx context.Context, cred *store.DeviceCredential, id string) (*Device, error) {
	body := map[string]any{
		"thingList": []map[string]any{{"itemType": itemTypeDevice, "id": id}},
	}

	var out thingList
	if err := c.do(ctx, cred, http.MethodPost, "/v2/device/thing", nil, body, &out); err != nil {
		return nil, err
	}
	if len(out.ThingList) == 0 {
		return nil, ErrDeviceNotFound
	}
	d := out.ThingList[0].device()
	return &d, nil
}

// GetStatus returns the device's current parameters.
func (c *Client) GetStatus(ctx context.Context, cred *store.DeviceCredential, id string) (map[string]any, error) {
	query := url.Values{"type": {fmt.Sprint(itemTypeDevice)}, "id": {id}}

	var out struct {
		Params map[string]any `json:"params"`
	}
	if err := c.do(ctx, cred, http.MethodGet, "/v2/device/thing/status", query, nil, &out); err != nil {
		return nil, err
	}
	if out.Params == nil {
		out.Params = map[string]any{}
	}
	return out.Params, nil
}

// Control updates device parameters, e.g. {"switch": "on"}.
func (c *Client) Control(ctx context.Context, cred *store.DeviceCredential, id string, params map[string]any) error {
	if len(params) == 0 {
		return errors.New("params must not be empty")
	}
	body := map[string]any{
		"type":   itemTypeDevice,
		"id":     id,
		"params": params,
	}
	return c.do(ctx, cred, http.MethodPost, "/v2/device/thing/status", nil, body, nil)
}

func (c *Client) do(ctx context.Context, cred *store.DeviceCredential, method, path string, query url.Values, body, out any) error {
	if cred == nil {
		return ErrNotLinked
	}

	token, err := c.accessToken(ctx, cred)
	if err != nil {
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	base := c.baseURL
	if cred.Region != "" && cred.Region != c.region && base == RegionBaseURL(c.region) {
		base = RegionBaseURL(cred.Region)
	}
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CK-Appid", c.appID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling eWeLink %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading eWeLink response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("eWeLink %s returned HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding eWeLink response: %w", err)
	}
	if env.Error != 0 {
		if env.Error == errCodeDeviceMissing {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, env.Msg)
		}
		return &APIError{Code: env.Error, Message: env.Msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding eWeLink data: %w", err)
		}
	}
	return nil
}

// accessToken returns a usable access token, refreshing and persisting it
// when the credential has expired and a token endpoint is configured.
func (c *Client) accessToken(ctx context.Context, cred *store.DeviceCredential) (string, error) {
	current := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
	}

	if c.oauth == nil || current.Valid() {
		if cred.AccessToken == "" {
			return "", ErrNotLinked
		}
		return cred.AccessToken, nil
	}

	refreshed, err := c.oauth.TokenSource(ctx, current).Token()
	if err != nil {
		return "", fmt.Errorf("refreshing eWeLink token: %w", err)
	}

	if refreshed.AccessToken != cred.AccessToken {
		updated := *cred
		updated.AccessToken = refreshed.AccessToken
		if refreshed.RefreshToken != "" {
			updated.RefreshToken = refreshed.RefreshToken
		}
		updated.Expiry = refreshed.Expiry

		if c.tokens != nil {
			if err := c.tokens.SaveDeviceCredential(ctx, &updated); err != nil {
				c.logger.Warn("failed to persist refreshed token", "principal_id", cred.PrincipalID, "error", err)
			}
		}
		c.logger.Debug("refreshed eWeLink token", "principal_id", cred.PrincipalID)
	}
	return refreshed.AccessToken, nil
}
