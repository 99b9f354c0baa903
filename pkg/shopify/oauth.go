package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AccessTokenResponse is the result of a successful code exchange.
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// Shop is the subset of shop details used during onboarding.
type Shop struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Email  string `json:"email"`
}

var errNoAccessToken = errors.New("response carried no access_token")

// ExchangeCode trades a one-time authorization code for an offline access
// token. It is never retried: codes are single use.
func (c *Client) ExchangeCode(ctx context.Context, shop, code string) (*AccessTokenResponse, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     c.opts.APIKey,
		"client_secret": c.opts.APISecret,
		"code":          code,
	})
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(shop)+"/admin/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRemote("exchange_code", "error", start)
		return nil, &TokenExchangeError{Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveRemote("exchange_code", strconv.Itoa(resp.StatusCode), start)

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Token exchange rejected",
			zap.String("shop", shop),
			zap.Int("status", resp.StatusCode))
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: errorMessage(payload)}
	}

	var out AccessTokenResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Err: err}
	}
	if out.AccessToken == "" {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Err: errNoAccessToken}
	}
	return &out, nil
}

// ShopInfo fetches the shop's profile.
func (c *Client) ShopInfo(ctx context.Context, creds Credentials) (*Shop, error) {
	var out struct {
		Shop Shop `json:"shop"`
	}
	endpoint := c.adminURL(creds.ShopDomain, "/shop.json")
	if err := c.doJSON(ctx, "get_shop", http.MethodGet, endpoint, creds.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out.Shop, nil
}

// AuthorizationURL builds the install link a merchant follows to grant access.
func (c *Client) AuthorizationURL(shop, state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", c.opts.APIKey)
	q.Set("scope", c.opts.Scopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return "https://" + shop + "/admin/oauth/authorize?" + q.Encode()
}

// SanitizeShopDomain strips scheme, path and surrounding slashes.
func SanitizeShopDomain(shop string) string {
	shop = strings.TrimSpace(strings.ToLower(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	if i := strings.Index(shop, "/"); i >= 0 {
		shop = shop[:i]
	}
	return strings.Trim(shop, "/")
}

// ValidShopDomain reports whether shop is a bare *.myshopify.com host.
func ValidShopDomain(shop string) bool {
	const suffix = ".myshopify.com"
	if !strings.HasSuffix(shop, suffix) || len(shop) == len(suffix) {
		return false
	}
	name := strings.TrimSuffix(shop, suffix)
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}
