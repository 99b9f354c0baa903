package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// lightweightFields is the projection used when only versions are compared.
const lightweightFields = "id,title,updated_at"

// FetchResult is everything a full walk collected. When a page fails the items
// gathered so far are kept, Partial is set and Err holds the failure.
type FetchResult struct {
	Items   []json.RawMessage
	Pages   int
	Partial bool
	Err     error
}

// ItemVersion is the lightweight view of a remote item.
type ItemVersion struct {
	ID        int64
	Title     string
	UpdatedAt *time.Time
}

type productsPage struct {
	Products []json.RawMessage `json:"products"`
}

type versionPayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

// Pages walks the catalog in since_id order, handing each page to fn as it
// arrives. Pages are paced by the configured delay; the walk stops at a short
// page, when the cursor stops advancing, or when fn returns an error.
func (c *Client) Pages(ctx context.Context, creds Credentials, fields string, fn func(page []json.RawMessage) error) (int, error) {
	limiter := c.pacer()

	var sinceID int64
	pages := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return pages, err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.opts.PageSize))
		q.Set("since_id", strconv.FormatInt(sinceID, 10))
		if fields != "" {
			q.Set("fields", fields)
		}

		var page productsPage
		endpoint := c.adminURL(creds.ShopDomain, "/products.json") + "?" + q.Encode()
		if err := c.doJSON(ctx, "list_products", http.MethodGet, endpoint, creds.AccessToken, nil, &page); err != nil {
			return pages, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		pages++

		if len(page.Products) > 0 {
			if err := fn(page.Products); err != nil {
				return pages, err
			}
		}

		next := maxID(page.Products)
		if len(page.Products) < c.opts.PageSize || next <= sinceID {
			return pages, nil
		}
		sinceID = next
	}
}

// FetchAll retrieves every item with its full payload.
func (c *Client) FetchAll(ctx context.Context, creds Credentials) *FetchResult {
	result := &FetchResult{}
	pages, err := c.Pages(ctx, creds, "", func(page []json.RawMessage) error {
		result.Items = append(result.Items, page...)
		return nil
	})
	result.Pages = pages
	if err != nil {
		result.Err = err
		result.Partial = true
		c.logger.Warn("Catalog fetch stopped early",
			zap.String("shop", creds.ShopDomain),
			zap.Int("pages", pages),
			zap.Int("items", len(result.Items)),
			zap.Error(err))
	}
	return result
}

// FetchLightweight retrieves id, title and updated_at for every item. Any
// page failure fails the whole fetch.
func (c *Client) FetchLightweight(ctx context.Context, creds Credentials) ([]ItemVersion, error) {
	var versions []ItemVersion
	_, err := c.Pages(ctx, creds, lightweightFields, func(page []json.RawMessage) error {
		for _, raw := range page {
			var v versionPayload
			if err := json.Unmarshal(raw, &v); err != nil || v.ID <= 0 {
				c.logger.Warn("Skipping unreadable item version", zap.String("shop", creds.ShopDomain))
				continue
			}
			versions = append(versions, ItemVersion{
				ID:        v.ID,
				Title:     v.Title,
				UpdatedAt: parseTime(v.UpdatedAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// FetchByIDs retrieves full payloads for ids, chunked by page size and paced
// like Pages. IDs the remote does not return are absent from the map.
func (c *Client) FetchByIDs(ctx context.Context, creds Credentials, ids []int64) (map[int64]json.RawMessage, error) {
	limiter := c.pacer()
	found := make(map[int64]json.RawMessage, len(ids))
	for start := 0; start < len(ids); start += c.opts.PageSize {
		if err := limiter.Wait(ctx); err != nil {
			return found, err
		}

		end := min(start+c.opts.PageSize, len(ids))
		parts := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			parts = append(parts, strconv.FormatInt(id, 10))
		}

		q := url.Values{}
		q.Set("ids", strings.Join(parts, ","))
		q.Set("limit", strconv.Itoa(c.opts.PageSize))

		var page productsPage
		endpoint := c.adminURL(creds.ShopDomain, "/products.json") + "?" + q.Encode()
		if err := c.doJSON(ctx, "get_products", http.MethodGet, endpoint, creds.AccessToken, nil, &page); err != nil {
			return found, err
		}
		for _, raw := range page.Products {
			if id := payloadID(raw); id > 0 {
				found[id] = raw
			}
		}
	}
	return found, nil
}

// pacer spaces successive catalog requests by PageDelay. The first request is
// never delayed.
func (c *Client) pacer() *rate.Limiter {
	if c.opts.PageDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(c.opts.PageDelay), 1)
}

func payloadID(raw json.RawMessage) int64 {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0
	}
	return p.ID
}

func maxID(page []json.RawMessage) int64 {
	var highest int64
	for _, raw := range page {
		if id := payloadID(raw); id > highest {
			highest = id
		}
	}
	return highest
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
