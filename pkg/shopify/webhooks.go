package shopify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// Webhook is a remote webhook subscription.
type Webhook struct {
	ID      int64  `json:"id,omitempty"`
	Topic   string `json:"topic"`
	Address string `json:"address"`
	Format  string `json:"format,omitempty"`
}

type webhookEnvelope struct {
	Webhook Webhook `json:"webhook"`
}

type webhookList struct {
	Webhooks []Webhook `json:"webhooks"`
}

// ListWebhooks returns every subscription the shop holds for this app.
func (c *Client) ListWebhooks(ctx context.Context, creds Credentials) ([]Webhook, error) {
	var out webhookList
	endpoint := c.adminURL(creds.ShopDomain, "/webhooks.json")
	if err := c.doJSON(ctx, "list_webhooks", http.MethodGet, endpoint, creds.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Webhooks, nil
}

// GetWebhook returns nil, nil when the subscription no longer exists.
func (c *Client) GetWebhook(ctx context.Context, creds Credentials, id int64) (*Webhook, error) {
	var out webhookEnvelope
	if err := c.doJSON(ctx, "get_webhook", http.MethodGet, c.webhookURL(creds.ShopDomain, id), creds.AccessToken, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out.Webhook, nil
}

// CreateWebhook subscribes address to topic.
func (c *Client) CreateWebhook(ctx context.Context, creds Credentials, topic, address string) (*Webhook, error) {
	body := webhookEnvelope{Webhook: Webhook{Topic: topic, Address: address, Format: "json"}}
	var out webhookEnvelope
	endpoint := c.adminURL(creds.ShopDomain, "/webhooks.json")
	if err := c.doJSON(ctx, "create_webhook", http.MethodPost, endpoint, creds.AccessToken, body, &out); err != nil {
		return nil, err
	}
	if out.Webhook.ID == 0 {
		return nil, fmt.Errorf("create_webhook: response carried no id")
	}
	return &out.Webhook, nil
}

// UpdateWebhook points an existing subscription at a new address.
func (c *Client) UpdateWebhook(ctx context.Context, creds Credentials, id int64, address string) (*Webhook, error) {
	body := map[string]any{"webhook": map[string]any{"id": id, "address": address}}
	var out webhookEnvelope
	if err := c.doJSON(ctx, "update_webhook", http.MethodPut, c.webhookURL(creds.ShopDomain, id), creds.AccessToken, body, &out); err != nil {
		return nil, err
	}
	return &out.Webhook, nil
}

// DeleteWebhook removes a subscription. A 404 counts as already deleted.
func (c *Client) DeleteWebhook(ctx context.Context, creds Credentials, id int64) error {
	err := c.doJSON(ctx, "delete_webhook", http.MethodDelete, c.webhookURL(creds.ShopDomain, id), creds.AccessToken, nil, nil)
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

func (c *Client) webhookURL(shop string, id int64) string {
	return c.adminURL(shop, "/webhooks/"+strconv.FormatInt(id, 10)+".json")
}
