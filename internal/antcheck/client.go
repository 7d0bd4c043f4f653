// Package antcheck talks to the AntCheck API and manages catalog
// snapshot files on disk. It defines the wire format shared with the
// catalog loader.
package antcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://antcheck.info/api/v2"

// Shop is one vendor record as returned by the shops endpoint and as
// stored in shops_data.json.
type Shop struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Country string   `json:"country"`
	URL     string   `json:"url"`
	Rating  *float64 `json:"rating,omitempty"`
}

// Product is one listing record as returned by the products endpoint
// and as stored in products_shop_<id>.json.
type Product struct {
	ID       int64   `json:"id"`
	ShopID   int64   `json:"shop_id"`
	Title    string  `json:"title"`
	InStock  bool    `json:"in_stock"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
	Currency string  `json:"currency_iso"`
	URL      string  `json:"antcheck_url"`
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches shop and product data from the AntCheck API.
type Client struct {
	client  HTTPClient
	baseURL string
	apiKey  string
}

// NewClient creates a Client with the given HTTP client and API key.
func NewClient(client HTTPClient, apiKey string) *Client {
	return &Client{
		client:  client,
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
	}
}

// SetBaseURL overrides the API endpoint (useful for testing).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Shops fetches all online shops with an active crawler.
func (c *Client) Shops(ctx context.Context) ([]Shop, error) {
	q := url.Values{
		"online":         {"true"},
		"crawler_active": {"true"},
		"page":           {"0"},
		"limit":          {"-1"},
		"api_key":        {c.apiKey},
	}
	var shops []Shop
	if err := c.get(ctx, "/ecommerce/shops", q, &shops); err != nil {
		return nil, fmt.Errorf("fetch shops: %w", err)
	}
	return shops, nil
}

// Products fetches all ant products of a single shop.
func (c *Client) Products(ctx context.Context, shopID int64) ([]Product, error) {
	q := url.Values{
		"shop_id":      {fmt.Sprintf("%d", shopID)},
		"product_type": {"ants"},
		"page":         {"0"},
		"limit":        {"-1"},
		"api_key":      {c.apiKey},
	}
	var products []Product
	if err := c.get(ctx, "/ecommerce/products", q, &products); err != nil {
		return nil, fmt.Errorf("fetch products for shop %d: %w", shopID, err)
	}
	return products, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "AntWatchBot/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
