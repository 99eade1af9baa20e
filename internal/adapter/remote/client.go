// Package remote holds the HTTP clients for the services the storefront
// talks to: the catalog feed, the order intake endpoint and the postal code
// lookup.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

const maxErrorBody = 512

var ErrUnexpectedStatus = errors.New("unexpected status")

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
}

// CatalogClient reads the product feed, a JSON array of flat records.
type CatalogClient struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewCatalogClient(url string, timeout time.Duration, log *zap.Logger) *CatalogClient {
	return &CatalogClient{url: url, client: newHTTPClient(timeout), log: log}
}

func (c *CatalogClient) FetchCatalog(ctx context.Context) ([]domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var products []domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if products == nil {
		products = []domain.Product{}
	}

	c.log.Debug("catalog fetched", zap.Int("products", len(products)))
	return products, nil
}

// OrderClient posts form-encoded submissions. The endpoint's reply carries
// no meaning beyond having arrived.
type OrderClient struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewOrderClient(url string, log *zap.Logger) *OrderClient {
	// per-form deadlines come from the caller's context
	return &OrderClient{url: url, client: newHTTPClient(0), log: log}
}

func (c *OrderClient) Submit(ctx context.Context, sub domain.Submission) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(sub.Form().Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	c.log.Debug("submission posted",
		zap.String("source", string(sub.Source)),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

// PostalClient looks codes up at a zippopotam-style service:
// GET {base}/{country}/{zip}, 404 for unknown codes.
type PostalClient struct {
	baseURL string
	country string
	client  *http.Client
}

func NewPostalClient(baseURL, country string, timeout time.Duration) *PostalClient {
	return &PostalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		country: country,
		client:  newHTTPClient(timeout),
	}
}

type postalResponse struct {
	Places []struct {
		PlaceName string `json:"place name"`
	} `json:"places"`
}

func (c *PostalClient) Lookup(ctx context.Context, zip string) (string, bool, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.country, zip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode != http.StatusOK:
		return "", false, statusError(resp)
	}

	var body postalResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, fmt.Errorf("decode postal response: %w", err)
	}
	if len(body.Places) == 0 {
		return "", false, nil
	}
	return body.Places[0].PlaceName, true, nil
}
