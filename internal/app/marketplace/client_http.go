package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/mintforge/market-layer/pkg/logger"
)

// HTTPClient is the concrete adapter over the custodial marketplace REST API.
// Every call carries the bearer key in the x-api-key header and is scoped to
// one collection.
type HTTPClient struct {
	client       *http.Client
	baseURL      *url.URL
	apiKey       string
	collectionID string
	limiter      *rate.Limiter
	log          *logger.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the adapter. The limiter guards the remote API
// quota; pass nil to disable client-side throttling.
func NewHTTPClient(client *http.Client, baseURL, apiKey, collectionID string, limiter *rate.Limiter, log *logger.Logger) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("marketplace base URL required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse marketplace base URL: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("marketplace API key required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("marketplace-client")
	}
	return &HTTPClient{
		client:       client,
		baseURL:      parsed,
		apiKey:       apiKey,
		collectionID: strings.TrimSpace(collectionID),
		limiter:      limiter,
		log:          log,
	}, nil
}

func (c *HTTPClient) RegisterHolder(ctx context.Context, referenceID, email, externalWalletAddress string) error {
	payload := map[string]string{
		"referenceId":           referenceID,
		"email":                 email,
		"externalWalletAddress": externalWalletAddress,
	}
	_, err := c.do(ctx, http.MethodPost, "/nx/users", nil, payload)
	return err
}

func (c *HTTPClient) CreateAsset(ctx context.Context, req CreateAssetRequest) (RemoteAsset, error) {
	payload := map[string]any{
		"details": map[string]string{
			"collectionId": c.collectionID,
			"description":  req.Description,
			"imageUrl":     req.ImageURL,
			"name":         req.Name,
		},
		"destinationUserReferenceId": req.DestinationOwnerID,
	}
	body, err := c.do(ctx, http.MethodPost, "/nx/unique-assets", nil, payload)
	if err != nil {
		return RemoteAsset{}, err
	}

	var resp struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		ImageURL    string `json:"imageUrl"`
		Owner       struct {
			ReferenceID string `json:"referenceId"`
		} `json:"owner"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return RemoteAsset{}, fmt.Errorf("decode create asset response: %w", err)
	}
	if resp.ID == "" {
		return RemoteAsset{}, fmt.Errorf("marketplace protocol violation: create response missing asset id")
	}

	ownerID := resp.Owner.ReferenceID
	if ownerID == "" {
		ownerID = req.DestinationOwnerID
	}
	return RemoteAsset{
		ID:          resp.ID,
		Name:        resp.Name,
		Description: resp.Description,
		ImageURL:    resp.ImageURL,
		OwnerID:     ownerID,
	}, nil
}

func (c *HTTPClient) ListForSale(ctx context.Context, assetID string, price Price) (string, error) {
	payload := map[string]any{
		"price": map[string]any{
			"currencyId":    price.CurrencyCode,
			"naturalAmount": price.NaturalAmount,
		},
	}
	body, err := c.do(ctx, http.MethodPost, "/nx/unique-assets/"+url.PathEscape(assetID)+"/list-for-sale", nil, payload)
	if err != nil {
		return "", err
	}
	return consentURLFrom(body)
}

func (c *HTTPClient) Buy(ctx context.Context, assetID, buyerReferenceID string) (string, error) {
	payload := map[string]string{"buyerId": buyerReferenceID}
	body, err := c.do(ctx, http.MethodPost, "/nx/unique-assets/"+url.PathEscape(assetID)+"/buy", nil, payload)
	if err != nil {
		return "", err
	}
	return consentURLFrom(body)
}

func (c *HTTPClient) FindByOwner(ctx context.Context, ownerReferenceID string) ([]RemoteAsset, error) {
	query := url.Values{}
	query.Set("collectionId", c.collectionID)
	query.Set("ownerReferenceId", ownerReferenceID)

	body, err := c.do(ctx, http.MethodGet, "/nx/items", query, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Item struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				Description string `json:"description"`
				ImageURL    string `json:"imageUrl"`
				Owner       struct {
					ReferenceID string `json:"referenceId"`
				} `json:"owner"`
			} `json:"item"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode items response: %w", err)
	}

	assets := make([]RemoteAsset, 0, len(resp.Data))
	for _, entry := range resp.Data {
		if entry.Item.ID == "" {
			continue
		}
		assets = append(assets, RemoteAsset{
			ID:          entry.Item.ID,
			Name:        entry.Item.Name,
			Description: entry.Item.Description,
			ImageURL:    entry.Item.ImageURL,
			OwnerID:     entry.Item.Owner.ReferenceID,
		})
	}
	return assets, nil
}

// do issues one request and translates non-2xx responses into
// *RemoteRejected. Timeouts are per call via the underlying http.Client.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("marketplace rate limit wait: %w", err)
		}
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read marketplace response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		rejected := &RemoteRejected{
			Status:  resp.StatusCode,
			Body:    string(body),
			Message: gjson.GetBytes(body, "message").String(),
		}
		c.log.WithField("status", resp.StatusCode).
			WithField("path", path).
			Warn("marketplace call rejected")
		return nil, rejected
	}
	return body, nil
}

func consentURLFrom(body []byte) (string, error) {
	var resp struct {
		ConsentURL string `json:"consentUrl"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode consent response: %w", err)
	}
	if strings.TrimSpace(resp.ConsentURL) == "" {
		return "", ErrMissingConsentURL
	}
	return resp.ConsentURL, nil
}
