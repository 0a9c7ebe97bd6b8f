// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mintforge/market-layer/internal/app/marketplace"
)

// MockMarketplace is a deterministic in-memory implementation of
// marketplace.Client. Every method counts its invocations so tests can assert
// that validation failures never reach the remote service.
type MockMarketplace struct {
	mu sync.Mutex

	// Err, when set, is returned by every call.
	Err error
	// ConsentURL is returned by ListForSale and Buy. Leave empty together
	// with MissingConsent=false to use a default URL.
	ConsentURL string
	// MissingConsent makes ListForSale and Buy return a success response
	// without a consent URL (protocol violation path).
	MissingConsent bool
	// CanonicalName/CanonicalDescription/CanonicalImageURL override the
	// request fields in CreateAsset responses, mimicking a remote service
	// that normalises metadata.
	CanonicalName        string
	CanonicalDescription string
	CanonicalImageURL    string

	Calls       map[string]int
	Registered  []string
	OwnedAssets map[string][]marketplace.RemoteAsset
}

var _ marketplace.Client = (*MockMarketplace)(nil)

// NewMockMarketplace creates an empty mock.
func NewMockMarketplace() *MockMarketplace {
	return &MockMarketplace{
		Calls:       make(map[string]int),
		OwnedAssets: make(map[string][]marketplace.RemoteAsset),
	}
}

// CallCount returns how many times the named method was invoked.
func (m *MockMarketplace) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

// TotalCalls returns the number of remote invocations across all methods.
func (m *MockMarketplace) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.Calls {
		total += n
	}
	return total
}

// AddOwnedAsset seeds the remote view returned by FindByOwner.
func (m *MockMarketplace) AddOwnedAsset(ownerReferenceID string, a marketplace.RemoteAsset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OwnedAssets[ownerReferenceID] = append(m.OwnedAssets[ownerReferenceID], a)
}

func (m *MockMarketplace) RegisterHolder(_ context.Context, referenceID, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["RegisterHolder"]++
	if m.Err != nil {
		return m.Err
	}
	m.Registered = append(m.Registered, referenceID)
	return nil
}

func (m *MockMarketplace) CreateAsset(_ context.Context, req marketplace.CreateAssetRequest) (marketplace.RemoteAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["CreateAsset"]++
	if m.Err != nil {
		return marketplace.RemoteAsset{}, m.Err
	}

	created := marketplace.RemoteAsset{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		OwnerID:     req.DestinationOwnerID,
	}
	if m.CanonicalName != "" {
		created.Name = m.CanonicalName
	}
	if m.CanonicalDescription != "" {
		created.Description = m.CanonicalDescription
	}
	if m.CanonicalImageURL != "" {
		created.ImageURL = m.CanonicalImageURL
	}
	m.OwnedAssets[created.OwnerID] = append(m.OwnedAssets[created.OwnerID], created)
	return created, nil
}

func (m *MockMarketplace) ListForSale(_ context.Context, assetID string, _ marketplace.Price) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListForSale"]++
	if m.Err != nil {
		return "", m.Err
	}
	if m.MissingConsent {
		return "", marketplace.ErrMissingConsentURL
	}
	if m.ConsentURL != "" {
		return m.ConsentURL, nil
	}
	return "https://consent.example/list/" + assetID, nil
}

func (m *MockMarketplace) Buy(_ context.Context, assetID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Buy"]++
	if m.Err != nil {
		return "", m.Err
	}
	if m.MissingConsent {
		return "", marketplace.ErrMissingConsentURL
	}
	if m.ConsentURL != "" {
		return m.ConsentURL, nil
	}
	return "https://consent.example/buy/" + assetID, nil
}

func (m *MockMarketplace) FindByOwner(_ context.Context, ownerReferenceID string) ([]marketplace.RemoteAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["FindByOwner"]++
	if m.Err != nil {
		return nil, m.Err
	}
	owned := m.OwnedAssets[ownerReferenceID]
	result := make([]marketplace.RemoteAsset, len(owned))
	copy(result, owned)
	return result, nil
}
