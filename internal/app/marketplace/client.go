// Package marketplace adapts the external custodial marketplace API. The
// remote service is the system of record for asset identity, listings, and
// purchase authorization; this package only translates protocol.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// CreateAssetRequest carries the fields sent to the remote create call. The
// collection identifier is fixed per client and not part of the request.
type CreateAssetRequest struct {
	Name               string
	Description        string
	ImageURL           string
	DestinationOwnerID string
}

// RemoteAsset is the remote service's view of an asset. The caller must
// persist these fields, not the request payload, since the remote is
// authoritative for them.
type RemoteAsset struct {
	ID          string
	Name        string
	Description string
	ImageURL    string
	OwnerID     string
}

// Price mirrors the remote listing price shape.
type Price struct {
	CurrencyCode  string
	NaturalAmount int64
}

// Client is the custodial marketplace contract consumed by the settlement
// orchestrator. Implementations must translate every non-success response
// into *RemoteRejected rather than surfacing raw transport errors.
type Client interface {
	// RegisterHolder registers a wallet with the remote service. The remote
	// treats the reference id as a natural key, so repeated registration of
	// the same holder is idempotent.
	RegisterHolder(ctx context.Context, referenceID, email, externalWalletAddress string) error

	// CreateAsset mints an asset in the configured collection and returns
	// the remote-assigned identity and canonical metadata.
	CreateAsset(ctx context.Context, req CreateAssetRequest) (RemoteAsset, error)

	// ListForSale lists an asset and returns the consent URL the current
	// owner must visit to authorize the sale.
	ListForSale(ctx context.Context, assetID string, price Price) (consentURL string, err error)

	// Buy starts a purchase and returns the consent URL the buyer must
	// visit to authorize payment. The purchase is not finalized by this
	// call.
	Buy(ctx context.Context, assetID, buyerReferenceID string) (consentURL string, err error)

	// FindByOwner returns the remote's current view of assets owned by the
	// reference id, scoped to the configured collection.
	FindByOwner(ctx context.Context, ownerReferenceID string) ([]RemoteAsset, error)
}

// RemoteRejected is a non-2xx response from the custodial API. Status lets
// callers distinguish validation failure (4xx, not retried) from service
// failure (5xx, retryable).
type RemoteRejected struct {
	Status  int
	Body    string
	Message string
}

func (e *RemoteRejected) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("marketplace rejected request: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("marketplace rejected request: status %d", e.Status)
}

// Retryable reports whether the rejection is a transient service failure.
func (e *RemoteRejected) Retryable() bool {
	return e.Status >= http.StatusInternalServerError
}

// ErrMissingConsentURL signals a success response that violated the protocol
// by omitting the consent URL. It must never be treated as success.
var ErrMissingConsentURL = errors.New("marketplace protocol violation: success response missing consentUrl")

// IsProtocolError reports whether err is a protocol violation rather than a
// remote rejection.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMissingConsentURL)
}
