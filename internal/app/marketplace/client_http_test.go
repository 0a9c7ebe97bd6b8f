package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.Client(), srv.URL, "secret-key", "collection-1", nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestNewHTTPClientValidation(t *testing.T) {
	if _, err := NewHTTPClient(nil, "", "key", "c", nil, nil); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewHTTPClient(nil, "https://api.example", "", "c", nil, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestRegisterHolderSendsAPIKey(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	})

	if err := c.RegisterHolder(context.Background(), "wallet-1", "a@example.com", "wallet-1"); err != nil {
		t.Fatalf("register holder: %v", err)
	}
	if gotKey != "secret-key" {
		t.Fatalf("expected x-api-key header, got %q", gotKey)
	}
	if gotPath != "/nx/users" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["referenceId"] != "wallet-1" || gotBody["externalWalletAddress"] != "wallet-1" {
		t.Fatalf("unexpected payload %v", gotBody)
	}
}

func TestCreateAssetUsesResponseFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Details struct {
				CollectionID string `json:"collectionId"`
				Name         string `json:"name"`
			} `json:"details"`
			DestinationUserReferenceID string `json:"destinationUserReferenceId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.Details.CollectionID != "collection-1" {
			t.Errorf("expected collection scoping, got %q", payload.Details.CollectionID)
		}
		w.Write([]byte(`{
			"id": "remote-1",
			"name": "Canonical Name",
			"description": "canonical description",
			"imageUrl": "https://cdn.example/x.png",
			"owner": {"referenceId": "wallet-1"}
		}`))
	})

	created, err := c.CreateAsset(context.Background(), CreateAssetRequest{
		Name: "Requested Name", ImageURL: "https://img.example/x.png", DestinationOwnerID: "wallet-1",
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if created.ID != "remote-1" || created.Name != "Canonical Name" {
		t.Fatalf("response fields are canonical, got %+v", created)
	}
}

func TestCreateAssetMissingID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"name": "no id"}`))
	})

	_, err := c.CreateAsset(context.Background(), CreateAssetRequest{Name: "n", DestinationOwnerID: "w"})
	if err == nil {
		t.Fatal("expected protocol violation error")
	}
}

func TestListForSaleConsentURL(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nx/unique-assets/asset-1/list-for-sale" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"consentUrl": "https://consent.example/1"}`))
	})

	consentURL, err := c.ListForSale(context.Background(), "asset-1", Price{CurrencyCode: "USDC", NaturalAmount: 5})
	if err != nil {
		t.Fatalf("list for sale: %v", err)
	}
	if consentURL != "https://consent.example/1" {
		t.Fatalf("unexpected consent url %q", consentURL)
	}
}

func TestBuyMissingConsentURL(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := c.Buy(context.Background(), "asset-1", "wallet-1")
	if !errors.Is(err, ErrMissingConsentURL) {
		t.Fatalf("expected ErrMissingConsentURL, got %v", err)
	}
	if !IsProtocolError(err) {
		t.Fatal("missing consent url is a protocol error")
	}
}

func TestRejectionCarriesStatusAndMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message": "insufficient funds"}`))
	})

	_, err := c.Buy(context.Background(), "asset-1", "wallet-1")
	var rejected *RemoteRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RemoteRejected, got %v", err)
	}
	if rejected.Status != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rejected.Status)
	}
	if rejected.Message != "insufficient funds" {
		t.Fatalf("expected extracted message, got %q", rejected.Message)
	}
	if rejected.Retryable() {
		t.Fatal("4xx rejections are not retryable")
	}
}

func TestServerErrorsAreRetryable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FindByOwner(context.Background(), "wallet-1")
	var rejected *RemoteRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RemoteRejected, got %v", err)
	}
	if !rejected.Retryable() {
		t.Fatal("5xx rejections are retryable")
	}
}

func TestFindByOwnerParsesNestedItems(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{
			"data": [
				{"item": {"id": "r1", "name": "One", "owner": {"referenceId": "wallet-1"}}},
				{"item": {"id": "", "name": "dropped"}},
				{"item": {"id": "r2", "name": "Two", "owner": {"referenceId": "wallet-1"}}}
			]
		}`))
	})

	owned, err := c.FindByOwner(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("find by owner: %v", err)
	}
	if len(owned) != 2 || owned[0].ID != "r1" || owned[1].ID != "r2" {
		t.Fatalf("unexpected assets %+v", owned)
	}
	if gotQuery != "collectionId=collection-1&ownerReferenceId=wallet-1" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}
