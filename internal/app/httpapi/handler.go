// Package httpapi exposes the REST surface over the application services.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	app "github.com/mintforge/market-layer/internal/app"
	"github.com/mintforge/market-layer/internal/app/ledger"
	"github.com/mintforge/market-layer/internal/app/marketplace"
	"github.com/mintforge/market-layer/internal/app/metrics"
	"github.com/mintforge/market-layer/internal/app/services/settlement"
	"github.com/mintforge/market-layer/internal/app/storage"
)

const maxUploadBytes = 10 << 20

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app       *app.Application
	uploadDir string
	uploadURL string
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application, uploadDir, uploadBaseURL string) http.Handler {
	h := &handler{
		app:       application,
		uploadDir: uploadDir,
		uploadURL: strings.TrimSuffix(uploadBaseURL, "/"),
	}

	r := chi.NewRouter()
	route := func(method, pattern string, fn http.HandlerFunc) {
		r.Method(method, pattern, metrics.InstrumentHTTP(pattern, fn))
	}

	route(http.MethodPost, "/add-user", h.addUser)
	route(http.MethodGet, "/check-user/{id}", h.checkUser)
	route(http.MethodGet, "/user/{id}", h.getUser)
	route(http.MethodPost, "/create-nft", h.createNFT)
	route(http.MethodPost, "/list-nft-for-sale", h.listNFTForSale)
	route(http.MethodGet, "/nfts", h.listNFTs)
	route(http.MethodPost, "/buy-nft", h.buyNFT)
	route(http.MethodPost, "/fetch-nfts", h.fetchNFTs)
	route(http.MethodPut, "/update-user-nft/{publickey}", h.updateUserNFT)
	route(http.MethodPost, "/transfer", h.transfer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (h *handler) addUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("img")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("img file is required"))
		return
	}
	defer file.Close()

	imageURL, err := h.saveUpload(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	holder, err := h.app.Holders.Register(r.Context(),
		r.FormValue("publickey"), r.FormValue("name"), r.FormValue("email"), imageURL)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, holder)
}

func (h *handler) checkUser(w http.ResponseWriter, r *http.Request) {
	exists, err := h.app.Holders.Exists(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]bool{"exists": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	holder, err := h.app.Holders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, holder)
}

func (h *handler) createNFT(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description string `json:"description"`
		ImageURL    string `json:"imageUrl"`
		Name        string `json:"name"`
		PublicKey   string `json:"publickey"`
		From        string `json:"from"`
		To          string `json:"to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Settlement.Mint(r.Context(), settlement.MintRequest{
		Name:             payload.Name,
		Description:      payload.Description,
		ImageURL:         payload.ImageURL,
		OwnerReferenceID: payload.PublicKey,
		FromHint:         payload.From,
		ToHint:           payload.To,
	})
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listNFTForSale(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDNft         string `json:"idNft"`
		NaturalAmount int64  `json:"naturalAmount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	consentURL, _, err := h.app.Settlement.ListForSale(r.Context(), payload.IDNft, payload.NaturalAmount)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"consentUrl": consentURL})
}

func (h *handler) listNFTs(w http.ResponseWriter, r *http.Request) {
	assets, err := h.app.Settlement.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *handler) buyNFT(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDNFT   string `json:"idNFT"`
		BuyerID string `json:"buyerId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	consentURL, _, err := h.app.Settlement.Buy(r.Context(), payload.IDNFT, payload.BuyerID)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"consentUrl": consentURL})
}

func (h *handler) fetchNFTs(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OwnerReferenceID string `json:"ownerReferenceId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	remote, err := h.app.Settlement.FetchRemote(r.Context(), payload.OwnerReferenceID)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, remote)
}

func (h *handler) updateUserNFT(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDNft string `json:"idNft"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	holder, _, err := h.app.Settlement.ApplyOwnership(r.Context(), chi.URLParam(r, "publickey"), payload.IDNft)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, holder)
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	if h.app.Ledger == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("ledger service not configured"))
		return
	}

	var payload struct {
		RecipientPublicKeyString string `json:"recipientPublicKeyString"`
		Amount                   uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.RecipientPublicKeyString) == "" || payload.Amount == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("recipientPublicKeyString and amount are required"))
		return
	}

	rec, err := h.app.Ledger.Transfer(r.Context(), payload.RecipientPublicKeyString, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadGateway), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txSignature": rec.Signature})
}

func (h *handler) saveUpload(file io.Reader, originalName string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(originalName))
	dst, err := os.Create(filepath.Join(h.uploadDir, name))
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(file, maxUploadBytes)); err != nil {
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return h.uploadURL + "/" + name, nil
}

// statusFor maps domain errors onto HTTP statuses. Inconsistency errors get
// a dedicated code so reconciliation tooling can target the affected asset.
func statusFor(err error, fallback int) int {
	var rejected *marketplace.RemoteRejected
	var ledgerErr *ledger.Error

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrOwnershipUnverified):
		return http.StatusConflict
	case marketplace.IsProtocolError(err):
		return http.StatusBadGateway
	case errors.As(err, &rejected):
		if rejected.Status >= http.StatusBadRequest {
			return rejected.Status
		}
		return http.StatusBadGateway
	case errors.As(err, &ledgerErr):
		switch ledgerErr.Kind {
		case ledger.KindInvalidAccount:
			return http.StatusBadRequest
		case ledger.KindInsufficientBalance:
			return http.StatusUnprocessableEntity
		case ledger.KindRPCTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	}

	var inconsistency *settlement.InconsistencyError
	if errors.As(err, &inconsistency) {
		return http.StatusInternalServerError
	}
	return fallback
}

func errorCode(err error) string {
	var inconsistency *settlement.InconsistencyError
	if errors.As(err, &inconsistency) {
		return "persistence_after_remote_success"
	}
	if marketplace.IsProtocolError(err) {
		return "protocol_error"
	}
	if errors.Is(err, storage.ErrStaleState) {
		return "stale_state"
	}
	var ledgerErr *ledger.Error
	if errors.As(err, &ledgerErr) {
		return "ledger_" + string(ledgerErr.Kind)
	}
	return ""
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": err.Error()}
	if code := errorCode(err); code != "" {
		body["code"] = code
	}
	_ = json.NewEncoder(w).Encode(body)
}
