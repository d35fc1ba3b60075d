package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Harshitk-cp/twinledger/internal/api/middleware"
	"github.com/Harshitk-cp/twinledger/internal/domain"
)

type TenantHandler struct {
	store domain.TenantStore
}

func NewTenantHandler(store domain.TenantStore) *TenantHandler {
	return &TenantHandler{store: store}
}

type createTenantRequest struct {
	Name string `json:"name"`
}

type createTenantResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenant, apiKey, err := CreateTenant(r.Context(), h.store, req.Name)
	if err != nil {
		writeServiceError(w, r, err, "failed to create tenant")
		return
	}

	writeJSON(w, http.StatusCreated, createTenantResponse{
		ID:     tenant.ID.String(),
		Name:   tenant.Name,
		APIKey: apiKey,
	})
}

// CreateTenant stores a new tenant and returns it with its plaintext API key.
// Only the key's hash is persisted.
func CreateTenant(ctx context.Context, store domain.TenantStore, name string) (*domain.Tenant, string, error) {
	name, err := domain.NormalizeTenantName(name)
	if err != nil {
		return nil, "", err
	}
	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate API key: %w", err)
	}
	tenant := &domain.Tenant{
		Name:       name,
		APIKeyHash: middleware.HashAPIKey(apiKey),
	}
	if err := store.Create(ctx, tenant); err != nil {
		return nil, "", err
	}
	return tenant, apiKey, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "tl_" + hex.EncodeToString(b), nil
}
