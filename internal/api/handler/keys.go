package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/sourcefinder/internal/api/middleware"
	"github.com/kiranshivaraju/sourcefinder/internal/api/response"
	"github.com/kiranshivaraju/sourcefinder/internal/apikey"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	// Key is the raw API key. It is never shown again.
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
func NewCreateKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		raw, key, err := apikey.Generate(req.Name, req.Scopes)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "Key collision, retry", nil)
				return
			}
			response.Internal(w, "creating api key failed", err)
			return
		}

		response.Created(w, createKeyResponse{Key: raw, APIKey: key})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListAPIKeys(r.Context())
		if err != nil {
			response.Internal(w, "listing api keys failed", err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE
// /api/v1/admin/keys/{keyID}. A key cannot revoke itself.
func NewRevokeKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ID", "keyID must be a UUID", nil)
			return
		}

		if self, ok := mw.GetClientID(r); ok && self == keyID {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Cannot revoke the key in use", nil)
			return
		}

		err = s.RevokeAPIKey(r.Context(), keyID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "API key not found", nil)
			return
		}
		if err != nil {
			response.Internal(w, "revoking api key failed", err)
			return
		}
		response.NoContent(w)
	}
}
