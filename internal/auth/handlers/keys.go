package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/middleware"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/auth/policy"
	"github.com/pepkit/pephub-sub000/internal/utils"
)

type developerKeyResponse struct {
	Key       string    `json:"key"`
	Namespace string    `json:"namespace"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toKeyResponse(k models.DeveloperKey) developerKeyResponse {
	return developerKeyResponse{
		Key:       k.Key,
		Namespace: k.Namespace,
		CreatedAt: k.CreatedAt.UTC(),
		ExpiresAt: k.ExpiresAt.UTC(),
	}
}

// authorizeNamespace applies the namespace write rule to the caller and
// returns the namespace from the path.
func (h *Handler) authorizeNamespace(w http.ResponseWriter, r *http.Request) (string, *models.Identity, bool) {
	namespace := chi.URLParam(r, "namespace")
	caller := middleware.IdentityFrom(r.Context())
	if err := policy.NamespaceWrite(caller, namespace); err != nil {
		h.metrics.PolicyDenial("namespace_write", apperrors.KindOf(err).Code())
		utils.WriteAppError(w, r, err)
		return "", nil, false
	}
	return namespace, caller, true
}

// HandleMintKey issues a developer key. The full key is only ever returned
// here.
func (h *Handler) HandleMintKey(w http.ResponseWriter, r *http.Request) {
	namespace, caller, ok := h.authorizeNamespace(w, r)
	if !ok {
		return
	}

	key, err := h.keys.Mint(r.Context(), namespace, *caller)
	h.metrics.DeveloperKey("mint", err)
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	utils.WriteJSONStatus(w, http.StatusCreated, toKeyResponse(key))
}

// HandleListKeys lists a namespace's keys, masked
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	namespace, _, ok := h.authorizeNamespace(w, r)
	if !ok {
		return
	}

	list, err := h.keys.List(r.Context(), namespace)
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	out := make([]developerKeyResponse, 0, len(list))
	for _, k := range list {
		out = append(out, toKeyResponse(k.Masked()))
	}
	utils.WriteJSON(w, map[string]any{
		"namespace": namespace,
		"max_keys":  h.keys.MaxKeys(),
		"keys":      out,
	})
}

type revokeRequest struct {
	LastFiveChars string `json:"last_five_chars"`
}

// HandleRevokeKeys removes the keys ending in the given characters
func (h *Handler) HandleRevokeKeys(w http.ResponseWriter, r *http.Request) {
	namespace, _, ok := h.authorizeNamespace(w, r)
	if !ok {
		return
	}

	var req revokeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	removed, err := h.keys.Revoke(r.Context(), namespace, req.LastFiveChars)
	h.metrics.DeveloperKey("revoke", err)
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	utils.WriteJSON(w, map[string]int{"revoked": removed})
}
