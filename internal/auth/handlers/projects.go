package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/middleware"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/auth/policy"
	"github.com/pepkit/pephub-sub000/internal/projects"
	"github.com/pepkit/pephub-sub000/internal/utils"
)

// loadProject resolves the project in the path and applies rule to the
// caller. A missing project and a masked one produce the same 404.
func (h *Handler) loadProject(
	w http.ResponseWriter,
	r *http.Request,
	ruleName string,
	rule func(caller *models.Identity, facts projects.Facts) error,
) (projects.Facts, bool) {
	ref := projects.NewRef(chi.URLParam(r, "namespace"), chi.URLParam(r, "project"), r.URL.Query().Get("tag"))

	facts, err := h.projects.Facts(r.Context(), ref)
	if errors.Is(err, projects.ErrNotFound) {
		utils.WriteAppError(w, r, apperrors.New(apperrors.KindNotFoundMasked, "project not found"))
		return projects.Facts{}, false
	}
	if err != nil {
		utils.WriteAppError(w, r, err)
		return projects.Facts{}, false
	}

	if err := rule(middleware.IdentityFrom(r.Context()), facts); err != nil {
		h.metrics.PolicyDenial(ruleName, apperrors.KindOf(err).Code())
		utils.WriteAppError(w, r, err)
		return projects.Facts{}, false
	}
	return facts, true
}

// HandleGetProject returns a project's facts when the caller may read it
func (h *Handler) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	facts, ok := h.loadProject(w, r, "project_read", policy.ProjectRead)
	if !ok {
		return
	}
	utils.WriteJSON(w, facts)
}

type updateProjectRequest struct {
	IsPrivate *bool `json:"is_private"`
}

// HandleUpdateProject changes a project's visibility
func (h *Handler) HandleUpdateProject(w http.ResponseWriter, r *http.Request) {
	facts, ok := h.loadProject(w, r, "project_write", policy.ProjectWrite)
	if !ok {
		return
	}

	var req updateProjectRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	if req.IsPrivate == nil {
		utils.WriteAppError(w, r, apperrors.New(apperrors.KindInvalid, "is_private is required"))
		return
	}

	updated, err := h.projects.SetPrivate(r.Context(), facts.Ref(), *req.IsPrivate)
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	utils.WriteJSON(w, updated)
}

type forkRequest struct {
	ForkTo   string `json:"fork_to"`
	ForkName string `json:"fork_name"`
	ForkTag  string `json:"fork_tag"`
}

// HandleFork copies a readable project into a namespace the caller acts for
func (h *Handler) HandleFork(w http.ResponseWriter, r *http.Request) {
	source, ok := h.loadProject(w, r, "project_read", policy.ProjectRead)
	if !ok {
		return
	}

	var req forkRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	if req.ForkTo == "" {
		utils.WriteAppError(w, r, apperrors.New(apperrors.KindInvalid, "fork_to is required"))
		return
	}
	if err := policy.Fork(middleware.IdentityFrom(r.Context()), req.ForkTo); err != nil {
		h.metrics.PolicyDenial("fork", apperrors.KindOf(err).Code())
		utils.WriteAppError(w, r, err)
		return
	}

	name := req.ForkName
	if name == "" {
		name = source.Name
	}
	dest := projects.NewRef(req.ForkTo, name, req.ForkTag)

	forked, err := h.projects.Fork(r.Context(), source.Ref(), dest)
	if errors.Is(err, projects.ErrExists) {
		utils.WriteAppError(w, r, apperrors.New(apperrors.KindInvalid, "project "+dest.String()+" already exists"))
		return
	}
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	utils.WriteJSONStatus(w, http.StatusCreated, forked)
}
