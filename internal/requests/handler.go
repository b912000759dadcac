package requests

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xu-registrar/doctrack/internal/platform/httpx"
	"github.com/xu-registrar/doctrack/internal/rbac"
)

// Handler exposes request management and public tracking over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers /api/requests routes. Requests must carry an authenticated principal.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermReadAllRequests, rbac.PermReadAssignedRequests))
		r.Get("/", h.listRequests)
		r.Get("/{id}", h.getRequest)
	})

	r.With(h.rbac.RequireAll(rbac.PermCreateRequests)).Post("/", h.createRequest)
	r.With(h.rbac.RequireAll(rbac.PermUpdateRequestStatus)).Patch("/{id}/status", h.updateStatus)
}

// MountTrackRoutes registers the public tracking search.
func (h *Handler) MountTrackRoutes(r chi.Router) {
	r.Get("/", h.track)
	r.Get("/{code}", h.track)
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorsResponse struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.JSON(w, http.StatusBadRequest, errorsResponse{Errors: []string{"Invalid request body"}})
		return
	}
	principal := rbac.PrincipalFromContext(r.Context())
	req, err := h.service.Create(r.Context(), principal, in)
	if err != nil {
		h.writeError(w, "create request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dataResponse{Success: true, Data: req})
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.JSON(w, http.StatusBadRequest, errorsResponse{Errors: []string{"Invalid request body"}})
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.JSON(w, http.StatusBadRequest, errorsResponse{Errors: []string{"Status is required"}})
		return
	}
	principal := rbac.PrincipalFromContext(r.Context())
	req, err := h.service.UpdateStatus(r.Context(), principal, chi.URLParam(r, "id"), Status(body.Status))
	if err != nil {
		h.writeError(w, "update request status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dataResponse{Success: true, Data: req})
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	principal := rbac.PrincipalFromContext(r.Context())
	req, err := h.service.Get(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dataResponse{Success: true, Data: req})
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	principal := rbac.PrincipalFromContext(r.Context())
	status := Status(r.URL.Query().Get("status"))
	list, err := h.service.List(r.Context(), principal, status)
	if err != nil {
		h.writeError(w, "list requests", err)
		return
	}
	if list == nil {
		list = []*Request{}
	}
	httpx.JSON(w, http.StatusOK, dataResponse{Success: true, Data: list})
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		code = r.URL.Query().Get("code")
	}
	view, err := h.service.Track(r.Context(), code)
	if err != nil {
		var trackErr *TrackingError
		if !errors.As(err, &trackErr) {
			h.logger.Error("track request", slog.Any("error", err))
			httpx.JSON(w, http.StatusInternalServerError, failureResponse{
				Error:   "Internal server error",
				Message: "An error occurred during search",
			})
			return
		}
		status := http.StatusNotFound
		if errors.Is(err, ErrTrackingEmpty) || errors.Is(err, ErrTrackingMultiple) || errors.Is(err, ErrTrackingFormat) {
			status = http.StatusBadRequest
		}
		httpx.JSON(w, status, failureResponse{Error: trackErr.Kind, Message: trackErr.Message})
		return
	}
	httpx.JSON(w, http.StatusOK, dataResponse{Success: true, Data: view})
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var validationErr *ValidationError
	var permErr *PermissionError
	switch {
	case errors.As(err, &validationErr):
		httpx.JSON(w, http.StatusBadRequest, errorsResponse{Errors: validationErr.Errors})
	case errors.As(err, &permErr):
		httpx.JSON(w, http.StatusForbidden, failureResponse{Error: "INSUFFICIENT_PERMISSIONS", Message: permErr.Message})
	case errors.Is(err, ErrUnauthenticated):
		httpx.JSON(w, http.StatusUnauthorized, failureResponse{Error: "SESSION_REQUIRED", Message: "Session not found or expired"})
	case errors.Is(err, ErrNotFound):
		httpx.JSON(w, http.StatusNotFound, failureResponse{Error: "REQUEST_NOT_FOUND", Message: "Request not found"})
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, failureResponse{Error: "INTERNAL_ERROR", Message: "Internal server error"})
	}
}
