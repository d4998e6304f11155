package http

import (
	"WordsToLink-Backend/internal/auth"
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/repository"
	"WordsToLink-Backend/internal/service"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// LinkManager is the owner-facing link API.
type LinkManager interface {
	Create(ctx context.Context, in service.CreateLinkInput) (*domain.Link, error)
	Get(ctx context.Context, ownerID, id int64) (*domain.Link, error)
	List(ctx context.Context, ownerID int64) ([]*domain.Link, error)
	SetActive(ctx context.Context, ownerID, id int64, active bool) (*domain.Link, error)
	Update(ctx context.Context, ownerID, id int64, upd repository.LinkUpdate) (*domain.Link, error)
	ClaimIdentifier(ctx context.Context, ownerID int64, name string) (*domain.Identifier, error)
	Analytics(ctx context.Context, ownerID, id int64, period domain.Period) (*domain.AnalyticsReport, error)
}

// LinksHandler serves /api/links and /api/identifiers.
type LinksHandler struct {
	links    LinkManager
	validate *validator.Validate
	log      *zap.Logger
	baseURL  string
}

func NewLinksHandler(links LinkManager, log *zap.Logger, baseURL string) *LinksHandler {
	return &LinksHandler{
		links:    links,
		validate: newValidate(),
		log:      log.With(zap.String("component", "links_handler")),
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// CreateLinkRequest is the body of POST /api/links.
type CreateLinkRequest struct {
	Identifier     string     `json:"identifier,omitempty" validate:"omitempty,max=32"`
	Keywords       []string   `json:"keywords" validate:"required,min=1,max=5,dive,required,max=32"`
	DestinationURL string     `json:"destination_url" validate:"required,url,max=2048"`
	Title          string     `json:"title,omitempty" validate:"max=255"`
	Description    string     `json:"description,omitempty" validate:"max=2000"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// UpdateLinkRequest is the body of PATCH /api/links/{id}. Absent fields are left unchanged.
type UpdateLinkRequest struct {
	DestinationURL *string    `json:"destination_url,omitempty" validate:"omitempty,url,max=2048"`
	Title          *string    `json:"title,omitempty" validate:"omitempty,max=255"`
	Description    *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClearExpiry    bool       `json:"clear_expiry,omitempty"`
}

// ClaimIdentifierRequest is the body of POST /api/identifiers.
type ClaimIdentifierRequest struct {
	Name string `json:"name" validate:"required,max=32"`
}

// LinkResponse is a link as seen by its owner.
type LinkResponse struct {
	*domain.Link
	Path     string `json:"path"`
	ShortURL string `json:"short_url"`
}

// ListLinksResponse is the body of GET /api/links.
type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
}

func (h *LinksHandler) toResponse(link *domain.Link) LinkResponse {
	path := link.Path()
	return LinkResponse{
		Link:     link,
		Path:     path,
		ShortURL: h.baseURL + "/" + path,
	}
}

// CreateLink creates a link for the authenticated owner.
//
//	@Summary	Create a link
//	@Tags		Links
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		request	body		CreateLinkRequest	true	"Link creation request"
//	@Success	201		{object}	LinkResponse
//	@Failure	400		{object}	ErrorResponse
//	@Failure	403		{object}	ErrorResponse	"Quota exceeded or identifier not owned"
//	@Failure	409		{object}	ErrorResponse	"Path already in use"
//	@Router		/api/links [post]
func (h *LinksHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req CreateLinkRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := service.CreateLinkInput{
		OwnerID:        ownerID,
		Keywords:       req.Keywords,
		DestinationURL: req.DestinationURL,
		ExpiresAt:      req.ExpiresAt,
	}
	if req.Identifier != "" {
		in.Identifier = &req.Identifier
	}
	if req.Title != "" {
		in.Title = &req.Title
	}
	if req.Description != "" {
		in.Description = &req.Description
	}

	link, err := h.links.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, h.log, http.StatusCreated, h.toResponse(link))
}

// ListLinks returns the owner's links, newest first.
//
//	@Summary	List links
//	@Tags		Links
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	ListLinksResponse
//	@Router		/api/links [get]
func (h *LinksHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	links, err := h.links.List(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	resp := ListLinksResponse{Links: make([]LinkResponse, 0, len(links))}
	for _, link := range links {
		resp.Links = append(resp.Links, h.toResponse(link))
	}
	writeJSON(w, h.log, http.StatusOK, resp)
}

// GetLink returns one link.
//
//	@Summary	Get a link
//	@Tags		Links
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		int	true	"Link ID"
//	@Success	200	{object}	LinkResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/links/{id} [get]
func (h *LinksHandler) GetLink(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	link, err := h.links.Get(r.Context(), ownerID, id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, h.toResponse(link))
}

// UpdateLink changes destination, title, description or expiry.
//
//	@Summary	Update a link
//	@Tags		Links
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		int					true	"Link ID"
//	@Param		request	body		UpdateLinkRequest	true	"Fields to change"
//	@Success	200		{object}	LinkResponse
//	@Router		/api/links/{id} [patch]
func (h *LinksHandler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	var req UpdateLinkRequest
	if !h.decode(w, r, &req) {
		return
	}

	link, err := h.links.Update(r.Context(), ownerID, id, repository.LinkUpdate{
		DestinationURL: req.DestinationURL,
		Title:          req.Title,
		Description:    req.Description,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiry:    req.ClearExpiry,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, h.toResponse(link))
}

// ActivateLink re-enables redirects for a link.
//
//	@Summary	Activate a link
//	@Tags		Links
//	@Security	BearerAuth
//	@Param		id	path		int	true	"Link ID"
//	@Success	200	{object}	LinkResponse
//	@Router		/api/links/{id}/activate [post]
func (h *LinksHandler) ActivateLink(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateLink stops redirects but keeps the path reserved.
//
//	@Summary	Deactivate a link
//	@Tags		Links
//	@Security	BearerAuth
//	@Param		id	path		int	true	"Link ID"
//	@Success	200	{object}	LinkResponse
//	@Router		/api/links/{id}/deactivate [post]
func (h *LinksHandler) DeactivateLink(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *LinksHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	link, err := h.links.SetActive(r.Context(), ownerID, id, active)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, h.toResponse(link))
}

// GetAnalytics builds the report for a link over a period.
//
//	@Summary	Link analytics
//	@Tags		Analytics
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		int		true	"Link ID"
//	@Param		period	query		string	false	"24h, 7d, 30d, 90d or 1y"	default(7d)
//	@Success	200		{object}	domain.AnalyticsReport
//	@Failure	400		{object}	ErrorResponse
//	@Failure	503		{object}	ErrorResponse
//	@Router		/api/links/{id}/analytics [get]
func (h *LinksHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	period, err := domain.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.links.Analytics(r.Context(), ownerID, id, period)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, report)
}

// ClaimIdentifier reserves a namespace for the owner.
//
//	@Summary	Claim an identifier
//	@Tags		Identifiers
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		request	body		ClaimIdentifierRequest	true	"Identifier"
//	@Success	201		{object}	domain.Identifier
//	@Failure	409		{object}	ErrorResponse
//	@Router		/api/identifiers [post]
func (h *LinksHandler) ClaimIdentifier(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req ClaimIdentifierRequest
	if !h.decode(w, r, &req) {
		return
	}

	identifier, err := h.links.ClaimIdentifier(r.Context(), ownerID, req.Name)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	h.log.Info("identifier claimed", zap.String("identifier", identifier.Name), zap.Int64("owner_id", ownerID))
	writeJSON(w, h.log, http.StatusCreated, identifier)
}

func (h *LinksHandler) owner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.log, http.StatusUnauthorized, "Authorization required")
		return 0, false
	}
	return ownerID, true
}

func (h *LinksHandler) ownerAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return 0, 0, false
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, h.log, http.StatusBadRequest, "Invalid link id")
		return 0, 0, false
	}
	return ownerID, id, true
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *LinksHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, h.log, http.StatusBadRequest, "Empty request body")
			return false
		}
		h.log.Debug("invalid request body", zap.Error(err))
		writeError(w, h.log, http.StatusBadRequest, "Invalid request format")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}
