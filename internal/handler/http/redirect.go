package http

import (
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/pathparser"
	"WordsToLink-Backend/internal/repository"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Redirecter resolves a public path to its destination and dispatches the click.
type Redirecter interface {
	Redirect(ctx context.Context, rawPath string, raw *domain.RawVisit) (string, error)
}

// RedirectHandler serves every path that is not part of the API.
type RedirectHandler struct {
	redirects Redirecter
	log       *zap.Logger
	now       func() time.Time
}

func NewRedirectHandler(redirects Redirecter, log *zap.Logger) *RedirectHandler {
	return &RedirectHandler{
		redirects: redirects,
		log:       log.With(zap.String("component", "redirect_handler")),
		now:       time.Now,
	}
}

// HandleRedirect answers 302 for a live link. Malformed and unknown paths get
// the same 404 so callers cannot probe which paths exist.
func (h *RedirectHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	raw := &domain.RawVisit{
		ClientIP:  extractIPAddress(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		Query:     r.URL.Query(),
		Headers:   r.Header,
		StartedAt: h.now(),
	}

	destination, err := h.redirects.Redirect(r.Context(), r.URL.Path, raw)
	if err != nil {
		if errors.Is(err, pathparser.ErrMalformedPath) || errors.Is(err, repository.ErrNotFound) {
			h.log.Debug("redirect miss", zap.String("path", r.URL.Path))
			http.NotFound(w, r)
			return
		}
		h.log.Error("failed to process redirect", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, destination, http.StatusFound)
}

// extractIPAddress returns the client address, honoring proxy headers.
func extractIPAddress(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		ips := strings.Split(ip, ",")
		return strings.TrimSpace(ips[0])
	}

	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	if ip := r.Header.Get("X-Client-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
