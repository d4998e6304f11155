package http

import (
	"WordsToLink-Backend/internal/analytics"
	"WordsToLink-Backend/internal/repository"
	"WordsToLink-Backend/internal/service"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, status int, message string) {
	writeJSON(w, log, status, ErrorResponse{Error: message})
}

// writeServiceError maps service and storage errors onto status codes.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, log, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrQuotaExceeded):
		writeError(w, log, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, log, http.StatusForbidden, "Forbidden")
	case errors.Is(err, repository.ErrDuplicatePath):
		writeError(w, log, http.StatusConflict, "Path already in use")
	case errors.Is(err, repository.ErrIdentifierTaken):
		writeError(w, log, http.StatusConflict, "Identifier already claimed")
	case errors.Is(err, repository.ErrIdentifierNotFound):
		writeError(w, log, http.StatusNotFound, "Identifier not found")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, log, http.StatusNotFound, "Link not found")
	case errors.Is(err, analytics.ErrAggregationFailure):
		log.Error("aggregation failed", zap.Error(err))
		w.Header().Set("Retry-After", "30")
		writeError(w, log, http.StatusServiceUnavailable, "Analytics temporarily unavailable")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, log, http.StatusInternalServerError, "Internal server error")
	}
}

func newValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			details = append(details, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return details
}
