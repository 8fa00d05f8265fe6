package billing

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/shared/errors"
)

// Handler serves billing lines to the claim validator
type Handler struct {
	repo   Repository
	logger *zap.Logger
}

// NewHandler creates a new billing handler
func NewHandler(repo Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger.Named("billing")}
}

// Routes registers the billing routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetBilling)
	return r
}

// GetBilling returns {"data": [...]} for ?encounter_id=&patient_id=
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	encounterID, errEnc := parseID(r.URL.Query().Get("encounter_id"))
	patientID, errPID := parseID(r.URL.Query().Get("patient_id"))
	if errEnc != nil || errPID != nil {
		details := map[string]string{}
		if errEnc != nil {
			details["encounter_id"] = "must be an integer"
		}
		if errPID != nil {
			details["patient_id"] = "must be an integer"
		}
		writeError(w, errors.Validation("invalid billing query", details))
		return
	}

	rows, err := h.repo.Rows(r.Context(), encounterID, patientID)
	if err != nil {
		h.logger.Error("billing query failed",
			zap.Int64("encounter_id", encounterID),
			zap.Int64("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "Billing query failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
