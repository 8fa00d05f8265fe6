// Package api exposes clinical context, claim validation and response
// verification over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/adapters/health"
	"github.com/clinassist/platform/internal/claims"
	"github.com/clinassist/platform/internal/clinical"
	"github.com/clinassist/platform/internal/shared/auth"
	apperrors "github.com/clinassist/platform/internal/shared/errors"
	"github.com/clinassist/platform/internal/shared/types"
	"github.com/clinassist/platform/internal/verification"
)

// Handler provides HTTP handlers for the assistant's tools
type Handler struct {
	aggregator *clinical.Aggregator
	claims     *claims.Validator
	engine     *verification.Engine
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(aggregator *clinical.Aggregator, validator *claims.Validator, engine *verification.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		aggregator: aggregator,
		claims:     validator,
		engine:     engine,
		logger:     logger.Named("api"),
	}
}

// Routes registers the API routes. Callers must have authenticated the
// request; each group checks its own scope.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireScope(auth.ScopeClinicalRead))
		r.Get("/context", h.GetEncounterContext)
		r.Get("/patient-summary", h.GetPatientSummary)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireScope(auth.ScopeClaimsRead))
		r.Post("/claims/validate", h.ValidateClaim)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireScope(auth.ScopeVerify))
		r.Post("/verify", h.VerifyResponse)
		r.Post("/verify/turn", h.VerifyTurn)
	})

	return r
}

// --- Clinical context ---

// GetEncounterContext handles GET /context?patient_id=&encounter_id=&date=
//
// A date matching several encounters returns 200 with the candidate list
// instead of a context.
func (h *Handler) GetEncounterContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := clinical.EncounterRequest{
		PatientID:   strings.TrimSpace(q.Get("patient_id")),
		EncounterID: strings.TrimSpace(q.Get("encounter_id")),
		Date:        strings.TrimSpace(q.Get("date")),
	}

	result, disambiguation, err := h.aggregator.EncounterContext(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if disambiguation != nil {
		writeJSON(w, http.StatusOK, disambiguation)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetPatientSummary handles GET /patient-summary?patient_id=
func (h *Handler) GetPatientSummary(w http.ResponseWriter, r *http.Request) {
	result, err := h.aggregator.PatientSummary(r.Context(), strings.TrimSpace(r.URL.Query().Get("patient_id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Claims ---

// ValidateClaimRequest identifies the encounter to check
type ValidateClaimRequest struct {
	PatientID   types.FlexID `json:"patient_id"`
	EncounterID types.FlexID `json:"encounter_id"`
}

// ValidateClaim handles POST /claims/validate
func (h *Handler) ValidateClaim(w http.ResponseWriter, r *http.Request) {
	var req ValidateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.BadRequest("invalid request body"))
		return
	}

	result, err := h.claims.Validate(r.Context(), req.PatientID.String(), req.EncounterID.String())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Verification ---

// VerifyRequest carries a final response and the conversation it answers.
// LatestUserIndex defaults to the last user message in Messages.
type VerifyRequest struct {
	Messages        []verification.Message `json:"messages"`
	LatestUserIndex *int                   `json:"latest_user_index,omitempty"`
	Response        string                 `json:"response"`
}

// VerifyResponse handles POST /verify
func (h *Handler) VerifyResponse(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.BadRequest("invalid request body"))
		return
	}

	latest := verification.LatestUserIndex(req.Messages)
	if req.LatestUserIndex != nil {
		latest = *req.LatestUserIndex
		if latest < -1 || latest >= len(req.Messages) {
			h.writeError(w, r, apperrors.Validation("invalid verification request", map[string]string{
				"latest_user_index": "out of range",
			}))
			return
		}
	}

	writeJSON(w, http.StatusOK, h.engine.VerifyResponse(req.Messages, latest, req.Response))
}

// VerifyTurnRequest carries a full conversation ending in the response to
// verify
type VerifyTurnRequest struct {
	Messages []verification.Message `json:"messages"`
}

// VerifyTurnResponse reports whether the turn ended in a verifiable
// response and, if so, the outcome.
type VerifyTurnResponse struct {
	Applicable bool `json:"applicable"`
	*verification.Outcome
}

// VerifyTurn handles POST /verify/turn
func (h *Handler) VerifyTurn(w http.ResponseWriter, r *http.Request) {
	var req VerifyTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.BadRequest("invalid request body"))
		return
	}

	out, ok := h.engine.VerifyTurn(req.Messages)
	if !ok {
		writeJSON(w, http.StatusOK, VerifyTurnResponse{Applicable: false})
		return
	}
	writeJSON(w, http.StatusOK, VerifyTurnResponse{Applicable: true, Outcome: &out})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	var decodeErr *health.DecodeError
	switch {
	case errors.As(err, &appErr):
	case errors.As(err, &decodeErr):
		appErr = apperrors.Upstream("openemr", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "request timed out"})
		return
	case errors.Is(err, context.Canceled):
		// client closed request
		w.WriteHeader(499)
		return
	default:
		appErr = apperrors.Internal(err)
	}

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, appErr.HTTPStatus, map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
