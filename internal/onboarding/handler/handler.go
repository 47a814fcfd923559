// Package handler exposes the onboarding HTTP surface.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"onboarding-gateway/internal/onboarding/models"
	"onboarding-gateway/internal/platform/middleware"
	id "onboarding-gateway/pkg/domain"
	dErrors "onboarding-gateway/pkg/domain-errors"
	"onboarding-gateway/pkg/platform/httputil"
)

// ReplayHeader marks responses served from the idempotency store.
const ReplayHeader = "X-Idempotent-Replay"

// Service defines the onboarding operations the handler depends on.
type Service interface {
	Create(ctx context.Context, req *models.CreateRequest) (*models.CreateResult, error)
	GetByReference(ctx context.Context, referenceID id.ReferenceID) (*models.OnboardingRecord, error)
}

// Handler handles onboarding endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates an onboarding Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the onboarding routes with the shared middleware chain.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Post("/onboarding", h.handleCreate)
	router.Get("/onboarding/{referenceID}", h.handleGet)

	r.Mount("/", router)
}

// createRequest is the wire shape of the creation payload.
type createRequest struct {
	RequestID   string `json:"request_id"`
	CustomerID  string `json:"customer_id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Mobile      string `json:"mobile"`
	TaxID       string `json:"tax_id"`
	DateOfBirth string `json:"date_of_birth"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var wire createRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		h.logger.WarnContext(ctx, "invalid onboarding request body",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	// The Idempotency-Key header is an alternative to the body field.
	if wire.RequestID == "" {
		wire.RequestID = r.Header.Get("Idempotency-Key")
	}

	req, err := toCreateRequest(wire)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Create(ctx, req)
	if err != nil {
		h.logError(ctx, requestID, err)
		httputil.WriteError(w, err)
		return
	}

	if result.Replayed {
		w.Header().Set(ReplayHeader, "true")
	}
	httputil.WriteJSON(w, result.HTTPStatus(), result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referenceID, err := id.ParseReferenceID(chi.URLParam(r, "referenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.service.GetByReference(ctx, referenceID)
	if err != nil {
		h.logError(ctx, middleware.GetRequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func toCreateRequest(wire createRequest) (*models.CreateRequest, error) {
	requestID, err := id.ParseRequestID(wire.RequestID)
	if err != nil {
		return nil, err
	}
	customerID, err := id.ParseCustomerID(wire.CustomerID)
	if err != nil {
		return nil, err
	}
	return &models.CreateRequest{
		RequestID:   requestID,
		CustomerID:  customerID,
		FullName:    wire.FullName,
		Email:       wire.Email,
		Mobile:      wire.Mobile,
		TaxID:       wire.TaxID,
		DateOfBirth: wire.DateOfBirth,
		AddressLine: wire.AddressLine,
		City:        wire.City,
		State:       wire.State,
		PostalCode:  wire.PostalCode,
	}, nil
}

func (h *Handler) logError(ctx context.Context, requestID string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeInvariantViolation {
		h.logger.ErrorContext(ctx, "onboarding request failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		return
	}
	h.logger.WarnContext(ctx, "onboarding request refused",
		"request_id", requestID,
		"code", string(code),
		"error", err.Error(),
	)
}
