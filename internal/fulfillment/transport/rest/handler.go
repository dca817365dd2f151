// Package rest provides HTTP handlers for stock and fulfillment operations.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/dokuma/fabricstock/internal/fulfillment/order"
	"github.com/dokuma/fabricstock/internal/fulfillment/service"
	"github.com/dokuma/fabricstock/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Handler struct {
	service  service.FulfillmentService
	adminKey string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new instance of the fulfillment REST API.
func NewHandler(svc service.FulfillmentService, adminKey string, logger *slog.Logger) *Handler {
	return &Handler{
		service:  svc,
		adminKey: adminKey,
		validate: validator.New(),

		logger: logger.With("component", "rest"),
	}
}

// RegisterRoutes registers the HTTP routes for the fulfillment service.
func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(web.AdminGate(h.adminKey))

		r.Route("/api/v1/stock", func(r chi.Router) {
			r.Route("/rolls", func(r chi.Router) {
				r.Get("/", h.ListRolls)
				r.Post("/", h.CreateRoll)
				r.Get("/{id}", h.FindRoll)
			})
			r.Post("/reserve", h.Reserve)
			r.Post("/release", h.Release)
			r.Post("/consume", h.Consume)
		})

		r.Route("/api/v1/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.FindOrder)
				r.Post("/transition", h.Transition)
			})
		})
	})

	// Gateways call back without operator credentials.
	r.Post("/api/v1/payments/{provider}/callback", h.PaymentCallback)
	r.Get("/healthz", h.HealthCheck)
}

// CreateRoll registers a new fabric roll.
func (h *Handler) CreateRoll(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto service.RollCreateDto
	if !h.decodeAndValidate(w, r, mLogger, &dto) {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to create roll", "material_id", dto.MaterialID, "total_meters", dto.TotalMeters)
	created, err := h.service.CreateRoll(r.Context(), dto)
	if err != nil {
		if errors.Is(err, fferrors.ErrMaterialNotFound) {
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Material %s not found", dto.MaterialID))
			return
		}
		mLogger.ErrorContext(r.Context(), "Error creating roll", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to create roll")
		return
	}
	mLogger.InfoContext(r.Context(), "Roll created successfully", slog.String("ID", created.ID.String()))
	web.RespondJSON(w, mLogger, http.StatusCreated, created)
}

// FindRoll retrieves a roll with its free meters.
func (h *Handler) FindRoll(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger)
	if !ok {
		return
	}

	found, err := h.service.FindRoll(r.Context(), id)
	if err != nil {
		if errors.Is(err, fferrors.ErrRollNotFound) {
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Roll with ID %s not found", id))
			return
		}
		mLogger.ErrorContext(r.Context(), "Error retrieving roll", "ID", id, "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve roll with ID %s", id))
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, found)
}

// ListRolls retrieves all rolls.
func (h *Handler) ListRolls(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	list, err := h.service.ListRolls(r.Context())
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error retrieving roll list", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to fetch rolls")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, *list)
}

// Reserve places a reservation of meters on a roll for an order.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto service.ReserveDto
	if !h.decodeAndValidate(w, r, mLogger, &dto) {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to reserve meters", "order_id", dto.OrderID, "roll_id", dto.RollID, "meters", dto.Meters)
	reservation, err := h.service.Reserve(r.Context(), dto)
	if err != nil {
		switch {
		case errors.Is(err, fferrors.ErrInsufficientStock):
			mLogger.WarnContext(r.Context(), "Insufficient stock", "roll_id", dto.RollID, "meters", dto.Meters)
			web.RespondError(w, mLogger, http.StatusBadRequest, err.Error())
		case errors.Is(err, fferrors.ErrInvalidMeters):
			web.RespondError(w, mLogger, http.StatusBadRequest, err.Error())
		case errors.Is(err, fferrors.ErrRollNotFound):
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Roll with ID %s not found", dto.RollID))
		case errors.Is(err, fferrors.ErrOrderNotFound):
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Order with ID %s not found", dto.OrderID))
		default:
			mLogger.ErrorContext(r.Context(), "Error reserving meters", "error", err)
			web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to reserve meters")
		}
		return
	}
	mLogger.InfoContext(r.Context(), "Meters reserved successfully", slog.String("ID", reservation.ID.String()), "meters", reservation.Meters)
	web.RespondJSON(w, mLogger, http.StatusCreated, reservation)
}

// Release returns a reservation's meters to the roll's free pool.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.service.Release)
}

// Consume permanently deducts a reservation's meters from the roll.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.service.Consume)
}

type settleRequest struct {
	ReservationID uuid.UUID `json:"reservation_id" validate:"required"`
}

// settle is the shared release/consume flow; the two differ only in the service
// call and both map ErrInvalidState to 409.
func (h *Handler) settle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, reservationID uuid.UUID) (*service.ReservationDto, error)) {
	mLogger := h.loggerWithReqID(r)
	var req settleRequest
	if !h.decodeAndValidate(w, r, mLogger, &req) {
		return
	}

	reservation, err := fn(r.Context(), req.ReservationID)
	if err != nil {
		switch {
		case errors.Is(err, fferrors.ErrReservationNotFound):
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Reservation with ID %s not found", req.ReservationID))
		case errors.Is(err, fferrors.ErrInvalidState):
			mLogger.WarnContext(r.Context(), "Reservation already settled", "reservation_id", req.ReservationID)
			web.RespondError(w, mLogger, http.StatusConflict, err.Error())
		default:
			mLogger.ErrorContext(r.Context(), "Error settling reservation", "reservation_id", req.ReservationID, "error", err)
			web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to settle reservation")
		}
		return
	}
	mLogger.InfoContext(r.Context(), "Reservation settled", slog.String("ID", reservation.ID.String()), "status", reservation.Status)
	web.RespondJSON(w, mLogger, http.StatusOK, reservation)
}

// CreateOrder handles the creation of a new order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto service.OrderCreateDto
	if !h.decodeAndValidate(w, r, mLogger, &dto) {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to create order", "order", dto)
	created, err := h.service.CreateOrder(r.Context(), dto)
	if err != nil {
		if errors.Is(err, fferrors.ErrPriceNotFound) {
			web.RespondError(w, mLogger, http.StatusBadRequest, err.Error())
			return
		}
		mLogger.ErrorContext(r.Context(), "Error creating order", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to create order")
		return
	}
	mLogger.InfoContext(r.Context(), "Order created successfully", slog.String("ID", created.ID.String()))
	web.RespondJSON(w, mLogger, http.StatusCreated, created)
}

// FindOrder retrieves an order with its items and reservations.
func (h *Handler) FindOrder(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger)
	if !ok {
		return
	}

	found, err := h.service.FindOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, fferrors.ErrOrderNotFound) {
			mLogger.WarnContext(r.Context(), "Order not found", "ID", id)
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Order with ID %s not found", id))
			return
		}
		mLogger.ErrorContext(r.Context(), "Error retrieving order", "ID", id, "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve order with ID %s", id))
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, found)
}

// ListOrders retrieves orders, optionally filtered by status.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	limit, ok := web.ParseValidateGt(r, w, mLogger, "limit", 0)
	if !ok {
		return
	}
	offset, ok := web.ParseValidateGte(r, w, mLogger, "offset", 0)
	if !ok {
		return
	}

	var statusFilter *order.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := order.ParseStatus(raw)
		if err != nil {
			web.RespondError(w, mLogger, http.StatusBadRequest, err.Error())
			return
		}
		statusFilter = &parsed
	}

	list, err := h.service.ListOrders(r.Context(), statusFilter, offset, limit)
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error retrieving order list", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to fetch orders")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, *list)
}

type transitionRequest struct {
	TargetStatus string `json:"target_status" validate:"required"`
}

// Transition moves an order through the status state machine.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decodeAndValidate(w, r, mLogger, &req) {
		return
	}
	target, err := order.ParseStatus(req.TargetStatus)
	if err != nil {
		web.RespondError(w, mLogger, http.StatusBadRequest, err.Error())
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to transition order", "ID", id, "target", target)
	updated, err := h.service.Transition(r.Context(), id, target)
	if err != nil {
		switch {
		case errors.Is(err, fferrors.ErrOrderNotFound):
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Order with ID %s not found", id))
		case errors.Is(err, fferrors.ErrIllegalTransition):
			mLogger.WarnContext(r.Context(), "Illegal order transition", "ID", id, "target", target, "error", err)
			web.RespondError(w, mLogger, http.StatusConflict, err.Error())
		default:
			mLogger.ErrorContext(r.Context(), "Error transitioning order", "ID", id, "error", err)
			web.RespondError(w, mLogger, http.StatusInternalServerError, fmt.Sprintf("Failed to transition order with ID %s", id))
		}
		return
	}
	mLogger.InfoContext(r.Context(), "Order transitioned successfully", slog.String("ID", updated.ID.String()), "status", updated.Status)
	web.RespondJSON(w, mLogger, http.StatusOK, updated)
}

type paymentCallbackRequest struct {
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
	Succeeded bool      `json:"succeeded"`
	PaymentID string    `json:"payment_id"`
}

// PaymentCallback applies a gateway outcome to an order.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	provider := chi.URLParam(r, "provider")
	var req paymentCallbackRequest
	if !h.decodeAndValidate(w, r, mLogger, &req) {
		return
	}

	mLogger.DebugContext(r.Context(), "Received payment callback", "provider", provider, "order_id", req.OrderID, "succeeded", req.Succeeded)
	updated, err := h.service.HandlePaymentResult(r.Context(), service.PaymentResultDto{
		OrderID:   req.OrderID,
		Provider:  provider,
		Succeeded: req.Succeeded,
		PaymentID: req.PaymentID,
	})
	if err != nil {
		switch {
		case errors.Is(err, fferrors.ErrOrderNotFound):
			web.RespondError(w, mLogger, http.StatusNotFound, fmt.Sprintf("Order with ID %s not found", req.OrderID))
		case errors.Is(err, fferrors.ErrIllegalTransition):
			mLogger.WarnContext(r.Context(), "Payment callback rejected by state machine", "order_id", req.OrderID, "error", err)
			web.RespondError(w, mLogger, http.StatusConflict, err.Error())
		default:
			mLogger.ErrorContext(r.Context(), "Error applying payment result", "order_id", req.OrderID, "error", err)
			web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to apply payment result")
		}
		return
	}
	mLogger.InfoContext(r.Context(), "Payment result applied", slog.String("ID", updated.ID.String()), "status", updated.Status)
	web.RespondJSON(w, mLogger, http.StatusOK, updated)
}

// HealthCheck is a simple health check endpoint.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decodeAndValidate decodes the JSON body into dst and runs struct validation,
// writing the error response itself on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, mLogger *slog.Logger, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			errorResponse := make(map[string]string)
			for _, fieldErr := range validationErrors {
				errorResponse[fieldErr.Field()] = "failed on rule: " + fieldErr.Tag()
			}
			mLogger.WarnContext(r.Context(), "Validation errors occurred", "errors", errorResponse)
			web.RespondJSON(w, mLogger, http.StatusBadRequest, map[string]any{"validation_errors": errorResponse})
			return false
		}
		mLogger.ErrorContext(r.Context(), "Error validating request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// loggerWithReqID creates a logger with the request ID from the context.
func (h *Handler) loggerWithReqID(r *http.Request) *slog.Logger {
	reqID := middleware.GetReqID(r.Context())
	return h.logger.With("request_id", reqID)
}
