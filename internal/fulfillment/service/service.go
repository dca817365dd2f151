// Package service provides the implementation of fabric stock and fulfillment
// business logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dokuma/fabricstock/internal/catalog"
	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/dokuma/fabricstock/internal/fulfillment/order"
	"github.com/dokuma/fabricstock/internal/fulfillment/store"
	"github.com/dokuma/fabricstock/pkg/messaging"
	"github.com/dokuma/fabricstock/pkg/messaging/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/google/uuid"
)

// FulfillmentService defines the operations of the stock reservation and order
// fulfillment core.
type FulfillmentService interface {
	// CreateRoll registers a received fabric roll.
	// Returns ErrMaterialNotFound if the material is not in the catalog.
	CreateRoll(ctx context.Context, dto RollCreateDto) (*RollDto, error)

	// FindRoll retrieves a roll with its derived free meters.
	FindRoll(ctx context.Context, id uuid.UUID) (*RollDto, error)

	// ListRolls returns all rolls.
	ListRolls(ctx context.Context) (*[]RollDto, error)

	// Reserve places an active reservation of meters on a roll for an order.
	// Returns ErrInvalidMeters, ErrInsufficientStock, ErrRollNotFound or
	// ErrOrderNotFound. No partial effect on failure.
	Reserve(ctx context.Context, dto ReserveDto) (*ReservationDto, error)

	// Release returns a reservation's meters to the roll's free pool.
	// Returns ErrInvalidState if the reservation is no longer active.
	Release(ctx context.Context, reservationID uuid.UUID) (*ReservationDto, error)

	// Consume permanently deducts a reservation's meters from the roll.
	// Returns ErrInvalidState if the reservation is no longer active.
	Consume(ctx context.Context, reservationID uuid.UUID) (*ReservationDto, error)

	// CreateOrder adds a new order, pricing each line item from the catalog for
	// the order's market. Returns ErrPriceNotFound if a product has no price there.
	CreateOrder(ctx context.Context, dto OrderCreateDto) (*OrderDto, error)

	// FindOrder retrieves an order with its items and reservations.
	FindOrder(ctx context.Context, id uuid.UUID) (*OrderDto, error)

	// ListOrders returns orders, optionally filtered by status.
	ListOrders(ctx context.Context, status *order.Status, offset, limit int32) (*[]OrderDto, error)

	// Transition moves an order through the status state machine.
	// Returns ErrIllegalTransition if the move is not in the transition table.
	Transition(ctx context.Context, orderID uuid.UUID, target order.Status) (*OrderDto, error)

	// HandlePaymentResult applies a payment gateway outcome: success moves the
	// order toward reserved, failure to payment_failed. Duplicate callbacks for
	// the same payment reference are absorbed without re-running the transition.
	HandlePaymentResult(ctx context.Context, dto PaymentResultDto) (*OrderDto, error)
}

// PaymentDeduper guards against repeated delivery of the same gateway callback.
type PaymentDeduper interface {
	ClaimPayment(ctx context.Context, provider, paymentID, orderID string) (bool, error)
}

// Service implements FulfillmentService.
type Service struct {
	store          store.Store
	catalog        catalog.Catalog
	publisher      messaging.Publisher
	deduper        PaymentDeduper
	metersReserved metric.Float64Counter
	transitions    metric.Int64Counter
}

// NewService creates a new FulfillmentService over the provided collaborators.
func NewService(st store.Store, cat catalog.Catalog, publisher messaging.Publisher, deduper PaymentDeduper) *Service {
	meter := otel.Meter("fulfillment-service")
	metersReserved, err := meter.Float64Counter("meters_reserved", metric.WithDescription("Total meters reserved on fabric rolls"))
	if err != nil {
		panic(fmt.Sprintf("failed to create meters_reserved counter: %v", err))
	}
	transitions, err := meter.Int64Counter("order_transitions", metric.WithDescription("Total successful order status transitions"))
	if err != nil {
		panic(fmt.Sprintf("failed to create order_transitions counter: %v", err))
	}
	return &Service{
		store:          st,
		catalog:        cat,
		publisher:      publisher,
		deduper:        deduper,
		metersReserved: metersReserved,
		transitions:    transitions,
	}
}

// RollDto represents a fabric roll with its derived free pool.
type RollDto struct {
	ID             uuid.UUID `json:"id"`
	MaterialID     uuid.UUID `json:"material_id"`
	TotalMeters    float64   `json:"total_meters"`
	ReservedMeters float64   `json:"reserved_meters"`
	FreeMeters     float64   `json:"free_meters"`
	CreatedAt      string    `json:"created_at"`
}

// RollCreateDto represents the data transfer object for registering a roll.
type RollCreateDto struct {
	MaterialID  uuid.UUID `json:"material_id" validate:"required"`
	TotalMeters float64   `json:"total_meters" validate:"required,gt=0"`
}

// ReserveDto represents a reservation request.
type ReserveDto struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	RollID  uuid.UUID `json:"roll_id" validate:"required"`
	Meters  float64   `json:"meters" validate:"required,gt=0"`
}

type ReservationDto struct {
	ID        uuid.UUID `json:"id"`
	RollID    uuid.UUID `json:"roll_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Meters    float64   `json:"meters"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"created_at"`
}

// OrderCreateDto represents the data transfer object for creating a new order.
type OrderCreateDto struct {
	OrderType string               `json:"order_type" validate:"required,oneof=custom meter unit"`
	Market    string               `json:"market" validate:"required"`
	Items     []OrderItemCreateDto `json:"items" validate:"required,gt=0,dive"`
}

type OrderItemCreateDto struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int32     `json:"quantity" validate:"required,min=1"`
}

type OrderDto struct {
	ID           uuid.UUID        `json:"id"`
	Status       string           `json:"status"`
	OrderType    string           `json:"order_type"`
	Market       string           `json:"market"`
	Currency     string           `json:"currency"`
	TotalAmount  int64            `json:"total_amount"`
	PaymentID    string           `json:"payment_id,omitempty"`
	CreatedAt    string           `json:"created_at"`
	Items        []OrderItemDto   `json:"items,omitempty"`
	Reservations []ReservationDto `json:"reservations,omitempty"`
}

type OrderItemDto struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Price     int64     `json:"price"`
	CreatedAt string    `json:"created_at"`
}

// PaymentResultDto is the normalized gateway callback payload.
type PaymentResultDto struct {
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
	Provider  string    `json:"provider" validate:"required"`
	Succeeded bool      `json:"succeeded"`
	PaymentID string    `json:"payment_id"`
}

func (s *Service) CreateRoll(ctx context.Context, dto RollCreateDto) (*RollDto, error) {
	exists, err := s.catalog.MaterialExists(ctx, dto.MaterialID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fferrors.ErrMaterialNotFound
	}

	roll, err := s.store.CreateRoll(ctx, &store.CreateRollParams{MaterialID: dto.MaterialID, TotalMeters: dto.TotalMeters})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Fabric roll registered", "roll_id", roll.ID, "total_meters", roll.TotalMeters)
	return toRollDto(roll), nil
}

func (s *Service) FindRoll(ctx context.Context, id uuid.UUID) (*RollDto, error) {
	roll, err := s.store.FindRoll(ctx, id)
	if err != nil {
		return nil, err
	}
	return toRollDto(roll), nil
}

func (s *Service) ListRolls(ctx context.Context) (*[]RollDto, error) {
	rolls, err := s.store.ListRolls(ctx)
	if err != nil {
		return nil, err
	}
	dtos := make([]RollDto, len(*rolls))
	for i, roll := range *rolls {
		dtos[i] = *toRollDto(&roll)
	}
	return &dtos, nil
}

func (s *Service) Reserve(ctx context.Context, dto ReserveDto) (*ReservationDto, error) {
	if dto.Meters <= 0 {
		return nil, fferrors.ErrInvalidMeters
	}

	reservation, err := s.store.Reserve(ctx, dto.OrderID, dto.RollID, dto.Meters)
	if err != nil {
		return nil, err
	}
	s.metersReserved.Add(ctx, reservation.Meters)

	s.publish(ctx, events.OrderReservedEvent{
		OrderID:       reservation.OrderID,
		ReservationID: reservation.ID,
		RollID:        reservation.RollID,
		Meters:        reservation.Meters,
		ReservedAt:    reservation.CreatedAt,
	})
	return toReservationDto(reservation), nil
}

func (s *Service) Release(ctx context.Context, reservationID uuid.UUID) (*ReservationDto, error) {
	reservation, err := s.store.Release(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Reservation released", "reservation_id", reservation.ID, "meters", reservation.Meters)
	return toReservationDto(reservation), nil
}

func (s *Service) Consume(ctx context.Context, reservationID uuid.UUID) (*ReservationDto, error) {
	reservation, err := s.store.Consume(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Reservation consumed", "reservation_id", reservation.ID, "meters", reservation.Meters)
	return toReservationDto(reservation), nil
}

func (s *Service) CreateOrder(ctx context.Context, dto OrderCreateDto) (*OrderDto, error) {
	var totalAmount int64
	var currency string
	itemParams := make([]store.CreateOrderItemParams, 0, len(dto.Items))

	// Prices come from the catalog for the order's market; client-supplied
	// amounts are never trusted.
	for _, item := range dto.Items {
		price, err := s.catalog.PriceFor(ctx, item.ProductID, dto.Market)
		if err != nil {
			return nil, err
		}
		if currency == "" {
			currency = price.Currency
		}
		linePrice := price.Amount * int64(item.Quantity)
		itemParams = append(itemParams, store.CreateOrderItemParams{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price.Amount,
			Price:     linePrice,
		})
		totalAmount += linePrice
	}

	created, items, err := s.store.CreateOrder(ctx, &store.CreateOrderParams{
		OrderType:   dto.OrderType,
		Market:      dto.Market,
		Currency:    currency,
		TotalAmount: totalAmount,
	}, &itemParams)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Order created", "order_id", created.ID, "total_amount", created.TotalAmount, "currency", created.Currency)
	return toOrderDto(created, items, nil), nil
}

func (s *Service) FindOrder(ctx context.Context, id uuid.UUID) (*OrderDto, error) {
	o, items, err := s.store.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	reservations, err := s.store.FindReservationsByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return toOrderDto(o, items, reservations), nil
}

func (s *Service) ListOrders(ctx context.Context, status *order.Status, offset, limit int32) (*[]OrderDto, error) {
	orders, err := s.store.ListOrders(ctx, &store.ListOrdersParams{Status: status, Offset: offset, Limit: limit})
	if err != nil {
		return nil, err
	}
	dtos := make([]OrderDto, len(*orders))
	for i, o := range *orders {
		dtos[i] = *toOrderDto(&o, nil, nil)
	}
	return &dtos, nil
}

func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, target order.Status) (*OrderDto, error) {
	updated, err := s.store.Transition(ctx, orderID, target)
	if err != nil {
		return nil, err
	}
	s.transitions.Add(ctx, 1)

	s.publish(ctx, events.OrderStatusChangedEvent{
		OrderID:   updated.ID,
		Status:    string(updated.Status),
		ChangedAt: time.Now(),
	})
	return toOrderDto(updated, nil, nil), nil
}

func (s *Service) HandlePaymentResult(ctx context.Context, dto PaymentResultDto) (*OrderDto, error) {
	if dto.PaymentID != "" {
		first, err := s.deduper.ClaimPayment(ctx, dto.Provider, dto.PaymentID, dto.OrderID.String())
		if err != nil {
			// Redis being down must not drop a payment outcome; the transition
			// table still protects against double application.
			slog.ErrorContext(ctx, "Payment dedup check failed, proceeding", "error", err)
		} else if !first {
			slog.InfoContext(ctx, "Duplicate payment callback ignored", "provider", dto.Provider, "payment_id", dto.PaymentID)
			o, items, err := s.store.FindOrder(ctx, dto.OrderID)
			if err != nil {
				return nil, err
			}
			return toOrderDto(o, items, nil), nil
		}
	}

	target := order.StatusReserved
	if !dto.Succeeded {
		target = order.StatusPaymentFailed
	}

	updated, err := s.store.SetPaymentResult(ctx, dto.OrderID, target, dto.PaymentID)
	if err != nil {
		return nil, err
	}
	s.transitions.Add(ctx, 1)
	slog.InfoContext(ctx, "Payment result applied", "order_id", updated.ID, "provider", dto.Provider, "status", updated.Status)

	s.publish(ctx, events.OrderStatusChangedEvent{
		OrderID:   updated.ID,
		Status:    string(updated.Status),
		ChangedAt: time.Now(),
	})
	return toOrderDto(updated, nil, nil), nil
}

// publish sends an event, logging failures instead of failing the mutation that
// already committed.
func (s *Service) publish(ctx context.Context, event messaging.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish event", "subject", event.Subject(), "error", err)
	}
}

func toRollDto(roll *store.FabricRoll) *RollDto {
	return &RollDto{
		ID:             roll.ID,
		MaterialID:     roll.MaterialID,
		TotalMeters:    roll.TotalMeters,
		ReservedMeters: roll.ReservedMeters,
		FreeMeters:     roll.FreeMeters(),
		CreatedAt:      roll.CreatedAt.Format(time.RFC3339),
	}
}

func toReservationDto(r *store.Reservation) *ReservationDto {
	return &ReservationDto{
		ID:        r.ID,
		RollID:    r.RollID,
		OrderID:   r.OrderID,
		Meters:    r.Meters,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func toOrderDto(o *store.Order, items *[]store.OrderItem, reservations *[]store.Reservation) *OrderDto {
	if o == nil {
		return nil
	}

	var itemDtos []OrderItemDto
	if items != nil {
		itemDtos = make([]OrderItemDto, 0, len(*items))
		for _, item := range *items {
			itemDtos = append(itemDtos, OrderItemDto{
				ID:        item.ID,
				OrderID:   item.OrderID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				Price:     item.Price,
				CreatedAt: item.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	var reservationDtos []ReservationDto
	if reservations != nil {
		reservationDtos = make([]ReservationDto, 0, len(*reservations))
		for _, r := range *reservations {
			reservationDtos = append(reservationDtos, *toReservationDto(&r))
		}
	}

	return &OrderDto{
		ID:           o.ID,
		Status:       string(o.Status),
		OrderType:    o.OrderType,
		Market:       o.Market,
		Currency:     o.Currency,
		TotalAmount:  o.TotalAmount,
		PaymentID:    o.PaymentID,
		CreatedAt:    o.CreatedAt.Format(time.RFC3339),
		Items:        itemDtos,
		Reservations: reservationDtos,
	}
}
