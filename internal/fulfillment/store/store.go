// Package store provides an interface for fabric stock and order storage operations.
package store

import (
	"context"
	"time"

	"github.com/dokuma/fabricstock/internal/fulfillment/order"
	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a reservation.
// Released and consumed are terminal.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationReleased ReservationStatus = "released"
	ReservationConsumed ReservationStatus = "consumed"
)

// FabricRoll is a physical roll of one material, measured in linear meters.
// TotalMeters only ever decreases on consume; ReservedMeters is maintained
// exclusively by Reserve/Release/Consume/Transition.
type FabricRoll struct {
	ID             uuid.UUID `json:"id"`
	MaterialID     uuid.UUID `json:"material_id"`
	TotalMeters    float64   `json:"total_meters"`
	ReservedMeters float64   `json:"reserved_meters"`
	CreatedAt      time.Time `json:"created_at"`
}

// FreeMeters is the derived free pool of the roll, computed at the ledger's
// millimeter resolution so it is exactly zero on a fully reserved roll.
func (r *FabricRoll) FreeMeters() float64 {
	return fromMillis(toMillis(r.TotalMeters) - toMillis(r.ReservedMeters))
}

// Reservation is a claim of meters from one roll on behalf of one order.
type Reservation struct {
	ID        uuid.UUID         `json:"id"`
	RollID    uuid.UUID         `json:"roll_id"`
	OrderID   uuid.UUID         `json:"order_id"`
	Meters    float64           `json:"meters"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Order is the customer purchase aggregate. TotalAmount is in minor currency units.
type Order struct {
	ID          uuid.UUID    `json:"id"`
	Status      order.Status `json:"status"`
	OrderType   string       `json:"order_type"`
	Market      string       `json:"market"`
	Currency    string       `json:"currency"`
	TotalAmount int64        `json:"total_amount"`
	PaymentID   string       `json:"payment_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// OrderItem is an immutable line-item snapshot taken at purchase time.
type OrderItem struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRollParams struct {
	MaterialID  uuid.UUID
	TotalMeters float64
}

type CreateOrderParams struct {
	OrderType   string
	Market      string
	Currency    string
	TotalAmount int64
}

type CreateOrderItemParams struct {
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int32
	UnitPrice int64
	Price     int64
}

type ListOrdersParams struct {
	Status *order.Status
	Offset int32
	Limit  int32
}

// Store is an interface for fabric stock and order storage operations.
// It abstracts the underlying data store, allowing for different implementations
// (e.g., in-memory, database).
type Store interface {
	// CreateRoll registers a new fabric roll (stock received).
	CreateRoll(ctx context.Context, params *CreateRollParams) (*FabricRoll, error)

	// FindRoll retrieves a single roll by its unique identifier.
	// Returns ErrRollNotFound if no roll exists with the given ID.
	FindRoll(ctx context.Context, id uuid.UUID) (*FabricRoll, error)

	// ListRolls returns all registered rolls.
	ListRolls(ctx context.Context) (*[]FabricRoll, error)

	// Reserve atomically moves meters from the roll's free pool to its reserved pool
	// and records an active reservation for the order. The free-meters check and the
	// counter update are applied as one conditional operation, so concurrent reserves
	// against the same roll cannot both succeed on the same free meters.
	// If the order is still in status "new" it is advanced to "reserved"; any other
	// status is left untouched.
	// Returns ErrInsufficientStock, ErrRollNotFound or ErrOrderNotFound.
	Reserve(ctx context.Context, orderID, rollID uuid.UUID, meters float64) (*Reservation, error)

	// Release returns a reservation's meters to the roll's free pool. Total meters
	// are unchanged. Returns ErrInvalidState if the reservation is not active, so a
	// second release cannot double-increment the free pool.
	Release(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)

	// Consume permanently deducts a reservation's meters from both the reserved and
	// the total pool (the fabric has been cut). Returns ErrInvalidState if the
	// reservation is not active.
	Consume(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)

	// FindReservationsByOrder returns all reservations held by an order.
	FindReservationsByOrder(ctx context.Context, orderID uuid.UUID) (*[]Reservation, error)

	// CreateOrder adds a new order with its item snapshots in status "new".
	CreateOrder(ctx context.Context, params *CreateOrderParams, items *[]CreateOrderItemParams) (*Order, *[]OrderItem, error)

	// FindOrder retrieves a single order with its items.
	// Returns ErrOrderNotFound if no order exists with the given ID.
	FindOrder(ctx context.Context, id uuid.UUID) (*Order, *[]OrderItem, error)

	// ListOrders returns orders, newest first, optionally filtered by status.
	ListOrders(ctx context.Context, params *ListOrdersParams) (*[]Order, error)

	// Transition moves an order to the target status if the transition table allows
	// it, otherwise fails with ErrIllegalTransition carrying both statuses.
	// Moving to "shipped" consumes all remaining active reservations of the order;
	// moving to "cancelled" releases them. Both happen atomically with the status
	// change.
	Transition(ctx context.Context, orderID uuid.UUID, target order.Status) (*Order, error)

	// SetPaymentResult records the gateway outcome: the order moves to target
	// (reserved or payment_failed) under the same transition rules, and the payment
	// reference is stored alongside.
	SetPaymentResult(ctx context.Context, orderID uuid.UUID, target order.Status, paymentID string) (*Order, error)

	// ReleaseStranded releases every active reservation whose order already sits in
	// "payment_failed". Returns the number of reservations released.
	ReleaseStranded(ctx context.Context) (int64, error)
}
