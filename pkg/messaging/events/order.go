// Package events holds the wire shapes of order lifecycle events.
package events

import (
	"encoding/json"
	"time"

	"github.com/dokuma/fabricstock/pkg/messaging"
	"github.com/google/uuid"
)

// OrderReservedEvent is emitted when meters have been reserved on a roll for an order.
type OrderReservedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	RollID        uuid.UUID `json:"roll_id"`
	Meters        float64   `json:"meters"`
	ReservedAt    time.Time `json:"reserved_at"`
}

func (e OrderReservedEvent) Subject() string {
	return messaging.OrderReservedSubject
}

func (e OrderReservedEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// OrderStatusChangedEvent is emitted after every successful status transition.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

func (e OrderStatusChangedEvent) Subject() string {
	return messaging.OrderStatusChangedSubject
}

func (e OrderStatusChangedEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
