// Package messaging defines the event publishing contract used by the fulfillment
// service. Implementations live in pkg/nats.
package messaging

import (
	"context"
)

const (
	OrderReservedSubject      = "fabricstock.orders.reserved"
	OrderStatusChangedSubject = "fabricstock.orders.status_changed"
)

type Event interface {
	Subject() string
	Payload() ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
