// Package errors provides custom error types for stock and fulfillment operations.
package errors

import (
	"errors"
	"fmt"
)

var ErrInsufficientStock = errors.New("insufficient free meters on roll")
var ErrInvalidMeters = errors.New("meters must be positive")

var ErrRollNotFound = errors.New("fabric roll not found")
var ErrReservationNotFound = errors.New("reservation not found")
var ErrOrderNotFound = errors.New("order not found")
var ErrMaterialNotFound = errors.New("material not found")
var ErrPriceNotFound = errors.New("no price configured for product in market")

// ErrInvalidState marks a release/consume attempt on a reservation that is no longer
// active. Callers should treat it as already handled, not retry.
var ErrInvalidState = errors.New("reservation is not active")

var ErrIllegalTransition = errors.New("illegal order status transition")

var ErrCreateRoll = errors.New("failed to create fabric roll")
var ErrCreateOrder = errors.New("failed to create order")
var ErrCreateOrderItem = errors.New("failed to create order item")
var ErrCreateReservation = errors.New("failed to create reservation")
var ErrUpdateOrder = errors.New("failed to update order")

var ErrTransactionBegin = errors.New("failed to begin transaction")
var ErrTransactionCommit = errors.New("failed to commit transaction")
var ErrTransactionRollback = errors.New("failed to rollback transaction")

// IllegalTransition wraps ErrIllegalTransition with both statuses so the caller can
// see what was attempted.
func IllegalTransition(current, target string) error {
	return fmt.Errorf("%s -> %s: %w", current, target, ErrIllegalTransition)
}
