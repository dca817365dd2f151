package store

import (
	"context"
	"sync"
	"testing"

	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/dokuma/fabricstock/internal/fulfillment/order"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestOrder is a helper to create an order in status new.
func newTestOrder(t *testing.T, s Store) *Order {
	t.Helper()
	o, _, err := s.CreateOrder(context.Background(), &CreateOrderParams{
		OrderType:   "meter",
		Market:      "TR",
		Currency:    "TRY",
		TotalAmount: 1000,
	}, &[]CreateOrderItemParams{
		{ProductID: uuid.New(), Quantity: 1, UnitPrice: 1000, Price: 1000},
	})
	require.NoError(t, err)
	return o
}

// newTestRoll is a helper to create a roll with the given total meters.
func newTestRoll(t *testing.T, s Store, totalMeters float64) *FabricRoll {
	t.Helper()
	roll, err := s.CreateRoll(context.Background(), &CreateRollParams{
		MaterialID:  uuid.New(),
		TotalMeters: totalMeters,
	})
	require.NoError(t, err)
	return roll
}

func Test_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - reserves meters and advances fresh order", func(t *testing.T) {
		// given
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)

		// when
		reservation, err := s.Reserve(ctx, o.ID, roll.ID, 4.5)

		// then
		require.NoError(t, err)
		assert.Equal(t, ReservationActive, reservation.Status)
		assert.Equal(t, 4.5, reservation.Meters)

		updatedRoll, err := s.FindRoll(ctx, roll.ID)
		require.NoError(t, err)
		assert.Equal(t, 4.5, updatedRoll.ReservedMeters)
		assert.Equal(t, 10.0, updatedRoll.TotalMeters)
		assert.Equal(t, 5.5, updatedRoll.FreeMeters())

		updatedOrder, _, err := s.FindOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReserved, updatedOrder.Status)
	})

	t.Run("Success - exact free meters", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)

		_, err := s.Reserve(ctx, o.ID, roll.ID, 10)

		require.NoError(t, err)
		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 0.0, updatedRoll.FreeMeters())
	})

	t.Run("Success - second reserve on reserved order is a status no-op", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		_, err := s.Reserve(ctx, o.ID, roll.ID, 3)
		require.NoError(t, err)

		_, err = s.Reserve(ctx, o.ID, roll.ID, 3)

		require.NoError(t, err)
		updatedOrder, _, err := s.FindOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReserved, updatedOrder.Status)
		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 6.0, updatedRoll.ReservedMeters)
	})

	t.Run("Error - insufficient free meters", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		_, err := s.Reserve(ctx, o.ID, roll.ID, 8)
		require.NoError(t, err)

		_, err = s.Reserve(ctx, o.ID, roll.ID, 3)

		require.ErrorIs(t, err, fferrors.ErrInsufficientStock)
		// No partial effect: counters are unchanged.
		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 8.0, updatedRoll.ReservedMeters)
	})

	t.Run("Error - roll not found", func(t *testing.T) {
		s := NewInMemoryStore()
		o := newTestOrder(t, s)

		_, err := s.Reserve(ctx, o.ID, uuid.New(), 1)

		require.ErrorIs(t, err, fferrors.ErrRollNotFound)
	})

	t.Run("Error - order not found", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)

		_, err := s.Reserve(ctx, uuid.New(), roll.ID, 1)

		require.ErrorIs(t, err, fferrors.ErrOrderNotFound)
	})
}

// Fractional meter amounts must add up exactly: 0.1 + 0.2 fills a 0.3 roll,
// and releasing everything brings the reserved counter back to exactly zero.
func Test_Reserve_FractionalMeters(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	roll := newTestRoll(t, s, 0.3)
	o := newTestOrder(t, s)

	first, err := s.Reserve(ctx, o.ID, roll.ID, 0.1)
	require.NoError(t, err)
	second, err := s.Reserve(ctx, o.ID, roll.ID, 0.2)
	require.NoError(t, err)

	updatedRoll, err := s.FindRoll(ctx, roll.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updatedRoll.FreeMeters(), "0.1 + 0.2 must fill the roll exactly")

	_, err = s.Reserve(ctx, o.ID, roll.ID, 0.1)
	require.ErrorIs(t, err, fferrors.ErrInsufficientStock)

	// Releasing every reservation restores the free pool exactly, so the full
	// roll can be reserved again.
	_, err = s.Release(ctx, first.ID)
	require.NoError(t, err)
	_, err = s.Release(ctx, second.ID)
	require.NoError(t, err)

	updatedRoll, err = s.FindRoll(ctx, roll.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updatedRoll.ReservedMeters)

	_, err = s.Reserve(ctx, o.ID, roll.ID, 0.3)
	require.NoError(t, err)
}

// Two concurrent reserves of 6 on a roll with 10 free meters: exactly one may win.
func Test_Reserve_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	roll := newTestRoll(t, s, 10)
	o := newTestOrder(t, s)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Reserve(ctx, o.ID, roll.ID, 6)
		}(i)
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, fferrors.ErrInsufficientStock)
			failed++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one reserve should win")
	assert.Equal(t, 1, failed)

	updatedRoll, err := s.FindRoll(ctx, roll.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, updatedRoll.ReservedMeters, "roll must never be oversold")
}

func Test_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - returns meters to the free pool", func(t *testing.T) {
		// given
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		reservation, err := s.Reserve(ctx, o.ID, roll.ID, 4)
		require.NoError(t, err)

		// when
		released, err := s.Release(ctx, reservation.ID)

		// then
		require.NoError(t, err)
		assert.Equal(t, ReservationReleased, released.Status)

		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 0.0, updatedRoll.ReservedMeters)
		assert.Equal(t, 10.0, updatedRoll.TotalMeters, "release must not touch total meters")
	})

	t.Run("Error - second release does not double-return meters", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		reservation, err := s.Reserve(ctx, o.ID, roll.ID, 4)
		require.NoError(t, err)
		_, err = s.Release(ctx, reservation.ID)
		require.NoError(t, err)

		_, err = s.Release(ctx, reservation.ID)

		require.ErrorIs(t, err, fferrors.ErrInvalidState)
		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 0.0, updatedRoll.ReservedMeters)
	})

	t.Run("Error - reservation not found", func(t *testing.T) {
		s := NewInMemoryStore()

		_, err := s.Release(ctx, uuid.New())

		require.ErrorIs(t, err, fferrors.ErrReservationNotFound)
	})
}

func Test_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - permanently removes meters", func(t *testing.T) {
		// given
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		reservation, err := s.Reserve(ctx, o.ID, roll.ID, 4)
		require.NoError(t, err)

		// when
		consumed, err := s.Consume(ctx, reservation.ID)

		// then
		require.NoError(t, err)
		assert.Equal(t, ReservationConsumed, consumed.Status)

		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 0.0, updatedRoll.ReservedMeters)
		assert.Equal(t, 6.0, updatedRoll.TotalMeters, "consume must shrink total meters")
	})

	t.Run("Error - consume after release", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		reservation, err := s.Reserve(ctx, o.ID, roll.ID, 4)
		require.NoError(t, err)
		_, err = s.Release(ctx, reservation.ID)
		require.NoError(t, err)

		_, err = s.Consume(ctx, reservation.ID)

		require.ErrorIs(t, err, fferrors.ErrInvalidState)
		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 10.0, updatedRoll.TotalMeters)
	})
}

func Test_Transition(t *testing.T) {
	ctx := context.Background()

	advance := func(t *testing.T, s Store, orderID uuid.UUID, path ...order.Status) {
		t.Helper()
		for _, target := range path {
			_, err := s.Transition(ctx, orderID, target)
			require.NoError(t, err)
		}
	}

	t.Run("Success - full happy path to shipped consumes reservations", func(t *testing.T) {
		// given
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		reservation, err := s.Reserve(ctx, o.ID, roll.ID, 7)
		require.NoError(t, err)

		// when
		advance(t, s, o.ID, order.StatusProduction, order.StatusQC, order.StatusShipped)

		// then
		updatedOrder, _, err := s.FindOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusShipped, updatedOrder.Status)

		reservations, err := s.FindReservationsByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, *reservations, 1)
		assert.Equal(t, ReservationConsumed, (*reservations)[0].Status)
		assert.Equal(t, reservation.ID, (*reservations)[0].ID)

		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 3.0, updatedRoll.TotalMeters)
		assert.Equal(t, 0.0, updatedRoll.ReservedMeters)
	})

	t.Run("Success - cancelling releases active reservations", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		_, err := s.Reserve(ctx, o.ID, roll.ID, 7)
		require.NoError(t, err)

		_, err = s.Transition(ctx, o.ID, order.StatusCancelled)

		require.NoError(t, err)
		updatedRoll, _ := s.FindRoll(ctx, roll.ID)
		assert.Equal(t, 10.0, updatedRoll.TotalMeters)
		assert.Equal(t, 0.0, updatedRoll.ReservedMeters)
	})

	t.Run("Error - shipping requires qc", func(t *testing.T) {
		s := NewInMemoryStore()
		roll := newTestRoll(t, s, 10)
		o := newTestOrder(t, s)
		_, err := s.Reserve(ctx, o.ID, roll.ID, 2)
		require.NoError(t, err)

		_, err = s.Transition(ctx, o.ID, order.StatusShipped)

		require.ErrorIs(t, err, fferrors.ErrIllegalTransition)
		assert.Contains(t, err.Error(), "reserved")
		assert.Contains(t, err.Error(), "shipped")
	})

	t.Run("Error - terminal status has no way out", func(t *testing.T) {
		s := NewInMemoryStore()
		o := newTestOrder(t, s)
		_, err := s.Transition(ctx, o.ID, order.StatusCancelled)
		require.NoError(t, err)

		_, err = s.Transition(ctx, o.ID, order.StatusReserved)

		require.ErrorIs(t, err, fferrors.ErrIllegalTransition)
	})

	t.Run("Error - order not found", func(t *testing.T) {
		s := NewInMemoryStore()

		_, err := s.Transition(ctx, uuid.New(), order.StatusCancelled)

		require.ErrorIs(t, err, fferrors.ErrOrderNotFound)
	})
}

func Test_SetPaymentResult(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - stores the gateway reference", func(t *testing.T) {
		s := NewInMemoryStore()
		o := newTestOrder(t, s)

		updated, err := s.SetPaymentResult(ctx, o.ID, order.StatusReserved, "pay_123")

		require.NoError(t, err)
		assert.Equal(t, order.StatusReserved, updated.Status)
		assert.Equal(t, "pay_123", updated.PaymentID)
	})

	t.Run("Success - failure moves to payment_failed", func(t *testing.T) {
		s := NewInMemoryStore()
		o := newTestOrder(t, s)

		updated, err := s.SetPaymentResult(ctx, o.ID, order.StatusPaymentFailed, "pay_456")

		require.NoError(t, err)
		assert.Equal(t, order.StatusPaymentFailed, updated.Status)
	})

	t.Run("Error - result on an already settled order", func(t *testing.T) {
		s := NewInMemoryStore()
		o := newTestOrder(t, s)
		_, err := s.SetPaymentResult(ctx, o.ID, order.StatusPaymentFailed, "pay_1")
		require.NoError(t, err)

		_, err = s.SetPaymentResult(ctx, o.ID, order.StatusReserved, "pay_1")

		require.ErrorIs(t, err, fferrors.ErrIllegalTransition)
	})
}

func Test_ListOrders_Paging(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	first := newTestOrder(t, s)
	second := newTestOrder(t, s)
	third := newTestOrder(t, s)

	t.Run("Success - newest first", func(t *testing.T) {
		list, err := s.ListOrders(ctx, &ListOrdersParams{Offset: 0, Limit: 10})

		require.NoError(t, err)
		require.Len(t, *list, 3)
		assert.Equal(t, third.ID, (*list)[0].ID)
		assert.Equal(t, second.ID, (*list)[1].ID)
		assert.Equal(t, first.ID, (*list)[2].ID)
	})

	t.Run("Success - limit caps the page", func(t *testing.T) {
		list, err := s.ListOrders(ctx, &ListOrdersParams{Offset: 0, Limit: 2})

		require.NoError(t, err)
		require.Len(t, *list, 2)
		assert.Equal(t, third.ID, (*list)[0].ID)
		assert.Equal(t, second.ID, (*list)[1].ID)
	})

	t.Run("Success - offset skips newer orders", func(t *testing.T) {
		list, err := s.ListOrders(ctx, &ListOrdersParams{Offset: 2, Limit: 2})

		require.NoError(t, err)
		require.Len(t, *list, 1)
		assert.Equal(t, first.ID, (*list)[0].ID)
	})

	t.Run("Success - offset past the end", func(t *testing.T) {
		list, err := s.ListOrders(ctx, &ListOrdersParams{Offset: 5, Limit: 2})

		require.NoError(t, err)
		require.Empty(t, *list)
	})

	t.Run("Success - status filter applies before paging", func(t *testing.T) {
		_, err := s.Transition(ctx, second.ID, order.StatusCancelled)
		require.NoError(t, err)

		statusNew := order.StatusNew
		list, err := s.ListOrders(ctx, &ListOrdersParams{Status: &statusNew, Offset: 1, Limit: 10})

		require.NoError(t, err)
		require.Len(t, *list, 1)
		assert.Equal(t, first.ID, (*list)[0].ID)
	})
}

func Test_ReleaseStranded(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	roll := newTestRoll(t, s, 20)

	// A reserve that lands after a failing payment callback leaves an active
	// reservation on a payment_failed order. Reserve only advances fresh orders,
	// so the failed status stays and the meters stay claimed.
	stranded := newTestOrder(t, s)
	_, err := s.SetPaymentResult(ctx, stranded.ID, order.StatusPaymentFailed, "pay_1")
	require.NoError(t, err)
	_, err = s.Reserve(ctx, stranded.ID, roll.ID, 5)
	require.NoError(t, err)

	// Healthy order: its reservation must be left alone.
	healthy := newTestOrder(t, s)
	_, err = s.Reserve(ctx, healthy.ID, roll.ID, 8)
	require.NoError(t, err)

	// when
	released, err := s.ReleaseStranded(ctx)

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	strandedReservations, err := s.FindReservationsByOrder(ctx, stranded.ID)
	require.NoError(t, err)
	require.Len(t, *strandedReservations, 1)
	assert.Equal(t, ReservationReleased, (*strandedReservations)[0].Status)

	healthyReservations, err := s.FindReservationsByOrder(ctx, healthy.ID)
	require.NoError(t, err)
	require.Len(t, *healthyReservations, 1)
	assert.Equal(t, ReservationActive, (*healthyReservations)[0].Status)

	updatedRoll, err := s.FindRoll(ctx, roll.ID)
	require.NoError(t, err)
	assert.Equal(t, 8.0, updatedRoll.ReservedMeters)
	assert.Equal(t, 20.0, updatedRoll.TotalMeters)

	// A second sweep finds nothing.
	released, err = s.ReleaseStranded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), released)
}
