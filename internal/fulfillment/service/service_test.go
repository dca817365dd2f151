package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dokuma/fabricstock/internal/catalog"
	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/dokuma/fabricstock/internal/fulfillment/order"
	"github.com/dokuma/fabricstock/internal/fulfillment/store"
	"github.com/dokuma/fabricstock/pkg/messaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPublisher records published events.
type mockPublisher struct {
	events []messaging.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event messaging.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// mockDeduper returns canned claim results.
type mockDeduper struct {
	first  bool
	err    error
	claims int
}

func (m *mockDeduper) ClaimPayment(_ context.Context, _, _, _ string) (bool, error) {
	m.claims++
	if m.err != nil {
		return false, m.err
	}
	return m.first, nil
}

type fixture struct {
	service   *Service
	store     store.Store
	catalog   *catalog.InMemoryCatalog
	publisher *mockPublisher
	deduper   *mockDeduper
}

func newFixture(deduper *mockDeduper) *fixture {
	st := store.NewInMemoryStore()
	cat := catalog.NewInMemoryCatalog()
	publisher := &mockPublisher{}
	if deduper == nil {
		deduper = &mockDeduper{first: true}
	}
	return &fixture{
		service:   NewService(st, cat, publisher, deduper),
		store:     st,
		catalog:   cat,
		publisher: publisher,
		deduper:   deduper,
	}
}

// createTestOrder is a helper to create an order via the service with a priced product.
func (f *fixture) createTestOrder(t *testing.T, market string, quantity int32) *OrderDto {
	t.Helper()
	productID := uuid.New()
	f.catalog.SetPrice(productID, market, catalog.Price{Amount: 2500, Currency: "TRY"})
	created, err := f.service.CreateOrder(context.Background(), OrderCreateDto{
		OrderType: "meter",
		Market:    market,
		Items:     []OrderItemCreateDto{{ProductID: productID, Quantity: quantity}},
	})
	require.NoError(t, err)
	return created
}

// createTestRoll is a helper to register a roll with a known material.
func (f *fixture) createTestRoll(t *testing.T, totalMeters float64) *RollDto {
	t.Helper()
	materialID := uuid.New()
	f.catalog.AddMaterial(materialID)
	created, err := f.service.CreateRoll(context.Background(), RollCreateDto{MaterialID: materialID, TotalMeters: totalMeters})
	require.NoError(t, err)
	return created
}

func Test_Service_CreateRoll(t *testing.T) {
	t.Run("Success - roll registered", func(t *testing.T) {
		// given
		f := newFixture(nil)
		materialID := uuid.New()
		f.catalog.AddMaterial(materialID)

		// when
		created, err := f.service.CreateRoll(context.Background(), RollCreateDto{MaterialID: materialID, TotalMeters: 42.5})

		// then
		require.NoError(t, err)
		assert.Equal(t, materialID, created.MaterialID)
		assert.Equal(t, 42.5, created.TotalMeters)
		assert.Equal(t, 0.0, created.ReservedMeters)
		assert.Equal(t, 42.5, created.FreeMeters)
	})

	t.Run("Error - unknown material", func(t *testing.T) {
		f := newFixture(nil)

		_, err := f.service.CreateRoll(context.Background(), RollCreateDto{MaterialID: uuid.New(), TotalMeters: 10})

		require.ErrorIs(t, err, fferrors.ErrMaterialNotFound)
	})
}

func Test_Service_Reserve(t *testing.T) {
	t.Run("Success - reservation created and event published", func(t *testing.T) {
		// given
		f := newFixture(nil)
		roll := f.createTestRoll(t, 10)
		o := f.createTestOrder(t, "TR", 1)

		// when
		reservation, err := f.service.Reserve(context.Background(), ReserveDto{OrderID: o.ID, RollID: roll.ID, Meters: 3.5})

		// then
		require.NoError(t, err)
		assert.Equal(t, string(store.ReservationActive), reservation.Status)
		assert.Equal(t, 3.5, reservation.Meters)
		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, "fabricstock.orders.reserved", f.publisher.events[0].Subject())
	})

	t.Run("Error - non-positive meters rejected before the store", func(t *testing.T) {
		f := newFixture(nil)
		roll := f.createTestRoll(t, 10)
		o := f.createTestOrder(t, "TR", 1)

		_, err := f.service.Reserve(context.Background(), ReserveDto{OrderID: o.ID, RollID: roll.ID, Meters: -1})

		require.ErrorIs(t, err, fferrors.ErrInvalidMeters)
		assert.Empty(t, f.publisher.events)
	})

	t.Run("Error - insufficient stock publishes nothing", func(t *testing.T) {
		f := newFixture(nil)
		roll := f.createTestRoll(t, 2)
		o := f.createTestOrder(t, "TR", 1)

		_, err := f.service.Reserve(context.Background(), ReserveDto{OrderID: o.ID, RollID: roll.ID, Meters: 5})

		require.ErrorIs(t, err, fferrors.ErrInsufficientStock)
		assert.Empty(t, f.publisher.events)
	})

	t.Run("Success - publish failure does not fail the reservation", func(t *testing.T) {
		f := newFixture(nil)
		f.publisher.err = errors.New("nats unavailable")
		roll := f.createTestRoll(t, 10)
		o := f.createTestOrder(t, "TR", 1)

		reservation, err := f.service.Reserve(context.Background(), ReserveDto{OrderID: o.ID, RollID: roll.ID, Meters: 2})

		require.NoError(t, err)
		assert.NotNil(t, reservation)
	})
}

func Test_Service_ReleaseAndConsume(t *testing.T) {
	t.Run("Success - release returns meters", func(t *testing.T) {
		f := newFixture(nil)
		roll := f.createTestRoll(t, 10)
		o := f.createTestOrder(t, "TR", 1)
		reservation, err := f.service.Reserve(context.Background(), ReserveDto{OrderID: o.ID, RollID: roll.ID, Meters: 4})
		require.NoError(t, err)

		released, err := f.service.Release(context.Background(), reservation.ID)

		require.NoError(t, err)
		assert.Equal(t, string(store.ReservationReleased), released.Status)

		found, err := f.service.FindRoll(context.Background(), roll.ID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, found.FreeMeters)
	})

	t.Run("Error - double consume", func(t *testing.T) {
		f := newFixture(nil)
		roll := f.createTestRoll(t, 10)
		o := f.createTestOrder(t, "TR", 1)
		reservation, err := f.service.Reserve(context.Background(), ReserveDto{OrderID: o.ID, RollID: roll.ID, Meters: 4})
		require.NoError(t, err)
		_, err = f.service.Consume(context.Background(), reservation.ID)
		require.NoError(t, err)

		_, err = f.service.Consume(context.Background(), reservation.ID)

		require.ErrorIs(t, err, fferrors.ErrInvalidState)
		found, err := f.service.FindRoll(context.Background(), roll.ID)
		require.NoError(t, err)
		assert.Equal(t, 6.0, found.TotalMeters, "second consume must not double-deduct")
	})
}

func Test_Service_CreateOrder(t *testing.T) {
	t.Run("Success - prices come from the catalog", func(t *testing.T) {
		// given
		f := newFixture(nil)
		productID := uuid.New()
		f.catalog.SetPrice(productID, "GLOBAL", catalog.Price{Amount: 1999, Currency: "USD"})

		// when
		created, err := f.service.CreateOrder(context.Background(), OrderCreateDto{
			OrderType: "unit",
			Market:    "GLOBAL",
			Items:     []OrderItemCreateDto{{ProductID: productID, Quantity: 3}},
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, string(order.StatusNew), created.Status)
		assert.Equal(t, "USD", created.Currency)
		assert.Equal(t, int64(5997), created.TotalAmount)
		require.Len(t, created.Items, 1)
		assert.Equal(t, int64(1999), created.Items[0].UnitPrice)
		assert.Equal(t, int64(5997), created.Items[0].Price)
	})

	t.Run("Error - product not priced in the market", func(t *testing.T) {
		f := newFixture(nil)
		productID := uuid.New()
		f.catalog.SetPrice(productID, "TR", catalog.Price{Amount: 100, Currency: "TRY"})

		_, err := f.service.CreateOrder(context.Background(), OrderCreateDto{
			OrderType: "unit",
			Market:    "GLOBAL",
			Items:     []OrderItemCreateDto{{ProductID: productID, Quantity: 1}},
		})

		require.ErrorIs(t, err, fferrors.ErrPriceNotFound)
	})
}

func Test_Service_Transition(t *testing.T) {
	t.Run("Success - publishes status change", func(t *testing.T) {
		f := newFixture(nil)
		roll := f.createTestRoll(t, 10)
		o := f.createTestOrder(t, "TR", 1)
		_, err := f.service.Reserve(context.Background(), ReserveDto{OrderID: o.ID, RollID: roll.ID, Meters: 1})
		require.NoError(t, err)
		f.publisher.events = nil

		updated, err := f.service.Transition(context.Background(), o.ID, order.StatusProduction)

		require.NoError(t, err)
		assert.Equal(t, string(order.StatusProduction), updated.Status)
		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, "fabricstock.orders.status_changed", f.publisher.events[0].Subject())
	})

	t.Run("Error - illegal transition publishes nothing", func(t *testing.T) {
		f := newFixture(nil)
		o := f.createTestOrder(t, "TR", 1)
		f.publisher.events = nil

		_, err := f.service.Transition(context.Background(), o.ID, order.StatusShipped)

		require.ErrorIs(t, err, fferrors.ErrIllegalTransition)
		assert.Empty(t, f.publisher.events)
	})
}

func Test_Service_HandlePaymentResult(t *testing.T) {
	t.Run("Success - payment success moves order to reserved", func(t *testing.T) {
		// given
		f := newFixture(&mockDeduper{first: true})
		o := f.createTestOrder(t, "TR", 1)

		// when
		updated, err := f.service.HandlePaymentResult(context.Background(), PaymentResultDto{
			OrderID:   o.ID,
			Provider:  "stripe",
			Succeeded: true,
			PaymentID: "pi_123",
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, string(order.StatusReserved), updated.Status)
		assert.Equal(t, "pi_123", updated.PaymentID)
		assert.Equal(t, 1, f.deduper.claims)
	})

	t.Run("Success - payment failure moves order to payment_failed", func(t *testing.T) {
		f := newFixture(&mockDeduper{first: true})
		o := f.createTestOrder(t, "TR", 1)

		updated, err := f.service.HandlePaymentResult(context.Background(), PaymentResultDto{
			OrderID:   o.ID,
			Provider:  "iyzico",
			Succeeded: false,
			PaymentID: "iyz_456",
		})

		require.NoError(t, err)
		assert.Equal(t, string(order.StatusPaymentFailed), updated.Status)
	})

	t.Run("Success - duplicate callback returns current order untouched", func(t *testing.T) {
		f := newFixture(&mockDeduper{first: false})
		o := f.createTestOrder(t, "TR", 1)

		updated, err := f.service.HandlePaymentResult(context.Background(), PaymentResultDto{
			OrderID:   o.ID,
			Provider:  "stripe",
			Succeeded: true,
			PaymentID: "pi_123",
		})

		require.NoError(t, err)
		assert.Equal(t, string(order.StatusNew), updated.Status, "duplicate must not re-run the transition")
	})

	t.Run("Success - dedup outage does not drop the outcome", func(t *testing.T) {
		f := newFixture(&mockDeduper{err: errors.New("redis down")})
		o := f.createTestOrder(t, "TR", 1)

		updated, err := f.service.HandlePaymentResult(context.Background(), PaymentResultDto{
			OrderID:   o.ID,
			Provider:  "stripe",
			Succeeded: true,
			PaymentID: "pi_123",
		})

		require.NoError(t, err)
		assert.Equal(t, string(order.StatusReserved), updated.Status)
	})

	t.Run("Success - callback without payment reference skips dedup", func(t *testing.T) {
		f := newFixture(&mockDeduper{first: true})
		o := f.createTestOrder(t, "TR", 1)

		_, err := f.service.HandlePaymentResult(context.Background(), PaymentResultDto{
			OrderID:   o.ID,
			Provider:  "stripe",
			Succeeded: false,
		})

		require.NoError(t, err)
		assert.Equal(t, 0, f.deduper.claims)
	})

	t.Run("Error - second real callback is stopped by the transition table", func(t *testing.T) {
		f := newFixture(&mockDeduper{first: true})
		o := f.createTestOrder(t, "TR", 1)
		_, err := f.service.HandlePaymentResult(context.Background(), PaymentResultDto{
			OrderID: o.ID, Provider: "stripe", Succeeded: true, PaymentID: "pi_1",
		})
		require.NoError(t, err)

		_, err = f.service.HandlePaymentResult(context.Background(), PaymentResultDto{
			OrderID: o.ID, Provider: "stripe", Succeeded: true, PaymentID: "pi_2",
		})

		require.ErrorIs(t, err, fferrors.ErrIllegalTransition)
	})
}
