package store

import (
	"context"
	"sync"
	"time"

	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/dokuma/fabricstock/internal/fulfillment/order"
	"github.com/google/uuid"
)

// inMemory implements Store using maps guarded by a single mutex. The mutex gives
// the same linearization of reserve/release/consume per roll that the conditional
// UPDATE gives in PostgreSQL.
type inMemory struct {
	mu           sync.Mutex
	rolls        map[uuid.UUID]FabricRoll
	reservations map[uuid.UUID]Reservation
	orders       map[uuid.UUID]Order
	orderSeq     []uuid.UUID
	items        map[uuid.UUID][]OrderItem
}

// NewInMemoryStore creates a new in-memory Store, used in unit tests.
func NewInMemoryStore() Store {
	return &inMemory{
		rolls:        make(map[uuid.UUID]FabricRoll),
		reservations: make(map[uuid.UUID]Reservation),
		orders:       make(map[uuid.UUID]Order),
		items:        make(map[uuid.UUID][]OrderItem),
	}
}

func (s *inMemory) CreateRoll(_ context.Context, params *CreateRollParams) (*FabricRoll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roll := FabricRoll{
		ID:          uuid.New(),
		MaterialID:  params.MaterialID,
		TotalMeters: quantizeMeters(params.TotalMeters),
		CreatedAt:   time.Now(),
	}
	s.rolls[roll.ID] = roll
	return &roll, nil
}

func (s *inMemory) FindRoll(_ context.Context, id uuid.UUID) (*FabricRoll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roll, ok := s.rolls[id]
	if !ok {
		return nil, fferrors.ErrRollNotFound
	}
	return &roll, nil
}

func (s *inMemory) ListRolls(_ context.Context) (*[]FabricRoll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]FabricRoll, 0, len(s.rolls))
	for _, roll := range s.rolls {
		list = append(list, roll)
	}
	return &list, nil
}

func (s *inMemory) Reserve(_ context.Context, orderID, rollID uuid.UUID, meters float64) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, fferrors.ErrOrderNotFound
	}
	roll, ok := s.rolls[rollID]
	if !ok {
		return nil, fferrors.ErrRollNotFound
	}
	// Millimeter-domain arithmetic keeps sums of fractional inputs exact.
	meters = quantizeMeters(meters)
	if meters <= 0 {
		return nil, fferrors.ErrInvalidMeters
	}
	if toMillis(roll.ReservedMeters)+toMillis(meters) > toMillis(roll.TotalMeters) {
		return nil, fferrors.ErrInsufficientStock
	}

	roll.ReservedMeters = fromMillis(toMillis(roll.ReservedMeters) + toMillis(meters))
	s.rolls[rollID] = roll

	if o.Status == order.StatusNew {
		o.Status = order.StatusReserved
		s.orders[orderID] = o
	}

	reservation := Reservation{
		ID:        uuid.New(),
		RollID:    rollID,
		OrderID:   orderID,
		Meters:    meters,
		Status:    ReservationActive,
		CreatedAt: time.Now(),
	}
	s.reservations[reservation.ID] = reservation
	return &reservation, nil
}

func (s *inMemory) Release(_ context.Context, reservationID uuid.UUID) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settleLocked(reservationID, ReservationReleased)
}

func (s *inMemory) Consume(_ context.Context, reservationID uuid.UUID) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settleLocked(reservationID, ReservationConsumed)
}

// settleLocked requires s.mu to be held.
func (s *inMemory) settleLocked(reservationID uuid.UUID, target ReservationStatus) (*Reservation, error) {
	reservation, ok := s.reservations[reservationID]
	if !ok {
		return nil, fferrors.ErrReservationNotFound
	}
	if reservation.Status != ReservationActive {
		return nil, fferrors.ErrInvalidState
	}

	roll := s.rolls[reservation.RollID]
	roll.ReservedMeters = fromMillis(toMillis(roll.ReservedMeters) - toMillis(reservation.Meters))
	if target == ReservationConsumed {
		roll.TotalMeters = fromMillis(toMillis(roll.TotalMeters) - toMillis(reservation.Meters))
	}
	s.rolls[reservation.RollID] = roll

	reservation.Status = target
	s.reservations[reservationID] = reservation
	return &reservation, nil
}

func (s *inMemory) FindReservationsByOrder(_ context.Context, orderID uuid.UUID) (*[]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Reservation, 0)
	for _, r := range s.reservations {
		if r.OrderID == orderID {
			list = append(list, r)
		}
	}
	return &list, nil
}

func (s *inMemory) CreateOrder(_ context.Context, params *CreateOrderParams, items *[]CreateOrderItemParams) (*Order, *[]OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := Order{
		ID:          uuid.New(),
		Status:      order.StatusNew,
		OrderType:   params.OrderType,
		Market:      params.Market,
		Currency:    params.Currency,
		TotalAmount: params.TotalAmount,
		CreatedAt:   time.Now(),
	}
	s.orders[o.ID] = o
	s.orderSeq = append(s.orderSeq, o.ID)

	created := make([]OrderItem, 0, len(*items))
	for _, item := range *items {
		created = append(created, OrderItem{
			ID:        uuid.New(),
			OrderID:   o.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Price:     item.Price,
			CreatedAt: time.Now(),
		})
	}
	s.items[o.ID] = created

	itemsCopy := make([]OrderItem, len(created))
	copy(itemsCopy, created)
	return &o, &itemsCopy, nil
}

func (s *inMemory) FindOrder(_ context.Context, id uuid.UUID) (*Order, *[]OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, nil, fferrors.ErrOrderNotFound
	}
	items := make([]OrderItem, len(s.items[id]))
	copy(items, s.items[id])
	return &o, &items, nil
}

func (s *inMemory) ListOrders(_ context.Context, params *ListOrdersParams) (*[]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first with offset/limit paging, matching the SQL implementation.
	list := make([]Order, 0, params.Limit)
	var skipped int32
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		o := s.orders[s.orderSeq[i]]
		if params.Status != nil && o.Status != *params.Status {
			continue
		}
		if skipped < params.Offset {
			skipped++
			continue
		}
		if int32(len(list)) >= params.Limit {
			break
		}
		list = append(list, o)
	}
	return &list, nil
}

func (s *inMemory) Transition(_ context.Context, orderID uuid.UUID, target order.Status) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(orderID, target, "")
}

func (s *inMemory) SetPaymentResult(_ context.Context, orderID uuid.UUID, target order.Status, paymentID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(orderID, target, paymentID)
}

// transitionLocked requires s.mu to be held.
func (s *inMemory) transitionLocked(orderID uuid.UUID, target order.Status, paymentID string) (*Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fferrors.ErrOrderNotFound
	}
	if !order.CanTransition(o.Status, target) {
		return nil, fferrors.IllegalTransition(string(o.Status), string(target))
	}

	o.Status = target
	if paymentID != "" {
		o.PaymentID = paymentID
	}
	s.orders[orderID] = o

	switch target {
	case order.StatusShipped:
		s.settleAllActiveLocked(orderID, ReservationConsumed)
	case order.StatusCancelled:
		s.settleAllActiveLocked(orderID, ReservationReleased)
	}
	return &o, nil
}

// settleAllActiveLocked requires s.mu to be held.
func (s *inMemory) settleAllActiveLocked(orderID uuid.UUID, target ReservationStatus) int64 {
	var settled int64
	for id, r := range s.reservations {
		if r.OrderID != orderID || r.Status != ReservationActive {
			continue
		}
		if _, err := s.settleLocked(id, target); err == nil {
			settled++
		}
	}
	return settled
}

func (s *inMemory) ReleaseStranded(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for id, o := range s.orders {
		if o.Status != order.StatusPaymentFailed {
			continue
		}
		released += s.settleAllActiveLocked(id, ReservationReleased)
	}
	return released, nil
}
