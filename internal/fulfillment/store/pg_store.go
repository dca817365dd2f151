package store

import (
	"context"
	"errors"

	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/dokuma/fabricstock/internal/fulfillment/order"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore creates a new Store backed by a PostgreSQL connection pool.
func NewPgStore(dbp *pgxpool.Pool) *PgStore {
	return &PgStore{db: dbp}
}

func (p *PgStore) CreateRoll(ctx context.Context, params *CreateRollParams) (*FabricRoll, error) {
	var roll FabricRoll
	err := p.db.QueryRow(ctx, `
		INSERT INTO fabric_rolls (id, material_id, total_meters, reserved_meters)
		VALUES ($1, $2, $3, 0)
		RETURNING id, material_id, total_meters, reserved_meters, created_at`,
		uuid.New(), params.MaterialID, quantizeMeters(params.TotalMeters),
	).Scan(&roll.ID, &roll.MaterialID, &roll.TotalMeters, &roll.ReservedMeters, &roll.CreatedAt)
	if err != nil {
		return nil, fferrors.ErrCreateRoll
	}
	return &roll, nil
}

func (p *PgStore) FindRoll(ctx context.Context, id uuid.UUID) (*FabricRoll, error) {
	var roll FabricRoll
	err := p.db.QueryRow(ctx, `
		SELECT id, material_id, total_meters, reserved_meters, created_at
		FROM fabric_rolls WHERE id = $1`, id,
	).Scan(&roll.ID, &roll.MaterialID, &roll.TotalMeters, &roll.ReservedMeters, &roll.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fferrors.ErrRollNotFound
		}
		return nil, err
	}
	return &roll, nil
}

func (p *PgStore) ListRolls(ctx context.Context) (*[]FabricRoll, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, material_id, total_meters, reserved_meters, created_at
		FROM fabric_rolls ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rolls := make([]FabricRoll, 0)
	for rows.Next() {
		var roll FabricRoll
		if err := rows.Scan(&roll.ID, &roll.MaterialID, &roll.TotalMeters, &roll.ReservedMeters, &roll.CreatedAt); err != nil {
			return nil, err
		}
		rolls = append(rolls, roll)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rolls, nil
}

func (p *PgStore) Reserve(ctx context.Context, orderID, rollID uuid.UUID, meters float64) (*Reservation, error) {
	var reservation Reservation
	meters = quantizeMeters(meters)
	if meters <= 0 {
		return nil, fferrors.ErrInvalidMeters
	}

	txErr := p.withTransaction(ctx, func(tx pgx.Tx) error {
		// Lock the order row before touching the roll. transition() takes the
		// same order lock before it settles reservations and adjusts rolls, so
		// both paths acquire locks in the order -> roll direction.
		var current string
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fferrors.ErrOrderNotFound
			}
			return err
		}

		// The free-meters check and the counter increment are one conditional
		// statement, so two concurrent reserves can never both pass the check
		// on the same free meters.
		ct, err := tx.Exec(ctx, `
			UPDATE fabric_rolls
			SET reserved_meters = reserved_meters + $2
			WHERE id = $1 AND reserved_meters + $2 <= total_meters`,
			rollID, meters)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM fabric_rolls WHERE id = $1)`, rollID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fferrors.ErrRollNotFound
			}
			return fferrors.ErrInsufficientStock
		}

		// Advance a fresh order to reserved; any other status is a deliberate no-op.
		if order.Status(current) == order.StatusNew {
			if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, order.StatusReserved); err != nil {
				return fferrors.ErrUpdateOrder
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO reservations (id, roll_id, order_id, meters, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, roll_id, order_id, meters, status, created_at`,
			uuid.New(), rollID, orderID, meters, ReservationActive,
		).Scan(&reservation.ID, &reservation.RollID, &reservation.OrderID, &reservation.Meters, &reservation.Status, &reservation.CreatedAt)
		if err != nil {
			return fferrors.ErrCreateReservation
		}
		return nil
	})

	if txErr != nil {
		return nil, txErr
	}
	return &reservation, nil
}

func (p *PgStore) Release(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	return p.settle(ctx, reservationID, ReservationReleased)
}

func (p *PgStore) Consume(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	return p.settle(ctx, reservationID, ReservationConsumed)
}

// settle moves an active reservation to a terminal status and adjusts the roll
// counters accordingly. The status guard in the UPDATE makes a repeated call fail
// with ErrInvalidState instead of double-adjusting the roll.
func (p *PgStore) settle(ctx context.Context, reservationID uuid.UUID, target ReservationStatus) (*Reservation, error) {
	var reservation Reservation

	txErr := p.withTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE reservations SET status = $2
			WHERE id = $1 AND status = $3
			RETURNING id, roll_id, order_id, meters, status, created_at`,
			reservationID, target, ReservationActive,
		).Scan(&reservation.ID, &reservation.RollID, &reservation.OrderID, &reservation.Meters, &reservation.Status, &reservation.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				var exists bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE id = $1)`, reservationID).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return fferrors.ErrReservationNotFound
				}
				return fferrors.ErrInvalidState
			}
			return err
		}
		return p.adjustRoll(ctx, tx, reservation.RollID, reservation.Meters, target)
	})

	if txErr != nil {
		return nil, txErr
	}
	return &reservation, nil
}

// adjustRoll returns released meters to the free pool, or on consume removes them
// from the total as well (the fabric physically left the warehouse).
func (p *PgStore) adjustRoll(ctx context.Context, tx pgx.Tx, rollID uuid.UUID, meters float64, target ReservationStatus) error {
	var err error
	if target == ReservationConsumed {
		_, err = tx.Exec(ctx, `
			UPDATE fabric_rolls
			SET reserved_meters = reserved_meters - $2, total_meters = total_meters - $2
			WHERE id = $1`, rollID, meters)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE fabric_rolls
			SET reserved_meters = reserved_meters - $2
			WHERE id = $1`, rollID, meters)
	}
	return err
}

func (p *PgStore) FindReservationsByOrder(ctx context.Context, orderID uuid.UUID) (*[]Reservation, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, roll_id, order_id, meters, status, created_at
		FROM reservations WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reservations := make([]Reservation, 0)
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.RollID, &r.OrderID, &r.Meters, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &reservations, nil
}

func (p *PgStore) CreateOrder(ctx context.Context, params *CreateOrderParams, items *[]CreateOrderItemParams) (*Order, *[]OrderItem, error) {
	var createdOrder Order
	var createdItems []OrderItem

	txErr := p.withTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (id, status, order_type, market, currency, total_amount)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, status, order_type, market, currency, total_amount, COALESCE(payment_id, ''), created_at`,
			uuid.New(), order.StatusNew, params.OrderType, params.Market, params.Currency, params.TotalAmount,
		).Scan(&createdOrder.ID, &createdOrder.Status, &createdOrder.OrderType, &createdOrder.Market,
			&createdOrder.Currency, &createdOrder.TotalAmount, &createdOrder.PaymentID, &createdOrder.CreatedAt)
		if err != nil {
			return fferrors.ErrCreateOrder
		}

		createdItems = make([]OrderItem, 0, len(*items))
		for _, item := range *items {
			var created OrderItem
			err := tx.QueryRow(ctx, `
				INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, price)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id, order_id, product_id, quantity, unit_price, price, created_at`,
				uuid.New(), createdOrder.ID, item.ProductID, item.Quantity, item.UnitPrice, item.Price,
			).Scan(&created.ID, &created.OrderID, &created.ProductID, &created.Quantity, &created.UnitPrice, &created.Price, &created.CreatedAt)
			if err != nil {
				return fferrors.ErrCreateOrderItem
			}
			createdItems = append(createdItems, created)
		}
		return nil
	})

	if txErr != nil {
		return nil, nil, txErr
	}
	return &createdOrder, &createdItems, nil
}

func (p *PgStore) FindOrder(ctx context.Context, id uuid.UUID) (*Order, *[]OrderItem, error) {
	var o Order
	err := p.db.QueryRow(ctx, `
		SELECT id, status, order_type, market, currency, total_amount, COALESCE(payment_id, ''), created_at
		FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.Status, &o.OrderType, &o.Market, &o.Currency, &o.TotalAmount, &o.PaymentID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fferrors.ErrOrderNotFound
		}
		return nil, nil, err
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, price, created_at
		FROM order_items WHERE order_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Price, &item.CreatedAt); err != nil {
			return nil, nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return &o, &items, nil
}

func (p *PgStore) ListOrders(ctx context.Context, params *ListOrdersParams) (*[]Order, error) {
	query := `
		SELECT id, status, order_type, market, currency, total_amount, COALESCE(payment_id, ''), created_at
		FROM orders`
	args := []any{}
	if params.Status != nil {
		query += ` WHERE status = $1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`
		args = append(args, *params.Status, params.Offset, params.Limit)
	} else {
		query += ` ORDER BY created_at DESC OFFSET $1 LIMIT $2`
		args = append(args, params.Offset, params.Limit)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Status, &o.OrderType, &o.Market, &o.Currency, &o.TotalAmount, &o.PaymentID, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &orders, nil
}

func (p *PgStore) Transition(ctx context.Context, orderID uuid.UUID, target order.Status) (*Order, error) {
	return p.transition(ctx, orderID, target, nil)
}

func (p *PgStore) SetPaymentResult(ctx context.Context, orderID uuid.UUID, target order.Status, paymentID string) (*Order, error) {
	return p.transition(ctx, orderID, target, &paymentID)
}

// transition locks the order row, validates the move against the transition table
// and applies the coupled reservation effects: shipping consumes the order's active
// reservations, cancelling releases them. All of it commits or none of it does.
func (p *PgStore) transition(ctx context.Context, orderID uuid.UUID, target order.Status, paymentID *string) (*Order, error) {
	var updated Order

	txErr := p.withTransaction(ctx, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fferrors.ErrOrderNotFound
			}
			return err
		}
		if !order.CanTransition(order.Status(current), target) {
			return fferrors.IllegalTransition(current, string(target))
		}

		err := tx.QueryRow(ctx, `
			UPDATE orders SET status = $2, payment_id = COALESCE($3, payment_id)
			WHERE id = $1
			RETURNING id, status, order_type, market, currency, total_amount, COALESCE(payment_id, ''), created_at`,
			orderID, target, paymentID,
		).Scan(&updated.ID, &updated.Status, &updated.OrderType, &updated.Market,
			&updated.Currency, &updated.TotalAmount, &updated.PaymentID, &updated.CreatedAt)
		if err != nil {
			return fferrors.ErrUpdateOrder
		}

		switch target {
		case order.StatusShipped:
			return p.settleAllActive(ctx, tx, orderID, ReservationConsumed)
		case order.StatusCancelled:
			return p.settleAllActive(ctx, tx, orderID, ReservationReleased)
		}
		return nil
	})

	if txErr != nil {
		return nil, txErr
	}
	return &updated, nil
}

// settleAllActive moves every active reservation of an order to a terminal status
// inside the caller's transaction, adjusting each roll.
func (p *PgStore) settleAllActive(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, target ReservationStatus) error {
	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status = $2
		WHERE order_id = $1 AND status = $3
		RETURNING roll_id, meters`,
		orderID, target, ReservationActive)
	if err != nil {
		return err
	}

	type adjustment struct {
		rollID uuid.UUID
		meters float64
	}
	var adjustments []adjustment
	for rows.Next() {
		var a adjustment
		if err := rows.Scan(&a.rollID, &a.meters); err != nil {
			rows.Close()
			return err
		}
		adjustments = append(adjustments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range adjustments {
		if err := p.adjustRoll(ctx, tx, a.rollID, a.meters, target); err != nil {
			return err
		}
	}
	return nil
}

func (p *PgStore) ReleaseStranded(ctx context.Context) (int64, error) {
	var released int64

	txErr := p.withTransaction(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE reservations r SET status = $1
			FROM orders o
			WHERE r.order_id = o.id AND r.status = $2 AND o.status = $3
			RETURNING r.roll_id, r.meters`,
			ReservationReleased, ReservationActive, order.StatusPaymentFailed)
		if err != nil {
			return err
		}

		type adjustment struct {
			rollID uuid.UUID
			meters float64
		}
		var adjustments []adjustment
		for rows.Next() {
			var a adjustment
			if err := rows.Scan(&a.rollID, &a.meters); err != nil {
				rows.Close()
				return err
			}
			adjustments = append(adjustments, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, a := range adjustments {
			if err := p.adjustRoll(ctx, tx, a.rollID, a.meters, ReservationReleased); err != nil {
				return err
			}
		}
		released = int64(len(adjustments))
		return nil
	})

	if txErr != nil {
		return 0, txErr
	}
	return released, nil
}

func (p *PgStore) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fferrors.ErrTransactionBegin
	}

	err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fferrors.ErrTransactionRollback
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fferrors.ErrTransactionCommit
	}
	return nil
}
