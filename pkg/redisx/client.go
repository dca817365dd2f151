// Package redisx holds the Redis client and the payment-callback deduplication
// key layout.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Payment callback dedup: dedup:payment:{provider}:{payment_id} -> order_id
const keyPaymentDedup = "dedup:payment:%s:%s"

// TTLPaymentDedup bounds how long a gateway retry of the same callback is
// treated as a duplicate.
var TTLPaymentDedup = 48 * time.Hour

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// PaymentDeduper records each gateway payment reference once, so retried
// callbacks do not re-run order transitions.
type PaymentDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPaymentDeduper(rdb *redis.Client) *PaymentDeduper {
	return &PaymentDeduper{rdb: rdb, ttl: TTLPaymentDedup}
}

// ClaimPayment reports whether this is the first time the payment reference has
// been seen.
func (d *PaymentDeduper) ClaimPayment(ctx context.Context, provider, paymentID, orderID string) (bool, error) {
	key := fmt.Sprintf(keyPaymentDedup, provider, paymentID)
	return d.rdb.SetNX(ctx, key, orderID, d.ttl).Result()
}
