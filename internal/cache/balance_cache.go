package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadflow/backend/internal/models"
)

// DefaultTTL bounds how stale a cached balance can be. Mutations invalidate
// the key, so the TTL only matters when an invalidation is lost.
const DefaultTTL = 60 * time.Second

// BalanceCache is a read-through accelerator for balance lookups. It is
// never authoritative: the ledger decides sufficiency from the durable row,
// and treats every cache error as a miss.
type BalanceCache struct {
	client     *redis.Client
	expiration time.Duration
}

func NewBalanceCache(client *redis.Client, expiration time.Duration) *BalanceCache {
	if expiration <= 0 {
		expiration = DefaultTTL
	}
	return &BalanceCache{client: client, expiration: expiration}
}

func balanceKey(userID int64, creditType models.CreditType) string {
	return fmt.Sprintf("credits:%d:%s", userID, creditType)
}

// Get returns the cached balance. ok is false on a miss.
func (c *BalanceCache) Get(ctx context.Context, userID int64, creditType models.CreditType) (int64, bool, error) {
	val, err := c.client.Get(ctx, balanceKey(userID, creditType)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached balance %q: %w", val, err)
	}
	return balance, true, nil
}

// Set stores the balance with the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, userID int64, creditType models.CreditType, balance int64) error {
	return c.client.Set(ctx, balanceKey(userID, creditType), strconv.FormatInt(balance, 10), c.expiration).Err()
}

// Invalidate drops the cached balance for the wallet.
func (c *BalanceCache) Invalidate(ctx context.Context, userID int64, creditType models.CreditType) error {
	return c.client.Del(ctx, balanceKey(userID, creditType)).Err()
}
