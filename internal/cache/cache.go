package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockCache holds display-only stock totals. Cached values are
// non-authoritative: they may be stale by the time an allocation commits,
// so nothing on the allocation path reads them.
type StockCache interface {
	GetTotal(ctx context.Context, productID string) (decimal.Decimal, bool, error)
	SetTotal(ctx context.Context, productID string, total decimal.Decimal, ttl time.Duration) error
	Invalidate(ctx context.Context, productID string) error
}

type NoopStockCache struct{}

func (NoopStockCache) GetTotal(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopStockCache) SetTotal(_ context.Context, _ string, _ decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
