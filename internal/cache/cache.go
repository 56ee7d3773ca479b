package cache

import (
	"context"
	"time"

	"paivamoda/backend/internal/domain"
)

// ReceivablesCache holds the aged receivables report per as-of day. Any write
// that touches a receivable invalidates every day at once.
type ReceivablesCache interface {
	Get(ctx context.Context, asOf domain.Date) (*domain.ReceivablesReport, bool, error)
	Set(ctx context.Context, report *domain.ReceivablesReport, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReceivablesCache struct{}

func (NoopReceivablesCache) Get(_ context.Context, _ domain.Date) (*domain.ReceivablesReport, bool, error) {
	return nil, false, nil
}

func (NoopReceivablesCache) Set(_ context.Context, _ *domain.ReceivablesReport, _ time.Duration) error {
	return nil
}

func (NoopReceivablesCache) Invalidate(_ context.Context) error {
	return nil
}
