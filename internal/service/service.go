package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paivamoda/backend/internal/cache"
	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache              cache.ReceivablesCache
	CacheTTL           time.Duration
	SaleIDs            *xid.SaleIDs
	Location           *time.Location
	StoreName          string
	RecoveryPassphrase string
	Logger             *zap.Logger
	// Clock overrides time.Now; tests pin it.
	Clock func() time.Time
}

type Service struct {
	repo               store.Repository
	cache              cache.ReceivablesCache
	cacheTTL           time.Duration
	saleIDs            *xid.SaleIDs
	loc                *time.Location
	storeName          string
	recoveryPassphrase string
	logger             *zap.Logger
	now                func() time.Time
}

func New(repo store.Repository, opts Options) (*Service, error) {
	if opts.Cache == nil {
		opts.Cache = cache.NoopReceivablesCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.SaleIDs == nil {
		ids, err := xid.NewSaleIDs(1)
		if err != nil {
			return nil, err
		}
		opts.SaleIDs = ids
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.StoreName == "" {
		opts.StoreName = "Paiva Moda"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:               repo,
		cache:              opts.Cache,
		cacheTTL:           opts.CacheTTL,
		saleIDs:            opts.SaleIDs,
		loc:                opts.Location,
		storeName:          opts.StoreName,
		recoveryPassphrase: opts.RecoveryPassphrase,
		logger:             opts.Logger.Named("service"),
		now:                opts.Clock,
	}, nil
}

func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) today() domain.Date {
	return domain.DateOf(s.now(), s.loc)
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: authenticated user required", domain.ErrForbidden)
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.CanDelete() {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return actor, nil
}

// invalidateReceivables drops the cached billing report. A cache failure never
// fails the write that triggered it; the entry expires on its own.
func (s *Service) invalidateReceivables(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("receivables cache invalidate failed", zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, event string, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	fields = append(fields, zap.String("actor", actor.Username), zap.String("role", actor.Role))
	s.logger.Info(event, fields...)
}

func money(key string, amount decimal.Decimal) zap.Field {
	return zap.String(key, amount.StringFixed(2))
}
