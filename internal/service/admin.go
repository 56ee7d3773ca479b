package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paivamoda/backend/internal/billing"
	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/receipt"
	"paivamoda/backend/internal/store"
)

var (
	minDisplayScale     = decimal.RequireFromString("0.5")
	maxDisplayScale     = decimal.RequireFromString("2.0")
	defaultDisplayScale = decimal.NewFromInt(1)
)

func (s *Service) GetDisplayScale(ctx context.Context) (decimal.Decimal, error) {
	raw, err := s.repo.GetSetting(ctx, domain.SettingDisplay)
	if errors.Is(err, store.ErrNotFound) {
		return defaultDisplayScale, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	scale, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || scale.LessThan(minDisplayScale) || scale.GreaterThan(maxDisplayScale) {
		s.logger.Warn("ignoring stored display scale", zap.String("value", raw))
		return defaultDisplayScale, nil
	}
	return scale, nil
}

func (s *Service) SetDisplayScale(ctx context.Context, scale decimal.Decimal) (decimal.Decimal, error) {
	if _, err := requireActor(ctx); err != nil {
		return decimal.Zero, err
	}
	if scale.LessThan(minDisplayScale) || scale.GreaterThan(maxDisplayScale) {
		return decimal.Zero, domain.Invalid("scale", fmt.Sprintf("must be between %s and %s", minDisplayScale, maxDisplayScale))
	}
	scale = scale.Round(2)
	if err := s.repo.SetSetting(ctx, domain.SettingDisplay, scale.String()); err != nil {
		return decimal.Zero, err
	}
	return scale, nil
}

func (s *Service) ExportSnapshot(ctx context.Context) (domain.Snapshot, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	snap, err := s.repo.ExportSnapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap.ExportDate = s.now().UTC()
	snap.Version = domain.SnapshotVersion
	s.audit(ctx, "backup.exported",
		zap.Int("products", len(snap.Products)),
		zap.Int("sales", len(snap.Sales)),
		zap.Int("financials", len(snap.Financials)),
	)
	return snap, nil
}

// ImportSnapshot replaces the whole store with a backup.
func (s *Service) ImportSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if snap.Version != "" && !strings.HasPrefix(snap.Version, "2.") {
		return domain.Invalid("version", fmt.Sprintf("unsupported backup version %q", snap.Version))
	}
	if err := s.repo.ImportSnapshot(ctx, snap); err != nil {
		return err
	}
	s.invalidateReceivables(ctx)
	s.audit(ctx, "backup.imported",
		zap.Int("products", len(snap.Products)),
		zap.Int("sales", len(snap.Sales)),
		zap.Int("financials", len(snap.Financials)),
		zap.Time("export_date", snap.ExportDate),
	)
	return nil
}

func (s *Service) SaleReceipt(ctx context.Context, saleID int64) (receipt.Document, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return receipt.Document{}, err
	}
	return receipt.Sale(s.storeName, *sale, s.loc), nil
}

// DebtReceipt rebuilds the payment slip of a collected installment.
func (s *Service) DebtReceipt(ctx context.Context, recordID string) (receipt.Document, error) {
	record, err := s.repo.GetFinancial(ctx, recordID)
	if err != nil {
		return receipt.Document{}, err
	}
	if record.Status != domain.FinancialPaid || record.PaymentDate == nil {
		return receipt.Document{}, fmt.Errorf("%w: record %s is not paid", domain.ErrInvalidTransaction, record.ID)
	}

	paid := domain.DebtReceipt{
		Record: *record,
		Due:    billing.ComputeDebtDue(*record, *record.PaymentDate),
		Change: decimal.Zero,
	}
	// The amount actually collected wins over a recomputation.
	if record.PaidAmount.Valid {
		paid.Due.Total = record.PaidAmount.Decimal
	}
	if record.CustomerID != "" {
		if customer, err := s.repo.GetCustomer(ctx, record.CustomerID); err == nil {
			paid.Customer = customer
		} else if !errors.Is(err, store.ErrNotFound) {
			return receipt.Document{}, err
		}
	}
	return receipt.Debt(s.storeName, paid, record.PaymentDate.Time(s.loc), s.loc), nil
}
