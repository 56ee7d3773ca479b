package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paivamoda/backend/internal/billing"
	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
)

// ReceiveDebt collects one store-credit installment, late fees included, as of
// today.
func (s *Service) ReceiveDebt(ctx context.Context, recordID string, in domain.PaymentInput) (domain.DebtReceipt, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.DebtReceipt{}, err
	}
	record, err := s.repo.GetFinancial(ctx, recordID)
	if err != nil {
		return domain.DebtReceipt{}, err
	}
	if !record.IsReceivable() {
		return domain.DebtReceipt{}, fmt.Errorf("%w: record %s is %s %s", domain.ErrInvalidTransaction, record.ID, record.Status, record.Type)
	}

	payment, err := domain.ParsePayment(in)
	if err != nil {
		return domain.DebtReceipt{}, err
	}
	if payment.Method() == domain.PaymentStoreCredit {
		return domain.DebtReceipt{}, domain.Invalid("payment.method", "a debt cannot be paid with store credit")
	}

	today := s.today()
	due := billing.ComputeDebtDue(*record, today)
	change := decimal.Zero
	if cash, ok := payment.(domain.Money); ok {
		change, err = billing.Change(cash.CashReceived, due.Total)
		if err != nil {
			return domain.DebtReceipt{}, err
		}
	}

	result, err := s.repo.SettleDebt(ctx, domain.DebtSettlement{
		RecordID:      record.ID,
		PaidAmount:    due.Total,
		PaymentMethod: payment.Method(),
		PaymentDate:   today,
	})
	if err != nil {
		return domain.DebtReceipt{}, err
	}
	s.invalidateReceivables(ctx)

	s.audit(ctx, "debt.received",
		zap.String("record_id", result.Record.ID),
		zap.String("customer_id", result.Record.CustomerID),
		zap.String("method", string(payment.Method())),
		zap.Int("days_late", due.DaysLate),
		money("original", due.OriginalAmount),
		money("paid", due.Total),
	)
	return domain.DebtReceipt{
		Record:   result.Record,
		Customer: result.Customer,
		Sale:     result.Sale,
		Due:      due,
		Change:   change,
	}, nil
}

// DeleteDebt writes a receivable off and gives its amount back to the
// customer's limit.
func (s *Service) DeleteDebt(ctx context.Context, recordID string) (domain.DebtRemoval, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DebtRemoval{}, err
	}
	removal, err := s.repo.DeleteDebt(ctx, recordID)
	if err != nil {
		return domain.DebtRemoval{}, err
	}
	s.invalidateReceivables(ctx)

	s.audit(ctx, "debt.deleted",
		zap.String("record_id", removal.Record.ID),
		zap.String("customer_id", removal.Record.CustomerID),
		money("amount", removal.Record.OriginalAmount),
	)
	return *removal, nil
}

// DebtDue ages a record as of today, or as of its payment day once paid.
func (s *Service) DebtDue(ctx context.Context, recordID string) (domain.DebtDue, error) {
	record, err := s.repo.GetFinancial(ctx, recordID)
	if err != nil {
		return domain.DebtDue{}, err
	}
	asOf := s.today()
	if record.Status == domain.FinancialPaid && record.PaymentDate != nil {
		asOf = *record.PaymentDate
	}
	return billing.ComputeDebtDue(*record, asOf), nil
}

// ListReceivables groups open store-credit installments by customer. The
// walk-in customer never carries receivables and is left out.
func (s *Service) ListReceivables(ctx context.Context, asOf domain.Date) (domain.ReceivablesReport, error) {
	if asOf.IsZero() {
		asOf = s.today()
	}
	if cached, ok, err := s.cache.Get(ctx, asOf); err != nil {
		s.logger.Warn("receivables cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	records, err := s.repo.ListFinancials(ctx, store.FinancialFilter{
		Status: domain.FinancialPending,
		Type:   domain.FinancialIncome,
	})
	if err != nil {
		return domain.ReceivablesReport{}, err
	}
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.ReceivablesReport{}, err
	}
	byID := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}

	groups := make(map[string]*domain.CustomerReceivables)
	for _, rec := range records {
		if rec.CustomerID == "" || rec.CustomerID == domain.UnidentifiedCustomerID {
			continue
		}
		group, ok := groups[rec.CustomerID]
		if !ok {
			customer, known := byID[rec.CustomerID]
			if !known {
				customer = domain.Customer{ID: rec.CustomerID, Name: rec.CustomerID}
			}
			group = &domain.CustomerReceivables{Customer: customer, Outstanding: decimal.Zero, TotalDue: decimal.Zero}
			groups[rec.CustomerID] = group
		}
		due := billing.ComputeDebtDue(rec, asOf)
		group.Records = append(group.Records, domain.ReceivableLine{Record: rec, Due: due})
		group.Outstanding = group.Outstanding.Add(due.OriginalAmount)
		group.TotalDue = group.TotalDue.Add(due.Total)
		if due.IsLate {
			group.LateCount++
		}
	}

	report := domain.ReceivablesReport{
		AsOf:        asOf,
		Customers:   make([]domain.CustomerReceivables, 0, len(groups)),
		Outstanding: decimal.Zero,
		TotalDue:    decimal.Zero,
	}
	for _, group := range groups {
		sort.SliceStable(group.Records, func(i, j int) bool {
			return group.Records[i].Record.DueDate.Before(group.Records[j].Record.DueDate)
		})
		report.Customers = append(report.Customers, *group)
		report.Outstanding = report.Outstanding.Add(group.Outstanding)
		report.TotalDue = report.TotalDue.Add(group.TotalDue)
	}
	sort.Slice(report.Customers, func(i, j int) bool {
		return strings.ToLower(report.Customers[i].Customer.Name) < strings.ToLower(report.Customers[j].Customer.Name)
	})

	if err := s.cache.Set(ctx, &report, s.cacheTTL); err != nil {
		s.logger.Warn("receivables cache write failed", zap.Error(err))
	}
	return report, nil
}
