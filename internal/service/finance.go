package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/xid"
)

func (s *Service) ListFinancials(ctx context.Context, filter store.FinancialFilter) ([]domain.FinancialRecord, error) {
	return s.repo.ListFinancials(ctx, filter)
}

func (s *Service) GetFinancial(ctx context.Context, id string) (domain.FinancialRecord, error) {
	record, err := s.repo.GetFinancial(ctx, id)
	if err != nil {
		return domain.FinancialRecord{}, err
	}
	return *record, nil
}

// CreateFinancialRecord books a manual income or expense. Records created here
// never link to a sale, so they stay togglable.
func (s *Service) CreateFinancialRecord(ctx context.Context, req domain.FinancialRecordRequest) (domain.FinancialRecord, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.FinancialRecord{}, err
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return domain.FinancialRecord{}, domain.Invalid("description", "required")
	}
	if !req.Amount.IsPositive() {
		return domain.FinancialRecord{}, domain.InvalidAmount("amount", "must be positive")
	}
	if req.Type != domain.FinancialIncome && req.Type != domain.FinancialExpense {
		return domain.FinancialRecord{}, domain.Invalid("type", fmt.Sprintf("unknown type %q", req.Type))
	}
	if req.Status == "" {
		req.Status = domain.FinancialPending
	}
	if req.Status != domain.FinancialPaid && req.Status != domain.FinancialPending {
		return domain.FinancialRecord{}, domain.Invalid("status", fmt.Sprintf("unknown status %q", req.Status))
	}
	due := req.DueDate
	if due.IsZero() {
		due = s.today()
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "Outros"
	}

	amount := domain.Round2(req.Amount)
	record := domain.FinancialRecord{
		ID:             xid.New("fin"),
		Description:    description,
		OriginalAmount: amount,
		Type:           req.Type,
		Category:       category,
		DueDate:        due,
		Status:         req.Status,
		CreatedAt:      s.now().UTC(),
	}
	if record.Status == domain.FinancialPaid {
		paidOn := due
		record.PaidAmount = decimal.NewNullDecimal(amount)
		record.PaymentDate = &paidOn
	}

	created, err := s.repo.CreateFinancial(ctx, record)
	if err != nil {
		return domain.FinancialRecord{}, err
	}
	s.audit(ctx, "financial.created",
		zap.String("record_id", created.ID),
		zap.String("type", string(created.Type)),
		zap.String("status", string(created.Status)),
		money("amount", created.OriginalAmount),
	)
	return *created, nil
}

// ToggleFinancialStatus flips a manual record between paid and pending. Sale
// records are owned by settlement and refused.
func (s *Service) ToggleFinancialStatus(ctx context.Context, id string) (domain.FinancialRecord, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.FinancialRecord{}, err
	}
	record, err := s.repo.GetFinancial(ctx, id)
	if err != nil {
		return domain.FinancialRecord{}, err
	}
	next := domain.FinancialPaid
	if record.Status == domain.FinancialPaid {
		next = domain.FinancialPending
	}

	saved, err := s.repo.SetFinancialStatus(ctx, id, next, s.today())
	if err != nil {
		return domain.FinancialRecord{}, err
	}
	s.audit(ctx, "financial.toggled", zap.String("record_id", id), zap.String("status", string(saved.Status)))
	return *saved, nil
}

// FinancialSummary reports realized income and expense for the month and year
// of asOf, plus what is still owed to suppliers.
func (s *Service) FinancialSummary(ctx context.Context, asOf domain.Date) (domain.FinancialSummary, error) {
	if asOf.IsZero() {
		asOf = s.today()
	}
	records, err := s.repo.ListFinancials(ctx, store.FinancialFilter{})
	if err != nil {
		return domain.FinancialSummary{}, err
	}

	sum := domain.FinancialSummary{
		AsOf:           asOf,
		MonthIncome:    decimal.Zero,
		MonthExpense:   decimal.Zero,
		YearIncome:     decimal.Zero,
		YearExpense:    decimal.Zero,
		PendingPayable: decimal.Zero,
	}
	for _, rec := range records {
		if rec.Status == domain.FinancialPending {
			if rec.Type == domain.FinancialExpense {
				sum.PendingPayable = sum.PendingPayable.Add(rec.OriginalAmount)
			}
			continue
		}
		day := rec.DueDate
		if rec.PaymentDate != nil {
			day = *rec.PaymentDate
		}
		if day.Year() != asOf.Year() || day.After(asOf) {
			continue
		}
		sameMonth := day.Month() == asOf.Month()
		switch rec.Type {
		case domain.FinancialIncome:
			sum.YearIncome = sum.YearIncome.Add(rec.Amount())
			if sameMonth {
				sum.MonthIncome = sum.MonthIncome.Add(rec.Amount())
			}
		case domain.FinancialExpense:
			sum.YearExpense = sum.YearExpense.Add(rec.Amount())
			if sameMonth {
				sum.MonthExpense = sum.MonthExpense.Add(rec.Amount())
			}
		}
	}
	sum.MonthBalance = sum.MonthIncome.Sub(sum.MonthExpense)
	sum.YearBalance = sum.YearIncome.Sub(sum.YearExpense)
	return sum, nil
}
