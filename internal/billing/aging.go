package billing

import (
	"github.com/shopspring/decimal"

	"paivamoda/backend/internal/domain"
)

var (
	lateFineRate        = decimal.RequireFromString("0.02")
	monthlyLateInterest = decimal.RequireFromString("0.01")
	daysPerMonth        = decimal.NewFromInt(30)
)

// ComputeDebtDue ages one receivable: a flat 2% fine once late plus 1% a
// month pro rata per day. A record due today is not late.
func ComputeDebtDue(record domain.FinancialRecord, asOf domain.Date) domain.DebtDue {
	amount := record.OriginalAmount
	due := domain.DebtDue{
		AsOf:           asOf,
		OriginalAmount: amount,
		Fine:           decimal.Zero,
		Interest:       decimal.Zero,
		Total:          amount,
	}
	if record.DueDate.IsZero() || !asOf.After(record.DueDate) {
		return due
	}
	days := record.DueDate.DaysUntil(asOf)
	due.IsLate = true
	due.DaysLate = days
	due.Fine = domain.Round2(amount.Mul(lateFineRate))
	due.Interest = domain.Round2(amount.Mul(monthlyLateInterest).Mul(decimal.NewFromInt(int64(days))).Div(daysPerMonth))
	due.Total = amount.Add(due.Fine).Add(due.Interest)
	return due
}

// SurchargeOf is what collection adds on top of the scheduled principal.
func SurchargeOf(due domain.DebtDue) decimal.Decimal {
	return due.Total.Sub(due.OriginalAmount)
}
