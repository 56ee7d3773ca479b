package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"paivamoda/backend/internal/domain"
)

const (
	// Plans up to this many installments carry no interest.
	InterestFreeInstallments = 4
	DefaultGraceDays         = 30
	ExtendedGraceDays        = 60
)

var (
	graceFeeRate        = decimal.RequireFromString("0.03")
	monthlyInterestRate = decimal.RequireFromString("1.039")
)

type StoreCreditQuote struct {
	BaseTotal        decimal.Decimal `json:"base_total"`
	Installments     int             `json:"installments"`
	ExtendedGrace    bool            `json:"extended_grace"`
	GraceFee         decimal.Decimal `json:"grace_fee"`
	AmountAfterGrace decimal.Decimal `json:"amount_after_grace"`
	Interest         decimal.Decimal `json:"interest"`
	FinalTotal       decimal.Decimal `json:"final_total"`
	PerInstallment   decimal.Decimal `json:"per_installment"`
}

type Installment struct {
	Number  int             `json:"number"`
	DueDate domain.Date     `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
}

// ComputeStoreCredit prices an in-house installment plan. Extended grace adds
// a 3% fee; plans longer than four installments compound 3.9% per installment
// on top of it.
func ComputeStoreCredit(baseTotal decimal.Decimal, installments int, extendedGrace bool) (StoreCreditQuote, error) {
	if baseTotal.IsNegative() {
		return StoreCreditQuote{}, domain.InvalidAmount("base_total", "must not be negative")
	}
	if installments < 1 || installments > domain.MaxCreditInstallments {
		return StoreCreditQuote{}, domain.Invalid("installments", fmt.Sprintf("must be between 1 and %d", domain.MaxCreditInstallments))
	}

	graceFee := decimal.Zero
	if extendedGrace {
		graceFee = domain.Round2(baseTotal.Mul(graceFeeRate))
	}
	afterGrace := baseTotal.Add(graceFee)

	final := afterGrace
	if installments > InterestFreeInstallments {
		final = domain.Round2(afterGrace.Mul(compound(monthlyInterestRate, installments)))
	}

	n := decimal.NewFromInt(int64(installments))
	per := domain.Round2(final.Div(n))
	// keep the remainder installment from going negative on tiny totals
	if per.Mul(n.Sub(decimal.NewFromInt(1))).GreaterThan(final) {
		per = final.Div(n).Truncate(2)
	}

	return StoreCreditQuote{
		BaseTotal:        baseTotal,
		Installments:     installments,
		ExtendedGrace:    extendedGrace,
		GraceFee:         graceFee,
		AmountAfterGrace: afterGrace,
		Interest:         final.Sub(afterGrace),
		FinalTotal:       final,
		PerInstallment:   per,
	}, nil
}

// compound multiplies instead of calling Pow so the factor stays exact.
func compound(rate decimal.Decimal, n int) decimal.Decimal {
	factor := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		factor = factor.Mul(rate)
	}
	return factor
}

func DefaultDueDate(today domain.Date, extendedGrace bool) domain.Date {
	if extendedGrace {
		return today.AddDays(ExtendedGraceDays)
	}
	return today.AddDays(DefaultGraceDays)
}

// ResolveDueDate picks the first installment date. An explicit date must fall
// after the sale day.
func ResolveDueDate(saleDay domain.Date, explicit *domain.Date, extendedGrace bool) (domain.Date, error) {
	if explicit == nil || explicit.IsZero() {
		return DefaultDueDate(saleDay, extendedGrace), nil
	}
	if !explicit.After(saleDay) {
		return domain.Date{}, &domain.ValidationError{
			Field:  "payment.due_date",
			Reason: fmt.Sprintf("must be after %s", saleDay),
			Err:    domain.ErrDueDateRequired,
		}
	}
	return *explicit, nil
}

// InstallmentSchedule spreads the final total over monthly due dates starting
// at first. The last installment takes the rounding remainder so the schedule
// always sums to FinalTotal.
func InstallmentSchedule(quote StoreCreditQuote, first domain.Date) []Installment {
	n := quote.Installments
	if n < 1 {
		return nil
	}
	schedule := make([]Installment, 0, n)
	allocated := decimal.Zero
	for i := 0; i < n; i++ {
		amount := quote.PerInstallment
		if i == n-1 {
			amount = quote.FinalTotal.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		schedule = append(schedule, Installment{
			Number:  i + 1,
			DueDate: first.AddMonths(i),
			Amount:  amount,
		})
	}
	return schedule
}

func CheckStoreCreditEligibility(customer domain.Customer, finalTotal decimal.Decimal) error {
	if customer.IsUnidentified() {
		return fmt.Errorf("%w: store credit needs a registered customer", domain.ErrCustomerRequired)
	}
	available := customer.AvailableCredit()
	if finalTotal.GreaterThan(available) {
		return fmt.Errorf("%w: %s available, %s required", domain.ErrCreditLimitExceeded, available.StringFixed(2), finalTotal.StringFixed(2))
	}
	return nil
}
