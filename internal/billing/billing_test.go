package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paivamoda/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeCartTotalsAppliesDiscount(t *testing.T) {
	items := []domain.CartItem{
		{ProductID: 1, Name: "Blusa", Price: dec("50"), Quantity: 2},
		{ProductID: 2, Name: "Cinto", Price: dec("50"), Quantity: 1},
	}

	totals, err := ComputeCartTotals(items, dec("20"))
	require.NoError(t, err)
	assert.Equal(t, "150.00", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "20.00", totals.Discount.StringFixed(2))
	assert.Equal(t, "130.00", totals.BaseTotal.StringFixed(2))
}

func TestComputeCartTotalsFloorsAtZero(t *testing.T) {
	items := []domain.CartItem{{ProductID: 1, Price: dec("10"), Quantity: 1}}

	totals, err := ComputeCartTotals(items, dec("25"))
	require.NoError(t, err)
	assert.True(t, totals.BaseTotal.IsZero())
}

func TestComputeCartTotalsRejectsBadInput(t *testing.T) {
	items := []domain.CartItem{{ProductID: 1, Price: dec("10"), Quantity: 1}}

	_, err := ComputeCartTotals(items, dec("-1"))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = ComputeCartTotals([]domain.CartItem{{ProductID: 1, Price: dec("10"), Quantity: 0}}, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrValidation)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "items[0].quantity", verr.Field)
}

func TestTotalConsistencyProperty(t *testing.T) {
	discounts := []string{"0", "0.01", "33.33", "99.99", "100", "250"}
	items := []domain.CartItem{
		{ProductID: 1, Price: dec("19.90"), Quantity: 3},
		{ProductID: 2, Price: dec("40.30"), Quantity: 1},
	}
	for _, raw := range discounts {
		totals, err := ComputeCartTotals(items, dec(raw))
		require.NoError(t, err)
		assert.False(t, totals.BaseTotal.IsNegative(), "discount %s", raw)
		want := domain.MaxZero(dec("100.00").Sub(dec(raw)))
		assert.True(t, want.Equal(totals.BaseTotal), "discount %s: want %s got %s", raw, want, totals.BaseTotal)
	}
}

func TestDiscountPercentage(t *testing.T) {
	assert.Equal(t, "13.33", DiscountPercentage(dec("150"), dec("20")).StringFixed(2))
	assert.True(t, DiscountPercentage(decimal.Zero, dec("5")).IsZero())
}

func TestChange(t *testing.T) {
	change, err := Change(dec("150"), dec("130"))
	require.NoError(t, err)
	assert.Equal(t, "20.00", change.StringFixed(2))

	_, err = Change(dec("100"), dec("130"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestStoreCreditSixInstallments(t *testing.T) {
	quote, err := ComputeStoreCredit(dec("300"), 6, false)
	require.NoError(t, err)

	assert.Equal(t, "300.00", quote.AmountAfterGrace.StringFixed(2))
	assert.True(t, quote.GraceFee.IsZero())
	assert.Equal(t, "377.41", quote.FinalTotal.StringFixed(2))
	assert.Equal(t, "77.41", quote.Interest.StringFixed(2))
	assert.Equal(t, "62.90", quote.PerInstallment.StringFixed(2))

	first := DefaultDueDate(domain.NewDate(2026, time.January, 31), false)
	assert.Equal(t, "2026-03-02", first.String())

	schedule := InstallmentSchedule(quote, first)
	require.Len(t, schedule, 6)
	sum := decimal.Zero
	for i, inst := range schedule {
		assert.Equal(t, i+1, inst.Number)
		sum = sum.Add(inst.Amount)
	}
	assert.Equal(t, "62.90", schedule[4].Amount.StringFixed(2))
	assert.Equal(t, "62.91", schedule[5].Amount.StringFixed(2))
	assert.True(t, sum.Equal(quote.FinalTotal))
	assert.Equal(t, "2026-04-02", schedule[1].DueDate.String())
	assert.Equal(t, "2026-08-02", schedule[5].DueDate.String())
}

func TestStoreCreditInterestFreeUpToFour(t *testing.T) {
	quote, err := ComputeStoreCredit(dec("100"), 4, false)
	require.NoError(t, err)
	assert.Equal(t, "100.00", quote.FinalTotal.StringFixed(2))
	assert.True(t, quote.Interest.IsZero())
	assert.Equal(t, "25.00", quote.PerInstallment.StringFixed(2))
}

func TestStoreCreditExtendedGrace(t *testing.T) {
	quote, err := ComputeStoreCredit(dec("200"), 2, true)
	require.NoError(t, err)
	assert.Equal(t, "6.00", quote.GraceFee.StringFixed(2))
	assert.Equal(t, "206.00", quote.FinalTotal.StringFixed(2))

	today := domain.NewDate(2026, time.March, 10)
	assert.Equal(t, "2026-05-09", DefaultDueDate(today, true).String())
}

func TestStoreCreditRejectsInstallmentBounds(t *testing.T) {
	_, err := ComputeStoreCredit(dec("100"), 0, false)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = ComputeStoreCredit(dec("100"), domain.MaxCreditInstallments+1, false)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestStoreCreditMonotonicity(t *testing.T) {
	base := dec("487.35")
	prev := decimal.Zero
	for n := InterestFreeInstallments + 1; n <= domain.MaxCreditInstallments; n++ {
		quote, err := ComputeStoreCredit(base, n, false)
		require.NoError(t, err)
		assert.True(t, quote.FinalTotal.GreaterThanOrEqual(prev), "n=%d", n)
		prev = quote.FinalTotal

		graced, err := ComputeStoreCredit(base, n, true)
		require.NoError(t, err)
		assert.True(t, graced.FinalTotal.GreaterThanOrEqual(quote.FinalTotal), "grace n=%d", n)
	}
}

func TestInstallmentScheduleSumsExactly(t *testing.T) {
	first := domain.NewDate(2026, time.February, 15)
	for _, base := range []string{"0.01", "10", "99.99", "100", "1234.56"} {
		for n := 1; n <= domain.MaxCreditInstallments; n++ {
			quote, err := ComputeStoreCredit(dec(base), n, n%2 == 0)
			require.NoError(t, err)
			sum := decimal.Zero
			for _, inst := range InstallmentSchedule(quote, first) {
				sum = sum.Add(inst.Amount)
			}
			assert.True(t, sum.Equal(quote.FinalTotal), "base=%s n=%d", base, n)
			diff := quote.PerInstallment.Mul(decimal.NewFromInt(int64(n))).Sub(quote.FinalTotal).Abs()
			assert.True(t, diff.LessThanOrEqual(dec("0.01").Mul(decimal.NewFromInt(int64(n)))), "base=%s n=%d", base, n)
		}
	}
}

func TestInstallmentScheduleClampsMonthEnd(t *testing.T) {
	quote, err := ComputeStoreCredit(dec("90"), 3, false)
	require.NoError(t, err)

	schedule := InstallmentSchedule(quote, domain.NewDate(2028, time.January, 31))
	assert.Equal(t, "2028-01-31", schedule[0].DueDate.String())
	assert.Equal(t, "2028-02-29", schedule[1].DueDate.String())
	assert.Equal(t, "2028-03-31", schedule[2].DueDate.String())
}

func TestResolveDueDate(t *testing.T) {
	saleDay := domain.NewDate(2026, time.June, 1)

	got, err := ResolveDueDate(saleDay, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-01", got.String())

	explicit := domain.NewDate(2026, time.June, 20)
	got, err = ResolveDueDate(saleDay, &explicit, true)
	require.NoError(t, err)
	assert.True(t, got.Equal(explicit))

	_, err = ResolveDueDate(saleDay, &saleDay, false)
	require.ErrorIs(t, err, domain.ErrDueDateRequired)
}

func TestCheckStoreCreditEligibility(t *testing.T) {
	anonymous := domain.Customer{ID: domain.UnidentifiedCustomerID, CreditLimit: dec("1000")}
	require.ErrorIs(t, CheckStoreCreditEligibility(anonymous, dec("10")), domain.ErrCustomerRequired)

	customer := domain.Customer{ID: "c1", CreditLimit: dec("400"), UsedCredit: dec("50")}
	require.ErrorIs(t, CheckStoreCreditEligibility(customer, dec("500")), domain.ErrCreditLimitExceeded)
	require.NoError(t, CheckStoreCreditEligibility(customer, dec("350")))
}

func TestComputeDebtDueTenDaysLate(t *testing.T) {
	asOf := domain.NewDate(2026, time.May, 20)
	record := domain.FinancialRecord{
		OriginalAmount: dec("100"),
		DueDate:        asOf.AddDays(-10),
		Type:           domain.FinancialIncome,
		Status:         domain.FinancialPending,
	}

	due := ComputeDebtDue(record, asOf)
	assert.True(t, due.IsLate)
	assert.Equal(t, 10, due.DaysLate)
	assert.Equal(t, "2.00", due.Fine.StringFixed(2))
	assert.Equal(t, "0.33", due.Interest.StringFixed(2))
	assert.Equal(t, "102.33", due.Total.StringFixed(2))
	assert.Equal(t, "2.33", SurchargeOf(due).StringFixed(2))
}

func TestComputeDebtDueBoundary(t *testing.T) {
	asOf := domain.NewDate(2026, time.May, 20)
	record := domain.FinancialRecord{OriginalAmount: dec("80"), DueDate: asOf}

	due := ComputeDebtDue(record, asOf)
	assert.False(t, due.IsLate)
	assert.Zero(t, due.DaysLate)
	assert.True(t, due.Total.Equal(dec("80")))

	record.DueDate = asOf.AddDays(-1)
	due = ComputeDebtDue(record, asOf)
	assert.True(t, due.IsLate)
	assert.Equal(t, 1, due.DaysLate)
}

func TestComputeDebtDueIsPure(t *testing.T) {
	asOf := domain.NewDate(2026, time.December, 1)
	record := domain.FinancialRecord{ID: "r1", OriginalAmount: dec("57.43"), DueDate: domain.NewDate(2026, time.October, 3)}
	before := record

	first := ComputeDebtDue(record, asOf)
	second := ComputeDebtDue(record, asOf)
	assert.Equal(t, first, second)
	assert.Equal(t, before, record)
}
