// Package billing holds the pure money calculations of a checkout: cart
// totals, store-credit plans and late-debt aging. Nothing here touches a
// store or the clock.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"paivamoda/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type CartTotals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	BaseTotal decimal.Decimal `json:"base_total"`
}

// ComputeCartTotals sums the cart and applies a flat discount. A discount
// larger than the subtotal floors the base total at zero.
func ComputeCartTotals(items []domain.CartItem, discount decimal.Decimal) (CartTotals, error) {
	if discount.IsNegative() {
		return CartTotals{}, domain.InvalidAmount("discount", "must not be negative")
	}
	subtotal := decimal.Zero
	for i, item := range items {
		if item.Quantity < 1 {
			return CartTotals{}, domain.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if item.Price.IsNegative() {
			return CartTotals{}, domain.InvalidAmount(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
		subtotal = subtotal.Add(item.LineTotal())
	}
	subtotal = domain.Round2(subtotal)
	discount = domain.Round2(discount)
	return CartTotals{
		Subtotal:  subtotal,
		Discount:  discount,
		BaseTotal: domain.MaxZero(subtotal.Sub(discount)),
	}, nil
}

// DiscountPercentage is display only.
func DiscountPercentage(subtotal, discount decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	return discount.Mul(hundred).Div(subtotal).Round(2)
}

// Change is what the cashier hands back for a cash payment.
func Change(received, total decimal.Decimal) (decimal.Decimal, error) {
	if received.LessThan(total) {
		return decimal.Zero, fmt.Errorf("%w: received %s, total %s", domain.ErrInsufficientFunds, received.StringFixed(2), total.StringFixed(2))
	}
	return domain.Round2(received.Sub(total)), nil
}
