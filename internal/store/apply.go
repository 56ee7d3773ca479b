package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/xid"
)

// The helpers below hold the state transitions every backend applies inside
// its own lock or transaction, so the three stores cannot drift apart.

// PrepareSettlement fills ids and timestamps the caller left empty.
func PrepareSettlement(settlement *domain.Settlement, at time.Time) {
	saleID := settlement.Sale.ID
	for i := range settlement.Movements {
		m := &settlement.Movements[i]
		if m.ID == "" {
			m.ID = xid.New("mov")
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = at
		}
		m.SaleID = &saleID
	}
	for i := range settlement.Financials {
		rec := &settlement.Financials[i]
		if rec.ID == "" {
			rec.ID = xid.New("fin")
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = at
		}
		rec.SaleID = &saleID
	}
}

// CheckSettlement re-validates a settlement against freshly read rows.
func CheckSettlement(settlement domain.Settlement, products map[int64]domain.Product, customer *domain.Customer) error {
	for productID, qty := range settlement.RequiredStock() {
		product, ok := products[productID]
		if !ok {
			return fmt.Errorf("%w: product %d", ErrNotFound, productID)
		}
		if product.Stock < qty {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientStock, product.Name, product.Stock, qty)
		}
	}
	if settlement.CreditDelta.IsPositive() {
		if customer == nil {
			return fmt.Errorf("%w: customer %s", ErrNotFound, settlement.Sale.CustomerID)
		}
		if customer.IsUnidentified() {
			return domain.ErrCustomerRequired
		}
		available := customer.AvailableCredit()
		if settlement.CreditDelta.GreaterThan(available) {
			return fmt.Errorf("%w: %s available, %s required", ErrCreditLimitExceeded, available.StringFixed(2), settlement.CreditDelta.StringFixed(2))
		}
	}
	return nil
}

// ReleaseCredit lowers used credit, never below zero.
func ReleaseCredit(customer *domain.Customer, amount decimal.Decimal) {
	customer.UsedCredit = domain.MaxZero(customer.UsedCredit.Sub(amount))
}

// OutstandingPrincipal is the store credit a sale still holds: the principal
// of its linked receivables not yet collected or deleted.
func OutstandingPrincipal(linked []domain.FinancialRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range linked {
		if rec.IsReceivable() {
			total = total.Add(rec.OriginalAmount)
		}
	}
	return total
}

// PayRecord marks a receivable paid with the collected amount.
func PayRecord(record *domain.FinancialRecord, settlement domain.DebtSettlement) error {
	if !record.IsReceivable() {
		return fmt.Errorf("%w: record %s is %s %s", ErrInvalidTransaction, record.ID, record.Status, record.Type)
	}
	paidOn := settlement.PaymentDate
	record.Status = domain.FinancialPaid
	record.PaidAmount = decimal.NewNullDecimal(settlement.PaidAmount)
	record.PaymentDate = &paidOn
	record.PaymentMethod = settlement.PaymentMethod
	record.Description += domain.PaidSuffix(paidOn)
	return nil
}

// AddSurcharge folds late fees collected on an installment into its sale.
func AddSurcharge(sale *domain.Sale, surcharge decimal.Decimal) {
	if !surcharge.IsPositive() {
		return
	}
	sale.Total = sale.Total.Add(surcharge)
	sale.InterestAndFines = sale.InterestAndFines.Add(surcharge)
}

// ToggleRecord flips a manual record between PAID and PENDING.
func ToggleRecord(record *domain.FinancialRecord, status domain.FinancialStatus, paidOn domain.Date) error {
	if record.SaleID != nil {
		return fmt.Errorf("%w: record %s belongs to a sale", ErrInvalidTransaction, record.ID)
	}
	switch status {
	case domain.FinancialPaid:
		if paidOn.IsZero() {
			return domain.Invalid("payment_date", "required when marking paid")
		}
		record.Status = domain.FinancialPaid
		record.PaidAmount = decimal.NewNullDecimal(record.OriginalAmount)
		record.PaymentDate = &paidOn
	case domain.FinancialPending:
		record.Status = domain.FinancialPending
		record.PaidAmount = decimal.NullDecimal{}
		record.PaymentDate = nil
		record.PaymentMethod = ""
	default:
		return domain.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	return nil
}

// ReversalMovement is the ENTRY that returns one sold line to the shelf.
func ReversalMovement(sale domain.Sale, item domain.CartItem, opts domain.CancelOptions) domain.StockMovement {
	saleID := sale.ID
	return domain.StockMovement{
		ProductID:   item.ProductID,
		ProductName: item.Name,
		Type:        domain.MovementEntry,
		Quantity:    item.Quantity,
		Date:        opts.Date,
		Reason:      domain.ReversalReason(sale.Sequence, opts.Operator),
		SaleID:      &saleID,
		Operator:    opts.Operator,
		CreatedAt:   opts.At,
	}
}

// CheckMovement validates a manual movement against current stock.
func CheckMovement(movement domain.StockMovement, product domain.Product) error {
	if movement.Quantity < 1 {
		return domain.Invalid("quantity", "must be at least 1")
	}
	if movement.Type != domain.MovementEntry && movement.Type != domain.MovementExit {
		return domain.Invalid("type", fmt.Sprintf("unknown movement type %q", movement.Type))
	}
	if product.Stock+movement.Delta() < 0 {
		return fmt.Errorf("%w: %s has %d, exit of %d", ErrInsufficientStock, product.Name, product.Stock, movement.Quantity)
	}
	return nil
}
