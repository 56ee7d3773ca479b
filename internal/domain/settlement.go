package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Settlement is the complete write set of one finalized sale. Stores apply it
// as one unit and call Stamp once the sale sequence is known.
type Settlement struct {
	Sale        Sale
	Movements   []StockMovement
	Financials  []FinancialRecord
	CreditDelta decimal.Decimal
}

func SaleReference(sequence int64, customerName string) string {
	return fmt.Sprintf("Venda #%d - %s", sequence, customerName)
}

func ReversalReason(sequence int64, operator string) string {
	return fmt.Sprintf("Estorno Venda #%d (%s)", sequence, operator)
}

func PaidSuffix(day Date) string {
	return fmt.Sprintf(" (Pago em %s)", day)
}

// Stamp assigns the sequence and renders every text that refers to it.
func (s *Settlement) Stamp(sequence int64) {
	s.Sale.Sequence = sequence
	ref := SaleReference(sequence, s.Sale.CustomerName)
	for i := range s.Movements {
		s.Movements[i].Reason = fmt.Sprintf("%s (%s)", ref, s.Sale.Operator)
	}
	for i := range s.Financials {
		rec := &s.Financials[i]
		switch {
		case rec.InstallmentCount > 0:
			rec.Description = fmt.Sprintf("%s (Parc %d/%d)", ref, rec.Installment, rec.InstallmentCount)
		case s.Sale.PaymentMethod == PaymentCreditCard && s.Sale.Installments > 1:
			rec.Description = fmt.Sprintf("%s (%dx)", ref, s.Sale.Installments)
		default:
			rec.Description = ref
		}
	}
}

// RequiredStock sums the quantity the sale takes from each product.
func (s Settlement) RequiredStock() map[int64]int {
	need := make(map[int64]int, len(s.Sale.Items))
	for _, item := range s.Sale.Items {
		need[item.ProductID] += item.Quantity
	}
	return need
}

type CancelOptions struct {
	Operator string
	Date     Date
	At       time.Time
}

type DebtSettlement struct {
	RecordID      string
	PaidAmount    decimal.Decimal
	PaymentMethod PaymentMethod
	PaymentDate   Date
}

type DebtSettlementResult struct {
	Record   FinancialRecord
	Customer *Customer
	Sale     *Sale
}

type DebtRemoval struct {
	Record   FinancialRecord
	Customer *Customer
}

// CartSeed carries a cancelled sale back into a fresh cart.
type CartSeed struct {
	SourceSaleID int64      `json:"source_sale_id"`
	Items        []CartItem `json:"items"`
	CustomerID   string     `json:"customer_id"`
	Discount     string     `json:"discount"`
	Observation  string     `json:"observation,omitempty"`
	CPF          string     `json:"cpf,omitempty"`
}
