package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMoney       PaymentMethod = "MONEY"
	PaymentPix         PaymentMethod = "PIX"
	PaymentDebitCard   PaymentMethod = "DEBIT_CARD"
	PaymentCreditCard  PaymentMethod = "CREDIT_CARD"
	PaymentBemol       PaymentMethod = "BEMOL"
	PaymentStoreCredit PaymentMethod = "STORE_CREDIT"
)

const (
	MaxCardInstallments   = 12
	MaxCreditInstallments = 24
)

// Payment is the closed set of tender types. Each variant carries exactly the
// inputs its method needs; the unexported method keeps the set closed.
type Payment interface {
	Method() PaymentMethod
	InstallmentCount() int
	payment()
}

type Money struct {
	CashReceived decimal.Decimal
}

type Pix struct{}

type DebitCard struct{}

type CreditCard struct {
	Installments int
}

type Bemol struct{}

type StoreCredit struct {
	Installments  int
	ExtendedGrace bool
	DueDate       *Date
}

func (Money) Method() PaymentMethod       { return PaymentMoney }
func (Pix) Method() PaymentMethod         { return PaymentPix }
func (DebitCard) Method() PaymentMethod   { return PaymentDebitCard }
func (CreditCard) Method() PaymentMethod  { return PaymentCreditCard }
func (Bemol) Method() PaymentMethod       { return PaymentBemol }
func (StoreCredit) Method() PaymentMethod { return PaymentStoreCredit }

func (Money) InstallmentCount() int         { return 1 }
func (Pix) InstallmentCount() int           { return 1 }
func (DebitCard) InstallmentCount() int     { return 1 }
func (c CreditCard) InstallmentCount() int  { return c.Installments }
func (Bemol) InstallmentCount() int         { return 1 }
func (c StoreCredit) InstallmentCount() int { return c.Installments }

func (Money) payment()       {}
func (Pix) payment()         {}
func (DebitCard) payment()   {}
func (CreditCard) payment()  {}
func (Bemol) payment()       {}
func (StoreCredit) payment() {}

// PaymentInput is the flat wire form of a Payment.
type PaymentInput struct {
	Method        PaymentMethod `json:"method"`
	CashReceived  string        `json:"cash_received,omitempty"`
	Installments  int           `json:"installments,omitempty"`
	ExtendedGrace bool          `json:"extended_grace,omitempty"`
	DueDate       string        `json:"due_date,omitempty"`
}

// ParsePayment turns the wire form into its variant and rejects fields that
// do not belong to the chosen method.
func ParsePayment(in PaymentInput) (Payment, error) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(string(in.Method))))
	cash := strings.TrimSpace(in.CashReceived)
	due := strings.TrimSpace(in.DueDate)

	if method != PaymentMoney && cash != "" {
		return nil, Invalid("payment.cash_received", fmt.Sprintf("not accepted for %s", method))
	}
	if method != PaymentStoreCredit {
		if in.ExtendedGrace {
			return nil, Invalid("payment.extended_grace", "only accepted for STORE_CREDIT")
		}
		if due != "" {
			return nil, Invalid("payment.due_date", "only accepted for STORE_CREDIT")
		}
	}

	switch method {
	case PaymentMoney:
		if err := singleInstallment(in.Installments); err != nil {
			return nil, err
		}
		if cash == "" {
			return nil, InvalidAmount("payment.cash_received", "required for MONEY")
		}
		received, err := ParseAmount("payment.cash_received", cash)
		if err != nil {
			return nil, err
		}
		return Money{CashReceived: received}, nil
	case PaymentPix:
		return Pix{}, singleInstallment(in.Installments)
	case PaymentDebitCard:
		return DebitCard{}, singleInstallment(in.Installments)
	case PaymentBemol:
		return Bemol{}, singleInstallment(in.Installments)
	case PaymentCreditCard:
		n, err := installments(in.Installments, MaxCardInstallments)
		if err != nil {
			return nil, err
		}
		return CreditCard{Installments: n}, nil
	case PaymentStoreCredit:
		n, err := installments(in.Installments, MaxCreditInstallments)
		if err != nil {
			return nil, err
		}
		pay := StoreCredit{Installments: n, ExtendedGrace: in.ExtendedGrace}
		if due != "" {
			parsed, err := ParseDate(due)
			if err != nil {
				return nil, &ValidationError{Field: "payment.due_date", Reason: "must be YYYY-MM-DD", Err: ErrDueDateRequired}
			}
			pay.DueDate = &parsed
		}
		return pay, nil
	case "":
		return nil, Invalid("payment.method", "required")
	default:
		return nil, Invalid("payment.method", fmt.Sprintf("unsupported method %q", in.Method))
	}
}

// Input is the inverse of ParsePayment.
func Input(p Payment) PaymentInput {
	in := PaymentInput{Method: p.Method()}
	switch v := p.(type) {
	case Money:
		in.CashReceived = v.CashReceived.StringFixed(2)
	case CreditCard:
		in.Installments = v.Installments
	case StoreCredit:
		in.Installments = v.Installments
		in.ExtendedGrace = v.ExtendedGrace
		if v.DueDate != nil {
			in.DueDate = v.DueDate.String()
		}
	}
	return in
}

func IsKnownPaymentMethod(method PaymentMethod) bool {
	switch method {
	case PaymentMoney, PaymentPix, PaymentDebitCard, PaymentCreditCard, PaymentBemol, PaymentStoreCredit:
		return true
	}
	return false
}

func singleInstallment(n int) error {
	if n > 1 {
		return Invalid("payment.installments", "only CREDIT_CARD and STORE_CREDIT accept installments")
	}
	if n < 0 {
		return Invalid("payment.installments", "must be positive")
	}
	return nil
}

func installments(n int, max int) (int, error) {
	if n == 0 {
		return 1, nil
	}
	if n < 1 || n > max {
		return 0, Invalid("payment.installments", fmt.Sprintf("must be between 1 and %d", max))
	}
	return n, nil
}
