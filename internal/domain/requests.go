package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CheckoutItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	Items       []CheckoutItem `json:"items"`
	CustomerID  string         `json:"customer_id"`
	Payment     PaymentInput   `json:"payment"`
	Discount    string         `json:"discount"`
	Observation string         `json:"observation"`
	CPF         string         `json:"cpf"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
}

type InstallmentLine struct {
	Number  int             `json:"number"`
	DueDate Date            `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
}

// SaleQuote is the pre-confirmation view of a checkout. Blocking holds the
// reason settlement would currently be refused, if any.
type SaleQuote struct {
	Subtotal        decimal.Decimal   `json:"subtotal"`
	Discount        decimal.Decimal   `json:"discount"`
	DiscountPercent decimal.Decimal   `json:"discount_percent"`
	BaseTotal       decimal.Decimal   `json:"base_total"`
	GraceFee        decimal.Decimal   `json:"grace_fee"`
	Interest        decimal.Decimal   `json:"interest"`
	FinalTotal      decimal.Decimal   `json:"final_total"`
	PerInstallment  decimal.Decimal   `json:"per_installment"`
	Change          decimal.Decimal   `json:"change"`
	Schedule        []InstallmentLine `json:"schedule,omitempty"`
	AvailableCredit decimal.Decimal   `json:"available_credit"`
	Blocking        string            `json:"blocking,omitempty"`
}

type ProductRequest struct {
	Name         string              `json:"name"`
	Category     string              `json:"category"`
	Price        decimal.Decimal     `json:"price"`
	CostPrice    decimal.NullDecimal `json:"cost_price"`
	Stock        int                 `json:"stock"`
	Barcode      string              `json:"barcode"`
	InternalCode string              `json:"internal_code"`
	Description  string              `json:"description"`
}

type CustomerRequest struct {
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	Email       string          `json:"email"`
	Address     string          `json:"address"`
	CPF         string          `json:"cpf"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type MovementRequest struct {
	ProductID int64        `json:"product_id"`
	Type      MovementType `json:"type"`
	Quantity  int          `json:"quantity"`
	Reason    string       `json:"reason"`
}

type FinancialRecordRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        FinancialType   `json:"type"`
	Category    string          `json:"category"`
	DueDate     Date            `json:"due_date"`
	Status      FinancialStatus `json:"status"`
}

type ReceiveDebtRequest struct {
	Payment PaymentInput `json:"payment"`
}

type DebtReceipt struct {
	Record   FinancialRecord `json:"record"`
	Customer *Customer       `json:"customer,omitempty"`
	Sale     *Sale           `json:"sale,omitempty"`
	Due      DebtDue         `json:"due"`
	Change   decimal.Decimal `json:"change"`
}

type ReceivableLine struct {
	Record FinancialRecord `json:"record"`
	Due    DebtDue         `json:"due"`
}

type CustomerReceivables struct {
	Customer    Customer         `json:"customer"`
	Records     []ReceivableLine `json:"records"`
	Outstanding decimal.Decimal  `json:"outstanding"`
	TotalDue    decimal.Decimal  `json:"total_due"`
	LateCount   int              `json:"late_count"`
}

type ReceivablesReport struct {
	AsOf        Date                  `json:"as_of"`
	Customers   []CustomerReceivables `json:"customers"`
	Outstanding decimal.Decimal       `json:"outstanding"`
	TotalDue    decimal.Decimal       `json:"total_due"`
}

type SalesSummary struct {
	AsOf       Date            `json:"as_of"`
	Today      decimal.Decimal `json:"today"`
	TodayCount int             `json:"today_count"`
	Month      decimal.Decimal `json:"month"`
	Year       decimal.Decimal `json:"year"`
}

type FinancialSummary struct {
	AsOf           Date            `json:"as_of"`
	MonthIncome    decimal.Decimal `json:"month_income"`
	MonthExpense   decimal.Decimal `json:"month_expense"`
	MonthBalance   decimal.Decimal `json:"month_balance"`
	YearIncome     decimal.Decimal `json:"year_income"`
	YearExpense    decimal.Decimal `json:"year_expense"`
	YearBalance    decimal.Decimal `json:"year_balance"`
	PendingPayable decimal.Decimal `json:"pending_payable"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Name        string `json:"name"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type RecoveryRequest struct {
	Passphrase  string `json:"passphrase"`
	Username    string `json:"username"`
	NewPassword string `json:"new_password"`
}

type DisplayScaleRequest struct {
	Scale decimal.Decimal `json:"scale"`
}
