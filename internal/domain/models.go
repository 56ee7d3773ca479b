package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	UnidentifiedCustomerID   = "00"
	UnidentifiedCustomerName = "Cliente Não Identificado"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

type SaleStatus string

const (
	SaleCompleted SaleStatus = "COMPLETED"
	SaleCancelled SaleStatus = "CANCELLED"
)

type MovementType string

const (
	MovementEntry MovementType = "ENTRY"
	MovementExit  MovementType = "EXIT"
)

type FinancialType string

const (
	FinancialIncome  FinancialType = "INCOME"
	FinancialExpense FinancialType = "EXPENSE"
)

type FinancialStatus string

const (
	FinancialPaid    FinancialStatus = "PAID"
	FinancialPending FinancialStatus = "PENDING"
)

const (
	CategorySales    = "Vendas"
	SettingDisplay   = "display_scale"
	SnapshotVersion  = "2.0"
	DamageReasonMark = "AVARIA: "
)

type Product struct {
	ID           int64               `json:"id" db:"id"`
	Name         string              `json:"name" db:"name"`
	Category     string              `json:"category" db:"category"`
	Price        decimal.Decimal     `json:"price" db:"price"`
	CostPrice    decimal.NullDecimal `json:"cost_price" db:"cost_price"`
	Stock        int                 `json:"stock" db:"stock"`
	Barcode      string              `json:"barcode" db:"barcode"`
	InternalCode string              `json:"internal_code,omitempty" db:"internal_code"`
	Description  string              `json:"description,omitempty" db:"description"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

type Customer struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Phone       string          `json:"phone" db:"phone"`
	Email       string          `json:"email" db:"email"`
	Address     string          `json:"address,omitempty" db:"address"`
	CPF         string          `json:"cpf,omitempty" db:"cpf"`
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`
	UsedCredit  decimal.Decimal `json:"used_credit" db:"used_credit"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AvailableCredit may be negative when the limit was lowered below current usage.
func (c Customer) AvailableCredit() decimal.Decimal {
	return c.CreditLimit.Sub(c.UsedCredit)
}

func (c Customer) IsUnidentified() bool {
	return c.ID == UnidentifiedCustomerID
}

// CartItem is a value copy of the product at the moment it was sold.
type CartItem struct {
	ProductID int64               `json:"product_id"`
	Name      string              `json:"name"`
	Category  string              `json:"category,omitempty"`
	Barcode   string              `json:"barcode,omitempty"`
	Price     decimal.Decimal     `json:"price"`
	CostPrice decimal.NullDecimal `json:"cost_price"`
	Quantity  int                 `json:"quantity"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func SnapshotItem(p Product, quantity int) CartItem {
	return CartItem{
		ProductID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Barcode:   p.Barcode,
		Price:     p.Price,
		CostPrice: p.CostPrice,
		Quantity:  quantity,
	}
}

// SaleItems is stored as one JSON column so the frozen snapshot travels with the sale row.
type SaleItems []CartItem

func (s SaleItems) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	payload, err := json.Marshal([]CartItem(s))
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func (s *SaleItems) Scan(src any) error {
	var payload []byte
	switch v := src.(type) {
	case nil:
		*s = SaleItems{}
		return nil
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return fmt.Errorf("cannot scan %T into SaleItems", src)
	}
	items := make([]CartItem, 0, 4)
	if err := json.Unmarshal(payload, &items); err != nil {
		return err
	}
	*s = items
	return nil
}

type Sale struct {
	ID               int64           `json:"id" db:"id"`
	Sequence         int64           `json:"sequence" db:"sequence"`
	Date             Date            `json:"date" db:"sale_date"`
	Timestamp        time.Time       `json:"timestamp" db:"sold_at"`
	CustomerID       string          `json:"customer_id" db:"customer_id"`
	CustomerName     string          `json:"customer_name" db:"customer_name"`
	Items            SaleItems       `json:"items" db:"items"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount         decimal.Decimal `json:"discount" db:"discount"`
	GraceFee         decimal.Decimal `json:"grace_fee" db:"grace_fee"`
	Interest         decimal.Decimal `json:"interest" db:"interest"`
	Total            decimal.Decimal `json:"total" db:"total"`
	PaymentMethod    PaymentMethod   `json:"payment_method" db:"payment_method"`
	Installments     int             `json:"installments" db:"installments"`
	CashReceived     decimal.Decimal `json:"cash_received" db:"cash_received"`
	Change           decimal.Decimal `json:"change" db:"change_due"`
	Observation      string          `json:"observation,omitempty" db:"observation"`
	CPF              string          `json:"cpf,omitempty" db:"cpf"`
	Status           SaleStatus      `json:"status" db:"status"`
	InterestAndFines decimal.Decimal `json:"interest_and_fines" db:"interest_and_fines"`
	Operator         string          `json:"operator" db:"operator"`
}

func (s Sale) ItemCount() int {
	n := 0
	for _, item := range s.Items {
		n += item.Quantity
	}
	return n
}

type StockMovement struct {
	ID          string       `json:"id" db:"id"`
	ProductID   int64        `json:"product_id" db:"product_id"`
	ProductName string       `json:"product_name" db:"product_name"`
	Type        MovementType `json:"type" db:"type"`
	Quantity    int          `json:"quantity" db:"quantity"`
	Date        Date         `json:"date" db:"movement_date"`
	Reason      string       `json:"reason" db:"reason"`
	SaleID      *int64       `json:"sale_id,omitempty" db:"sale_id"`
	Operator    string       `json:"operator,omitempty" db:"operator"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// Delta is the signed stock change the movement applies.
func (m StockMovement) Delta() int {
	if m.Type == MovementExit {
		return -m.Quantity
	}
	return m.Quantity
}

type FinancialRecord struct {
	ID               string              `json:"id" db:"id"`
	Description      string              `json:"description" db:"description"`
	OriginalAmount   decimal.Decimal     `json:"original_amount" db:"original_amount"`
	PaidAmount       decimal.NullDecimal `json:"paid_amount" db:"paid_amount"`
	Type             FinancialType       `json:"type" db:"type"`
	Category         string              `json:"category" db:"category"`
	DueDate          Date                `json:"due_date" db:"due_date"`
	PaymentDate      *Date               `json:"payment_date,omitempty" db:"payment_date"`
	PaymentMethod    PaymentMethod       `json:"payment_method,omitempty" db:"payment_method"`
	Status           FinancialStatus     `json:"status" db:"status"`
	SaleID           *int64              `json:"sale_id,omitempty" db:"sale_id"`
	CustomerID       string              `json:"customer_id,omitempty" db:"customer_id"`
	Installment      int                 `json:"installment,omitempty" db:"installment"`
	InstallmentCount int                 `json:"installment_count,omitempty" db:"installment_count"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
}

// Amount is what the record is worth in the ledger: the realized amount once
// paid, the scheduled principal before that.
func (r FinancialRecord) Amount() decimal.Decimal {
	if r.Status == FinancialPaid && r.PaidAmount.Valid {
		return r.PaidAmount.Decimal
	}
	return r.OriginalAmount
}

func (r FinancialRecord) IsReceivable() bool {
	return r.Type == FinancialIncome && r.Status == FinancialPending
}

type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Name      string    `json:"name" db:"name"`
	Password  string    `json:"password,omitempty" db:"password"`
	Role      string    `json:"role" db:"role"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type UserView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) View() UserView {
	return UserView{ID: u.ID, Username: u.Username, Name: u.Name, Role: u.Role, Active: u.Active, CreatedAt: u.CreatedAt}
}

type Setting struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}

func (a Actor) CanCancel() bool {
	return a.Role == RoleAdmin || a.Role == RoleEmployee
}

func (a Actor) CanDelete() bool {
	return a.Role == RoleAdmin
}

func (a Actor) CanManageUsers() bool {
	return a.Role == RoleAdmin
}

// DebtDue is the aging breakdown of one receivable as of a given day.
type DebtDue struct {
	AsOf           Date            `json:"as_of"`
	IsLate         bool            `json:"is_late"`
	DaysLate       int             `json:"days_late"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	Fine           decimal.Decimal `json:"fine"`
	Interest       decimal.Decimal `json:"interest"`
	Total          decimal.Decimal `json:"total"`
}

type Snapshot struct {
	Products   []Product         `json:"products"`
	Customers  []Customer        `json:"customers"`
	Movements  []StockMovement   `json:"movements"`
	Financials []FinancialRecord `json:"financials"`
	Sales      []Sale            `json:"sales"`
	Users      []User            `json:"users"`
	Settings   []Setting         `json:"settings"`
	ExportDate time.Time         `json:"exportDate"`
	Version    string            `json:"version"`
}
