package store

import (
	"context"
	"strings"

	"paivamoda/backend/internal/domain"
)

// Store errors are the domain sentinels so callers above the service layer
// can match either name.
var (
	ErrNotFound            = domain.ErrNotFound
	ErrInsufficientStock   = domain.ErrInsufficientStock
	ErrCreditLimitExceeded = domain.ErrCreditLimitExceeded
	ErrAlreadyCancelled    = domain.ErrAlreadyCancelled
	ErrInvalidTransaction  = domain.ErrInvalidTransaction
)

type ProductStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	FindProductByCode(ctx context.Context, code string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct never touches stock; stock only moves through movements and settlements.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
}

type CustomerStore interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// UpdateCustomer keeps the stored UsedCredit.
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
}

type MovementStore interface {
	ListMovements(ctx context.Context, filter MovementFilter) ([]domain.StockMovement, error)
	RecordMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
}

type SaleStore interface {
	SettleSale(ctx context.Context, settlement domain.Settlement) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	CancelSale(ctx context.Context, id int64, opts domain.CancelOptions) (*domain.Sale, error)
}

type FinancialStore interface {
	ListFinancials(ctx context.Context, filter FinancialFilter) ([]domain.FinancialRecord, error)
	GetFinancial(ctx context.Context, id string) (*domain.FinancialRecord, error)
	CreateFinancial(ctx context.Context, record domain.FinancialRecord) (*domain.FinancialRecord, error)
	SetFinancialStatus(ctx context.Context, id string, status domain.FinancialStatus, paidOn domain.Date) (*domain.FinancialRecord, error)
	SettleDebt(ctx context.Context, settlement domain.DebtSettlement) (*domain.DebtSettlementResult, error)
	DeleteDebt(ctx context.Context, id string) (*domain.DebtRemoval, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	DeleteUser(ctx context.Context, username string) error
}

type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error
}

type SnapshotStore interface {
	ExportSnapshot(ctx context.Context) (domain.Snapshot, error)
	// ImportSnapshot replaces every table as one unit.
	ImportSnapshot(ctx context.Context, snapshot domain.Snapshot) error
}

type Repository interface {
	ProductStore
	CustomerStore
	MovementStore
	SaleStore
	FinancialStore
	UserStore
	SettingStore
	SnapshotStore
}

type MovementFilter struct {
	ProductID int64
	Limit     int
}

type SaleFilter struct {
	From   domain.Date
	To     domain.Date
	Status domain.SaleStatus
	Limit  int
}

// Match reports whether sale passes the filter; zero fields match everything.
func (f SaleFilter) Match(sale domain.Sale) bool {
	if !f.From.IsZero() && sale.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && sale.Date.After(f.To) {
		return false
	}
	return f.Status == "" || sale.Status == f.Status
}

type FinancialFilter struct {
	Status     domain.FinancialStatus
	Type       domain.FinancialType
	CustomerID string
	SaleID     *int64
}

func (f FinancialFilter) Match(rec domain.FinancialRecord) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.CustomerID != "" && rec.CustomerID != f.CustomerID {
		return false
	}
	if f.SaleID != nil && (rec.SaleID == nil || *rec.SaleID != *f.SaleID) {
		return false
	}
	return true
}

// NormalizeUsername is the canonical form usernames are stored and looked up in.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// UnidentifiedCustomer is the walk-in customer every store guarantees.
func UnidentifiedCustomer() domain.Customer {
	return domain.Customer{
		ID:   domain.UnidentifiedCustomerID,
		Name: domain.UnidentifiedCustomerName,
	}
}
