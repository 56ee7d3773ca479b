package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	nextProductID int64
	customers     map[string]domain.Customer
	movements     []domain.StockMovement
	sales         map[int64]*domain.Sale
	financials    map[string]domain.FinancialRecord
	users         map[string]domain.User
	settings      map[string]string
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store holding only the walk-in customer.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.products = make(map[int64]domain.Product)
	s.nextProductID = 1
	s.customers = map[string]domain.Customer{domain.UnidentifiedCustomerID: store.UnidentifiedCustomer()}
	s.movements = make([]domain.StockMovement, 0, 64)
	s.sales = make(map[int64]*domain.Sale)
	s.financials = make(map[string]domain.FinancialRecord)
	s.users = make(map[string]domain.User)
	s.settings = make(map[string]string)
}

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_EMPLOYEE_PASSWORD, falling back to dev defaults with a warning.
func seedUsers() map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	employeePwd := envOr("SEED_EMPLOYEE_PASSWORD", "vendas123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_EMPLOYEE_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.User{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Administrador", adminPwd, domain.RoleAdmin},
		{"vendas", "Vendedora", employeePwd, domain.RoleEmployee},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.User{
			ID:        xid.UUID(),
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a demo store with a small catalog, one credit customer
// and the default accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{Name: "Blusa Viscose Estampada", Category: "Blusas", Price: decimal.RequireFromString("79.90"), Stock: 12, Barcode: "7890000000011", InternalCode: "BL-001"},
		{Name: "Calça Jeans Skinny", Category: "Calças", Price: decimal.RequireFromString("149.90"), Stock: 8, Barcode: "7890000000028", InternalCode: "CJ-002"},
		{Name: "Vestido Midi Liso", Category: "Vestidos", Price: decimal.RequireFromString("189.00"), Stock: 5, Barcode: "7890000000035", InternalCode: "VM-003"},
		{Name: "Cinto Couro Sintético", Category: "Acessórios", Price: decimal.RequireFromString("39.90"), Stock: 20, Barcode: "7890000000042", InternalCode: "AC-004"},
		{Name: "Saia Plissada", Category: "Saias", Price: decimal.RequireFromString("99.90"), Stock: 6, Barcode: "7890000000059", InternalCode: "SA-005"},
	} {
		p.ID = s.nextProductID
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.nextProductID++
	}
	customer := domain.Customer{
		ID:          xid.UUID(),
		Name:        "Maria Aparecida",
		Phone:       "(92) 99999-0000",
		CreditLimit: decimal.NewFromInt(500),
		UsedCredit:  decimal.Zero,
		CreatedAt:   now,
	}
	s.customers[customer.ID] = customer
	s.users = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) FindProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrNotFound
	}
	for _, p := range s.products {
		if p.Barcode == code || p.InternalCode == code {
			found := p
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == 0 {
		product.ID = s.nextProductID
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %d exists", store.ErrInvalidTransaction, product.ID)
	}
	if product.ID >= s.nextProductID {
		s.nextProductID = product.ID + 1
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Stock = current.Stock
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.IsUnidentified() != b.IsUnidentified() {
			if a.IsUnidentified() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.UUID()
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, fmt.Errorf("%w: customer %s exists", store.ErrInvalidTransaction, customer.ID)
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.UsedCredit = current.UsedCredit
	customer.CreatedAt = current.CreatedAt
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == domain.UnidentifiedCustomerID {
		return fmt.Errorf("%w: the walk-in customer cannot be deleted", store.ErrInvalidTransaction)
	}
	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	for _, rec := range s.financials {
		if rec.CustomerID == id && rec.Status == domain.FinancialPending {
			return fmt.Errorf("%w: customer has pending installments", store.ErrInvalidTransaction)
		}
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) ListMovements(_ context.Context, filter store.MovementFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0, len(s.movements))
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		out = append(out, cloneMovement(m))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RecordMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[movement.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.CheckMovement(movement, product); err != nil {
		return nil, err
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	movement.ProductName = product.Name
	product.Stock += movement.Delta()
	product.UpdatedAt = movement.CreatedAt
	s.products[product.ID] = product
	s.movements = append(s.movements, movement)
	return &movement, nil
}

func (s *Store) SettleSale(_ context.Context, settlement domain.Settlement) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale := settlement.Sale
	if sale.ID == 0 || len(sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, fmt.Errorf("%w: sale %d exists", store.ErrInvalidTransaction, sale.ID)
	}

	var customer *domain.Customer
	if c, ok := s.customers[sale.CustomerID]; ok {
		customer = &c
	}
	if err := store.CheckSettlement(settlement, s.products, customer); err != nil {
		return nil, err
	}
	store.PrepareSettlement(&settlement, time.Now().UTC())

	var sequence int64
	for _, existing := range s.sales {
		sequence = max(sequence, existing.Sequence)
	}
	settlement.Stamp(sequence + 1)

	for _, m := range settlement.Movements {
		product := s.products[m.ProductID]
		product.Stock += m.Delta()
		product.UpdatedAt = m.CreatedAt
		s.products[m.ProductID] = product
		s.movements = append(s.movements, m)
	}
	for _, rec := range settlement.Financials {
		s.financials[rec.ID] = rec
	}
	if settlement.CreditDelta.IsPositive() && customer != nil {
		customer.UsedCredit = customer.UsedCredit.Add(settlement.CreditDelta)
		s.customers[customer.ID] = *customer
	}

	stored := cloneSale(settlement.Sale)
	s.sales[stored.ID] = &stored
	out := cloneSale(stored)
	return &out, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(*sale)
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Match(*sale) {
			sales = append(sales, cloneSale(*sale))
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if !a.Timestamp.Equal(b.Timestamp) {
			return b.Timestamp.Compare(a.Timestamp)
		}
		return int(b.Sequence - a.Sequence)
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) CancelSale(_ context.Context, id int64, opts domain.CancelOptions) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleCompleted {
		return nil, store.ErrAlreadyCancelled
	}

	for _, item := range sale.Items {
		product, exists := s.products[item.ProductID]
		if !exists {
			continue
		}
		movement := store.ReversalMovement(*sale, item, opts)
		movement.ID = xid.New("mov")
		product.Stock += movement.Quantity
		product.UpdatedAt = opts.At
		s.products[product.ID] = product
		s.movements = append(s.movements, movement)
	}
	linked := make([]domain.FinancialRecord, 0, sale.Installments)
	for recID, rec := range s.financials {
		if rec.SaleID != nil && *rec.SaleID == sale.ID {
			linked = append(linked, rec)
			delete(s.financials, recID)
		}
	}
	if sale.PaymentMethod == domain.PaymentStoreCredit {
		if customer, exists := s.customers[sale.CustomerID]; exists {
			store.ReleaseCredit(&customer, store.OutstandingPrincipal(linked))
			s.customers[customer.ID] = customer
		}
	}
	sale.Status = domain.SaleCancelled

	out := cloneSale(*sale)
	return &out, nil
}

func (s *Store) ListFinancials(_ context.Context, filter store.FinancialFilter) ([]domain.FinancialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.FinancialRecord, 0, len(s.financials))
	for _, rec := range s.financials {
		if filter.Match(rec) {
			out = append(out, cloneFinancial(rec))
		}
	}
	slices.SortFunc(out, func(a, b domain.FinancialRecord) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		if a.Installment != b.Installment {
			return a.Installment - b.Installment
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetFinancial(_ context.Context, id string) (*domain.FinancialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.financials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneFinancial(rec)
	return &out, nil
}

func (s *Store) CreateFinancial(_ context.Context, record domain.FinancialRecord) (*domain.FinancialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = xid.New("fin")
	}
	if _, exists := s.financials[record.ID]; exists {
		return nil, fmt.Errorf("%w: record %s exists", store.ErrInvalidTransaction, record.ID)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.financials[record.ID] = cloneFinancial(record)
	return &record, nil
}

func (s *Store) SetFinancialStatus(_ context.Context, id string, status domain.FinancialStatus, paidOn domain.Date) (*domain.FinancialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.financials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.ToggleRecord(&rec, status, paidOn); err != nil {
		return nil, err
	}
	s.financials[id] = rec
	out := cloneFinancial(rec)
	return &out, nil
}

func (s *Store) SettleDebt(_ context.Context, settlement domain.DebtSettlement) (*domain.DebtSettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.financials[settlement.RecordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.PayRecord(&rec, settlement); err != nil {
		return nil, err
	}

	result := &domain.DebtSettlementResult{}
	if customer, exists := s.customers[rec.CustomerID]; exists && rec.CustomerID != "" {
		store.ReleaseCredit(&customer, rec.OriginalAmount)
		s.customers[customer.ID] = customer
		result.Customer = &customer
	}
	if rec.SaleID != nil {
		if sale, exists := s.sales[*rec.SaleID]; exists {
			store.AddSurcharge(sale, settlement.PaidAmount.Sub(rec.OriginalAmount))
			out := cloneSale(*sale)
			result.Sale = &out
		}
	}
	s.financials[rec.ID] = rec
	result.Record = cloneFinancial(rec)
	return result, nil
}

func (s *Store) DeleteDebt(_ context.Context, id string) (*domain.DebtRemoval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.financials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !rec.IsReceivable() {
		return nil, fmt.Errorf("%w: record %s is not an open receivable", store.ErrInvalidTransaction, id)
	}
	removal := &domain.DebtRemoval{Record: cloneFinancial(rec)}
	if customer, exists := s.customers[rec.CustomerID]; exists && rec.CustomerID != "" {
		store.ReleaseCredit(&customer, rec.OriginalAmount)
		s.customers[customer.ID] = customer
		removal.Customer = &customer
	}
	delete(s.financials, id)
	return removal, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := store.NormalizeUsername(user.Username)
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("%w: username %s taken", store.ErrInvalidTransaction, username)
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.UUID()
	}
	if user.Role == "" {
		user.Role = domain.RoleEmployee
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[store.NormalizeUsername(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = store.NormalizeUsername(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = store.NormalizeUsername(username)
	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	if user.Role == domain.RoleAdmin {
		admins := 0
		for _, u := range s.users {
			if u.Role == domain.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			return fmt.Errorf("%w: cannot delete the last admin", store.ErrInvalidTransaction)
		}
	}
	delete(s.users, username)
	return nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetSetting(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

func (s *Store) ExportSnapshot(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Products:   make([]domain.Product, 0, len(s.products)),
		Customers:  make([]domain.Customer, 0, len(s.customers)),
		Movements:  make([]domain.StockMovement, 0, len(s.movements)),
		Financials: make([]domain.FinancialRecord, 0, len(s.financials)),
		Sales:      make([]domain.Sale, 0, len(s.sales)),
		Users:      make([]domain.User, 0, len(s.users)),
		Settings:   make([]domain.Setting, 0, len(s.settings)),
		ExportDate: time.Now().UTC(),
		Version:    domain.SnapshotVersion,
	}
	for _, p := range s.products {
		snap.Products = append(snap.Products, p)
	}
	for _, c := range s.customers {
		snap.Customers = append(snap.Customers, c)
	}
	for _, m := range s.movements {
		snap.Movements = append(snap.Movements, cloneMovement(m))
	}
	for _, rec := range s.financials {
		snap.Financials = append(snap.Financials, cloneFinancial(rec))
	}
	for _, sale := range s.sales {
		snap.Sales = append(snap.Sales, cloneSale(*sale))
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, u)
	}
	for k, v := range s.settings {
		snap.Settings = append(snap.Settings, domain.Setting{Key: k, Value: v})
	}
	slices.SortFunc(snap.Products, func(a, b domain.Product) int { return int(a.ID - b.ID) })
	slices.SortFunc(snap.Customers, func(a, b domain.Customer) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(snap.Financials, func(a, b domain.FinancialRecord) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(snap.Sales, func(a, b domain.Sale) int { return int(a.Sequence - b.Sequence) })
	slices.SortFunc(snap.Users, func(a, b domain.User) int { return strings.Compare(a.Username, b.Username) })
	slices.SortFunc(snap.Settings, func(a, b domain.Setting) int { return strings.Compare(a.Key, b.Key) })
	return snap, nil
}

func (s *Store) ImportSnapshot(_ context.Context, snap domain.Snapshot) error {
	next := New()
	for _, p := range snap.Products {
		if p.ID < 1 || p.Stock < 0 {
			return fmt.Errorf("%w: product %d", store.ErrInvalidTransaction, p.ID)
		}
		if _, dup := next.products[p.ID]; dup {
			return fmt.Errorf("%w: duplicate product %d", store.ErrInvalidTransaction, p.ID)
		}
		next.products[p.ID] = p
		next.nextProductID = max(next.nextProductID, p.ID+1)
	}
	for _, c := range snap.Customers {
		if c.ID == "" {
			return fmt.Errorf("%w: customer without id", store.ErrInvalidTransaction)
		}
		next.customers[c.ID] = c
	}
	for _, m := range snap.Movements {
		next.movements = append(next.movements, cloneMovement(m))
	}
	for _, rec := range snap.Financials {
		if rec.ID == "" {
			return fmt.Errorf("%w: financial record without id", store.ErrInvalidTransaction)
		}
		next.financials[rec.ID] = cloneFinancial(rec)
	}
	for _, sale := range snap.Sales {
		if sale.ID == 0 {
			return fmt.Errorf("%w: sale without id", store.ErrInvalidTransaction)
		}
		copied := cloneSale(sale)
		next.sales[sale.ID] = &copied
	}
	for _, u := range snap.Users {
		u.Username = store.NormalizeUsername(u.Username)
		if u.Username == "" {
			return fmt.Errorf("%w: user without username", store.ErrInvalidTransaction)
		}
		next.users[u.Username] = u
	}
	for _, setting := range snap.Settings {
		next.settings[setting.Key] = setting.Value
	}
	if _, ok := next.customers[domain.UnidentifiedCustomerID]; !ok {
		next.customers[domain.UnidentifiedCustomerID] = store.UnidentifiedCustomer()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = next.products
	s.nextProductID = next.nextProductID
	s.customers = next.customers
	s.movements = next.movements
	s.sales = next.sales
	s.financials = next.financials
	s.users = next.users
	s.settings = next.settings
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func cloneMovement(src domain.StockMovement) domain.StockMovement {
	dst := src
	if src.SaleID != nil {
		id := *src.SaleID
		dst.SaleID = &id
	}
	return dst
}

func cloneFinancial(src domain.FinancialRecord) domain.FinancialRecord {
	dst := src
	if src.SaleID != nil {
		id := *src.SaleID
		dst.SaleID = &id
	}
	if src.PaymentDate != nil {
		day := *src.PaymentDate
		dst.PaymentDate = &day
	}
	return dst
}
