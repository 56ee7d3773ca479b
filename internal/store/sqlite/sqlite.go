package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/xid"
)

type Store struct {
	db *sqlx.DB
}

var _ store.Repository = (*Store)(nil)

// Open connects to the database file at dsn (":memory:" works for tests) and
// makes sure the schema exists. SQLite allows a single writer, so the pool is
// pinned to one connection and every transaction is serialized.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func ensureSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS products(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL,
  cost_price TEXT,
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  barcode TEXT NOT NULL DEFAULT '',
  internal_code TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_barcode ON products(barcode);
CREATE INDEX IF NOT EXISTS idx_products_internal_code ON products(internal_code);

CREATE TABLE IF NOT EXISTS customers(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  phone TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  address TEXT NOT NULL DEFAULT '',
  cpf TEXT NOT NULL DEFAULT '',
  credit_limit TEXT NOT NULL DEFAULT '0',
  used_credit TEXT NOT NULL DEFAULT '0',
  created_at DATETIME NOT NULL
);

-- product_id carries no foreign key: deleting a product must not touch history.
CREATE TABLE IF NOT EXISTS stock_movements(
  id TEXT PRIMARY KEY,
  product_id INTEGER NOT NULL,
  product_name TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL CHECK (type IN ('ENTRY','EXIT')),
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  movement_date TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  sale_id INTEGER,
  operator TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_movements_product ON stock_movements(product_id);

CREATE TABLE IF NOT EXISTS sales(
  id INTEGER PRIMARY KEY,
  sequence INTEGER NOT NULL UNIQUE,
  sale_date TEXT NOT NULL,
  sold_at DATETIME NOT NULL,
  customer_id TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  items TEXT NOT NULL,
  subtotal TEXT NOT NULL,
  discount TEXT NOT NULL,
  grace_fee TEXT NOT NULL,
  interest TEXT NOT NULL,
  total TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  installments INTEGER NOT NULL DEFAULT 1,
  cash_received TEXT NOT NULL,
  change_due TEXT NOT NULL,
  observation TEXT NOT NULL DEFAULT '',
  cpf TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('COMPLETED','CANCELLED')),
  interest_and_fines TEXT NOT NULL DEFAULT '0',
  operator TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(sale_date);

CREATE TABLE IF NOT EXISTS financial_records(
  id TEXT PRIMARY KEY,
  description TEXT NOT NULL,
  original_amount TEXT NOT NULL,
  paid_amount TEXT,
  type TEXT NOT NULL CHECK (type IN ('INCOME','EXPENSE')),
  category TEXT NOT NULL DEFAULT '',
  due_date TEXT,
  payment_date TEXT,
  payment_method TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('PAID','PENDING')),
  sale_id INTEGER,
  customer_id TEXT NOT NULL DEFAULT '',
  installment INTEGER NOT NULL DEFAULT 0,
  installment_count INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_financial_sale ON financial_records(sale_id);
CREATE INDEX IF NOT EXISTS idx_financial_customer ON financial_records(customer_id, status);

CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  password TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('admin','employee')),
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings(
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO customers(id, name, credit_limit, used_credit, created_at)
		VALUES(?, ?, '0', '0', ?)
		ON CONFLICT(id) DO NOTHING
	`, domain.UnidentifiedCustomerID, domain.UnidentifiedCustomerName, time.Now().UTC())
	return err
}

const (
	productColumns   = `id, name, category, price, cost_price, stock, barcode, internal_code, description, updated_at`
	customerColumns  = `id, name, phone, email, address, cpf, credit_limit, used_credit, created_at`
	movementColumns  = `id, product_id, product_name, type, quantity, movement_date, reason, sale_id, operator, created_at`
	saleColumns      = `id, sequence, sale_date, sold_at, customer_id, customer_name, items, subtotal, discount, grace_fee, interest, total, payment_method, installments, cash_received, change_due, observation, cpf, status, interest_and_fines, operator`
	financialColumns = `id, description, original_amount, paid_amount, type, category, due_date, payment_date, payment_method, status, sale_id, customer_id, installment, installment_count, created_at`
	userColumns      = `id, username, name, password, role, active, created_at`
)

func namedValues(columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = ":" + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 32)
	err := s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	return products, err
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	if err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return productsByIDs(ctx, s.db, ids)
}

func productsByIDs(ctx context.Context, q sqlx.QueryerContext, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(ids))
	if err := sqlx.SelectContext(ctx, q, &products, query, args...); err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (s *Store) FindProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrNotFound
	}
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `
		SELECT `+productColumns+` FROM products
		WHERE barcode = ? OR internal_code = ?
		ORDER BY id LIMIT 1
	`, code, code)
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	var (
		res sql.Result
		err error
	)
	if product.ID == 0 {
		res, err = s.db.NamedExecContext(ctx, `
			INSERT INTO products(name, category, price, cost_price, stock, barcode, internal_code, description, updated_at)
			VALUES(:name, :category, :price, :cost_price, :stock, :barcode, :internal_code, :description, :updated_at)
		`, product)
	} else {
		res, err = s.db.NamedExecContext(ctx, `INSERT INTO products(`+productColumns+`) VALUES(`+namedValues(productColumns)+`)`, product)
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: product %d exists", store.ErrInvalidTransaction, product.ID)
	}
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		if product.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE products SET
			name = :name, category = :category, price = :price, cost_price = :cost_price,
			barcode = :barcode, internal_code = :internal_code, description = :description,
			updated_at = :updated_at
		WHERE id = :id
	`, product)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers := make([]domain.Customer, 0, 32)
	err := s.db.SelectContext(ctx, &customers, `
		SELECT `+customerColumns+` FROM customers
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END, name
	`, domain.UnidentifiedCustomerID)
	return customers, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := sqlx.GetContext(ctx, q, &customer, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.UUID()
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO customers(`+customerColumns+`) VALUES(`+namedValues(customerColumns)+`)`, customer)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: customer %s exists", store.ErrInvalidTransaction, customer.ID)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE customers SET
			name = :name, phone = :phone, email = :email, address = :address,
			cpf = :cpf, credit_limit = :credit_limit
		WHERE id = :id
	`, customer)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCustomer(ctx, customer.ID)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	if id == domain.UnidentifiedCustomerID {
		return fmt.Errorf("%w: the walk-in customer cannot be deleted", store.ErrInvalidTransaction)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var pending int
	if err := tx.GetContext(ctx, &pending, `
		SELECT COUNT(*) FROM financial_records WHERE customer_id = ? AND status = ?
	`, id, domain.FinancialPending); err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%w: customer has pending installments", store.ErrInvalidTransaction)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.StockMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	args := []any{}
	if filter.ProductID != 0 {
		query += ` WHERE product_id = ?`
		args = append(args, filter.ProductID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	movements := make([]domain.StockMovement, 0, 32)
	err := s.db.SelectContext(ctx, &movements, query, args...)
	return movements, err
}

func (s *Store) RecordMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var product domain.Product
	if err := tx.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = ?`, movement.ProductID); err != nil {
		return nil, notFound(err)
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
	if err := applyMovement(ctx, tx, movement); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &movement, nil
}

func applyMovement(ctx context.Context, tx *sqlx.Tx, movement domain.StockMovement) error {
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now()
	}
	movement.CreatedAt = movement.CreatedAt.UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?
	`, movement.Delta(), movement.CreatedAt, movement.ProductID); err != nil {
		return err
	}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO stock_movements(`+movementColumns+`) VALUES(`+namedValues(movementColumns)+`)`, movement)
	return err
}

func (s *Store) SettleSale(ctx context.Context, settlement domain.Settlement) (*domain.Sale, error) {
	if settlement.Sale.ID == 0 || len(settlement.Sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	need := settlement.RequiredStock()
	ids := make([]int64, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	products, err := productsByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	customer, err := getCustomer(ctx, tx, settlement.Sale.CustomerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := store.CheckSettlement(settlement, products, customer); err != nil {
		return nil, err
	}
	store.PrepareSettlement(&settlement, time.Now().UTC())

	var sequence int64
	if err := tx.GetContext(ctx, &sequence, `SELECT COALESCE(MAX(sequence), 0) FROM sales`); err != nil {
		return nil, err
	}
	settlement.Stamp(sequence + 1)

	sale := settlement.Sale
	sale.Timestamp = sale.Timestamp.UTC()
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO sales(`+saleColumns+`) VALUES(`+namedValues(saleColumns)+`)`, sale); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sale %d exists", store.ErrInvalidTransaction, sale.ID)
		}
		return nil, err
	}
	for _, m := range settlement.Movements {
		if err := applyMovement(ctx, tx, m); err != nil {
			return nil, err
		}
	}
	for _, rec := range settlement.Financials {
		if err := insertFinancial(ctx, tx, rec); err != nil {
			return nil, err
		}
	}
	if settlement.CreditDelta.IsPositive() {
		customer.UsedCredit = customer.UsedCredit.Add(settlement.CreditDelta)
		if err := saveUsedCredit(ctx, tx, *customer); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func insertFinancial(ctx context.Context, tx sqlx.ExtContext, rec domain.FinancialRecord) error {
	_, err := sqlx.NamedExecContext(ctx, tx, `INSERT INTO financial_records(`+financialColumns+`) VALUES(`+namedValues(financialColumns)+`)`, rec)
	return err
}

func saveUsedCredit(ctx context.Context, tx *sqlx.Tx, customer domain.Customer) error {
	_, err := tx.ExecContext(ctx, `UPDATE customers SET used_credit = ? WHERE id = ?`, customer.UsedCredit, customer.ID)
	return err
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return getSale(ctx, s.db, id)
}

func getSale(ctx context.Context, q sqlx.QueryerContext, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	if err := sqlx.GetContext(ctx, q, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	where := []string{}
	args := []any{}
	if !filter.From.IsZero() {
		where = append(where, `sale_date >= ?`)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, `sale_date <= ?`)
		args = append(args, filter.To)
	}
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, filter.Status)
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY sold_at DESC, sequence DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	sales := make([]domain.Sale, 0, 32)
	err := s.db.SelectContext(ctx, &sales, query, args...)
	return sales, err
}

func (s *Store) CancelSale(ctx context.Context, id int64, opts domain.CancelOptions) (*domain.Sale, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := getSale(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleCompleted {
		return nil, store.ErrAlreadyCancelled
	}

	ids := make([]int64, 0, len(sale.Items))
	for _, item := range sale.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := productsByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range sale.Items {
		if _, exists := products[item.ProductID]; !exists {
			continue
		}
		movement := store.ReversalMovement(*sale, item, opts)
		movement.ID = xid.New("mov")
		if err := applyMovement(ctx, tx, movement); err != nil {
			return nil, err
		}
	}
	linked := make([]domain.FinancialRecord, 0, sale.Installments)
	if err := tx.SelectContext(ctx, &linked, `SELECT `+financialColumns+` FROM financial_records WHERE sale_id = ?`, sale.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM financial_records WHERE sale_id = ?`, sale.ID); err != nil {
		return nil, err
	}
	if sale.PaymentMethod == domain.PaymentStoreCredit {
		customer, err := getCustomer(ctx, tx, sale.CustomerID)
		switch {
		case err == nil:
			store.ReleaseCredit(customer, store.OutstandingPrincipal(linked))
			if err := saveUsedCredit(ctx, tx, *customer); err != nil {
				return nil, err
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	sale.Status = domain.SaleCancelled
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET status = ? WHERE id = ?`, sale.Status, sale.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListFinancials(ctx context.Context, filter store.FinancialFilter) ([]domain.FinancialRecord, error) {
	where := []string{}
	args := []any{}
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		where = append(where, `type = ?`)
		args = append(args, filter.Type)
	}
	if filter.CustomerID != "" {
		where = append(where, `customer_id = ?`)
		args = append(args, filter.CustomerID)
	}
	if filter.SaleID != nil {
		where = append(where, `sale_id = ?`)
		args = append(args, *filter.SaleID)
	}
	query := `SELECT ` + financialColumns + ` FROM financial_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY due_date, installment, id`
	records := make([]domain.FinancialRecord, 0, 32)
	err := s.db.SelectContext(ctx, &records, query, args...)
	return records, err
}

func (s *Store) GetFinancial(ctx context.Context, id string) (*domain.FinancialRecord, error) {
	return getFinancial(ctx, s.db, id)
}

func getFinancial(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.FinancialRecord, error) {
	var rec domain.FinancialRecord
	if err := sqlx.GetContext(ctx, q, &rec, `SELECT `+financialColumns+` FROM financial_records WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *Store) CreateFinancial(ctx context.Context, record domain.FinancialRecord) (*domain.FinancialRecord, error) {
	if record.ID == "" {
		record.ID = xid.New("fin")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := insertFinancial(ctx, s.db, record); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: record %s exists", store.ErrInvalidTransaction, record.ID)
		}
		return nil, err
	}
	return &record, nil
}

func updateFinancial(ctx context.Context, tx *sqlx.Tx, rec domain.FinancialRecord) error {
	_, err := tx.NamedExecContext(ctx, `
		UPDATE financial_records SET
			description = :description, paid_amount = :paid_amount, payment_date = :payment_date,
			payment_method = :payment_method, status = :status
		WHERE id = :id
	`, rec)
	return err
}

func (s *Store) SetFinancialStatus(ctx context.Context, id string, status domain.FinancialStatus, paidOn domain.Date) (*domain.FinancialRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := getFinancial(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := store.ToggleRecord(rec, status, paidOn); err != nil {
		return nil, err
	}
	if err := updateFinancial(ctx, tx, *rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) SettleDebt(ctx context.Context, settlement domain.DebtSettlement) (*domain.DebtSettlementResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := getFinancial(ctx, tx, settlement.RecordID)
	if err != nil {
		return nil, err
	}
	if err := store.PayRecord(rec, settlement); err != nil {
		return nil, err
	}
	if err := updateFinancial(ctx, tx, *rec); err != nil {
		return nil, err
	}

	result := &domain.DebtSettlementResult{Record: *rec}
	if rec.CustomerID != "" {
		customer, err := getCustomer(ctx, tx, rec.CustomerID)
		switch {
		case err == nil:
			store.ReleaseCredit(customer, rec.OriginalAmount)
			if err := saveUsedCredit(ctx, tx, *customer); err != nil {
				return nil, err
			}
			result.Customer = customer
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	if rec.SaleID != nil {
		sale, err := getSale(ctx, tx, *rec.SaleID)
		switch {
		case err == nil:
			store.AddSurcharge(sale, settlement.PaidAmount.Sub(rec.OriginalAmount))
			if _, err := tx.ExecContext(ctx, `
				UPDATE sales SET total = ?, interest_and_fines = ? WHERE id = ?
			`, sale.Total, sale.InterestAndFines, sale.ID); err != nil {
				return nil, err
			}
			result.Sale = sale
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteDebt(ctx context.Context, id string) (*domain.DebtRemoval, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := getFinancial(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsReceivable() {
		return nil, fmt.Errorf("%w: record %s is not an open receivable", store.ErrInvalidTransaction, id)
	}
	removal := &domain.DebtRemoval{Record: *rec}
	if rec.CustomerID != "" {
		customer, err := getCustomer(ctx, tx, rec.CustomerID)
		switch {
		case err == nil:
			store.ReleaseCredit(customer, rec.OriginalAmount)
			if err := saveUsedCredit(ctx, tx, *customer); err != nil {
				return nil, err
			}
			removal.Customer = customer
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM financial_records WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removal, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	user.Username = store.NormalizeUsername(user.Username)
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
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
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES(`+namedValues(userColumns)+`)`, user)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %s taken", store.ErrInvalidTransaction, user.Username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0, 8)
	err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username`)
	return users, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	if err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username = ?`, store.NormalizeUsername(username)); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = store.NormalizeUsername(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	username = store.NormalizeUsername(username)
	var role string
	if err := tx.GetContext(ctx, &role, `SELECT role FROM users WHERE username = ?`, username); err != nil {
		return notFound(err)
	}
	if role == domain.RoleAdmin {
		var admins int
		if err := tx.GetContext(ctx, &admins, `SELECT COUNT(*) FROM users WHERE role = ?`, domain.RoleAdmin); err != nil {
			return err
		}
		if admins <= 1 {
			return fmt.Errorf("%w: cannot delete the last admin", store.ErrInvalidTransaction)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key); err != nil {
		return "", notFound(err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *Store) ExportSnapshot(ctx context.Context) (domain.Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	snap := domain.Snapshot{ExportDate: time.Now().UTC(), Version: domain.SnapshotVersion}
	queries := []struct {
		dest  any
		query string
	}{
		{&snap.Products, `SELECT ` + productColumns + ` FROM products ORDER BY id`},
		{&snap.Customers, `SELECT ` + customerColumns + ` FROM customers ORDER BY id`},
		{&snap.Movements, `SELECT ` + movementColumns + ` FROM stock_movements ORDER BY rowid`},
		{&snap.Financials, `SELECT ` + financialColumns + ` FROM financial_records ORDER BY id`},
		{&snap.Sales, `SELECT ` + saleColumns + ` FROM sales ORDER BY sequence`},
		{&snap.Users, `SELECT ` + userColumns + ` FROM users ORDER BY username`},
		{&snap.Settings, `SELECT key, value FROM settings ORDER BY key`},
	}
	for _, q := range queries {
		if err := tx.SelectContext(ctx, q.dest, q.query); err != nil {
			return domain.Snapshot{}, err
		}
	}
	return snap, nil
}

func (s *Store) ImportSnapshot(ctx context.Context, snap domain.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"products", "customers", "stock_movements", "sales", "financial_records", "users", "settings"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	inserts := []struct {
		query string
		rows  int
		at    func(i int) any
	}{
		{`INSERT INTO products(` + productColumns + `) VALUES(` + namedValues(productColumns) + `)`, len(snap.Products), func(i int) any { return snap.Products[i] }},
		{`INSERT INTO customers(` + customerColumns + `) VALUES(` + namedValues(customerColumns) + `)`, len(snap.Customers), func(i int) any { return snap.Customers[i] }},
		{`INSERT INTO stock_movements(` + movementColumns + `) VALUES(` + namedValues(movementColumns) + `)`, len(snap.Movements), func(i int) any { return snap.Movements[i] }},
		{`INSERT INTO sales(` + saleColumns + `) VALUES(` + namedValues(saleColumns) + `)`, len(snap.Sales), func(i int) any { return snap.Sales[i] }},
		{`INSERT INTO financial_records(` + financialColumns + `) VALUES(` + namedValues(financialColumns) + `)`, len(snap.Financials), func(i int) any { return snap.Financials[i] }},
		{`INSERT INTO users(` + userColumns + `) VALUES(` + namedValues(userColumns) + `)`, len(snap.Users), func(i int) any {
			u := snap.Users[i]
			u.Username = store.NormalizeUsername(u.Username)
			return u
		}},
		{`INSERT INTO settings(key, value) VALUES(:key, :value)`, len(snap.Settings), func(i int) any { return snap.Settings[i] }},
	}
	for _, ins := range inserts {
		for i := 0; i < ins.rows; i++ {
			if _, err := tx.NamedExecContext(ctx, ins.query, ins.at(i)); err != nil {
				return fmt.Errorf("%w: import: %v", store.ErrInvalidTransaction, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO customers(id, name, credit_limit, used_credit, created_at)
		VALUES(?, ?, '0', '0', ?)
		ON CONFLICT(id) DO NOTHING
	`, domain.UnidentifiedCustomerID, domain.UnidentifiedCustomerName, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
