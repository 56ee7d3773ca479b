package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	productColumns   = `id, name, category, price, cost_price, stock, barcode, internal_code, description, updated_at`
	customerColumns  = `id, name, phone, email, address, cpf, credit_limit, used_credit, created_at`
	movementColumns  = `id, product_id, product_name, type, quantity, movement_date, reason, sale_id, operator, created_at`
	saleColumns      = `id, sequence, sale_date, sold_at, customer_id, customer_name, items, subtotal, discount, grace_fee, interest, total, payment_method, installments, cash_received, change_due, observation, cpf, status, interest_and_fines, operator`
	financialColumns = `id, description, original_amount, paid_amount, type, category, due_date, payment_date, payment_method, status, sale_id, customer_id, installment, installment_count, created_at`
	userColumns      = `id, username, name, password, role, active, created_at`
)

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.CostPrice, &p.Stock, &p.Barcode, &p.InternalCode, &p.Description, &p.UpdatedAt)
	return p, err
}

func scanCustomer(row scanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.CPF, &c.CreditLimit, &c.UsedCredit, &c.CreatedAt)
	return c, err
}

func scanMovement(row scanner) (domain.StockMovement, error) {
	var m domain.StockMovement
	err := row.Scan(&m.ID, &m.ProductID, &m.ProductName, &m.Type, &m.Quantity, &m.Date, &m.Reason, &m.SaleID, &m.Operator, &m.CreatedAt)
	return m, err
}

func scanSale(row scanner) (domain.Sale, error) {
	var s domain.Sale
	err := row.Scan(&s.ID, &s.Sequence, &s.Date, &s.Timestamp, &s.CustomerID, &s.CustomerName, &s.Items,
		&s.Subtotal, &s.Discount, &s.GraceFee, &s.Interest, &s.Total, &s.PaymentMethod, &s.Installments,
		&s.CashReceived, &s.Change, &s.Observation, &s.CPF, &s.Status, &s.InterestAndFines, &s.Operator)
	return s, err
}

func scanFinancial(row scanner) (domain.FinancialRecord, error) {
	var r domain.FinancialRecord
	err := row.Scan(&r.ID, &r.Description, &r.OriginalAmount, &r.PaidAmount, &r.Type, &r.Category, &r.DueDate,
		&r.PaymentDate, &r.PaymentMethod, &r.Status, &r.SaleID, &r.CustomerID, &r.Installment, &r.InstallmentCount, &r.CreatedAt)
	return r, err
}

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	return u, err
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0, 32)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProduct)
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return productsByIDs(ctx, s.db, ids, false)
}

func productsByIDs(ctx context.Context, q querier, ids []int64, lock bool) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	products, err := collect(rows, scanProduct)
	if err != nil {
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
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE barcode = $1 OR internal_code = $1
		ORDER BY id
		LIMIT 1
	`, code))
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	var row *sql.Row
	if product.ID == 0 {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO products (name, category, price, cost_price, stock, barcode, internal_code, description, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
			RETURNING `+productColumns,
			product.Name, product.Category, product.Price, product.CostPrice, product.Stock,
			product.Barcode, product.InternalCode, product.Description)
	} else {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
			RETURNING `+productColumns,
			product.ID, product.Name, product.Category, product.Price, product.CostPrice, product.Stock,
			product.Barcode, product.InternalCode, product.Description)
	}
	created, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %d exists", store.ErrInvalidTransaction, product.ID)
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, cost_price = $5, barcode = $6,
			internal_code = $7, description = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Category, product.Price, product.CostPrice,
		product.Barcode, product.InternalCode, product.Description))
	if err != nil {
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		ORDER BY (id = $1) DESC, name
	`, domain.UnidentifiedCustomerID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCustomer)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, id, false)
}

func getCustomer(ctx context.Context, q querier, id string, lock bool) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	customer, err := scanCustomer(q.QueryRowContext(ctx, query, id))
	if err != nil {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.CPF,
		customer.CreditLimit, customer.UsedCredit, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer %s exists", store.ErrInvalidTransaction, customer.ID)
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5, cpf = $6, credit_limit = $7
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.CPF, customer.CreditLimit))
	if err != nil {
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	if id == domain.UnidentifiedCustomerID {
		return fmt.Errorf("%w: the walk-in customer cannot be deleted", store.ErrInvalidTransaction)
	}
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var pending int
	if err := pgTx.QueryRowContext(ctx, `
		SELECT count(*) FROM financial_records WHERE customer_id = $1 AND status = $2
	`, id, domain.FinancialPending).Scan(&pending); err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%w: customer has pending installments", store.ErrInvalidTransaction)
	}
	res, err := pgTx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.StockMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	args := []any{}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(` WHERE product_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMovement)
}

func (s *Store) RecordMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	product, err := scanProduct(pgTx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, movement.ProductID))
	if err != nil {
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
	if err := applyMovement(ctx, pgTx, movement); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &movement, nil
}

func applyMovement(ctx context.Context, q querier, m domain.StockMovement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE products SET stock = stock + $1, updated_at = now() WHERE id = $2
	`, m.Delta(), m.ProductID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.ID, m.ProductID, m.ProductName, m.Type, m.Quantity, m.Date, m.Reason, m.SaleID, m.Operator, m.CreatedAt)
	return err
}

func (s *Store) SettleSale(ctx context.Context, settlement domain.Settlement) (*domain.Sale, error) {
	if settlement.Sale.ID == 0 || len(settlement.Sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	need := settlement.RequiredStock()
	ids := make([]int64, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	products, err := productsByIDs(ctx, pgTx, ids, true)
	if err != nil {
		return nil, err
	}
	customer, err := getCustomer(ctx, pgTx, settlement.Sale.CustomerID, true)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := store.CheckSettlement(settlement, products, customer); err != nil {
		return nil, err
	}
	store.PrepareSettlement(&settlement, time.Now().UTC())

	var sequence int64
	if err := pgTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM sales`).Scan(&sequence); err != nil {
		return nil, err
	}
	settlement.Stamp(sequence)

	sale := settlement.Sale
	if err := insertSale(ctx, pgTx, sale); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sale %d exists", store.ErrInvalidTransaction, sale.ID)
		}
		return nil, err
	}
	for _, m := range settlement.Movements {
		if err := applyMovement(ctx, pgTx, m); err != nil {
			return nil, err
		}
	}
	for _, rec := range settlement.Financials {
		if err := insertFinancial(ctx, pgTx, rec); err != nil {
			return nil, err
		}
	}
	if settlement.CreditDelta.IsPositive() {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE customers SET used_credit = used_credit + $1 WHERE id = $2
		`, settlement.CreditDelta, customer.ID); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func insertSale(ctx context.Context, q querier, sale domain.Sale) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, sale.ID, sale.Sequence, sale.Date, sale.Timestamp, sale.CustomerID, sale.CustomerName, sale.Items,
		sale.Subtotal, sale.Discount, sale.GraceFee, sale.Interest, sale.Total, sale.PaymentMethod, sale.Installments,
		sale.CashReceived, sale.Change, sale.Observation, sale.CPF, sale.Status, sale.InterestAndFines, sale.Operator)
	return err
}

func insertFinancial(ctx context.Context, q querier, r domain.FinancialRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO financial_records (`+financialColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, r.ID, r.Description, r.OriginalAmount, r.PaidAmount, r.Type, r.Category, r.DueDate, r.PaymentDate,
		r.PaymentMethod, r.Status, r.SaleID, r.CustomerID, r.Installment, r.InstallmentCount, r.CreatedAt)
	return err
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return getSale(ctx, s.db, id, false)
}

func getSale(ctx context.Context, q querier, id int64, lock bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf(`sale_date >= $%d`, len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf(`sale_date <= $%d`, len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf(`status = $%d`, len(args)))
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY sold_at DESC, sequence DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSale)
}

func (s *Store) CancelSale(ctx context.Context, id int64, opts domain.CancelOptions) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	sale, err := getSale(ctx, pgTx, id, true)
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
	products, err := productsByIDs(ctx, pgTx, ids, true)
	if err != nil {
		return nil, err
	}
	for _, item := range sale.Items {
		if _, exists := products[item.ProductID]; !exists {
			continue
		}
		movement := store.ReversalMovement(*sale, item, opts)
		movement.ID = xid.New("mov")
		if err := applyMovement(ctx, pgTx, movement); err != nil {
			return nil, err
		}
	}

	rows, err := pgTx.QueryContext(ctx, `SELECT `+financialColumns+` FROM financial_records WHERE sale_id = $1 FOR UPDATE`, sale.ID)
	if err != nil {
		return nil, err
	}
	linked, err := collect(rows, scanFinancial)
	if err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM financial_records WHERE sale_id = $1`, sale.ID); err != nil {
		return nil, err
	}
	if sale.PaymentMethod == domain.PaymentStoreCredit {
		customer, err := getCustomer(ctx, pgTx, sale.CustomerID, true)
		switch {
		case err == nil:
			store.ReleaseCredit(customer, store.OutstandingPrincipal(linked))
			if err := saveUsedCredit(ctx, pgTx, *customer); err != nil {
				return nil, err
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	sale.Status = domain.SaleCancelled
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE sales SET status = $2 WHERE id = $1 AND status = $3
	`, sale.ID, domain.SaleCancelled, domain.SaleCompleted); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func saveUsedCredit(ctx context.Context, q querier, customer domain.Customer) error {
	_, err := q.ExecContext(ctx, `UPDATE customers SET used_credit = $2 WHERE id = $1`, customer.ID, customer.UsedCredit)
	return err
}

func (s *Store) ListFinancials(ctx context.Context, filter store.FinancialFilter) ([]domain.FinancialRecord, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf(`type = $%d`, len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf(`customer_id = $%d`, len(args)))
	}
	if filter.SaleID != nil {
		args = append(args, *filter.SaleID)
		where = append(where, fmt.Sprintf(`sale_id = $%d`, len(args)))
	}
	query := `SELECT ` + financialColumns + ` FROM financial_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY due_date NULLS FIRST, installment, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanFinancial)
}

func (s *Store) GetFinancial(ctx context.Context, id string) (*domain.FinancialRecord, error) {
	return getFinancial(ctx, s.db, id, false)
}

func getFinancial(ctx context.Context, q querier, id string, lock bool) (*domain.FinancialRecord, error) {
	query := `SELECT ` + financialColumns + ` FROM financial_records WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	rec, err := scanFinancial(q.QueryRowContext(ctx, query, id))
	if err != nil {
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

func updatePayment(ctx context.Context, q querier, r domain.FinancialRecord) error {
	_, err := q.ExecContext(ctx, `
		UPDATE financial_records
		SET description = $2, paid_amount = $3, payment_date = $4, payment_method = $5, status = $6
		WHERE id = $1
	`, r.ID, r.Description, r.PaidAmount, r.PaymentDate, r.PaymentMethod, r.Status)
	return err
}

func (s *Store) SetFinancialStatus(ctx context.Context, id string, status domain.FinancialStatus, paidOn domain.Date) (*domain.FinancialRecord, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rec, err := getFinancial(ctx, pgTx, id, true)
	if err != nil {
		return nil, err
	}
	if err := store.ToggleRecord(rec, status, paidOn); err != nil {
		return nil, err
	}
	if err := updatePayment(ctx, pgTx, *rec); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) SettleDebt(ctx context.Context, settlement domain.DebtSettlement) (*domain.DebtSettlementResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rec, err := getFinancial(ctx, pgTx, settlement.RecordID, true)
	if err != nil {
		return nil, err
	}
	if err := store.PayRecord(rec, settlement); err != nil {
		return nil, err
	}
	if err := updatePayment(ctx, pgTx, *rec); err != nil {
		return nil, err
	}

	result := &domain.DebtSettlementResult{Record: *rec}
	if rec.CustomerID != "" {
		customer, err := getCustomer(ctx, pgTx, rec.CustomerID, true)
		switch {
		case err == nil:
			store.ReleaseCredit(customer, rec.OriginalAmount)
			if err := saveUsedCredit(ctx, pgTx, *customer); err != nil {
				return nil, err
			}
			result.Customer = customer
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	if rec.SaleID != nil {
		sale, err := getSale(ctx, pgTx, *rec.SaleID, true)
		switch {
		case err == nil:
			store.AddSurcharge(sale, settlement.PaidAmount.Sub(rec.OriginalAmount))
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE sales SET total = $2, interest_and_fines = $3 WHERE id = $1
			`, sale.ID, sale.Total, sale.InterestAndFines); err != nil {
				return nil, err
			}
			result.Sale = sale
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteDebt(ctx context.Context, id string) (*domain.DebtRemoval, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rec, err := getFinancial(ctx, pgTx, id, true)
	if err != nil {
		return nil, err
	}
	if !rec.IsReceivable() {
		return nil, fmt.Errorf("%w: record %s is not an open receivable", store.ErrInvalidTransaction, id)
	}

	removal := &domain.DebtRemoval{Record: *rec}
	if rec.CustomerID != "" {
		customer, err := getCustomer(ctx, pgTx, rec.CustomerID, true)
		switch {
		case err == nil:
			store.ReleaseCredit(customer, rec.OriginalAmount)
			if err := saveUsedCredit(ctx, pgTx, *customer); err != nil {
				return nil, err
			}
			removal.Customer = customer
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM financial_records WHERE id = $1`, id); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, name, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,now())
	`, user.ID, user.Username, user.Name, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s taken", store.ErrInvalidTransaction, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM app_users WHERE username = $1
	`, store.NormalizeUsername(username)))
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = store.NormalizeUsername(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	username = store.NormalizeUsername(username)
	var role string
	if err := pgTx.QueryRowContext(ctx, `SELECT role FROM app_users WHERE username = $1 FOR UPDATE`, username).Scan(&role); err != nil {
		return notFound(err)
	}
	if role == domain.RoleAdmin {
		var admins int
		if err := pgTx.QueryRowContext(ctx, `SELECT count(*) FROM app_users WHERE role = $1`, domain.RoleAdmin).Scan(&admins); err != nil {
			return err
		}
		if admins <= 1 {
			return fmt.Errorf("%w: cannot delete the last admin", store.ErrInvalidTransaction)
		}
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM app_users WHERE username = $1`, username); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value); err != nil {
		return "", notFound(err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

func (s *Store) ExportSnapshot(ctx context.Context) (domain.Snapshot, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() { _ = pgTx.Rollback() }()

	snap := domain.Snapshot{ExportDate: time.Now().UTC(), Version: domain.SnapshotVersion}
	if snap.Products, err = queryAll(ctx, pgTx, `SELECT `+productColumns+` FROM products ORDER BY id`, scanProduct); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Customers, err = queryAll(ctx, pgTx, `SELECT `+customerColumns+` FROM customers ORDER BY id`, scanCustomer); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Movements, err = queryAll(ctx, pgTx, `SELECT `+movementColumns+` FROM stock_movements ORDER BY created_at, id`, scanMovement); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Sales, err = queryAll(ctx, pgTx, `SELECT `+saleColumns+` FROM sales ORDER BY sequence`, scanSale); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Financials, err = queryAll(ctx, pgTx, `SELECT `+financialColumns+` FROM financial_records ORDER BY id`, scanFinancial); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Users, err = queryAll(ctx, pgTx, `SELECT `+userColumns+` FROM app_users ORDER BY username`, scanUser); err != nil {
		return domain.Snapshot{}, err
	}
	snap.Settings, err = queryAll(ctx, pgTx, `SELECT key, value FROM settings ORDER BY key`, func(row scanner) (domain.Setting, error) {
		var setting domain.Setting
		err := row.Scan(&setting.Key, &setting.Value)
		return setting, err
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func queryAll[T any](ctx context.Context, q querier, query string, scan func(scanner) (T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return collect(rows, scan)
}

func (s *Store) ImportSnapshot(ctx context.Context, snap domain.Snapshot) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `
		TRUNCATE financial_records, sales, stock_movements, products, customers, app_users, settings
	`); err != nil {
		return err
	}

	importErr := func(kind string, err error) error {
		return fmt.Errorf("%w: import %s: %v", store.ErrInvalidTransaction, kind, err)
	}
	for _, p := range snap.Products {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, p.ID, p.Name, p.Category, p.Price, p.CostPrice, p.Stock, p.Barcode, p.InternalCode, p.Description, p.UpdatedAt); err != nil {
			return importErr("product", err)
		}
	}
	if _, err := pgTx.ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('products', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM products
	`); err != nil {
		return err
	}
	for _, c := range snap.Customers {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO customers (`+customerColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, c.ID, c.Name, c.Phone, c.Email, c.Address, c.CPF, c.CreditLimit, c.UsedCredit, c.CreatedAt); err != nil {
			return importErr("customer", err)
		}
	}
	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO customers (id, name) VALUES ($1,$2) ON CONFLICT (id) DO NOTHING
	`, domain.UnidentifiedCustomerID, domain.UnidentifiedCustomerName); err != nil {
		return err
	}
	for _, m := range snap.Movements {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO stock_movements (`+movementColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, m.ID, m.ProductID, m.ProductName, m.Type, m.Quantity, m.Date, m.Reason, m.SaleID, m.Operator, m.CreatedAt); err != nil {
			return importErr("movement", err)
		}
	}
	for _, sale := range snap.Sales {
		if err := insertSale(ctx, pgTx, sale); err != nil {
			return importErr("sale", err)
		}
	}
	for _, rec := range snap.Financials {
		if err := insertFinancial(ctx, pgTx, rec); err != nil {
			return importErr("financial record", err)
		}
	}
	for _, u := range snap.Users {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO app_users (`+userColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, u.ID, store.NormalizeUsername(u.Username), u.Name, u.Password, u.Role, u.Active, u.CreatedAt); err != nil {
			return importErr("user", err)
		}
	}
	for _, setting := range snap.Settings {
		if _, err := pgTx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ($1,$2)`, setting.Key, setting.Value); err != nil {
			return importErr("setting", err)
		}
	}

	return pgTx.Commit()
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
