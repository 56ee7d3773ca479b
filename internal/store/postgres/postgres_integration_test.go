package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("PAIVAMODA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PAIVAMODA_TEST_DATABASE_URL to run postgres integration test")
	}
	if err := Migrate(databaseURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestCancelSaleRestocksAndReleasesCredit(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	saleID := stamp
	customerID := fmt.Sprintf("cust-it-%d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:     fmt.Sprintf("Vestido IT %d", stamp),
		Category: "Vestidos",
		Price:    decimal.NewFromInt(120),
		Stock:    10,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: customerID, Name: "Cliente IT", CreditLimit: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM financial_records WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	today := domain.Today(time.UTC)
	item := domain.SnapshotItem(*product, 2)
	total := decimal.NewFromInt(240)
	sale, err := s.SettleSale(ctx, domain.Settlement{
		Sale: domain.Sale{
			ID:            saleID,
			Date:          today,
			Timestamp:     time.Now().UTC(),
			CustomerID:    customerID,
			CustomerName:  "Cliente IT",
			Items:         domain.SaleItems{item},
			Subtotal:      total,
			Total:         total,
			PaymentMethod: domain.PaymentStoreCredit,
			Installments:  1,
			Status:        domain.SaleCompleted,
		},
		Movements: []domain.StockMovement{{ProductID: product.ID, ProductName: product.Name, Type: domain.MovementExit, Quantity: 2, Date: today}},
		Financials: []domain.FinancialRecord{{
			OriginalAmount:   total,
			Type:             domain.FinancialIncome,
			Category:         domain.CategorySales,
			DueDate:          today.AddDays(30),
			Status:           domain.FinancialPending,
			CustomerID:       customerID,
			Installment:      1,
			InstallmentCount: 1,
		}},
		CreditDelta: total,
	})
	if err != nil {
		t.Fatalf("settle sale: %v", err)
	}

	var stock int
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, product.ID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", stock)
	}

	if _, err := s.CancelSale(ctx, sale.ID, domain.CancelOptions{Operator: "admin", Date: today, At: time.Now().UTC()}); err != nil {
		t.Fatalf("cancel sale: %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, product.ID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 10 {
		t.Fatalf("expected stock 10 after cancel, got %d", stock)
	}

	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.UsedCredit.IsZero() {
		t.Fatalf("expected used credit released, got %s", customer.UsedCredit)
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM sales WHERE id = $1`, saleID).Scan(&status); err != nil {
		t.Fatalf("query sale status: %v", err)
	}
	if status != string(domain.SaleCancelled) {
		t.Fatalf("expected sale status CANCELLED, got %s", status)
	}

	if _, err := s.CancelSale(ctx, sale.ID, domain.CancelOptions{Operator: "admin", Date: today}); !errors.Is(err, store.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}
