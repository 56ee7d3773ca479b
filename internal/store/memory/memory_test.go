package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
)

var testDay = domain.NewDate(2026, time.April, 10)

func newStoreWithCatalog(t *testing.T) (*Store, domain.Product, domain.Customer) {
	t.Helper()
	ctx := context.Background()
	s := New()
	product, err := s.CreateProduct(ctx, domain.Product{Name: "Blusa", Category: "Blusas", Price: decimal.NewFromInt(50), Stock: 5, Barcode: "789001"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "Maria", CreditLimit: decimal.NewFromInt(400)})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return s, *product, *customer
}

func creditSettlement(product domain.Product, customer domain.Customer, saleID int64, qty int, total decimal.Decimal) domain.Settlement {
	item := domain.SnapshotItem(product, qty)
	return domain.Settlement{
		Sale: domain.Sale{
			ID:            saleID,
			Date:          testDay,
			Timestamp:     testDay.Time(time.UTC),
			CustomerID:    customer.ID,
			CustomerName:  customer.Name,
			Items:         domain.SaleItems{item},
			Subtotal:      item.LineTotal(),
			Total:         total,
			PaymentMethod: domain.PaymentStoreCredit,
			Installments:  1,
			Status:        domain.SaleCompleted,
			Operator:      "ana",
		},
		Movements: []domain.StockMovement{{
			ProductID:   product.ID,
			ProductName: product.Name,
			Type:        domain.MovementExit,
			Quantity:    qty,
			Date:        testDay,
			Operator:    "ana",
		}},
		Financials: []domain.FinancialRecord{{
			OriginalAmount:   total,
			Type:             domain.FinancialIncome,
			Category:         domain.CategorySales,
			DueDate:          testDay.AddDays(30),
			Status:           domain.FinancialPending,
			CustomerID:       customer.ID,
			Installment:      1,
			InstallmentCount: 1,
		}},
		CreditDelta: total,
	}
}

func TestSettleAndCancelConserveStockAndCredit(t *testing.T) {
	ctx := context.Background()
	s, product, customer := newStoreWithCatalog(t)

	sale, err := s.SettleSale(ctx, creditSettlement(product, customer, 1001, 2, decimal.NewFromInt(100)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if sale.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", sale.Sequence)
	}

	after, _ := s.GetProduct(ctx, product.ID)
	if after.Stock != 3 {
		t.Fatalf("expected stock 3 after sale, got %d", after.Stock)
	}
	c, _ := s.GetCustomer(ctx, customer.ID)
	if !c.UsedCredit.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected used credit 100, got %s", c.UsedCredit)
	}
	recs, _ := s.ListFinancials(ctx, store.FinancialFilter{SaleID: &sale.ID})
	if len(recs) != 1 || recs[0].Description != "Venda #1 - Maria (Parc 1/1)" {
		t.Fatalf("unexpected records %+v", recs)
	}

	cancelled, err := s.CancelSale(ctx, sale.ID, domain.CancelOptions{Operator: "admin", Date: testDay, At: time.Now()})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.SaleCancelled || !cancelled.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected cancelled sale %+v", cancelled)
	}

	after, _ = s.GetProduct(ctx, product.ID)
	if after.Stock != product.Stock {
		t.Fatalf("expected stock restored to %d, got %d", product.Stock, after.Stock)
	}
	c, _ = s.GetCustomer(ctx, customer.ID)
	if !c.UsedCredit.IsZero() {
		t.Fatalf("expected used credit back to 0, got %s", c.UsedCredit)
	}
	recs, _ = s.ListFinancials(ctx, store.FinancialFilter{SaleID: &sale.ID})
	if len(recs) != 0 {
		t.Fatalf("expected linked records removed, got %d", len(recs))
	}

	movements, _ := s.ListMovements(ctx, store.MovementFilter{ProductID: product.ID})
	net := 0
	for _, m := range movements {
		net += m.Delta()
	}
	if len(movements) != 2 || net != 0 {
		t.Fatalf("expected two movements netting zero, got %d netting %d", len(movements), net)
	}
	if movements[0].Reason != "Estorno Venda #1 (admin)" {
		t.Fatalf("unexpected reversal reason %q", movements[0].Reason)
	}

	if _, err := s.CancelSale(ctx, sale.ID, domain.CancelOptions{Operator: "admin", Date: testDay}); !errors.Is(err, store.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestSettleSaleRejectsStaleStockWithoutWrites(t *testing.T) {
	ctx := context.Background()
	s, product, customer := newStoreWithCatalog(t)

	if _, err := s.SettleSale(ctx, creditSettlement(product, customer, 2001, 6, decimal.NewFromInt(300))); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	assertUntouched(t, s, product, customer)
}

func TestSettleSaleRejectsCreditOverLimitWithoutWrites(t *testing.T) {
	ctx := context.Background()
	s, product, customer := newStoreWithCatalog(t)

	if _, err := s.SettleSale(ctx, creditSettlement(product, customer, 3001, 1, decimal.NewFromInt(401))); !errors.Is(err, store.ErrCreditLimitExceeded) {
		t.Fatalf("expected ErrCreditLimitExceeded, got %v", err)
	}
	assertUntouched(t, s, product, customer)
}

func assertUntouched(t *testing.T, s *Store, product domain.Product, customer domain.Customer) {
	t.Helper()
	ctx := context.Background()
	p, _ := s.GetProduct(ctx, product.ID)
	if p.Stock != product.Stock {
		t.Fatalf("expected stock %d, got %d", product.Stock, p.Stock)
	}
	c, _ := s.GetCustomer(ctx, customer.ID)
	if !c.UsedCredit.Equal(customer.UsedCredit) {
		t.Fatalf("expected used credit %s, got %s", customer.UsedCredit, c.UsedCredit)
	}
	sales, _ := s.ListSales(ctx, store.SaleFilter{})
	recs, _ := s.ListFinancials(ctx, store.FinancialFilter{})
	movements, _ := s.ListMovements(ctx, store.MovementFilter{})
	if len(sales) != 0 || len(recs) != 0 || len(movements) != 0 {
		t.Fatalf("expected zero writes, got %d sales %d records %d movements", len(sales), len(recs), len(movements))
	}
}

func TestSettleDebtKeepsOriginalAmount(t *testing.T) {
	ctx := context.Background()
	s, product, customer := newStoreWithCatalog(t)

	sale, err := s.SettleSale(ctx, creditSettlement(product, customer, 4001, 2, decimal.NewFromInt(100)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	recs, _ := s.ListFinancials(ctx, store.FinancialFilter{SaleID: &sale.ID})

	paidOn := testDay.AddDays(40)
	result, err := s.SettleDebt(ctx, domain.DebtSettlement{
		RecordID:      recs[0].ID,
		PaidAmount:    decimal.RequireFromString("102.33"),
		PaymentMethod: domain.PaymentPix,
		PaymentDate:   paidOn,
	})
	if err != nil {
		t.Fatalf("settle debt: %v", err)
	}
	if !result.Record.OriginalAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected original amount kept, got %s", result.Record.OriginalAmount)
	}
	if result.Record.Amount().String() != "102.33" || result.Record.Status != domain.FinancialPaid {
		t.Fatalf("unexpected paid record %+v", result.Record)
	}
	if result.Record.Description != "Venda #1 - Maria (Parc 1/1) (Pago em 2026-05-20)" {
		t.Fatalf("unexpected description %q", result.Record.Description)
	}
	if result.Customer == nil || !result.Customer.UsedCredit.IsZero() {
		t.Fatalf("expected used credit released, got %+v", result.Customer)
	}
	if result.Sale == nil || result.Sale.Total.String() != "102.33" || result.Sale.InterestAndFines.String() != "2.33" {
		t.Fatalf("expected surcharge folded into sale, got %+v", result.Sale)
	}

	if _, err := s.SettleDebt(ctx, domain.DebtSettlement{RecordID: recs[0].ID, PaidAmount: decimal.NewFromInt(1), PaymentDate: paidOn}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction on second payment, got %v", err)
	}
}

func TestDeleteDebtReleasesCredit(t *testing.T) {
	ctx := context.Background()
	s, product, customer := newStoreWithCatalog(t)

	sale, err := s.SettleSale(ctx, creditSettlement(product, customer, 5001, 1, decimal.NewFromInt(50)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	recs, _ := s.ListFinancials(ctx, store.FinancialFilter{SaleID: &sale.ID})

	removal, err := s.DeleteDebt(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("delete debt: %v", err)
	}
	if removal.Customer == nil || !removal.Customer.UsedCredit.IsZero() {
		t.Fatalf("expected credit released, got %+v", removal.Customer)
	}
	if _, err := s.GetFinancial(ctx, recs[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
}

func TestDeleteCustomerGuards(t *testing.T) {
	ctx := context.Background()
	s, product, customer := newStoreWithCatalog(t)

	if err := s.DeleteCustomer(ctx, domain.UnidentifiedCustomerID); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected walk-in customer protected, got %v", err)
	}
	if _, err := s.SettleSale(ctx, creditSettlement(product, customer, 6001, 1, decimal.NewFromInt(50))); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := s.DeleteCustomer(ctx, customer.ID); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected pending installments to block delete, got %v", err)
	}
}

func TestRecordMovementRejectsNegativeStock(t *testing.T) {
	ctx := context.Background()
	s, product, _ := newStoreWithCatalog(t)

	if _, err := s.RecordMovement(ctx, domain.StockMovement{ProductID: product.ID, Type: domain.MovementExit, Quantity: 9, Date: testDay}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	m, err := s.RecordMovement(ctx, domain.StockMovement{ProductID: product.ID, Type: domain.MovementEntry, Quantity: 4, Date: testDay, Reason: "Reposição"})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if m.ID == "" || m.ProductName != "Blusa" {
		t.Fatalf("unexpected movement %+v", m)
	}
	p, _ := s.GetProduct(ctx, product.ID)
	if p.Stock != 9 {
		t.Fatalf("expected stock 9, got %d", p.Stock)
	}
}

func TestUpdateProductKeepsStock(t *testing.T) {
	ctx := context.Background()
	s, product, _ := newStoreWithCatalog(t)

	product.Stock = 99
	product.Price = decimal.NewFromInt(60)
	updated, err := s.UpdateProduct(ctx, product)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Stock != 5 || !updated.Price.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("unexpected product %+v", updated)
	}
	found, err := s.FindProductByCode(ctx, "789001")
	if err != nil || found.ID != product.ID {
		t.Fatalf("expected barcode lookup to find product, got %v %v", found, err)
	}
}

func TestDeleteLastAdminRefused(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	if err := s.DeleteUser(ctx, "admin"); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected last admin protected, got %v", err)
	}
	if err := s.DeleteUser(ctx, "vendas"); err != nil {
		t.Fatalf("delete employee: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, product, customer := newStoreWithCatalog(t)
	if _, err := s.SettleSale(ctx, creditSettlement(product, customer, 7001, 1, decimal.NewFromInt(50))); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := s.SetSetting(ctx, domain.SettingDisplay, "1.25"); err != nil {
		t.Fatalf("setting: %v", err)
	}

	snap, err := s.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Version != domain.SnapshotVersion {
		t.Fatalf("expected version %s, got %s", domain.SnapshotVersion, snap.Version)
	}

	restored := New()
	if err := restored.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	again, _ := restored.ExportSnapshot(ctx)
	if len(again.Products) != 1 || len(again.Sales) != 1 || len(again.Financials) != 1 || len(again.Movements) != 1 || len(again.Customers) != 2 {
		t.Fatalf("unexpected restored snapshot %+v", again)
	}
	next, err := restored.CreateProduct(ctx, domain.Product{Name: "Saia", Price: decimal.NewFromInt(10)})
	if err != nil || next.ID != product.ID+1 {
		t.Fatalf("expected next product id %d, got %v %v", product.ID+1, next, err)
	}
	if v, _ := restored.GetSetting(ctx, domain.SettingDisplay); v != "1.25" {
		t.Fatalf("expected setting restored, got %q", v)
	}

	bad := snap
	bad.Products = append(bad.Products, domain.Product{ID: product.ID, Name: "dup"})
	if err := restored.ImportSnapshot(ctx, bad); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected duplicate product rejected, got %v", err)
	}
	if sales, _ := restored.ListSales(ctx, store.SaleFilter{}); len(sales) != 1 {
		t.Fatalf("expected failed import to leave data intact, got %d sales", len(sales))
	}
}
