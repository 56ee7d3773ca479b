package sqlite

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

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCatalog(t *testing.T, s *Store) (domain.Product, domain.Customer) {
	t.Helper()
	ctx := context.Background()
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:      "Calça Jeans",
		Category:  "Calças",
		Price:     decimal.NewFromInt(80),
		CostPrice: decimal.NewNullDecimal(decimal.NewFromInt(45)),
		Stock:     4,
		Barcode:   "789002",
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "Joana", CreditLimit: decimal.NewFromInt(300)})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return *product, *customer
}

func installmentSettlement(product domain.Product, customer domain.Customer, saleID int64, qty int, parts []decimal.Decimal) domain.Settlement {
	item := domain.SnapshotItem(product, qty)
	total := decimal.Zero
	records := make([]domain.FinancialRecord, 0, len(parts))
	for i, amount := range parts {
		total = total.Add(amount)
		records = append(records, domain.FinancialRecord{
			OriginalAmount:   amount,
			Type:             domain.FinancialIncome,
			Category:         domain.CategorySales,
			DueDate:          testDay.AddDays(30).AddMonths(i),
			Status:           domain.FinancialPending,
			CustomerID:       customer.ID,
			Installment:      i + 1,
			InstallmentCount: len(parts),
		})
	}
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
			Installments:  len(parts),
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
		Financials:  records,
		CreditDelta: total,
	}
}

func TestOpenSeedsWalkInCustomer(t *testing.T) {
	s := openTestStore(t)
	c, err := s.GetCustomer(context.Background(), domain.UnidentifiedCustomerID)
	if err != nil {
		t.Fatalf("get walk-in customer: %v", err)
	}
	if c.Name != domain.UnidentifiedCustomerName {
		t.Fatalf("unexpected walk-in customer %+v", c)
	}
}

func TestProductRoundTripKeepsDecimals(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	product, _ := seedCatalog(t, s)

	got, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Price.Equal(decimal.NewFromInt(80)) || !got.CostPrice.Valid || !got.CostPrice.Decimal.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("unexpected product %+v", got)
	}

	got.Stock = 50
	got.Name = "Calça Jeans Skinny"
	updated, err := s.UpdateProduct(ctx, *got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Stock != 4 || updated.Name != "Calça Jeans Skinny" {
		t.Fatalf("expected stock kept and name changed, got %+v", updated)
	}

	found, err := s.FindProductByCode(ctx, "789002")
	if err != nil || found.ID != product.ID {
		t.Fatalf("barcode lookup: %v %v", found, err)
	}
	if _, err := s.FindProductByCode(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleAndCancelInstallmentSale(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	product, customer := seedCatalog(t, s)

	parts := []decimal.Decimal{decimal.RequireFromString("53.33"), decimal.RequireFromString("53.33"), decimal.RequireFromString("53.34")}
	sale, err := s.SettleSale(ctx, installmentSettlement(product, customer, 9001, 2, parts))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if sale.Sequence != 1 || sale.Total.String() != "160" {
		t.Fatalf("unexpected sale %+v", sale)
	}

	stored, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].Name != "Calça Jeans" || !stored.Date.Equal(testDay) {
		t.Fatalf("unexpected stored sale %+v", stored)
	}

	recs, err := s.ListFinancials(ctx, store.FinancialFilter{SaleID: &sale.ID})
	if err != nil {
		t.Fatalf("list financials: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(recs))
	}
	sum := decimal.Zero
	for _, rec := range recs {
		sum = sum.Add(rec.OriginalAmount)
	}
	if !sum.Equal(sale.Total) {
		t.Fatalf("installments sum %s, sale total %s", sum, sale.Total)
	}
	if recs[2].Description != "Venda #1 - Joana (Parc 3/3)" {
		t.Fatalf("unexpected description %q", recs[2].Description)
	}

	p, _ := s.GetProduct(ctx, product.ID)
	if p.Stock != 2 {
		t.Fatalf("expected stock 2, got %d", p.Stock)
	}
	c, _ := s.GetCustomer(ctx, customer.ID)
	if !c.UsedCredit.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("expected used credit 160, got %s", c.UsedCredit)
	}

	if _, err := s.CancelSale(ctx, sale.ID, domain.CancelOptions{Operator: "admin", Date: testDay, At: time.Now()}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	p, _ = s.GetProduct(ctx, product.ID)
	if p.Stock != 4 {
		t.Fatalf("expected stock restored to 4, got %d", p.Stock)
	}
	c, _ = s.GetCustomer(ctx, customer.ID)
	if !c.UsedCredit.IsZero() {
		t.Fatalf("expected used credit 0, got %s", c.UsedCredit)
	}
	if recs, _ := s.ListFinancials(ctx, store.FinancialFilter{SaleID: &sale.ID}); len(recs) != 0 {
		t.Fatalf("expected installments removed, got %d", len(recs))
	}
	movements, _ := s.ListMovements(ctx, store.MovementFilter{ProductID: product.ID})
	if len(movements) != 2 || movements[0].Reason != "Estorno Venda #1 (admin)" {
		t.Fatalf("unexpected movements %+v", movements)
	}
	if _, err := s.CancelSale(ctx, sale.ID, domain.CancelOptions{Operator: "admin", Date: testDay}); !errors.Is(err, store.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestSettleSaleRollsBackOnStaleStock(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	product, customer := seedCatalog(t, s)

	_, err := s.SettleSale(ctx, installmentSettlement(product, customer, 9002, 5, []decimal.Decimal{decimal.NewFromInt(100)}))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	sales, _ := s.ListSales(ctx, store.SaleFilter{})
	recs, _ := s.ListFinancials(ctx, store.FinancialFilter{})
	if len(sales) != 0 || len(recs) != 0 {
		t.Fatalf("expected no writes, got %d sales %d records", len(sales), len(recs))
	}
}

func TestSettleDebtAndDeleteDebt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	product, customer := seedCatalog(t, s)

	parts := []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(60)}
	sale, err := s.SettleSale(ctx, installmentSettlement(product, customer, 9003, 2, parts))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	recs, _ := s.ListFinancials(ctx, store.FinancialFilter{SaleID: &sale.ID})

	result, err := s.SettleDebt(ctx, domain.DebtSettlement{
		RecordID:      recs[0].ID,
		PaidAmount:    decimal.RequireFromString("102.33"),
		PaymentMethod: domain.PaymentMoney,
		PaymentDate:   testDay.AddDays(40),
	})
	if err != nil {
		t.Fatalf("settle debt: %v", err)
	}
	stored, _ := s.GetFinancial(ctx, recs[0].ID)
	if stored.Status != domain.FinancialPaid || stored.PaymentDate == nil || !stored.PaymentDate.Equal(testDay.AddDays(40)) {
		t.Fatalf("unexpected paid record %+v", stored)
	}
	if !stored.OriginalAmount.Equal(decimal.NewFromInt(100)) || stored.PaidAmount.Decimal.String() != "102.33" {
		t.Fatalf("expected original kept and paid recorded, got %+v", stored)
	}
	if result.Sale == nil || result.Sale.InterestAndFines.String() != "2.33" {
		t.Fatalf("expected surcharge on sale, got %+v", result.Sale)
	}
	c, _ := s.GetCustomer(ctx, customer.ID)
	if !c.UsedCredit.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected used credit 60, got %s", c.UsedCredit)
	}

	if _, err := s.DeleteDebt(ctx, recs[0].ID); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected paid record refused, got %v", err)
	}
	if _, err := s.DeleteDebt(ctx, recs[1].ID); err != nil {
		t.Fatalf("delete debt: %v", err)
	}
	c, _ = s.GetCustomer(ctx, customer.ID)
	if !c.UsedCredit.IsZero() {
		t.Fatalf("expected used credit 0, got %s", c.UsedCredit)
	}
}

func TestToggleManualRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec, err := s.CreateFinancial(ctx, domain.FinancialRecord{
		Description:    "Aluguel",
		OriginalAmount: decimal.NewFromInt(1200),
		Type:           domain.FinancialExpense,
		Category:       "Aluguel",
		DueDate:        testDay,
		Status:         domain.FinancialPending,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	paid, err := s.SetFinancialStatus(ctx, rec.ID, domain.FinancialPaid, testDay)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !paid.Amount().Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("unexpected paid amount %s", paid.Amount())
	}
	back, err := s.SetFinancialStatus(ctx, rec.ID, domain.FinancialPending, domain.Date{})
	if err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	stored, _ := s.GetFinancial(ctx, back.ID)
	if stored.PaidAmount.Valid || stored.PaymentDate != nil {
		t.Fatalf("expected payment fields cleared, got %+v", stored)
	}
}

func TestUsersAndSettings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.CreateUser(ctx, domain.User{Username: " Admin ", Password: "hash", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := s.CreateUser(ctx, domain.User{Username: "admin", Password: "hash"}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected duplicate username refused, got %v", err)
	}
	u, err := s.GetUserByUsername(ctx, "ADMIN")
	if err != nil || !u.Active {
		t.Fatalf("lookup: %+v %v", u, err)
	}
	if err := s.DeleteUser(ctx, "admin"); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected last admin protected, got %v", err)
	}

	if _, err := s.GetSetting(ctx, domain.SettingDisplay); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected missing setting, got %v", err)
	}
	_ = s.SetSetting(ctx, domain.SettingDisplay, "1.1")
	_ = s.SetSetting(ctx, domain.SettingDisplay, "1.2")
	if v, _ := s.GetSetting(ctx, domain.SettingDisplay); v != "1.2" {
		t.Fatalf("expected 1.2, got %q", v)
	}
}

func TestSnapshotReplacesData(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	product, customer := seedCatalog(t, s)
	if _, err := s.SettleSale(ctx, installmentSettlement(product, customer, 9004, 1, []decimal.Decimal{decimal.NewFromInt(80)})); err != nil {
		t.Fatalf("settle: %v", err)
	}
	snap, err := s.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	other := openTestStore(t)
	if err := other.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	sales, _ := other.ListSales(ctx, store.SaleFilter{})
	if len(sales) != 1 || sales[0].Items[0].ProductID != product.ID {
		t.Fatalf("unexpected imported sales %+v", sales)
	}
	c, err := other.GetCustomer(ctx, customer.ID)
	if err != nil || !c.UsedCredit.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("unexpected imported customer %+v %v", c, err)
	}

	bad := snap
	bad.Products = append(bad.Products, bad.Products[0])
	if err := other.ImportSnapshot(ctx, bad); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected duplicate product rejected, got %v", err)
	}
	if sales, _ := other.ListSales(ctx, store.SaleFilter{}); len(sales) != 1 {
		t.Fatalf("expected rollback to keep data, got %d sales", len(sales))
	}
}
