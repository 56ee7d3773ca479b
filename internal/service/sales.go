package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paivamoda/backend/internal/billing"
	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
)

// checkout is a priced cart that has not been written anywhere yet.
type checkout struct {
	items    []domain.CartItem
	customer domain.Customer
	payment  domain.Payment
	totals   billing.CartTotals
	credit   *billing.StoreCreditQuote
	schedule []billing.Installment
	final    decimal.Decimal
	change   decimal.Decimal
	sale     domain.Sale
}

// prepareCheckout prices a request. Malformed input comes back as err; a
// well-formed cart the store would currently refuse comes back as blocking so
// a quote can still show its numbers.
func (s *Service) prepareCheckout(ctx context.Context, req domain.CheckoutRequest) (c checkout, blocking error, err error) {
	lines, err := mergeItems(req.Items)
	if err != nil {
		return checkout{}, nil, err
	}

	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return checkout{}, nil, err
	}
	c.items = make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return checkout{}, nil, fmt.Errorf("%w: product %d", domain.ErrNotFound, line.ProductID)
		}
		if line.Quantity > product.Stock && blocking == nil {
			blocking = fmt.Errorf("%w: %s has %d, cart needs %d", domain.ErrInsufficientStock, product.Name, product.Stock, line.Quantity)
		}
		c.items = append(c.items, domain.SnapshotItem(product, line.Quantity))
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		customerID = domain.UnidentifiedCustomerID
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return checkout{}, nil, fmt.Errorf("customer %s: %w", customerID, err)
	}
	c.customer = *customer

	discount, err := domain.ParseAmount("discount", req.Discount)
	if err != nil {
		return checkout{}, nil, err
	}
	c.payment, err = domain.ParsePayment(req.Payment)
	if err != nil {
		return checkout{}, nil, err
	}
	c.totals, err = billing.ComputeCartTotals(c.items, discount)
	if err != nil {
		return checkout{}, nil, err
	}

	at := s.now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		at = *req.Timestamp
	}
	saleDay := domain.DateOf(at, s.loc)

	c.final = c.totals.BaseTotal
	switch p := c.payment.(type) {
	case domain.StoreCredit:
		quote, err := billing.ComputeStoreCredit(c.totals.BaseTotal, p.Installments, p.ExtendedGrace)
		if err != nil {
			return checkout{}, nil, err
		}
		first, err := billing.ResolveDueDate(saleDay, p.DueDate, p.ExtendedGrace)
		if err != nil {
			return checkout{}, nil, err
		}
		c.credit = &quote
		c.schedule = billing.InstallmentSchedule(quote, first)
		c.final = quote.FinalTotal
		if err := billing.CheckStoreCreditEligibility(c.customer, c.final); err != nil && blocking == nil {
			blocking = err
		}
	case domain.Money:
		change, err := billing.Change(p.CashReceived, c.final)
		if err != nil && blocking == nil {
			blocking = err
		}
		c.change = change
	}

	c.sale = domain.Sale{
		Date:          saleDay,
		Timestamp:     at.UTC(),
		CustomerID:    c.customer.ID,
		CustomerName:  c.customer.Name,
		Items:         domain.SaleItems(c.items),
		Subtotal:      c.totals.Subtotal,
		Discount:      c.totals.Discount,
		GraceFee:      decimal.Zero,
		Interest:      decimal.Zero,
		Total:         c.final,
		PaymentMethod: c.payment.Method(),
		Installments:  c.payment.InstallmentCount(),
		CashReceived:  decimal.Zero,
		Change:        c.change,
		Observation:   strings.TrimSpace(req.Observation),
		CPF:           strings.TrimSpace(req.CPF),
		Status:        domain.SaleCompleted,
	}
	if c.credit != nil {
		c.sale.GraceFee = c.credit.GraceFee
		c.sale.Interest = c.credit.Interest
	}
	if cash, ok := c.payment.(domain.Money); ok {
		c.sale.CashReceived = cash.CashReceived
	}
	return c, blocking, nil
}

func mergeItems(items []domain.CheckoutItem) ([]domain.CheckoutItem, error) {
	if len(items) == 0 {
		return nil, domain.Invalid("items", "cart is empty")
	}
	merged := make([]domain.CheckoutItem, 0, len(items))
	index := make(map[int64]int, len(items))
	for i, item := range items {
		if item.Quantity < 1 {
			return nil, domain.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if pos, ok := index[item.ProductID]; ok {
			merged[pos].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func (s *Service) QuoteSale(ctx context.Context, req domain.CheckoutRequest) (domain.SaleQuote, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.SaleQuote{}, err
	}
	c, blocking, err := s.prepareCheckout(ctx, req)
	if err != nil {
		return domain.SaleQuote{}, err
	}

	quote := domain.SaleQuote{
		Subtotal:        c.totals.Subtotal,
		Discount:        c.totals.Discount,
		DiscountPercent: billing.DiscountPercentage(c.totals.Subtotal, c.totals.Discount),
		BaseTotal:       c.totals.BaseTotal,
		GraceFee:        c.sale.GraceFee,
		Interest:        c.sale.Interest,
		FinalTotal:      c.final,
		PerInstallment:  c.final,
		Change:          c.change,
		AvailableCredit: c.customer.AvailableCredit(),
	}
	if c.credit != nil {
		quote.PerInstallment = c.credit.PerInstallment
		for _, inst := range c.schedule {
			quote.Schedule = append(quote.Schedule, domain.InstallmentLine{Number: inst.Number, DueDate: inst.DueDate, Amount: inst.Amount})
		}
	}
	if blocking != nil {
		quote.Blocking = blocking.Error()
	}
	return quote, nil
}

// FinalizeSale settles a cart: stock leaves, money or receivables come in, and
// store credit is reserved, all in one store call.
func (s *Service) FinalizeSale(ctx context.Context, req domain.CheckoutRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	c, blocking, err := s.prepareCheckout(ctx, req)
	if err != nil {
		return domain.Sale{}, err
	}
	if blocking != nil {
		return domain.Sale{}, blocking
	}

	sale := c.sale
	sale.ID = s.saleIDs.Next()
	sale.Operator = actor.Username
	settlement := domain.Settlement{
		Sale:        sale,
		Movements:   make([]domain.StockMovement, 0, len(c.items)),
		CreditDelta: decimal.Zero,
	}
	for _, item := range c.items {
		settlement.Movements = append(settlement.Movements, domain.StockMovement{
			ProductID:   item.ProductID,
			ProductName: item.Name,
			Type:        domain.MovementExit,
			Quantity:    item.Quantity,
			Date:        sale.Date,
			Operator:    actor.Username,
		})
	}

	if c.credit != nil {
		for _, inst := range c.schedule {
			settlement.Financials = append(settlement.Financials, domain.FinancialRecord{
				OriginalAmount:   inst.Amount,
				Type:             domain.FinancialIncome,
				Category:         domain.CategorySales,
				DueDate:          inst.DueDate,
				Status:           domain.FinancialPending,
				CustomerID:       c.customer.ID,
				Installment:      inst.Number,
				InstallmentCount: len(c.schedule),
			})
		}
		settlement.CreditDelta = c.final
	} else {
		paidOn := sale.Date
		settlement.Financials = []domain.FinancialRecord{{
			OriginalAmount: c.final,
			PaidAmount:     decimal.NewNullDecimal(c.final),
			Type:           domain.FinancialIncome,
			Category:       domain.CategorySales,
			DueDate:        sale.Date,
			PaymentDate:    &paidOn,
			PaymentMethod:  sale.PaymentMethod,
			Status:         domain.FinancialPaid,
			CustomerID:     c.customer.ID,
		}}
	}

	settled, err := s.repo.SettleSale(ctx, settlement)
	if err != nil {
		return domain.Sale{}, err
	}
	if c.credit != nil {
		s.invalidateReceivables(ctx)
	}

	s.audit(ctx, "sale.finalized",
		zap.Int64("sale_id", settled.ID),
		zap.Int64("sequence", settled.Sequence),
		zap.String("customer_id", settled.CustomerID),
		zap.String("method", string(settled.PaymentMethod)),
		zap.Int("installments", settled.Installments),
		money("total", settled.Total),
	)
	return *settled, nil
}

func (s *Service) CancelSale(ctx context.Context, saleID int64) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if !actor.CanCancel() {
		return domain.Sale{}, fmt.Errorf("%w: role %s cannot cancel sales", domain.ErrForbidden, actor.Role)
	}

	now := s.now()
	cancelled, err := s.repo.CancelSale(ctx, saleID, domain.CancelOptions{
		Operator: actor.Username,
		Date:     domain.DateOf(now, s.loc),
		At:       now.UTC(),
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.invalidateReceivables(ctx)

	s.audit(ctx, "sale.cancelled",
		zap.Int64("sale_id", cancelled.ID),
		zap.Int64("sequence", cancelled.Sequence),
		zap.String("method", string(cancelled.PaymentMethod)),
		money("total", cancelled.Total),
	)
	return *cancelled, nil
}

// ReopenSale cancels the sale and hands its cart back for editing. The edited
// cart settles as a new sale with a new sequence.
func (s *Service) ReopenSale(ctx context.Context, saleID int64) (domain.CartSeed, error) {
	cancelled, err := s.CancelSale(ctx, saleID)
	if err != nil {
		return domain.CartSeed{}, err
	}

	seed := domain.CartSeed{
		SourceSaleID: cancelled.ID,
		Items:        append([]domain.CartItem(nil), cancelled.Items...),
		CustomerID:   cancelled.CustomerID,
		Observation:  cancelled.Observation,
		CPF:          cancelled.CPF,
	}
	if cancelled.Discount.IsPositive() {
		seed.Discount = cancelled.Discount.StringFixed(2)
	}
	s.audit(ctx, "sale.reopened", zap.Int64("sale_id", cancelled.ID), zap.Int("items", len(seed.Items)))
	return seed, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, filter)
}

// SalesSummary totals completed sales for the day, month and year of asOf.
func (s *Service) SalesSummary(ctx context.Context, asOf domain.Date) (domain.SalesSummary, error) {
	if asOf.IsZero() {
		asOf = s.today()
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{
		From:   domain.NewDate(asOf.Year(), 1, 1),
		To:     asOf,
		Status: domain.SaleCompleted,
	})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{AsOf: asOf, Today: decimal.Zero, Month: decimal.Zero, Year: decimal.Zero}
	for _, sale := range sales {
		if sale.Status == domain.SaleCancelled || sale.Date.Year() != asOf.Year() {
			continue
		}
		summary.Year = summary.Year.Add(sale.Total)
		if sale.Date.Month() == asOf.Month() {
			summary.Month = summary.Month.Add(sale.Total)
		}
		if sale.Date.Equal(asOf) {
			summary.Today = summary.Today.Add(sale.Total)
			summary.TodayCount++
		}
	}
	return summary, nil
}
