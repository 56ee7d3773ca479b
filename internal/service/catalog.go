package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/xid"
)

const (
	initialStockReason = "Estoque inicial"
	stockAdjustReason  = "Ajuste manual de estoque"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// SearchProducts matches the term against name, barcode and internal code.
func (s *Service) SearchProducts(ctx context.Context, term string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return products, nil
	}
	matched := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), term) ||
			strings.Contains(strings.ToLower(p.Barcode), term) ||
			strings.Contains(strings.ToLower(p.InternalCode), term) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (s *Service) FindProductByCode(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, domain.Invalid("code", "required")
	}
	product, err := s.repo.FindProductByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func normalizeProduct(req domain.ProductRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, domain.Invalid("name", "required")
	}
	if req.Price.IsNegative() {
		return domain.Product{}, domain.InvalidAmount("price", "must not be negative")
	}
	if req.CostPrice.Valid && req.CostPrice.Decimal.IsNegative() {
		return domain.Product{}, domain.InvalidAmount("cost_price", "must not be negative")
	}
	if req.Stock < 0 {
		return domain.Product{}, domain.Invalid("stock", "must not be negative")
	}
	product := domain.Product{
		Name:         req.Name,
		Category:     strings.TrimSpace(req.Category),
		Price:        domain.Round2(req.Price),
		CostPrice:    req.CostPrice,
		Stock:        req.Stock,
		Barcode:      strings.TrimSpace(req.Barcode),
		InternalCode: strings.TrimSpace(req.InternalCode),
		Description:  strings.TrimSpace(req.Description),
	}
	if product.CostPrice.Valid {
		product.CostPrice.Decimal = domain.Round2(product.CostPrice.Decimal)
	}
	return product, nil
}

// CreateProduct registers the product with no stock and books the requested
// stock as an entry, so every unit on the shelf has a movement behind it. The
// product is removed again when the entry cannot be recorded.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := normalizeProduct(req)
	if err != nil {
		return domain.Product{}, err
	}
	initial := product.Stock
	product.Stock = 0

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	if initial > 0 {
		if _, err := s.repo.RecordMovement(ctx, domain.StockMovement{
			ID:          xid.New("mov"),
			ProductID:   created.ID,
			ProductName: created.Name,
			Type:        domain.MovementEntry,
			Quantity:    initial,
			Date:        s.today(),
			Reason:      initialStockReason,
			Operator:    actor.Username,
		}); err != nil {
			// No product may exist without the entry that stocked it.
			if delErr := s.repo.DeleteProduct(ctx, created.ID); delErr != nil {
				s.logger.Error("orphan product left after failed initial entry",
					zap.Int64("product_id", created.ID), zap.Error(delErr))
			}
			return domain.Product{}, err
		}
		created.Stock = initial
	}

	s.audit(ctx, "product.created",
		zap.Int64("product_id", created.ID),
		zap.String("name", created.Name),
		money("price", created.Price),
		zap.Int("stock", created.Stock),
	)
	return *created, nil
}

// UpdateProduct saves catalog fields. A changed stock figure is booked as a
// manual adjustment movement for the difference.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductRequest) (domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := normalizeProduct(req)
	if err != nil {
		return domain.Product{}, err
	}
	current, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	product.ID = id

	saved, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	if diff := product.Stock - current.Stock; diff != 0 {
		movement := domain.StockMovement{
			ID:          xid.New("mov"),
			ProductID:   id,
			ProductName: saved.Name,
			Type:        domain.MovementEntry,
			Quantity:    diff,
			Date:        s.today(),
			Reason:      stockAdjustReason,
			Operator:    actor.Username,
		}
		if diff < 0 {
			movement.Type = domain.MovementExit
			movement.Quantity = -diff
		}
		if _, err := s.repo.RecordMovement(ctx, movement); err != nil {
			return domain.Product{}, err
		}
		saved.Stock = product.Stock
	}

	s.audit(ctx, "product.updated",
		zap.Int64("product_id", id),
		money("price", saved.Price),
		zap.Int("stock", saved.Stock),
	)
	return *saved, nil
}

// DeleteProduct only touches the catalog; sales keep their item snapshots.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, "product.deleted", zap.Int64("product_id", id))
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func normalizeCustomer(req domain.CustomerRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, domain.Invalid("name", "required")
	}
	if req.CreditLimit.IsNegative() {
		return domain.Customer{}, domain.InvalidAmount("credit_limit", "must not be negative")
	}
	return domain.Customer{
		Name:        req.Name,
		Phone:       strings.TrimSpace(req.Phone),
		Email:       strings.TrimSpace(req.Email),
		Address:     strings.TrimSpace(req.Address),
		CPF:         strings.TrimSpace(req.CPF),
		CreditLimit: domain.Round2(req.CreditLimit),
	}, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}
	customer, err := normalizeCustomer(req)
	if err != nil {
		return domain.Customer{}, err
	}
	customer.ID = xid.UUID()
	customer.CreatedAt = s.now().UTC()

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.audit(ctx, "customer.created", zap.String("customer_id", created.ID), money("credit_limit", created.CreditLimit))
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}
	if id == domain.UnidentifiedCustomerID {
		return domain.Customer{}, fmt.Errorf("%w: the walk-in customer cannot be edited", domain.ErrInvalidTransaction)
	}
	customer, err := normalizeCustomer(req)
	if err != nil {
		return domain.Customer{}, err
	}
	customer.ID = id

	saved, err := s.repo.UpdateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.invalidateReceivables(ctx)
	s.audit(ctx, "customer.updated", zap.String("customer_id", id), money("credit_limit", saved.CreditLimit))
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, "customer.deleted", zap.String("customer_id", id))
	return nil
}

func (s *Service) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.StockMovement, error) {
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (domain.StockMovement, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockMovement{}, err
	}
	if req.Type != domain.MovementEntry && req.Type != domain.MovementExit {
		return domain.StockMovement{}, domain.Invalid("type", fmt.Sprintf("unknown movement type %q", req.Type))
	}
	if req.Quantity < 1 {
		return domain.StockMovement{}, domain.Invalid("quantity", "must be at least 1")
	}
	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.StockMovement{}, err
	}

	recorded, err := s.repo.RecordMovement(ctx, domain.StockMovement{
		ID:          xid.New("mov"),
		ProductID:   product.ID,
		ProductName: product.Name,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Date:        s.today(),
		Reason:      strings.TrimSpace(req.Reason),
		Operator:    actor.Username,
	})
	if err != nil {
		return domain.StockMovement{}, err
	}
	s.audit(ctx, "stock.moved",
		zap.Int64("product_id", recorded.ProductID),
		zap.String("type", string(recorded.Type)),
		zap.Int("quantity", recorded.Quantity),
		zap.String("reason", recorded.Reason),
	)
	return *recorded, nil
}

// RecordDamage writes damaged goods off the shelf.
func (s *Service) RecordDamage(ctx context.Context, productID int64, quantity int, reason string) (domain.StockMovement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.StockMovement{}, domain.Invalid("reason", "required")
	}
	return s.RecordMovement(ctx, domain.MovementRequest{
		ProductID: productID,
		Type:      domain.MovementExit,
		Quantity:  quantity,
		Reason:    domain.DamageReasonMark + reason,
	})
}
