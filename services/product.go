package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-service/ledger"
	"settlement-service/models"
)

// ProductInput mirrors a catalog listing. SellerID is honoured for admins
// only; sellers always list as themselves.
type ProductInput struct {
	SellerID          string          `json:"seller_id" validate:"max=64"`
	Title             string          `json:"title" validate:"required,max=200"`
	Price             decimal.Decimal `json:"price"`
	QuantityAvailable int             `json:"quantity_available" validate:"min=0"`
}

// ProductService keeps the catalog view used for pricing and stock in sync.
type ProductService struct {
	base
}

func NewProductService(store ledger.Store, opts Options) *ProductService {
	return &ProductService{base: newBase(store, opts, "products")}
}

// Put creates or replaces product id. Sellers may only touch their own
// listings.
func (s *ProductService) Put(ctx context.Context, id string, caller models.Caller, in ProductInput) (*models.Product, error) {
	id = strings.TrimSpace(id)
	in.Title = strings.TrimSpace(in.Title)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if id == "" || len(id) > 64 {
		return nil, ErrValidation(FieldError{Field: "id", Message: "must be 1 to 64 characters"})
	}
	if in.Price.IsNegative() {
		return nil, ErrInvalidAmount("price must not be negative")
	}
	if !caller.IsAdmin() && !caller.HasRole(models.RoleSeller) {
		return nil, ErrUnauthorized("list products")
	}

	seller := caller.UserID
	if caller.IsAdmin() && in.SellerID != "" {
		seller = in.SellerID
	}
	existing, err := s.store.Product(ctx, id)
	switch {
	case err == nil:
		if existing.SellerID != caller.UserID && !caller.IsAdmin() {
			return nil, ErrUnauthorized("change this product")
		}
		if caller.IsAdmin() && in.SellerID == "" {
			seller = existing.SellerID
		}
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, errInternal(err)
	}

	p := models.Product{
		ID:                id,
		SellerID:          seller,
		Title:             in.Title,
		Price:             in.Price,
		QuantityAvailable: in.QuantityAvailable,
	}
	if err := s.store.Commit(ctx, ledger.PutProduct{Product: p}); err != nil {
		return nil, errInternal(err)
	}
	s.log.Info("product listed", zap.String("product_id", p.ID), zap.Int("quantity", p.QuantityAvailable))
	return &p, nil
}

func (s *ProductService) Get(ctx context.Context, id string) (*models.Product, error) {
	return s.loadProduct(ctx, id)
}
