package models

import "github.com/shopspring/decimal"

// Product is the catalog view the settlement engines need. The catalog itself
// lives elsewhere; a zero price marks a giveaway listing.
type Product struct {
	ID                string          `json:"id"`
	SellerID          string          `json:"seller_id"`
	Title             string          `json:"title"`
	Price             decimal.Decimal `json:"price"`
	QuantityAvailable int             `json:"quantity_available"`
}
