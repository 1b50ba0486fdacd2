package models

import "github.com/google/uuid"

// Product is a catalog item a seller can feature during a live session.
type Product struct {
	ID         uuid.UUID `json:"id"`
	SellerID   uuid.UUID `json:"seller_id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	Currency   string    `json:"currency"`
	ImageURL   string    `json:"image_url,omitempty"`
}

// Seller is the owner of a storefront and of its live sessions.
type Seller struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}
