package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle status of a live session.
type SessionStatus string

const (
	// StatusLive means the seller is currently broadcasting.
	StatusLive SessionStatus = "live"
	// StatusReplay means the broadcast has ended and a recording is available.
	StatusReplay SessionStatus = "replay"
)

// LiveSession identifies one live broadcast by a seller.
type LiveSession struct {
	ID           uuid.UUID     `json:"id"`
	SellerID     uuid.UUID     `json:"seller_id"`
	Title        string        `json:"title"`
	Status       SessionStatus `json:"status"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	ReplayKey    string        `json:"replay_key,omitempty"` // object key of the recorded asset
	ProductIDs   []uuid.UUID   `json:"product_ids"`
	Likes        int           `json:"likes"`
	ViewerCount  int           `json:"viewer_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}

// IsLive reports whether the session is currently broadcasting.
func (s *LiveSession) IsLive() bool { return s.Status == StatusLive }
