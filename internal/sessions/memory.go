// Package sessions stores live-session records: an in-memory registry for
// the client-side transient copy and a Postgres repository for the
// canonical store.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glowcart/live/internal/models"
)

// Memory is a mutex-guarded in-memory registry. It backs the orchestrator's
// transient local copy and tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.LiveSession
	products map[uuid.UUID]models.Product
	sellers  map[uuid.UUID]models.Seller
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[uuid.UUID]*models.LiveSession),
		products: make(map[uuid.UUID]models.Product),
		sellers:  make(map[uuid.UUID]models.Seller),
	}
}

// FindByID returns the session or nil when absent.
func (m *Memory) FindByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

// Upsert stores or replaces the session record.
func (m *Memory) Upsert(_ context.Context, session *models.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	copied.UpdatedAt = time.Now()
	m.sessions[session.ID] = &copied
	return nil
}

// MarkReplay transitions the session status to replay. Unknown ids are a
// no-op.
func (m *Memory) MarkReplay(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	now := time.Now()
	s.Status = models.StatusReplay
	s.EndedAt = &now
	s.UpdatedAt = now
	return nil
}

// AddProduct seeds a catalog product.
func (m *Memory) AddProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// AddSeller seeds a seller.
func (m *Memory) AddSeller(s models.Seller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellers[s.ID] = s
}

// FindProductsByIDs returns the known products among ids, in id order.
func (m *Memory) FindProductsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindSellerByID returns the seller or nil when absent.
func (m *Memory) FindSellerByID(_ context.Context, id uuid.UUID) (*models.Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sellers[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
