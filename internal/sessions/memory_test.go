package sessions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowcart/live/internal/models"
)

func TestMemoryFindByIDAbsent(t *testing.T) {
	m := NewMemory()
	s, err := m.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMemoryUpsertReturnsCopies(t *testing.T) {
	m := NewMemory()
	id := uuid.New()
	require.NoError(t, m.Upsert(context.Background(), &models.LiveSession{ID: id, Title: "Drop", Status: models.StatusLive}))

	got, err := m.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)

	got.Title = "mutated"
	again, err := m.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Drop", again.Title)
}

func TestMemoryMarkReplay(t *testing.T) {
	m := NewMemory()
	id := uuid.New()
	require.NoError(t, m.Upsert(context.Background(), &models.LiveSession{ID: id, Status: models.StatusLive}))

	require.NoError(t, m.MarkReplay(context.Background(), id))
	s, err := m.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReplay, s.Status)
	assert.NotNil(t, s.EndedAt)
	assert.False(t, s.IsLive())

	// unknown id is a no-op
	require.NoError(t, m.MarkReplay(context.Background(), uuid.New()))
}

func TestMemoryCatalogLookups(t *testing.T) {
	m := NewMemory()
	p1 := models.Product{ID: uuid.New(), Name: "Sneaker", PriceCents: 12900}
	p2 := models.Product{ID: uuid.New(), Name: "Hoodie", PriceCents: 6900}
	m.AddProduct(p1)
	m.AddProduct(p2)

	got, err := m.FindProductsByIDs(context.Background(), []uuid.UUID{p2.ID, uuid.New(), p1.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hoodie", got[0].Name)
	assert.Equal(t, "Sneaker", got[1].Name)

	seller := models.Seller{ID: uuid.New(), Name: "glow"}
	m.AddSeller(seller)
	found, err := m.FindSellerByID(context.Background(), seller.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "glow", found.Name)

	missing, err := m.FindSellerByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
