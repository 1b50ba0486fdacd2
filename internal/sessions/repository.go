package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glowcart/live/internal/models"
)

// Repository is the canonical Postgres session store used by the relay.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new live session.
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions (id, seller_id, title, status, thumbnail_url, replay_key, product_ids, likes, viewer_count)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.SellerID, s.Title, s.Status, s.ThumbnailURL, s.ReplayKey, s.ProductIDs, s.Likes, s.ViewerCount).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// FindByID returns a session by id, or nil when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT id, seller_id, title, status, thumbnail_url, replay_key, product_ids, likes, viewer_count, created_at, updated_at, ended_at
		FROM live_sessions WHERE id = $1`
	var s models.LiveSession
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.SellerID, &s.Title, &s.Status, &s.ThumbnailURL, &s.ReplayKey,
		&s.ProductIDs, &s.Likes, &s.ViewerCount, &s.CreatedAt, &s.UpdatedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert stores or replaces a session record.
func (r *Repository) Upsert(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions (id, seller_id, title, status, thumbnail_url, replay_key, product_ids, likes, viewer_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			thumbnail_url = EXCLUDED.thumbnail_url,
			replay_key = EXCLUDED.replay_key,
			product_ids = EXCLUDED.product_ids,
			likes = EXCLUDED.likes,
			viewer_count = EXCLUDED.viewer_count,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, s.ID, s.SellerID, s.Title, s.Status, s.ThumbnailURL, s.ReplayKey, s.ProductIDs, s.Likes, s.ViewerCount)
	return err
}

// MarkReplay transitions a session to replay status.
func (r *Repository) MarkReplay(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_sessions SET status = $1, ended_at = NOW(), updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, models.StatusReplay, id)
	return err
}

// ListLive returns all sessions currently broadcasting, newest first.
func (r *Repository) ListLive(ctx context.Context) ([]models.LiveSession, error) {
	const q = `SELECT id, seller_id, title, status, thumbnail_url, replay_key, product_ids, likes, viewer_count, created_at, updated_at, ended_at
		FROM live_sessions WHERE status = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, models.StatusLive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.LiveSession
	for rows.Next() {
		var s models.LiveSession
		if err := rows.Scan(&s.ID, &s.SellerID, &s.Title, &s.Status, &s.ThumbnailURL, &s.ReplayKey,
			&s.ProductIDs, &s.Likes, &s.ViewerCount, &s.CreatedAt, &s.UpdatedAt, &s.EndedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
