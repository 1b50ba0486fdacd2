package relay

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glowcart/live/internal/middleware"
	"github.com/glowcart/live/internal/models"
	"github.com/glowcart/live/internal/sessions"
	"github.com/glowcart/live/pkg/response"
	"github.com/glowcart/live/pkg/storage"
)

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	Title      string   `json:"title" binding:"required"`
	ProductIDs []string `json:"product_ids"`
}

// SessionView is a session decorated with live engagement counters.
type SessionView struct {
	models.LiveSession
	LiveViewers int64 `json:"live_viewers"`
	LiveLikes   int64 `json:"live_likes"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	repo     *sessions.Repository
	hub      *Hub
	counters *Counters
	s3       *storage.S3
	logger   *zap.Logger
}

// NewHandler creates a session handler. s3 may be nil when replay storage is
// not configured.
func NewHandler(repo *sessions.Repository, hub *Hub, counters *Counters, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, hub: hub, counters: counters, s3: s3, logger: logger}
}

// Create handles POST /sessions (seller only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	productIDs := make([]uuid.UUID, 0, len(req.ProductIDs))
	for _, idStr := range req.ProductIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.BadRequest(c, "invalid product id: "+idStr)
			return
		}
		productIDs = append(productIDs, id)
	}

	s := &models.LiveSession{
		SellerID:   sellerID,
		Title:      req.Title,
		Status:     models.StatusLive,
		ProductIDs: productIDs,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create session", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("find session", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}

	view := SessionView{LiveSession: *s}
	if s.IsLive() {
		view.LiveViewers = int64(h.hub.AudienceCount(id))
		if h.counters != nil {
			if _, likes, err := h.counters.Engagement(c.Request.Context(), id); err == nil {
				view.LiveLikes = likes
			}
		}
	}
	response.OK(c, view)
}

// ListLive handles GET /sessions/live.
func (h *Handler) ListLive(c *gin.Context) {
	list, err := h.repo.ListLive(c.Request.Context())
	if err != nil {
		h.logger.Error("list live sessions", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	views := make([]SessionView, 0, len(list))
	for i := range list {
		view := SessionView{LiveSession: list[i]}
		view.LiveViewers = int64(h.hub.AudienceCount(list[i].ID))
		views = append(views, view)
	}
	response.OK(c, views)
}

// Like handles POST /sessions/:id/like.
func (h *Handler) Like(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.counters == nil {
		response.ServiceUnavailable(c, "likes unavailable")
		return
	}
	total, err := h.counters.IncrLikes(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("incr likes", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to record like")
		return
	}
	response.OK(c, gin.H{"likes": total})
}

// ReplayURL handles GET /sessions/:id/replay. It returns a pre-signed
// download URL for the session recording.
func (h *Handler) ReplayURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "replay storage not configured")
		return
	}
	s, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	if s.Status != models.StatusReplay || s.ReplayKey == "" {
		response.NotFound(c, "replay not available")
		return
	}
	// The recording is uploaded out of band; the key existing on the session
	// does not guarantee the object landed yet.
	if _, err := h.s3.HeadObject(c.Request.Context(), h.s3.ReplaysBucket(), s.ReplayKey); err != nil {
		response.NotFound(c, "replay not available yet")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.ReplaysBucket(), s.ReplayKey, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign replay", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to sign replay url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// ThumbnailUploadRequest is the body for POST /sessions/:id/thumbnail-upload-url.
type ThumbnailUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ThumbnailUploadURL handles POST /sessions/:id/thumbnail-upload-url (seller
// only). It returns a pre-signed PUT URL so the storefront uploads the
// session thumbnail directly to S3.
func (h *Handler) ThumbnailUploadURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "thumbnail storage not configured")
		return
	}
	var req ThumbnailUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateThumbnailType(req.ContentType, req.Filename) {
		response.BadRequest(c, "unsupported thumbnail type")
		return
	}
	if req.Size > storage.MaxThumbnailSize {
		response.BadRequest(c, "thumbnail exceeds 5MB limit")
		return
	}
	s, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if s.SellerID != sellerID {
		response.Forbidden(c, "not the session owner")
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(req.Filename)
	}
	key := storage.ThumbnailKey(id.String(), req.Filename)
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), h.s3.ThumbnailsBucket(), key, contentType, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign thumbnail upload", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to sign upload url")
		return
	}

	s.ThumbnailURL = h.s3.PublicObjectURL(h.s3.ThumbnailsBucket(), key)
	if err := h.repo.Upsert(c.Request.Context(), s); err != nil {
		h.logger.Warn("store thumbnail url", zap.String("session_id", id.String()), zap.Error(err))
	}
	response.OK(c, gin.H{"url": url, "key": key, "thumbnail_url": s.ThumbnailURL})
}

// ReplayUploadURL handles POST /sessions/:id/replay-upload-url (seller only).
// It records the replay key on the session and returns a pre-signed PUT URL
// for the finished recording.
func (h *Handler) ReplayUploadURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "replay storage not configured")
		return
	}
	s, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if s.SellerID != sellerID {
		response.Forbidden(c, "not the session owner")
		return
	}

	key := storage.ReplayKey(id.String())
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), h.s3.ReplaysBucket(), key, "video/mp4", h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign replay upload", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to sign upload url")
		return
	}

	s.ReplayKey = key
	if err := h.repo.Upsert(c.Request.Context(), s); err != nil {
		h.logger.Error("store replay key", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to store replay key")
		return
	}
	response.OK(c, gin.H{"url": url, "key": key})
}

// End handles POST /sessions/:id/end (seller only). It flips the session to
// replay and clears live counters.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if s.SellerID != sellerID {
		response.Forbidden(c, "not the session owner")
		return
	}
	if err := h.repo.MarkReplay(c.Request.Context(), id); err != nil {
		h.logger.Error("mark replay", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to end session")
		return
	}
	if h.counters != nil {
		_ = h.counters.Reset(c.Request.Context(), id)
	}
	response.OK(c, gin.H{"status": models.StatusReplay})
}
