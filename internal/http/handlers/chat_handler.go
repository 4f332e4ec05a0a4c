// Chat HTTP handlers.
//
// This file exposes REST endpoints for recipe chats:
//   - POST   /chats               (create)
//   - GET    /chats               (list, paginated, ETag support)
//   - PUT    /chats/{id}/title    (rename)
//
// It also declares the service contracts consumed by every handler in this
// package and the Handlers wiring type.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/editing"
	"github.com/tbourn/scan2serve/internal/pantry"
	"github.com/tbourn/scan2serve/internal/repo"
	"github.com/tbourn/scan2serve/internal/services"
	"github.com/tbourn/scan2serve/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService defines chat lifecycle operations.
type ChatService interface {
	Create(ctx context.Context, title string) (*domain.Chat, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Chat, int64, error)
	UpdateTitle(ctx context.Context, chatID, title string) error
}

// MessageService runs chat turns against the recipe service.
type MessageService interface {
	Send(ctx context.Context, chatID, text string, constraints map[string]any) (*services.Exchange, error)
	ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error)
}

// TableService owns live review tables.
type TableService interface {
	Open(ctx context.Context, id string) (*editing.Table, error)
	Delete(id string) error
	Accept(ctx context.Context, id string) ([]domain.PantryItem, error)
	CreatePantryTable(ctx context.Context) (*editing.Table, error)
}

// ReceiptService turns an uploaded image into a receipt table.
type ReceiptService interface {
	Scan(ctx context.Context, image []byte, mediaType string) (*editing.Table, error)
}

// PantryService is the stored pantry. *pantry.Store implements it.
type PantryService interface {
	Load(ctx context.Context) ([]domain.PantryItem, error)
	ReplaceAll(ctx context.Context, items []domain.PantryItem) ([]domain.PantryItem, error)
	Clear(ctx context.Context) error
	UpsertSingle(ctx context.Context, item domain.PantryItem) ([]domain.PantryItem, error)
	Rename(ctx context.Context, oldName string, item domain.PantryItem) ([]domain.PantryItem, error)
	DeleteByName(ctx context.Context, name string) ([]domain.PantryItem, error)
	MergeFromRows(ctx context.Context, rows []pantry.MergeRow) ([]domain.PantryItem, error)
	Export(ctx context.Context) ([]byte, error)
}

var (
	_ ChatService    = (*services.ChatService)(nil)
	_ MessageService = (*services.MessageService)(nil)
	_ TableService   = (*services.TableService)(nil)
	_ ReceiptService = (*services.ReceiptService)(nil)
	_ PantryService  = (*pantry.Store)(nil)
)

//
// Handler wiring
//

// Deps are the collaborators of Handlers. DB is optional; it only backs
// the list ETags.
type Deps struct {
	Chats    ChatService
	Messages MessageService
	Tables   TableService
	Receipts ReceiptService
	Pantry   PantryService
	DB       *gorm.DB

	// MaxUploadBytes caps a receipt image. <= 0 means 10 MiB.
	MaxUploadBytes int64
	// MaxPromptRunes caps a chat message before it reaches the service.
	MaxPromptRunes int
}

// Handlers groups every HTTP endpoint of the API.
type Handlers struct {
	chatSvc   ChatService
	msgSvc    MessageService
	tables    TableService
	receipts  ReceiptService
	pantry    PantryService
	db        *gorm.DB
	maxUpload int64
	maxRunes  int
}

// New constructs Handlers from d.
func New(d Deps) *Handlers {
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	maxRunes := d.MaxPromptRunes
	if maxRunes <= 0 {
		maxRunes = 4000
	}
	return &Handlers{
		chatSvc:   d.Chats,
		msgSvc:    d.Messages,
		tables:    d.Tables,
		receipts:  d.Receipts,
		pantry:    d.Pantry,
		db:        d.DB,
		maxUpload: maxUpload,
		maxRunes:  maxRunes,
	}
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Title optionally sets the chat title; "New chat" is used when empty.
	Title string `json:"title" binding:"max=255" example:"Weeknight dinners"`
}

// UpdateChatTitleRequest is the JSON payload for renaming a chat.
type UpdateChatTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"Leftover rice ideas"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chats.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// clampPagination reads page/page_size with defaults 1/20 and a 100 cap.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.PageParams(c.Query("page"), c.Query("page_size"))
}

func paginate(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// notModified sets a weak ETag built from (count, newest update) and
// reports whether the client already has it.
func notModified(c *gin.Context, prefix string, count int64, maxTS *time.Time) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, prefix, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func validChatID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a new chat
// @Description Creates a recipe chat and returns it.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CreateChatRequest  false  "Create chat payload"
// @Success     201   {object}  domain.Chat
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	ch, err := h.chatSvc.Create(c.Request.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns a page of chats, newest first. Supports a weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	if h.db != nil {
		if count, maxTS, err := repo.ChatsStats(ctx, h.db); err == nil {
			if notModified(c, fmt.Sprintf("chats:%d:%d", page, pageSize), count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.chatSvc.ListPage(ctx, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: items, Pagination: paginate(page, pageSize, total)})
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       id    path  string                           true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateChatTitleRequest  true  "New title"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/title [put]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	chatID, valid := validChatID(c)
	if !valid {
		return
	}
	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1-255 chars)")
		return
	}
	if err := h.chatSvc.UpdateTitle(c.Request.Context(), chatID, req.Title); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
