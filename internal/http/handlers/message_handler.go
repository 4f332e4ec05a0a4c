// Message HTTP handlers.
//
//   - POST /chats/{id}/messages   (send a message, get recipe suggestions)
//   - GET  /chats/{id}/messages   (list paginated messages)
//
// Sending re-reads the stored pantry, so suggestions always reflect the
// latest accepted receipt. When the recipe service fails the response is
// 502 and nothing is stored; the client shows the message inline.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/repo"
)

//
// DTOs
//

// Constraints are optional hints for the recipe service. Unknown keys in
// Extra are passed through unchanged.
type Constraints struct {
	Diet       string         `json:"diet,omitempty" example:"vegetarian"`
	MaxMinutes int            `json:"max_minutes,omitempty" binding:"omitempty,min=1,max=1440" example:"30"`
	Servings   int            `json:"servings,omitempty" binding:"omitempty,min=1,max=50" example:"2"`
	Avoid      []string       `json:"avoid,omitempty" example:"peanuts"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// PostMessageRequest is the JSON payload for sending a chat message.
type PostMessageRequest struct {
	Content     string       `json:"content" binding:"required,min=1" example:"What can I make with eggs and rice?"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// PostMessageResponse carries both stored turns.
type PostMessageResponse struct {
	User      *domain.Message `json:"user"`
	Assistant *domain.Message `json:"assistant"`
}

// ListMessagesResponse contains a page of chat messages.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings, collapses blank runs and trims.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// asMap flattens constraints into the map sent upstream. nil stays nil.
func (k *Constraints) asMap() map[string]any {
	if k == nil {
		return nil
	}
	m := make(map[string]any, len(k.Extra)+4)
	for key, v := range k.Extra {
		m[key] = v
	}
	if d := strings.TrimSpace(k.Diet); d != "" {
		m["diet"] = d
	}
	if k.MaxMinutes > 0 {
		m["max_minutes"] = k.MaxMinutes
	}
	if k.Servings > 0 {
		m["servings"] = k.Servings
	}
	if len(k.Avoid) > 0 {
		m["avoid"] = k.Avoid
	}
	return m
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message and get recipe suggestions
// @Description Sends the recent conversation and the current pantry to the recipe service and stores both turns.
// @Description Supports Idempotency-Key for safe retries.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string                       false "Idempotency key for safe retries"
// @Param       id               path    string                       true  "Chat ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "User message"
// @Success     200  {object}  handlers.PostMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Recipe service failed"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	chatID, valid := validChatID(c)
	if !valid {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	if utf8.RuneCountInString(content) > h.maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", h.maxRunes))
		return
	}

	ex, err := h.msgSvc.Send(c.Request.Context(), chatID, content, req.Constraints.asMap())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PostMessageResponse{User: ex.User, Assistant: ex.Assistant})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Tags        Messages
// @Produce     json
// @Param       id         path   string  true  "Chat ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID, valid := validChatID(c)
	if !valid {
		return
	}
	page, pageSize := clampPagination(c)

	if h.db != nil {
		if count, maxTS, err := repo.MessagesStats(ctx, h.db, chatID); err == nil && count > 0 {
			if notModified(c, fmt.Sprintf("messages:%s:%d:%d", chatID, page, pageSize), count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.msgSvc.ListPage(ctx, chatID, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: paginate(page, pageSize, total)})
}
