// Table HTTP handlers.
//
// A table is a server-held list of editable rows: a receipt table holds the
// lines extracted from one receipt until they are accepted into the pantry;
// a pantry table edits the stored pantry row by row.
//
//   - GET    /tables/{id}
//   - DELETE /tables/{id}
//   - POST   /tables/{id}/rows                    (add a row)
//   - POST   /tables/{id}/rows/{rowId}/edit       (Viewing -> Editing)
//   - PUT    /tables/{id}/rows/{rowId}            (save patch, Editing -> Viewing)
//   - POST   /tables/{id}/rows/{rowId}/cancel     (discard edit)
//   - DELETE /tables/{id}/rows/{rowId}
//   - POST   /tables/{id}/accept                  (merge a receipt into the pantry)
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/editing"
	"github.com/tbourn/scan2serve/internal/utils"
)

//
// DTOs
//

// TableResponse is a table and its rows in display order.
type TableResponse struct {
	ID        string        `json:"id" example:"5b0c3c1e-8d5e-4a57-9c39-7d1c1f0b2f11"`
	Kind      editing.Kind  `json:"kind" example:"receipt"`
	CreatedAt time.Time     `json:"created_at"`
	Rows      []editing.Row `json:"rows"`
}

// RowResponse wraps a single row.
type RowResponse struct {
	Row editing.Row `json:"row"`
}

// AddRowRequest is a manually entered row. Price and confidence accept
// numbers or numeric strings; confidence defaults to 1.
type AddRowRequest struct {
	ItemName   string `json:"itemName" binding:"required" example:"Greek yogurt"`
	Price      any    `json:"price" swaggertype:"number" example:"3.49"`
	Confidence any    `json:"confidence" swaggertype:"number" example:"1"`
	Perishable string `json:"perishable" binding:"omitempty,oneof=Yes No yes no" example:"Yes"`
}

// SaveRowRequest is a partial update; omitted fields are left alone.
type SaveRowRequest = editing.Patch

// PantryResponse is the stored pantry after an operation.
type PantryResponse struct {
	Items []domain.PantryItem `json:"items"`
	Count int                 `json:"count"`
}

func tableResponse(t *editing.Table) TableResponse {
	return TableResponse{ID: t.ID, Kind: t.Kind, CreatedAt: t.CreatedAt, Rows: t.Rows()}
}

func pantryResponse(items []domain.PantryItem) PantryResponse {
	if items == nil {
		items = []domain.PantryItem{}
	}
	return PantryResponse{Items: items, Count: len(items)}
}

// table resolves the :id param or writes the failure. Pantry tables are
// brought up to date with storage first.
func (h *Handlers) table(c *gin.Context) (*editing.Table, bool) {
	t, err := h.tables.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return nil, false
	}
	return t, true
}

//
// Handlers
//

// GetTable godoc
// @ID          getTable
// @Summary     Get a table
// @Tags        Tables
// @Produce     json
// @Param       id  path  string  true  "Table ID"
// @Success     200  {object} handlers.TableResponse
// @Failure     404  {object} handlers.ErrorResponse "Table not found"
// @Router      /tables/{id} [get]
func (h *Handlers) GetTable(c *gin.Context) {
	t, found := h.table(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, tableResponse(t))
}

// DeleteTable godoc
// @ID          deleteTable
// @Summary     Discard a table
// @Description Drops the table without touching the pantry.
// @Tags        Tables
// @Param       id  path  string  true  "Table ID"
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Table not found"
// @Router      /tables/{id} [delete]
func (h *Handlers) DeleteTable(c *gin.Context) {
	if err := h.tables.Delete(c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AddRow godoc
// @ID          addRow
// @Summary     Add a row
// @Description On a pantry table the item is written to the pantry immediately.
// @Tags        Tables
// @Accept      json
// @Produce     json
// @Param       id    path  string                  true  "Table ID"
// @Param       body  body  handlers.AddRowRequest  true  "Row"
// @Success     201  {object} handlers.RowResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Table not found"
// @Failure     409  {object} handlers.ErrorResponse "Pantry changed concurrently"
// @Failure     422  {object} handlers.ErrorResponse "Blank item name"
// @Router      /tables/{id}/rows [post]
func (h *Handlers) AddRow(c *gin.Context) {
	t, found := h.table(c)
	if !found {
		return
	}
	var req AddRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "itemName required; perishable must be Yes or No")
		return
	}
	f := editing.Fields{
		ItemName:   req.ItemName,
		Price:      utils.ToMoney(req.Price),
		Confidence: 1,
	}
	if req.Confidence != nil {
		f.Confidence = utils.Clamp(req.Confidence, 0, 1)
	}
	if p, valid := domain.ParsePerishable(req.Perishable); valid {
		f.Perishable = p
	}

	row, err := t.AddRow(c.Request.Context(), f)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, RowResponse{Row: row})
}

// StartEdit godoc
// @ID          startEdit
// @Summary     Start editing a row
// @Description Snapshots the row so cancel can restore it. Repeating it keeps the first snapshot.
// @Tags        Tables
// @Produce     json
// @Param       id     path  string  true  "Table ID"
// @Param       rowId  path  string  true  "Row ID"
// @Success     200  {object} handlers.RowResponse
// @Failure     404  {object} handlers.ErrorResponse "Table or row not found"
// @Router      /tables/{id}/rows/{rowId}/edit [post]
func (h *Handlers) StartEdit(c *gin.Context) {
	t, found := h.table(c)
	if !found {
		return
	}
	row, err := t.StartEdit(c.Param("rowId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RowResponse{Row: row})
}

// SaveRow godoc
// @ID          saveRow
// @Summary     Save an edited row
// @Tags        Tables
// @Accept      json
// @Produce     json
// @Param       id     path  string                   true  "Table ID"
// @Param       rowId  path  string                   true  "Row ID"
// @Param       body   body  handlers.SaveRowRequest  true  "Changed fields"
// @Success     200  {object} handlers.RowResponse
// @Failure     404  {object} handlers.ErrorResponse "Table or row not found"
// @Failure     409  {object} handlers.ErrorResponse "Row not in edit mode, or pantry changed concurrently"
// @Failure     422  {object} handlers.ErrorResponse "Blank item name"
// @Router      /tables/{id}/rows/{rowId} [put]
func (h *Handlers) SaveRow(c *gin.Context) {
	t, found := h.table(c)
	if !found {
		return
	}
	var p SaveRowRequest
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	row, err := t.SaveEdit(c.Request.Context(), c.Param("rowId"), p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RowResponse{Row: row})
}

// CancelEdit godoc
// @ID          cancelEdit
// @Summary     Cancel editing a row
// @Description Restores the snapshot taken when editing started.
// @Tags        Tables
// @Produce     json
// @Param       id     path  string  true  "Table ID"
// @Param       rowId  path  string  true  "Row ID"
// @Success     200  {object} handlers.RowResponse
// @Failure     404  {object} handlers.ErrorResponse "Table or row not found"
// @Router      /tables/{id}/rows/{rowId}/cancel [post]
func (h *Handlers) CancelEdit(c *gin.Context) {
	t, found := h.table(c)
	if !found {
		return
	}
	row, err := t.CancelEdit(c.Param("rowId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RowResponse{Row: row})
}

// RemoveRow godoc
// @ID          removeRow
// @Summary     Remove a row
// @Description On a pantry table the item is deleted from the pantry.
// @Tags        Tables
// @Param       id     path  string  true  "Table ID"
// @Param       rowId  path  string  true  "Row ID"
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Table or row not found"
// @Router      /tables/{id}/rows/{rowId} [delete]
func (h *Handlers) RemoveRow(c *gin.Context) {
	t, found := h.table(c)
	if !found {
		return
	}
	if err := t.RemoveRow(c.Request.Context(), c.Param("rowId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AcceptTable godoc
// @ID          acceptTable
// @Summary     Accept a receipt into the pantry
// @Description Merges every row into the pantry and retires the table. Supports Idempotency-Key:
// @Description a retry with the same key replays the first response instead of counting items twice.
// @Tags        Tables
// @Produce     json
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    string  true  "Table ID"
// @Success     200  {object} handlers.PantryResponse
// @Failure     404  {object} handlers.ErrorResponse "Table not found"
// @Failure     409  {object} handlers.ErrorResponse "Not a receipt table, or pantry changed concurrently"
// @Router      /tables/{id}/accept [post]
func (h *Handlers) AcceptTable(c *gin.Context) {
	items, err := h.tables.Accept(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pantryResponse(items))
}
