// Pantry HTTP handlers.
//
//   - GET    /pantry                 (stored items)
//   - PUT    /pantry                 (replace all; import of an exported file)
//   - DELETE /pantry                 (clear)
//   - POST   /pantry/items           (upsert one item)
//   - PUT    /pantry/items/{name}    (edit or rename one item)
//   - DELETE /pantry/items/{name}
//   - POST   /pantry/merge           (merge receipt-like rows; Idempotency-Key supported)
//   - GET    /pantry/export          (download pantry.json)
//   - POST   /pantry/tables          (open a pantry editing table)
//
// Items are identified by their normalized name; {name} may use any casing.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/pantry"
	"github.com/tbourn/scan2serve/internal/utils"
)

//
// DTOs
//

// PantryItemRequest is one item as entered by the user.
type PantryItemRequest struct {
	ItemName   string `json:"itemName" binding:"required,max=255" example:"Milk"`
	Perishable string `json:"perishable" binding:"omitempty,oneof=Yes No yes no" example:"Yes"`
	LastPrice  any    `json:"lastPrice" swaggertype:"number" example:"1.99"`
	TimesSeen  int    `json:"timesSeen" binding:"omitempty,min=1" example:"3"`
}

// MergeRowRequest is one line to fold into the pantry.
type MergeRowRequest struct {
	ItemName   string  `json:"itemName" example:"Bread"`
	Price      any     `json:"price" swaggertype:"number" example:"2.50"`
	Perishable *string `json:"perishable,omitempty" example:"Yes"`
}

// MergeRequest is the body of POST /pantry/merge.
type MergeRequest struct {
	Rows []MergeRowRequest `json:"rows" binding:"required"`
}

func (r PantryItemRequest) item() domain.PantryItem {
	it := domain.PantryItem{
		ItemName:  r.ItemName,
		LastPrice: utils.ToMoney(r.LastPrice),
		TimesSeen: r.TimesSeen,
	}
	if p, valid := domain.ParsePerishable(r.Perishable); valid {
		it.Perishable = p
	}
	return it
}

// bindItem decodes a PantryItemRequest and rejects blank names.
func bindItem(c *gin.Context) (domain.PantryItem, bool) {
	var req PantryItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "itemName required; perishable must be Yes or No")
		return domain.PantryItem{}, false
	}
	if strings.TrimSpace(req.ItemName) == "" {
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, "item name must not be blank")
		return domain.PantryItem{}, false
	}
	return req.item(), true
}

//
// Handlers
//

// GetPantry godoc
// @ID          getPantry
// @Summary     Get the pantry
// @Tags        Pantry
// @Produce     json
// @Success     200  {object} handlers.PantryResponse
// @Router      /pantry [get]
func (h *Handlers) GetPantry(c *gin.Context) {
	items, err := h.pantry.Load(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pantryResponse(items))
}

// ReplacePantry godoc
// @ID          replacePantry
// @Summary     Replace the whole pantry
// @Description Stores the given array verbatim. Accepts the file produced by GET /pantry/export.
// @Tags        Pantry
// @Accept      json
// @Produce     json
// @Param       body  body  []domain.PantryItem  true  "Items"
// @Success     200  {object} handlers.PantryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Pantry changed concurrently"
// @Router      /pantry [put]
func (h *Handlers) ReplacePantry(c *gin.Context) {
	var items []domain.PantryItem
	if err := c.ShouldBindJSON(&items); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON array of pantry items")
		return
	}
	out, err := h.pantry.ReplaceAll(c.Request.Context(), items)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pantryResponse(out))
}

// ClearPantry godoc
// @ID          clearPantry
// @Summary     Clear the pantry
// @Tags        Pantry
// @Success     204  {string} string "No Content"
// @Router      /pantry [delete]
func (h *Handlers) ClearPantry(c *gin.Context) {
	if err := h.pantry.Clear(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// UpsertPantryItem godoc
// @ID          upsertPantryItem
// @Summary     Add or replace one item
// @Description Replaces the item with the same normalized name, or adds it at the top.
// @Tags        Pantry
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.PantryItemRequest  true  "Item"
// @Success     200  {object} handlers.PantryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Pantry changed concurrently"
// @Failure     422  {object} handlers.ErrorResponse "Blank item name"
// @Router      /pantry/items [post]
func (h *Handlers) UpsertPantryItem(c *gin.Context) {
	item, valid := bindItem(c)
	if !valid {
		return
	}
	out, err := h.pantry.UpsertSingle(c.Request.Context(), item)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pantryResponse(out))
}

// UpdatePantryItem godoc
// @ID          updatePantryItem
// @Summary     Edit or rename one item
// @Description When the new name normalizes differently, the old entry is replaced in a single write.
// @Tags        Pantry
// @Accept      json
// @Produce     json
// @Param       name  path  string                      true  "Current item name"
// @Param       body  body  handlers.PantryItemRequest  true  "Item"
// @Success     200  {object} handlers.PantryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Pantry changed concurrently"
// @Failure     422  {object} handlers.ErrorResponse "Blank item name"
// @Router      /pantry/items/{name} [put]
func (h *Handlers) UpdatePantryItem(c *gin.Context) {
	item, valid := bindItem(c)
	if !valid {
		return
	}
	out, err := h.pantry.Rename(c.Request.Context(), c.Param("name"), item)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pantryResponse(out))
}

// DeletePantryItem godoc
// @ID          deletePantryItem
// @Summary     Delete one item
// @Tags        Pantry
// @Produce     json
// @Param       name  path  string  true  "Item name"
// @Success     200  {object} handlers.PantryResponse
// @Failure     409  {object} handlers.ErrorResponse "Pantry changed concurrently"
// @Router      /pantry/items/{name} [delete]
func (h *Handlers) DeletePantryItem(c *gin.Context) {
	out, err := h.pantry.DeleteByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pantryResponse(out))
}

// MergePantry godoc
// @ID          mergePantry
// @Summary     Merge rows into the pantry
// @Description Same merge rules as accepting a receipt. Supports Idempotency-Key.
// @Tags        Pantry
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string                 false "Idempotency key for safe retries"
// @Param       body             body    handlers.MergeRequest  true  "Rows"
// @Success     200  {object} handlers.PantryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Pantry changed concurrently"
// @Router      /pantry/merge [post]
func (h *Handlers) MergePantry(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rows required")
		return
	}
	rows := make([]pantry.MergeRow, 0, len(req.Rows))
	for _, r := range req.Rows {
		mr := pantry.MergeRow{ItemName: r.ItemName, Price: r.Price}
		if r.Perishable != nil {
			if p, valid := domain.ParsePerishable(*r.Perishable); valid {
				mr.Perishable = &p
			}
		}
		rows = append(rows, mr)
	}
	out, err := h.pantry.MergeFromRows(c.Request.Context(), rows)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pantryResponse(out))
}

// ExportPantry godoc
// @ID          exportPantry
// @Summary     Download the pantry as JSON
// @Tags        Pantry
// @Produce     json
// @Success     200  {array}  domain.PantryItem
// @Header      200  {string} Content-Disposition "attachment; filename=\"pantry.json\""
// @Router      /pantry/export [get]
func (h *Handlers) ExportPantry(c *gin.Context) {
	b, err := h.pantry.Export(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="pantry.json"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}

// CreatePantryTable godoc
// @ID          createPantryTable
// @Summary     Open a pantry editing table
// @Description Snapshots the pantry into a table. Saving or removing a row writes through to the pantry.
// @Tags        Pantry
// @Produce     json
// @Success     201  {object} handlers.TableResponse
// @Router      /pantry/tables [post]
func (h *Handlers) CreatePantryTable(c *gin.Context) {
	t, err := h.tables.CreatePantryTable(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, tableResponse(t))
}
