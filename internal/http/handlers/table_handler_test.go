package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/editing"
	"github.com/tbourn/scan2serve/internal/extract"
	"github.com/tbourn/scan2serve/internal/upstream"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func (e *env) upload(t *testing.T, image []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/receipts", bytes.NewReader(image))
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) uploadMultipart(t *testing.T, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "receipt.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(image)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/receipts", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

// scan creates a receipt table from the given extracted items.
func (e *env) scan(t *testing.T, items ...extract.Item) TableResponse {
	t.Helper()
	e.extractor.res = &extract.Result{Items: items}
	w := e.upload(t, pngHeader, "image/png")
	if w.Code != http.StatusCreated {
		t.Fatalf("scan status = %d body=%s", w.Code, w.Body.String())
	}
	return decode[TableResponse](t, w)
}

func TestScanReceipt_RawAndMultipart(t *testing.T) {
	e := newEnv(t)
	e.extractor.res = &extract.Result{Items: []extract.Item{
		{OriginalName: "MLK 2%", ExpandedName: "Milk", Price: "3.005", Confidence: 0.9},
		{OriginalName: "RICE", Price: 4},
	}}

	tbl := decode[TableResponse](t, e.upload(t, pngHeader, "image/png"))
	if tbl.Kind != editing.KindReceipt || len(tbl.Rows) != 2 {
		t.Fatalf("table = %+v", tbl)
	}
	milk, rice := tbl.Rows[0], tbl.Rows[1]
	if milk.ItemName != "Milk" || milk.Price != 3.01 || milk.Perishable != domain.PerishableYes || milk.Original != "MLK 2%" {
		t.Fatalf("milk row = %+v", milk)
	}
	if rice.ItemName != "RICE" || rice.Confidence != extract.DefaultConfidence || rice.Perishable != domain.PerishableNo {
		t.Fatalf("rice row = %+v", rice)
	}
	if e.extractor.seen != "image/png" {
		t.Fatalf("declared type = %q", e.extractor.seen)
	}

	w := e.uploadMultipart(t, pngHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("multipart status = %d body=%s", w.Code, w.Body.String())
	}
	if e.extractor.n != len(pngHeader) {
		t.Fatalf("multipart bytes = %d", e.extractor.n)
	}
	if e.tables.Len() != 2 {
		t.Fatalf("tables = %d", e.tables.Len())
	}
}

func TestScanReceipt_Errors(t *testing.T) {
	e := newEnv(t)

	wantError(t, e.upload(t, nil, "image/png"), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.upload(t, []byte("%PDF-1.4 not an image"), "application/pdf"), http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia)
	wantError(t, e.upload(t, bytes.Repeat([]byte{0x89}, 2<<10), "image/png"), http.StatusRequestEntityTooLarge, ErrCodeTooLarge)

	e.extractor.err = &upstream.Error{Status: 500, Message: "request failed (500)"}
	w := e.upload(t, pngHeader, "image/png")
	wantError(t, w, http.StatusBadGateway, ErrCodeUpstreamFailed)
	if msg := decode[ErrorResponse](t, w).Message; msg != "request failed (500)" {
		t.Fatalf("message = %q", msg)
	}
	if e.tables.Len() != 0 {
		t.Fatalf("no table should be created, got %d", e.tables.Len())
	}
}

func TestReceiptTable_EditCycle(t *testing.T) {
	e := newEnv(t)
	tbl := e.scan(t, extract.Item{ExpandedName: "Bread", Price: 2.5}, extract.Item{ExpandedName: "Cheese", Price: 5})
	base := "/tables/" + tbl.ID + "/rows/"
	row := tbl.Rows[0].ID

	// Saving a Viewing row is a conflict.
	wantError(t, e.do(http.MethodPut, base+row, map[string]any{"price": 1}), http.StatusConflict, ErrCodeConflict)

	if w := e.do(http.MethodPost, base+row+"/edit", nil); w.Code != http.StatusOK || !decode[RowResponse](t, w).Row.Editing {
		t.Fatalf("edit: %d %s", w.Code, w.Body.String())
	}
	wantError(t, e.do(http.MethodPut, base+row, map[string]any{"itemName": "  "}), http.StatusUnprocessableEntity, ErrCodeValidation)

	w := e.do(http.MethodPut, base+row, map[string]any{"itemName": " Sourdough ", "price": "4.499", "confidence": 7, "perishable": "maybe"})
	if w.Code != http.StatusOK {
		t.Fatalf("save: %d %s", w.Code, w.Body.String())
	}
	saved := decode[RowResponse](t, w).Row
	want := editing.Fields{ItemName: "Sourdough", Price: 4.5, Confidence: 1, Perishable: domain.PerishableYes, Expanded: "Bread"}
	if diff := cmp.Diff(want, saved.Fields); diff != "" || saved.Editing {
		t.Fatalf("saved row (-want +got):\n%s", diff)
	}

	// Cancel restores the value from before the edit.
	e.do(http.MethodPost, base+row+"/edit", nil)
	e.do(http.MethodPut, base+row, map[string]any{"price": 9}) // committed
	e.do(http.MethodPost, base+row+"/edit", nil)
	cancelled := decode[RowResponse](t, e.do(http.MethodPost, base+row+"/cancel", nil)).Row
	if cancelled.Price != 9 || cancelled.Editing {
		t.Fatalf("cancelled row = %+v", cancelled)
	}

	if w := e.do(http.MethodDelete, base+tbl.Rows[1].ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("remove: %d", w.Code)
	}
	wantError(t, e.do(http.MethodDelete, base+tbl.Rows[1].ID, nil), http.StatusNotFound, ErrCodeNotFound)

	got := decode[TableResponse](t, e.do(http.MethodGet, "/tables/"+tbl.ID, nil))
	if len(got.Rows) != 1 || got.Rows[0].ItemName != "Sourdough" {
		t.Fatalf("rows = %+v", got.Rows)
	}

	// Receipt edits never touch the pantry.
	if items, _ := e.store.Load(context.Background()); len(items) != 0 {
		t.Fatalf("pantry = %+v", items)
	}
}
