package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/extract"
	"github.com/tbourn/scan2serve/internal/pantry"
	"github.com/tbourn/scan2serve/internal/recipes"
	"github.com/tbourn/scan2serve/internal/repo"
	"github.com/tbourn/scan2serve/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// chatRepo adapts the repo free functions, as the router does.
type chatRepo struct{}

func (chatRepo) CreateChat(ctx context.Context, db *gorm.DB, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, title)
}
func (chatRepo) GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id)
}
func (chatRepo) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	return repo.UpdateChatTitle(ctx, db, id, title)
}
func (chatRepo) CountChats(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountChats(ctx, db)
}
func (chatRepo) ListChatsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, offset, limit)
}

type fakeExtractor struct {
	res  *extract.Result
	err  error
	seen string // media type of the last call
	n    int    // bytes of the last call
}

func (f *fakeExtractor) Extract(_ context.Context, image []byte, mediaType string) (*extract.Result, error) {
	f.seen, f.n = mediaType, len(image)
	if f.err != nil {
		return nil, f.err
	}
	if _, err := extract.DetectMediaType(image, mediaType); err != nil {
		return nil, err
	}
	return f.res, nil
}

type fakeSuggester struct {
	reply *recipes.Reply
	err   error
	last  recipes.Request
}

func (f *fakeSuggester) Suggest(_ context.Context, req recipes.Request) (*recipes.Reply, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

// env is a fully wired handler set over sqlite and an in-memory slot.
type env struct {
	db        *gorm.DB
	store     *pantry.Store
	backend   *pantry.MemoryBackend
	tables    *services.TableService
	extractor *fakeExtractor
	suggester *fakeSuggester
	h         *Handlers
	r         *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	backend := &pantry.MemoryBackend{}
	clock := time.UnixMilli(1_700_000_000_000)
	store := pantry.New(backend, pantry.DefaultSlot, pantry.WithClock(func() time.Time { return clock }))
	tables := services.NewTableService(store, time.Hour)
	ex := &fakeExtractor{res: &extract.Result{}}
	sg := &fakeSuggester{reply: &recipes.Reply{AssistantMessage: "Try fried rice."}}

	h := New(Deps{
		Chats:    services.NewChatService(db, chatRepo{}),
		Messages: &services.MessageService{DB: db, Pantry: store, Recipes: sg, MaxPromptRunes: 50},
		Tables:   tables,
		Receipts: &services.ReceiptService{Extractor: ex, Policy: extract.NewKeywordPolicy(), Tables: tables},
		Pantry:   store,
		DB:       db,

		MaxUploadBytes: 1 << 10,
		MaxPromptRunes: 50,
	})

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-test"); c.Next() })
	register(r.Group(""), h)
	return &env{db: db, store: store, backend: backend, tables: tables, extractor: ex, suggester: sg, h: h, r: r}
}

// register mirrors the routes mounted by the router.
func register(g *gin.RouterGroup, h *Handlers) {
	g.POST("/chats", h.CreateChat)
	g.GET("/chats", h.ListChats)
	g.PUT("/chats/:id/title", h.UpdateChatTitle)
	g.GET("/chats/:id/messages", h.ListMessages)
	g.POST("/chats/:id/messages", h.PostMessage)

	g.POST("/receipts", h.ScanReceipt)

	g.GET("/tables/:id", h.GetTable)
	g.DELETE("/tables/:id", h.DeleteTable)
	g.POST("/tables/:id/rows", h.AddRow)
	g.POST("/tables/:id/rows/:rowId/edit", h.StartEdit)
	g.PUT("/tables/:id/rows/:rowId", h.SaveRow)
	g.POST("/tables/:id/rows/:rowId/cancel", h.CancelEdit)
	g.DELETE("/tables/:id/rows/:rowId", h.RemoveRow)
	g.POST("/tables/:id/accept", h.AcceptTable)

	g.GET("/pantry", h.GetPantry)
	g.PUT("/pantry", h.ReplacePantry)
	g.DELETE("/pantry", h.ClearPantry)
	g.POST("/pantry/items", h.UpsertPantryItem)
	g.PUT("/pantry/items/:name", h.UpdatePantryItem)
	g.DELETE("/pantry/items/:name", h.DeletePantryItem)
	g.POST("/pantry/merge", h.MergePantry)
	g.GET("/pantry/export", h.ExportPantry)
	g.POST("/pantry/tables", h.CreatePantryTable)
}

func (e *env) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		buf, _ := json.Marshal(b)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d; want %d (body=%s)", w.Code, status, w.Body.String())
	}
	e := decode[ErrorResponse](t, w)
	if e.Code != code || e.RequestID != "rid-test" {
		t.Fatalf("error = %+v; want code %q", e, code)
	}
}

func names(items []domain.PantryItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ItemName)
	}
	return out
}
