// Package httpapi wires the HTTP transport (Gin) to the pantry, table,
// receipt and chat services, the middleware chain, and route handlers. It
// centralizes cross-cutting concerns such as tracing, correlation IDs,
// redacted logging, panic recovery, compression, metrics, idempotent
// replays, rate limiting, CORS, and security headers.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	_ "github.com/tbourn/scan2serve/docs" // registers swagger docs

	"github.com/tbourn/scan2serve/internal/config"
	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/extract"
	"github.com/tbourn/scan2serve/internal/http/handlers"
	"github.com/tbourn/scan2serve/internal/http/middleware"
	"github.com/tbourn/scan2serve/internal/pantry"
	"github.com/tbourn/scan2serve/internal/recipes"
	"github.com/tbourn/scan2serve/internal/repo"
	"github.com/tbourn/scan2serve/internal/services"
	"github.com/tbourn/scan2serve/internal/upstream"
)

// uploadSlack is how far the global body limit sits above MaxUploadBytes so
// multipart framing around a maximal image still fits. The receipt handler
// enforces the exact cap.
const uploadSlack = 1 << 20

// chatRepoShim adapts the repository free functions to services.ChatRepo.
type chatRepoShim struct{}

func (chatRepoShim) CreateChat(ctx context.Context, db *gorm.DB, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, title)
}

func (chatRepoShim) GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id)
}

func (chatRepoShim) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	return repo.UpdateChatTitle(ctx, db, id, title)
}

func (chatRepoShim) CountChats(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountChats(ctx, db)
}

func (chatRepoShim) ListChatsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, offset, limit)
}

// idempotencyStore keeps replayable responses in the idempotency table.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idempotencyStore) Lookup(ctx context.Context, scope, key string, now time.Time) (*middleware.StoredResponse, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &middleware.StoredResponse{Status: rec.Status, Body: []byte(rec.Body)}, nil
}

// Save ignores a concurrent duplicate: the first recorded response wins.
func (s idempotencyStore) Save(ctx context.Context, scope, key string, resp middleware.StoredResponse) error {
	_, err := repo.CreateIdempotency(ctx, s.db, scope, key, resp.Status, string(resp.Body), s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// App exposes the services that need background work from main.
type App struct {
	Tables *services.TableService
	Pantry *pantry.Store
}

// Options overrides collaborators that are otherwise built from cfg.
type Options struct {
	Extractor services.Extractor
	Suggester services.Suggester
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r and
// returns the live services.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. gzip (so replays are recorded uncompressed)
//  7. Metrics
//  8. Idempotency replay (before the limiter so retries are not throttled)
//  9. Rate limiter per IP
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, opts ...Options) *App {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.LogOptions{
		MaskHeaders: []string{"X-Api-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxUploadBytes + uploadSlack))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.Idempotency(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyStore{db: db, ttl: cfg.IdempotencyTTL},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP(), "/health", "/metrics")
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStorePaths: []string{joinPath(apiBase, "/pantry"), joinPath(apiBase, "/tables")},
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// services ← repo/db/upstream
	store := pantry.New(pantry.SQLBackend{DB: db}, cfg.PantrySlot)
	tables := services.NewTableService(store, cfg.TableTTL)

	extractor := o.Extractor
	if extractor == nil {
		extractor = extract.NewClient(upstream.New(cfg.Upstream.ExtractURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout))
	}
	suggester := o.Suggester
	if suggester == nil {
		suggester = &recipes.Client{Upstream: upstream.New(cfg.Upstream.ChatURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout)}
	}

	h := handlers.New(handlers.Deps{
		Chats: services.NewChatService(db, chatRepoShim{}),
		Messages: &services.MessageService{
			DB:             db,
			Pantry:         store,
			Recipes:        suggester,
			MaxPromptRunes: cfg.MaxPromptRunes,
			TitleLocale:    language.English,
		},
		Tables:         tables,
		Receipts:       &services.ReceiptService{Extractor: extractor, Policy: extract.NewKeywordPolicy(), Tables: tables},
		Pantry:         store,
		DB:             db,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxPromptRunes: cfg.MaxPromptRunes,
	})

	api := groupWithPrefix(r, apiBase)
	{
		// Receipts and editing tables
		api.POST("/receipts", h.ScanReceipt)
		api.GET("/tables/:id", h.GetTable)
		api.DELETE("/tables/:id", h.DeleteTable)
		api.POST("/tables/:id/rows", h.AddRow)
		api.POST("/tables/:id/rows/:rowId/edit", h.StartEdit)
		api.PUT("/tables/:id/rows/:rowId", h.SaveRow)
		api.POST("/tables/:id/rows/:rowId/cancel", h.CancelEdit)
		api.DELETE("/tables/:id/rows/:rowId", h.RemoveRow)
		api.POST("/tables/:id/accept", h.AcceptTable)

		// Pantry
		api.GET("/pantry", h.GetPantry)
		api.PUT("/pantry", h.ReplacePantry)
		api.DELETE("/pantry", h.ClearPantry)
		api.POST("/pantry/items", h.UpsertPantryItem)
		api.PUT("/pantry/items/:name", h.UpdatePantryItem)
		api.DELETE("/pantry/items/:name", h.DeletePantryItem)
		api.POST("/pantry/merge", h.MergePantry)
		api.GET("/pantry/export", h.ExportPantry)
		api.POST("/pantry/tables", h.CreatePantryTable)

		// Recipe chats
		api.POST("/chats", h.CreateChat)
		api.GET("/chats", h.ListChats)
		api.PUT("/chats/:id/title", h.UpdateChatTitle)
		api.GET("/chats/:id/messages", h.ListMessages)
		api.POST("/chats/:id/messages", h.PostMessage)
	}

	return &App{Tables: tables, Pantry: store}
}

// corsMiddleware allows every origin when none are configured, otherwise
// only the listed ones.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "X-Request-ID",
			middleware.HeaderIdempotencyKey, "If-None-Match",
		},
		ExposeHeaders:    []string{"X-Request-ID", middleware.HeaderIdempotencyReplayed, "ETag", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// limitBody caps the request body for all endpoints to maxBytes using
// http.MaxBytesReader. Requests over the cap fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
