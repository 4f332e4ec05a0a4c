// Package services – ChatService
//
// This file implements the ChatService, which manages recipe chats. It
// validates and normalizes titles and coordinates repository operations for
// creating, listing (with pagination), and renaming chats. Automatic titles
// are produced by MessageService on the first user message.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/scan2serve/internal/domain"
)

// ChatRepo defines the repository contract required by ChatService.
type ChatRepo interface {
	CreateChat(ctx context.Context, db *gorm.DB, title string) (*domain.Chat, error)
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)
	UpdateChatTitle(ctx context.Context, db *gorm.DB, id, title string) error
	CountChats(ctx context.Context, db *gorm.DB) (int64, error)
	ListChatsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chat, error)
}

// ChatService provides chat-level operations.
type ChatService struct {
	DB   *gorm.DB
	Repo ChatRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewChatService constructs a ChatService with default title handling.
func NewChatService(db *gorm.DB, r ChatRepo) *ChatService {
	return &ChatService{DB: db, Repo: r, TitleMaxLen: 60}
}

// Create inserts a new chat. A blank title becomes "New chat".
func (s *ChatService) Create(ctx context.Context, title string) (*domain.Chat, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Create")
	defer span.End()

	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleNew
	}
	return s.Repo.CreateChat(ctx, s.DB, s.clip(title))
}

// ListPage returns a page of chats, newest first, and the total count.
func (s *ChatService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Chat, int64, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "ListPage",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountChats(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}
	items, err := s.Repo.ListChatsPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// UpdateTitle renames a chat. A blank title becomes "Untitled".
func (s *ChatService) UpdateTitle(ctx context.Context, chatID, title string) error {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "UpdateTitle",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()

	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleUntitled
	}
	if _, err := s.Repo.GetChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	return s.Repo.UpdateChatTitle(ctx, s.DB, chatID, s.clip(title))
}

func (s *ChatService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
