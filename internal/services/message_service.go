// Package services – MessageService
//
// This file implements MessageService, which owns recipe conversations. For
// each user message it re-reads the pantry, sends the recent history to the
// recipe service, and stores the user/assistant pair atomically. A failed
// upstream call stores nothing.
//
// It also auto-generates a chat title from the first user prompt when the
// chat still has a placeholder title.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/recipes"
	"github.com/tbourn/scan2serve/internal/repo"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"

	// placeholder titles eligible for auto-generation
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"
)

// PantryLoader reads the current pantry from storage.
type PantryLoader interface {
	Load(ctx context.Context) ([]domain.PantryItem, error)
}

// Suggester produces recipe replies.
type Suggester interface {
	Suggest(ctx context.Context, req recipes.Request) (*recipes.Reply, error)
}

// MessageService coordinates chat turns with the recipe service.
type MessageService struct {
	DB      *gorm.DB
	Pantry  PantryLoader
	Recipes Suggester

	// MaxPromptRunes rejects longer prompts when > 0.
	MaxPromptRunes int

	TitleLocale language.Tag
	TitleMaxLen int
}

// Exchange is the pair of messages stored by a successful Send.
type Exchange struct {
	User      *domain.Message `json:"user"`
	Assistant *domain.Message `json:"assistant"`
}

// Send validates text, asks for suggestions grounded in the latest pantry,
// and persists both turns. constraints is passed through to the service.
func (s *MessageService) Send(ctx context.Context, chatID, text string, constraints map[string]any) (*Exchange, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send", trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(text) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}

	chat, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	// Always the stored pantry, never a cached copy.
	items, err := s.Pantry.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pantry: %w", err)
	}

	history, err := repo.ListRecentMessages(ctx, s.DB, chatID, recipes.MaxMessages-1)
	if err != nil {
		return nil, err
	}
	turns := make([]recipes.Turn, 0, len(history)+1)
	for _, m := range history {
		turns = append(turns, recipes.Turn{Role: m.Role, Content: m.Content})
	}
	turns = append(turns, recipes.Turn{Role: roleUser, Content: text})
	span.SetAttributes(attribute.Int("chat.turns", len(turns)), attribute.Int("pantry.items", len(items)))

	reply, err := s.Recipes.Suggest(ctx, recipes.Request{
		Messages:    turns,
		Pantry:      items,
		Constraints: constraints,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "suggest failed")
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	out := &Exchange{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := repo.CreateMessage(ctx, tx, chatID, roleUser, text, nil)
		if err != nil {
			return err
		}
		a, err := repo.CreateMessage(ctx, tx, chatID, roleAssistant, reply.AssistantMessage, reply.Recipes)
		if err != nil {
			return err
		}
		out.User, out.Assistant = u, a

		if s.shouldAutoTitle(chat.Title) {
			if gen := s.clipTitle(s.generateTitleFromPrompt(text)); gen != "" {
				if err := repo.UpdateChatTitle(ctx, tx, chatID, gen); err != nil {
					return err
				}
			}
		}
		return repo.TouchChat(ctx, tx, chatID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPage returns paginated messages for a chat, oldest first.
func (s *MessageService) ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrChatNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, offset, pageSize)
	return items, total, err
}

// shouldAutoTitle reports whether the current title is a placeholder.
func (s *MessageService) shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// generateTitleFromPrompt derives a concise title from the prompt.
func (s *MessageService) generateTitleFromPrompt(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.TitleLocaleOrDefault())
	out := make([]string, 0, 6)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 6 {
			break
		}
	}
	return strings.Join(out, " ")
}

// clipTitle truncates a generated title to the configured maximum rune length.
func (s *MessageService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

// TitleLocaleOrDefault returns the configured locale for casing or English if unset.
func (s *MessageService) TitleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// Letters with optional trailing digits.
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {},
	"i": {}, "me": {}, "my": {}, "can": {}, "could": {}, "what": {}, "some": {},
	"please": {}, "make": {}, "cook": {}, "give": {}, "suggest": {}, "something": {},
}
