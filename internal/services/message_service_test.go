package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/recipes"
	"github.com/tbourn/scan2serve/internal/repo"
	"github.com/tbourn/scan2serve/internal/upstream"
)

// ---------- test helpers ----------

func newMsgDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:msgsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

type fakePantry struct {
	items []domain.PantryItem
	err   error
	loads int
}

func (f *fakePantry) Load(context.Context) ([]domain.PantryItem, error) {
	f.loads++
	return f.items, f.err
}

type fakeSuggester struct {
	got   recipes.Request
	reply *recipes.Reply
	err   error
}

func (f *fakeSuggester) Suggest(_ context.Context, req recipes.Request) (*recipes.Reply, error) {
	f.got = req
	return f.reply, f.err
}

func newMsgService(t *testing.T) (*MessageService, *fakePantry, *fakeSuggester) {
	t.Helper()
	db := newMsgDB(t, &domain.Chat{}, &domain.Message{})
	p := &fakePantry{items: []domain.PantryItem{{ItemName: "Eggs", TimesSeen: 1}}}
	sg := &fakeSuggester{reply: &recipes.Reply{
		AssistantMessage: "Try an omelette.",
		Recipes:          []domain.Recipe{{Title: "Omelette", Missing: []string{}}},
	}}
	return &MessageService{DB: db, Pantry: p, Recipes: sg}, p, sg
}

// ---------- Send() ----------

func TestSend_Validation(t *testing.T) {
	s, _, _ := newMsgService(t)
	if _, err := s.Send(context.Background(), "c1", "   ", nil); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	s.MaxPromptRunes = 3
	if _, err := s.Send(context.Background(), "c1", "abcd", nil); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	s.MaxPromptRunes = 0
	if _, err := s.Send(context.Background(), "missing", "hello", nil); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestSend_Success_PersistsPairAndAutoTitles(t *testing.T) {
	s, p, sg := newMsgService(t)
	ctx := context.Background()
	chat, _ := repo.CreateChat(ctx, s.DB, "New chat")

	ex, err := s.Send(ctx, chat.ID, "  what can I make with eggs and spinach ", map[string]any{"diet": "vegetarian"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ex.User.Content != "what can I make with eggs and spinach" || ex.Assistant.Content != "Try an omelette." {
		t.Fatalf("unexpected exchange: user=%q assistant=%q", ex.User.Content, ex.Assistant.Content)
	}
	if p.loads != 1 {
		t.Fatalf("pantry should be re-read once, got %d", p.loads)
	}
	if diff := cmp.Diff(p.items, sg.got.Pantry); diff != "" {
		t.Fatalf("pantry sent (-want +got):\n%s", diff)
	}
	if sg.got.Constraints["diet"] != "vegetarian" {
		t.Fatalf("constraints not forwarded: %+v", sg.got.Constraints)
	}

	msgs, total, err := s.ListPage(ctx, chat.ID, 1, 10)
	if err != nil || total != 2 {
		t.Fatalf("ListPage = (%d, %v)", total, err)
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" || len(msgs[1].Recipes) != 1 {
		t.Fatalf("unexpected stored messages: %+v", msgs)
	}

	got, _ := repo.GetChat(ctx, s.DB, chat.ID)
	if got.Title != "Eggs Spinach" {
		t.Fatalf("auto title = %q; want %q", got.Title, "Eggs Spinach")
	}
}

func TestSend_HistoryIsTrimmedToLastTurns(t *testing.T) {
	s, _, sg := newMsgService(t)
	ctx := context.Background()
	chat, _ := repo.CreateChat(ctx, s.DB, "Dinner")

	for i := 0; i < 12; i++ {
		if _, err := s.Send(ctx, chat.ID, fmt.Sprintf("q%d", i), nil); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	// 24 stored turns, so the next request carries 19 of them plus the new one.
	if _, err := s.Send(ctx, chat.ID, "last", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sg.got.Messages) != recipes.MaxMessages {
		t.Fatalf("sent %d turns; want %d", len(sg.got.Messages), recipes.MaxMessages)
	}
	if last := sg.got.Messages[len(sg.got.Messages)-1]; last.Content != "last" || last.Role != "user" {
		t.Fatalf("last turn = %+v", last)
	}

	got, _ := repo.GetChat(ctx, s.DB, chat.ID)
	if got.Title != "Dinner" {
		t.Fatalf("custom title should not be replaced, got %q", got.Title)
	}
}

func TestSend_UpstreamFailure_PersistsNothing(t *testing.T) {
	s, _, sg := newMsgService(t)
	ctx := context.Background()
	chat, _ := repo.CreateChat(ctx, s.DB, "New chat")
	sg.err = &upstream.Error{Status: 502, Message: "model overloaded"}

	_, err := s.Send(ctx, chat.ID, "hello", nil)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.Message != "model overloaded" {
		t.Fatalf("upstream message lost: %v", err)
	}
	n, _ := repo.CountMessages(ctx, s.DB, chat.ID)
	if n != 0 {
		t.Fatalf("expected no stored messages, got %d", n)
	}
}

func TestSend_PantryLoadError(t *testing.T) {
	s, p, _ := newMsgService(t)
	ctx := context.Background()
	chat, _ := repo.CreateChat(ctx, s.DB, "x")
	p.err = errors.New("slot unreadable")
	if _, err := s.Send(ctx, chat.ID, "hello", nil); err == nil || errors.Is(err, ErrUpstream) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

// ---------- ListPage() ----------

func TestMessageService_ListPage_ChatNotFound(t *testing.T) {
	s, _, _ := newMsgService(t)
	if _, _, err := s.ListPage(context.Background(), "nope", 1, 10); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestMessageService_ListPage_EmptyChat(t *testing.T) {
	s, _, _ := newMsgService(t)
	chat, _ := repo.CreateChat(context.Background(), s.DB, "x")
	items, total, err := s.ListPage(context.Background(), chat.ID, 0, 0)
	if err != nil || total != 0 || items == nil {
		t.Fatalf("got (%v, %d, %v)", items, total, err)
	}
}

// ---------- title helpers ----------

func TestTitleHelpers(t *testing.T) {
	s := &MessageService{}
	for in, want := range map[string]bool{"": true, "New chat": true, " untitled ": true, "Pasta night": false} {
		if got := s.shouldAutoTitle(in); got != want {
			t.Errorf("shouldAutoTitle(%q) = %v; want %v", in, got, want)
		}
	}
	if got := s.generateTitleFromPrompt("the and of"); got != "" {
		t.Fatalf("all stop words should give empty title, got %q", got)
	}
	s.TitleMaxLen = 4
	if got := s.clipTitle("Shakshuka"); got != "Shak" {
		t.Fatalf("clipTitle = %q", got)
	}
}
