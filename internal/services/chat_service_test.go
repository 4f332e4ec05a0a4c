package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/scan2serve/internal/domain"
)

// ----- Fake repo -----

type fakeChatRepo struct {
	createTitle string

	getID   string
	getChat *domain.Chat
	getErr  error

	updateID    string
	updateTitle string
	updateErr   error

	countTotal int64
	countErr   error

	pageOffset int
	pageLimit  int
	pageItems  []domain.Chat
	pageErr    error
}

func (r *fakeChatRepo) CreateChat(ctx context.Context, db *gorm.DB, title string) (*domain.Chat, error) {
	r.createTitle = title
	return &domain.Chat{ID: "c1", Title: title}, nil
}

func (r *fakeChatRepo) GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	r.getID = id
	if r.getErr != nil {
		return nil, r.getErr
	}
	if r.getChat != nil {
		return r.getChat, nil
	}
	return &domain.Chat{ID: id}, nil
}

func (r *fakeChatRepo) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	r.updateID, r.updateTitle = id, title
	return r.updateErr
}

func (r *fakeChatRepo) CountChats(ctx context.Context, db *gorm.DB) (int64, error) {
	return r.countTotal, r.countErr
}

func (r *fakeChatRepo) ListChatsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chat, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, r.pageErr
}

// ----- Tests -----

func TestNewChatService_Defaults(t *testing.T) {
	s := NewChatService(nil, &fakeChatRepo{})
	if s.TitleMaxLen != 60 {
		t.Fatalf("TitleMaxLen = %d; want 60", s.TitleMaxLen)
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := normalizeTitle("  Quick \t\n pasta   ideas "); got != "Quick pasta ideas" {
		t.Fatalf("normalizeTitle = %q", got)
	}
}

func TestClip_UsesRunesNotBytes(t *testing.T) {
	s := &ChatService{TitleMaxLen: 3}
	if got := s.clip("épées"); got != "épé" || utf8.RuneCountInString(got) != 3 {
		t.Fatalf("clip = %q", got)
	}
}

func TestCreate_DefaultTitleWhenBlank_AndClipped(t *testing.T) {
	r := &fakeChatRepo{}
	s := NewChatService(nil, r)

	if _, err := s.Create(context.Background(), "   "); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.createTitle != "New chat" {
		t.Fatalf("title = %q; want New chat", r.createTitle)
	}

	s.TitleMaxLen = 5
	if _, err := s.Create(context.Background(), "  Weeknight   dinners "); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.createTitle != "Weekn" {
		t.Fatalf("title = %q; want clipped Weekn", r.createTitle)
	}
}

func TestListPage_DefaultsAndTotalZero(t *testing.T) {
	r := &fakeChatRepo{}
	s := NewChatService(nil, r)
	items, total, err := s.ListPage(context.Background(), 0, 0)
	if err != nil || total != 0 || len(items) != 0 || items == nil {
		t.Fatalf("got (%v, %d, %v); want empty non-nil slice", items, total, err)
	}
}

func TestListPage_CountError(t *testing.T) {
	r := &fakeChatRepo{countErr: errors.New("boom")}
	if _, _, err := NewChatService(nil, r).ListPage(context.Background(), 1, 10); err == nil {
		t.Fatalf("expected count error")
	}
}

func TestListPage_OffsetLimit(t *testing.T) {
	r := &fakeChatRepo{countTotal: 25, pageItems: []domain.Chat{{ID: "x"}}}
	items, total, err := NewChatService(nil, r).ListPage(context.Background(), 3, 10)
	if err != nil || total != 25 || len(items) != 1 {
		t.Fatalf("got (%v, %d, %v)", items, total, err)
	}
	if r.pageOffset != 20 || r.pageLimit != 10 {
		t.Fatalf("offset/limit = %d/%d; want 20/10", r.pageOffset, r.pageLimit)
	}
}

func TestUpdateTitle_NotFoundMapsToErrChatNotFound(t *testing.T) {
	r := &fakeChatRepo{getErr: gorm.ErrRecordNotFound}
	if err := NewChatService(nil, r).UpdateTitle(context.Background(), "c1", "x"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestUpdateTitle_RepoGetOtherError(t *testing.T) {
	r := &fakeChatRepo{getErr: errors.New("db down")}
	err := NewChatService(nil, r).UpdateTitle(context.Background(), "c1", "x")
	if err == nil || errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected raw error, got %v", err)
	}
}

func TestUpdateTitle_BlankBecomesUntitled_AndNormalized(t *testing.T) {
	r := &fakeChatRepo{}
	s := NewChatService(nil, r)

	if err := s.UpdateTitle(context.Background(), "c9", "  "); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	if r.updateID != "c9" || r.updateTitle != "Untitled" {
		t.Fatalf("update = (%q, %q)", r.updateID, r.updateTitle)
	}

	long := strings.Repeat("a", 80)
	if err := s.UpdateTitle(context.Background(), "c9", long); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	if utf8.RuneCountInString(r.updateTitle) != 60 {
		t.Fatalf("title not clipped: %d runes", utf8.RuneCountInString(r.updateTitle))
	}
}
