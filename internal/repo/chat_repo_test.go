package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/scan2serve/internal/domain"
)

func TestCreateChat_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	chat, err := CreateChat(context.Background(), db, "t")
	if err == nil || chat != nil {
		t.Fatalf("expected error creating without table, got chat=%v err=%v", chat, err)
	}
}

func TestCreateChat_Success_PersistsAndSetsFields(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})

	start := time.Now().UTC().Add(-time.Minute)
	chat, err := CreateChat(context.Background(), db, "Dinner ideas")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID == "" || chat.Title != "Dinner ideas" {
		t.Fatalf("unexpected Chat fields: %+v", chat)
	}
	if chat.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", chat.CreatedAt)
	}
	got, err := GetChat(context.Background(), db, chat.ID)
	if err != nil || got.Title != "Dinner ideas" {
		t.Fatalf("round-trip mismatch: got=%+v err=%v", got, err)
	}
}

func TestListChatsPage_OrderAndPagination(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})

	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC) // oldest
	seed := []domain.Chat{
		{ID: "a", Title: "A", CreatedAt: t1, UpdatedAt: t1},
		{ID: "b", Title: "B", CreatedAt: t1.Add(time.Hour), UpdatedAt: t1},
		{ID: "c", Title: "C", CreatedAt: t1.Add(2 * time.Hour), UpdatedAt: t1},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	total, err := CountChats(context.Background(), db)
	if err != nil || total != 3 {
		t.Fatalf("CountChats = (%d, %v); want (3, nil)", total, err)
	}

	page1, err := ListChatsPage(context.Background(), db, 0, 2)
	if err != nil {
		t.Fatalf("ListChatsPage: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "c" || page1[1].ID != "b" {
		t.Fatalf("page1 = %+v; want [c b]", page1)
	}
	page2, err := ListChatsPage(context.Background(), db, 2, 2)
	if err != nil {
		t.Fatalf("ListChatsPage: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != "a" {
		t.Fatalf("page2 = %+v; want [a]", page2)
	}
}

func TestGetChat_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	if _, err := GetChat(context.Background(), db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateChatTitle(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	ctx := context.Background()

	if err := UpdateChatTitle(ctx, db, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing chat, got %v", err)
	}

	c, _ := CreateChat(ctx, db, "old")
	if err := UpdateChatTitle(ctx, db, c.ID, "new"); err != nil {
		t.Fatalf("UpdateChatTitle: %v", err)
	}
	got, _ := GetChat(ctx, db, c.ID)
	if got.Title != "new" {
		t.Fatalf("title = %q; want new", got.Title)
	}
}

func TestTouchChat_BumpsUpdatedAt(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	ctx := context.Background()

	old := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &domain.Chat{ID: "c1", Title: "t", CreatedAt: old, UpdatedAt: old}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := TouchChat(ctx, db, "c1"); err != nil {
		t.Fatalf("TouchChat: %v", err)
	}
	got, _ := GetChat(ctx, db, "c1")
	if !got.UpdatedAt.After(old) {
		t.Fatalf("UpdatedAt not bumped: %v", got.UpdatedAt)
	}
}
