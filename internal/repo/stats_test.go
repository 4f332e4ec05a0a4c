package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/scan2serve/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestChatsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := ChatsStats(context.Background(), db); err == nil {
		t.Fatalf("expected error due to missing chats table")
	}
}

func TestChatsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	count, maxAt, err := ChatsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("ChatsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestChatsStats_CountAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max
	t3 := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{t1, t2, t3} {
		c := &domain.Chat{ID: fmt.Sprintf("c%d", i), Title: "x", CreatedAt: ts, UpdatedAt: ts}
		if err := db.Create(c).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	count, maxAt, err := ChatsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("ChatsStats: %v", err)
	}
	if count != 3 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("got (%d, %v); want (3, %v)", count, maxAt, t2)
	}
}

func TestMessagesStats_FilterByChat(t *testing.T) {
	db := newTestDB(t, &domain.Chat{}, &domain.Message{})
	ctx := context.Background()

	a, _ := CreateChat(ctx, db, "a")
	b, _ := CreateChat(ctx, db, "b")
	if _, err := CreateMessage(ctx, db, a.ID, "user", "one", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := CreateMessage(ctx, db, a.ID, "assistant", "two", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := CreateMessage(ctx, db, b.ID, "user", "other", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, maxAt, err := MessagesStats(ctx, db, a.ID)
	if err != nil {
		t.Fatalf("MessagesStats: %v", err)
	}
	if count != 2 || maxAt == nil {
		t.Fatalf("got (%d, %v); want (2, non-nil)", count, maxAt)
	}

	count, maxAt, err = MessagesStats(ctx, db, "missing")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("missing chat: got (%d, %v, %v)", count, maxAt, err)
	}
}
