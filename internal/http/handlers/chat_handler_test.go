package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/recipes"
	"github.com/tbourn/scan2serve/internal/upstream"
)

func TestCreateChat_DefaultTitleAndBadJSON(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/chats", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if ch := decode[domain.Chat](t, w); ch.Title != "New chat" || ch.ID == "" {
		t.Fatalf("chat = %+v", ch)
	}

	w = e.do(http.MethodPost, "/chats", map[string]string{"title": "  Soup   ideas "})
	if ch := decode[domain.Chat](t, w); ch.Title != "Soup ideas" {
		t.Fatalf("title = %q", ch.Title)
	}

	wantError(t, e.do(http.MethodPost, "/chats", "{not json"), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestListChats_PaginationAndETag(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		e.do(http.MethodPost, "/chats", nil)
	}

	w := e.do(http.MethodGet, "/chats?page=1&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[ListChatsResponse](t, w)
	if len(resp.Chats) != 2 || resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 2 || !resp.Pagination.HasNext {
		t.Fatalf("resp = %+v", resp.Pagination)
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"chats:1:2:3:`) {
		t.Fatalf("etag = %q", etag)
	}

	if w := e.do(http.MethodGet, "/chats?page=1&page_size=2", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional status = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/chats?page=2&page_size=2", nil, "If-None-Match", etag); w.Code != http.StatusOK {
		t.Fatalf("other page must not match: %d", w.Code)
	}
}

func TestClampPagination(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/chats?page=-3&page_size=1000", nil)
	p := decode[ListChatsResponse](t, w).Pagination
	if p.Page != 1 || p.PageSize != 100 {
		t.Fatalf("pagination = %+v", p)
	}
}

func TestUpdateChatTitle(t *testing.T) {
	e := newEnv(t)
	ch := decode[domain.Chat](t, e.do(http.MethodPost, "/chats", nil))

	wantError(t, e.do(http.MethodPut, "/chats/not-a-uuid/title", map[string]string{"title": "x"}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodPut, "/chats/"+ch.ID+"/title", map[string]string{"title": "   "}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodPut, "/chats/"+uuid.NewString()+"/title", map[string]string{"title": "x"}), http.StatusNotFound, ErrCodeNotFound)

	if w := e.do(http.MethodPut, "/chats/"+ch.ID+"/title", map[string]string{"title": "Pasta week"}); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	list := decode[ListChatsResponse](t, e.do(http.MethodGet, "/chats", nil))
	if list.Chats[0].Title != "Pasta week" {
		t.Fatalf("title = %q", list.Chats[0].Title)
	}
}

func TestPostMessage_StoresBothTurnsWithPantry(t *testing.T) {
	e := newEnv(t)
	e.do(http.MethodPost, "/pantry/items", map[string]any{"itemName": "Eggs", "perishable": "Yes", "lastPrice": 3})
	e.suggester.reply = &recipes.Reply{
		AssistantMessage: "Make an omelette.",
		Recipes:          []domain.Recipe{{Title: "Omelette", Missing: []string{}}},
	}
	ch := decode[domain.Chat](t, e.do(http.MethodPost, "/chats", nil))

	w := e.do(http.MethodPost, "/chats/"+ch.ID+"/messages", map[string]any{
		"content":     "dinner\r\n\r\n\r\n\r\nwith eggs?",
		"constraints": map[string]any{"diet": "vegetarian", "max_minutes": 20, "extra": map[string]any{"spicy": true}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	resp := decode[PostMessageResponse](t, w)
	if resp.User.Content != "dinner\n\nwith eggs?" || resp.Assistant.Content != "Make an omelette." {
		t.Fatalf("resp = %+v / %+v", resp.User, resp.Assistant)
	}
	if len(resp.Assistant.Recipes) != 1 || resp.Assistant.Recipes[0].Title != "Omelette" {
		t.Fatalf("recipes = %+v", resp.Assistant.Recipes)
	}

	last := e.suggester.last
	if len(last.Pantry) != 1 || last.Pantry[0].ItemName != "Eggs" {
		t.Fatalf("pantry sent = %+v", last.Pantry)
	}
	if last.Constraints["diet"] != "vegetarian" || last.Constraints["max_minutes"] != 20 || last.Constraints["spicy"] != true {
		t.Fatalf("constraints sent = %v", last.Constraints)
	}

	list := decode[ListMessagesResponse](t, e.do(http.MethodGet, "/chats/"+ch.ID+"/messages", nil))
	if list.Pagination.Total != 2 || list.Messages[0].Role != "user" || list.Messages[1].Role != "assistant" {
		t.Fatalf("messages = %+v", list)
	}
}

func TestPostMessage_Validation(t *testing.T) {
	e := newEnv(t)
	ch := decode[domain.Chat](t, e.do(http.MethodPost, "/chats", nil))
	path := "/chats/" + ch.ID + "/messages"

	wantError(t, e.do(http.MethodPost, "/chats/nope/messages", map[string]string{"content": "hi"}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodPost, path, map[string]string{}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodPost, path, map[string]string{"content": " \n\n "}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodPost, path, map[string]string{"content": strings.Repeat("é", 51)}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodPost, path, map[string]any{"content": "hi", "constraints": map[string]any{"servings": 0, "max_minutes": -1}}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodPost, "/chats/"+uuid.NewString()+"/messages", map[string]string{"content": "hi"}), http.StatusNotFound, ErrCodeNotFound)
}

func TestPostMessage_UpstreamFailureStoresNothing(t *testing.T) {
	e := newEnv(t)
	ch := decode[domain.Chat](t, e.do(http.MethodPost, "/chats", nil))
	e.suggester.err = &upstream.Error{Message: "service timed out", Err: errors.New("deadline")}

	w := e.do(http.MethodPost, "/chats/"+ch.ID+"/messages", map[string]string{"content": "anything quick?"})
	wantError(t, w, http.StatusBadGateway, ErrCodeUpstreamFailed)
	if msg := decode[ErrorResponse](t, w).Message; msg != "service timed out" {
		t.Fatalf("message = %q", msg)
	}

	list := decode[ListMessagesResponse](t, e.do(http.MethodGet, "/chats/"+ch.ID+"/messages", nil))
	if list.Pagination.Total != 0 || len(list.Messages) != 0 {
		t.Fatalf("nothing should be stored: %+v", list)
	}
}

func TestListMessages_ETagAndErrors(t *testing.T) {
	e := newEnv(t)
	ch := decode[domain.Chat](t, e.do(http.MethodPost, "/chats", nil))
	e.do(http.MethodPost, "/chats/"+ch.ID+"/messages", map[string]string{"content": "soup"})

	w := e.do(http.MethodGet, "/chats/"+ch.ID+"/messages", nil)
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	if w := e.do(http.MethodGet, "/chats/"+ch.ID+"/messages", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("status = %d", w.Code)
	}

	wantError(t, e.do(http.MethodGet, "/chats/bad/messages", nil), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, e.do(http.MethodGet, "/chats/"+uuid.NewString()+"/messages", nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestSanitizeContent(t *testing.T) {
	cases := map[string]string{
		"  hi  ":             "hi",
		"a\r\nb":             "a\nb",
		"a\rb":               "a\nb",
		"a\n\n\n\n\nb":       "a\n\nb",
		"\n\n  para \n\n\n ": "para",
	}
	for in, want := range cases {
		if got := sanitizeContent(in); got != want {
			t.Errorf("sanitizeContent(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestConstraintsAsMap(t *testing.T) {
	var nilK *Constraints
	if nilK.asMap() != nil {
		t.Fatal("nil constraints should map to nil")
	}
	m := (&Constraints{Diet: " vegan ", Avoid: []string{"nuts"}, Extra: map[string]any{"diet": "ignored"}}).asMap()
	if m["diet"] != "vegan" || len(m["avoid"].([]string)) != 1 {
		t.Fatalf("map = %v", m)
	}
	if _, ok := m["servings"]; ok {
		t.Fatal("zero servings should be omitted")
	}
}
