// Package domain defines the core types of the pantry tracker: pantry items
// as they live in the durable slot, and the GORM persistence models for the
// slot itself, recipe chats, and their messages.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Perishable is the two-valued perishability flag carried by rows and items.
type Perishable string

const (
	PerishableYes Perishable = "Yes"
	PerishableNo  Perishable = "No"
)

// ParsePerishable accepts "Yes"/"No" (case-insensitive, trimmed).
func ParsePerishable(s string) (Perishable, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return PerishableYes, true
	case "no":
		return PerishableNo, true
	}
	return "", false
}

// PerishableFromBool maps the extraction service's boolean guess.
func PerishableFromBool(b bool) Perishable {
	if b {
		return PerishableYes
	}
	return PerishableNo
}

// Valid reports whether p is one of the two allowed values.
func (p Perishable) Valid() bool { return p == PerishableYes || p == PerishableNo }

// UnmarshalJSON accepts the string form as well as the boolean form written
// by older clients. Unknown strings are kept verbatim.
func (p *Perishable) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*p = ""
	case bool:
		*p = PerishableFromBool(x)
	case string:
		if parsed, ok := ParsePerishable(x); ok {
			*p = parsed
		} else {
			*p = Perishable(x)
		}
	default:
		*p = ""
	}
	return nil
}

// PantryItem is one entry of the persisted pantry. Its identity is the
// normalized form of ItemName, which is never stored separately.
//
// Fields:
//   - ItemName: display name, latest casing wins.
//   - Perishable: "Yes" or "No" (may be empty for items merged without a guess).
//   - LastPrice: most recent non-zero price, two decimals.
//   - TimesSeen: sighting counter, >= 1.
//   - UpdatedAt: ms since epoch of the last mutation.
type PantryItem struct {
	ItemName   string     `json:"itemName"`
	Perishable Perishable `json:"perishable,omitempty"`
	LastPrice  float64    `json:"lastPrice"`
	TimesSeen  int        `json:"timesSeen"`
	UpdatedAt  int64      `json:"updatedAt"`
}

// Slot is a named durable key/value cell. The pantry lives in exactly one
// slot as a JSON array. Version is bumped on every write and backs the
// optimistic compare-and-swap in the pantry store.
type Slot struct {
	Key       string    `gorm:"type:varchar(128);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	Version   int64     `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for Slot.
func (Slot) TableName() string { return "slots" }

// Chat is a recipe conversation.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Title: human-readable title, auto-generated from the first prompt.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Chat struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:'New chat'"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_chats_created"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Recipe is one suggestion returned by the recipe service.
type Recipe struct {
	Title     string   `json:"title"`
	WhyFits   string   `json:"why_fits,omitempty"`
	Missing   []string `json:"missing"`
	SearchURL string   `json:"search_url,omitempty"`
}

// Message is a single turn in a chat, authored by "user" or "assistant".
// Assistant turns carry the recipe suggestions that came with the reply.
type Message struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    string         `json:"chat_id"    gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Role      string         `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	Recipes   []Recipe       `json:"recipes,omitempty" gorm:"serializer:json;type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_chat_msgs,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Chat is the parent conversation; messages cascade with it.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
