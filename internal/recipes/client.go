// Package recipes asks the hosted chat service for recipe ideas that fit
// the current pantry.
package recipes

import (
	"context"
	"strings"

	"github.com/tbourn/scan2serve/internal/domain"
)

const (
	// MaxMessages is how many conversation turns are sent per request.
	MaxMessages = 20
	// MaxPantryItems is how many pantry items are sent per request.
	MaxPantryItems = 200

	defaultReply       = "Got it."
	defaultRecipeTitle = "Recipe"
)

// Turn is one conversation message as the service expects it.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat payload. Constraints is free-form and sent as {} when
// empty.
type Request struct {
	Messages    []Turn              `json:"messages"`
	Pantry      []domain.PantryItem `json:"pantry"`
	Constraints map[string]any      `json:"constraints"`
}

// Reply is the assistant's answer with its suggestions.
type Reply struct {
	AssistantMessage string          `json:"assistant_message"`
	Recipes          []domain.Recipe `json:"recipes"`
}

// Poster is the transport the client sends through.
type Poster interface {
	Post(ctx context.Context, op string, in, out any) error
}

// Client calls the recipe chat service.
type Client struct {
	Upstream Poster
}

// Suggest sends the conversation and pantry, trimming both to their limits,
// and fills in defaults the service left out.
func (c *Client) Suggest(ctx context.Context, req Request) (*Reply, error) {
	if len(req.Messages) > MaxMessages {
		req.Messages = req.Messages[len(req.Messages)-MaxMessages:]
	}
	if len(req.Pantry) > MaxPantryItems {
		req.Pantry = req.Pantry[:MaxPantryItems]
	}
	if req.Pantry == nil {
		req.Pantry = []domain.PantryItem{}
	}
	if req.Messages == nil {
		req.Messages = []Turn{}
	}
	if req.Constraints == nil {
		req.Constraints = map[string]any{}
	}

	var out Reply
	if err := c.Upstream.Post(ctx, "recipes.Suggest", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.AssistantMessage) == "" {
		out.AssistantMessage = defaultReply
	}
	for i := range out.Recipes {
		r := &out.Recipes[i]
		if strings.TrimSpace(r.Title) == "" {
			r.Title = defaultRecipeTitle
		}
		if r.Missing == nil {
			r.Missing = []string{}
		}
	}
	return &out, nil
}
