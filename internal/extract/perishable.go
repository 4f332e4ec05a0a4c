package extract

import "strings"

// Policy guesses whether an item spoils quickly when the extractor did not
// say.
type Policy interface {
	Perishable(name string) bool
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(name string) bool

func (f PolicyFunc) Perishable(name string) bool { return f(name) }

// KeywordPolicy matches item names against a list of substrings,
// ignoring case.
type KeywordPolicy struct {
	Keywords []string
}

// DefaultKeywords covers dairy, meat and fish, produce and bakery.
var DefaultKeywords = []string{
	// dairy
	"milk", "cheese", "yogurt", "yoghurt", "butter", "cream", "egg",
	// meat & seafood
	"chicken", "beef", "pork", "lamb", "turkey", "bacon", "ham", "sausage",
	"steak", "mince", "fish", "salmon", "tuna", "shrimp", "prawn",
	// produce
	"lettuce", "spinach", "kale", "tomato", "berry", "berries", "banana",
	"apple", "avocado", "herb", "basil", "cilantro", "mushroom", "cucumber",
	"pepper", "onion", "carrot", "broccoli", "fruit", "vegetable",
	// bakery
	"bread", "bagel", "croissant", "tortilla", "bun", "muffin",
}

// NewKeywordPolicy returns a KeywordPolicy over DefaultKeywords.
func NewKeywordPolicy() KeywordPolicy {
	return KeywordPolicy{Keywords: DefaultKeywords}
}

// Perishable implements Policy.
func (p KeywordPolicy) Perishable(name string) bool {
	n := strings.ToLower(name)
	if n == "" {
		return false
	}
	for _, k := range p.Keywords {
		if k != "" && strings.Contains(n, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
