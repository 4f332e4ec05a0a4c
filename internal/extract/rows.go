package extract

import (
	"strings"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/editing"
	"github.com/tbourn/scan2serve/internal/utils"
)

// DefaultConfidence is used when the extractor gives none.
const DefaultConfidence = 0.5

// BuildRows converts extracted items to editing rows. Rows with a blank
// name are kept so the user can fix or drop them. A nil policy falls back
// to NewKeywordPolicy.
func BuildRows(items []Item, policy Policy) []editing.Row {
	if policy == nil {
		policy = NewKeywordPolicy()
	}
	rows := make([]editing.Row, 0, len(items))
	for _, it := range items {
		name := strings.TrimSpace(it.ExpandedName)
		if name == "" {
			name = strings.TrimSpace(it.OriginalName)
		}

		conf := DefaultConfidence
		if it.Confidence != nil {
			conf = utils.Clamp(it.Confidence, 0, 1)
		}

		p, ok := perishableOf(it.Perishable)
		if !ok {
			p = domain.PerishableFromBool(policy.Perishable(name))
		}

		rows = append(rows, editing.NewRow(editing.Fields{
			ItemName:   name,
			Price:      utils.ToMoney(it.Price),
			Confidence: conf,
			Perishable: p,
			Original:   it.OriginalName,
			Expanded:   it.ExpandedName,
		}))
	}
	return rows
}

func perishableOf(v any) (domain.Perishable, bool) {
	switch x := v.(type) {
	case bool:
		return domain.PerishableFromBool(x), true
	case string:
		return domain.ParsePerishable(x)
	}
	return "", false
}
