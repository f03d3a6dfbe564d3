package metrics

import (
	"slices"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

type ModelLanguage struct {
	Language         string `json:"language"`
	TotalEngagements int64  `json:"total_engagements"`
}

type ModelBreakdownRow struct {
	Model string `json:"model"`
	core.Counters
	Users            int             `json:"users"`
	TotalEngagements int64           `json:"total_engagements"`
	Multiplier       float64         `json:"multiplier"`
	Premium          bool            `json:"premium"`
	Languages        []ModelLanguage `json:"languages"`
}

type modelBreakdownState struct {
	totals    core.Counters
	users     set[int64]
	languages *table[string, int64]
}

// ModelBreakdownAccumulator rolls the language x model breakdown up per
// model, keeping the per-language split.
type ModelBreakdownAccumulator struct {
	catalog *catalog.Catalog
	models  *table[string, modelBreakdownState]
}

func NewModelBreakdownAccumulator(cat *catalog.Catalog) *ModelBreakdownAccumulator {
	if cat == nil {
		cat = catalog.Default()
	}
	return &ModelBreakdownAccumulator{
		catalog: cat,
		models: newTable(func(string) *modelBreakdownState {
			return &modelBreakdownState{users: set[int64]{}, languages: newTable[string, int64](nil)}
		}),
	}
}

func (a *ModelBreakdownAccumulator) AccumulateLanguageModel(userID int64, lm core.LanguageModelTotals) {
	st := a.models.at(lm.Model)
	st.totals.Add(lm.Counters)
	st.users.add(userID)
	*st.languages.at(lm.Language) += lm.Engagements()
}

func (a *ModelBreakdownAccumulator) Compute() []ModelBreakdownRow {
	out := make([]ModelBreakdownRow, 0, a.models.len())
	a.models.each(func(name string, st *modelBreakdownState) {
		languages := make([]ModelLanguage, 0, st.languages.len())
		st.languages.each(func(language string, n *int64) {
			languages = append(languages, ModelLanguage{Language: language, TotalEngagements: *n})
		})
		slices.SortStableFunc(languages, func(x, y ModelLanguage) int {
			return compareDesc(x.TotalEngagements, y.TotalEngagements)
		})
		out = append(out, ModelBreakdownRow{
			Model:            name,
			Counters:         st.totals,
			Users:            len(st.users),
			TotalEngagements: st.totals.Engagements(),
			Multiplier:       a.catalog.Multiplier(name),
			Premium:          a.catalog.IsPremium(name),
			Languages:        languages,
		})
	})
	slices.SortStableFunc(out, func(x, y ModelBreakdownRow) int {
		return compareDesc(x.TotalEngagements, y.TotalEngagements)
	})
	return out
}
