package metrics

import (
	"slices"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

type LanguageStat struct {
	Language             string  `json:"language"`
	Generations          int64   `json:"generations"`
	Acceptances          int64   `json:"acceptances"`
	LocAdded             int64   `json:"loc_added"`
	LocDeleted           int64   `json:"loc_deleted"`
	LocSuggestedToAdd    int64   `json:"loc_suggested_to_add"`
	LocSuggestedToDelete int64   `json:"loc_suggested_to_delete"`
	Users                int     `json:"users"`
	TotalEngagements     int64   `json:"total_engagements"`
	AcceptanceRate       float64 `json:"acceptance_rate"`
}

type languageState struct {
	totals core.Counters
	users  set[int64]
}

// LanguageAccumulator sums per-language counters from the language x
// feature breakdown.
type LanguageAccumulator struct {
	languages *table[string, languageState]
}

func NewLanguageAccumulator() *LanguageAccumulator {
	return &LanguageAccumulator{
		languages: newTable(func(string) *languageState { return &languageState{users: set[int64]{}} }),
	}
}

func (a *LanguageAccumulator) AccumulateLanguageFeature(userID int64, lf core.LanguageFeatureTotals) {
	st := a.languages.at(lf.Language)
	st.totals.Add(lf.Counters)
	st.users.add(userID)
}

// Compute returns languages sorted by total engagements, highest first.
func (a *LanguageAccumulator) Compute() []LanguageStat {
	out := make([]LanguageStat, 0, a.languages.len())
	a.languages.each(func(name string, st *languageState) {
		out = append(out, LanguageStat{
			Language:             name,
			Generations:          st.totals.CodeGenerationActivityCount,
			Acceptances:          st.totals.CodeAcceptanceActivityCount,
			LocAdded:             st.totals.LocAddedSum,
			LocDeleted:           st.totals.LocDeletedSum,
			LocSuggestedToAdd:    st.totals.LocSuggestedToAddSum,
			LocSuggestedToDelete: st.totals.LocSuggestedToDeleteSum,
			Users:                len(st.users),
			TotalEngagements:     st.totals.Engagements(),
			AcceptanceRate:       percent(float64(st.totals.CodeAcceptanceActivityCount), float64(st.totals.CodeGenerationActivityCount)),
		})
	})
	slices.SortStableFunc(out, func(x, y LanguageStat) int {
		return compareDesc(x.TotalEngagements, y.TotalEngagements)
	})
	return out
}

// WithoutUnknownLanguage drops the placeholder language rows.
func WithoutUnknownLanguage(stats []LanguageStat) []LanguageStat {
	return lo.Filter(stats, func(s LanguageStat, _ int) bool {
		return !core.IsUnknownName(s.Language)
	})
}
