package metrics

import (
	"slices"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

type LanguageFeatureImpact struct {
	Language string `json:"language"`
	Feature  string `json:"feature"`
	core.Counters
	Users            int   `json:"users"`
	TotalEngagements int64 `json:"total_engagements"`
	NetChange        int64 `json:"net_change"`
}

type languageFeatureKey struct {
	language, feature string
}

// LanguageFeatureAccumulator rolls the language x feature breakdown up per
// pair, ordered by lines added.
type LanguageFeatureAccumulator struct {
	pairs *table[languageFeatureKey, languageState]
}

func NewLanguageFeatureAccumulator() *LanguageFeatureAccumulator {
	return &LanguageFeatureAccumulator{
		pairs: newTable(func(languageFeatureKey) *languageState { return &languageState{users: set[int64]{}} }),
	}
}

func (a *LanguageFeatureAccumulator) AccumulateLanguageFeature(userID int64, lf core.LanguageFeatureTotals) {
	st := a.pairs.at(languageFeatureKey{language: lf.Language, feature: lf.Feature})
	st.totals.Add(lf.Counters)
	st.users.add(userID)
}

func (a *LanguageFeatureAccumulator) Compute() []LanguageFeatureImpact {
	out := make([]LanguageFeatureImpact, 0, a.pairs.len())
	a.pairs.each(func(k languageFeatureKey, st *languageState) {
		out = append(out, LanguageFeatureImpact{
			Language:         k.language,
			Feature:          k.feature,
			Counters:         st.totals,
			Users:            len(st.users),
			TotalEngagements: st.totals.Engagements(),
			NetChange:        st.totals.LocAddedSum - st.totals.LocDeletedSum,
		})
	})
	slices.SortStableFunc(out, func(x, y LanguageFeatureImpact) int {
		if c := compareDesc(x.LocAddedSum, y.LocAddedSum); c != 0 {
			return c
		}
		return compareDesc(x.TotalEngagements, y.TotalEngagements)
	})
	return out
}
