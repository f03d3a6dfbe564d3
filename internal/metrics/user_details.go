package metrics

import (
	"cmp"
	"slices"
	"strings"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

type UserDetails struct {
	UserID    int64  `json:"user_id"`
	UserLogin string `json:"user_login"`
	core.Counters
	UsedChat  bool `json:"used_chat"`
	UsedAgent bool `json:"used_agent"`
	UsedCLI   bool `json:"used_cli"`

	Days             []string                     `json:"days"`
	Features         []core.FeatureTotals         `json:"features"`
	IDEs             []core.IDETotals             `json:"ides"`
	LanguageFeatures []core.LanguageFeatureTotals `json:"language_features"`
	ModelFeatures    []core.ModelFeatureTotals    `json:"model_features"`
	PluginVersions   []core.PluginVersion         `json:"plugin_versions"`

	TotalStandardModelRequests int64 `json:"total_standard_model_requests"`
	TotalPremiumModelRequests  int64 `json:"total_premium_model_requests"`

	Impact     Impact     `json:"impact"`
	ModelUsage ModelUsage `json:"model_usage"`
}

type pluginKey struct {
	plugin, version string
}

type modelFeatureKey struct {
	model, feature string
}

type userDetailState struct {
	login     string
	loginDay  string
	totals    core.Counters
	chat      bool
	agent     bool
	cli       bool
	records   []core.UsageRecord
	features  *table[string, core.FeatureTotals]
	ides      *table[string, core.IDETotals]
	langFeats *table[languageFeatureKey, core.LanguageFeatureTotals]
	modelFeat *table[modelFeatureKey, core.ModelFeatureTotals]
	plugins   *table[pluginKey, core.PluginVersion]
	standard  int64
	premium   int64
}

func newUserDetailState(int64) *userDetailState {
	return &userDetailState{
		features:  newTable[string, core.FeatureTotals](nil),
		ides:      newTable[string, core.IDETotals](nil),
		langFeats: newTable[languageFeatureKey, core.LanguageFeatureTotals](nil),
		modelFeat: newTable[modelFeatureKey, core.ModelFeatureTotals](nil),
		plugins:   newTable[pluginKey, core.PluginVersion](nil),
	}
}

// UserDetailsAccumulator keeps per-user rollups plus the user's raw records.
// Day-level views are not accumulated here; Details replays the retained
// records through ImpactFromRecords and ModelUsageFromRecords instead.
type UserDetailsAccumulator struct {
	catalog *catalog.Catalog
	users   *table[int64, userDetailState]
}

func NewUserDetailsAccumulator(cat *catalog.Catalog) *UserDetailsAccumulator {
	if cat == nil {
		cat = catalog.Default()
	}
	return &UserDetailsAccumulator{catalog: cat, users: newTable(newUserDetailState)}
}

func (a *UserDetailsAccumulator) AccumulateRecord(rec core.UsageRecord) {
	st := a.users.at(rec.UserID)
	if rec.Day >= st.loginDay {
		st.login, st.loginDay = rec.UserLogin, rec.Day
	}
	st.totals.Add(rec.Counters)
	st.chat = st.chat || rec.UsedChat
	st.agent = st.agent || rec.UsedAgent
	st.cli = st.cli || rec.UsedCLI
	st.records = append(st.records, rec)
}

func (a *UserDetailsAccumulator) AccumulateFeature(userID int64, ft core.FeatureTotals) {
	row := a.users.at(userID).features.at(ft.Feature)
	row.Feature = ft.Feature
	row.Add(ft.Counters)
}

func (a *UserDetailsAccumulator) AccumulateIDE(userID int64, it core.IDETotals) {
	st := a.users.at(userID)
	row := st.ides.at(it.IDE)
	row.IDE = it.IDE
	row.Add(it.Counters)
	if pv := it.LastKnownPluginVersion; pv != nil {
		if row.LastKnownPluginVersion == nil || pv.SampledAt > row.LastKnownPluginVersion.SampledAt {
			sample := *pv
			row.LastKnownPluginVersion = &sample
		}
		latest := st.plugins.at(pluginKey{plugin: pv.Plugin, version: pv.PluginVersion})
		if latest.SampledAt == "" || pv.SampledAt > latest.SampledAt {
			*latest = *pv
		}
	}
	if iv := it.LastKnownIDEVersion; iv != nil {
		if row.LastKnownIDEVersion == nil || iv.SampledAt > row.LastKnownIDEVersion.SampledAt {
			sample := *iv
			row.LastKnownIDEVersion = &sample
		}
	}
}

func (a *UserDetailsAccumulator) AccumulateLanguageFeature(userID int64, lf core.LanguageFeatureTotals) {
	row := a.users.at(userID).langFeats.at(languageFeatureKey{language: lf.Language, feature: lf.Feature})
	row.Language, row.Feature = lf.Language, lf.Feature
	row.Add(lf.Counters)
}

func (a *UserDetailsAccumulator) AccumulateModelFeature(userID int64, mf core.ModelFeatureTotals) {
	st := a.users.at(userID)
	row := st.modelFeat.at(modelFeatureKey{model: mf.Model, feature: mf.Feature})
	row.Model, row.Feature = mf.Model, mf.Feature
	row.Add(mf.Counters)

	if core.IsUnknownName(mf.Model) {
		return
	}
	if a.catalog.Multiplier(strings.TrimSpace(mf.Model)) > 0 {
		st.premium += mf.UserInitiatedInteractionCount
	} else {
		st.standard += mf.UserInitiatedInteractionCount
	}
}

// Users returns the ids seen so far in first-seen order.
func (a *UserDetailsAccumulator) Users() []int64 {
	return slices.Clone(a.users.order)
}

// Details finalizes one user's view. It reports false for an unknown user.
func (a *UserDetailsAccumulator) Details(userID int64) (UserDetails, bool) {
	st, ok := a.users.get(userID)
	if !ok {
		return UserDetails{}, false
	}

	days := set[string]{}
	for _, rec := range st.records {
		days.add(rec.Day)
	}
	plugins := rows(st.plugins)
	slices.SortStableFunc(plugins, func(x, y core.PluginVersion) int {
		return cmp.Compare(y.SampledAt, x.SampledAt)
	})

	return UserDetails{
		UserID:                     userID,
		UserLogin:                  st.login,
		Counters:                   st.totals,
		UsedChat:                   st.chat,
		UsedAgent:                  st.agent,
		UsedCLI:                    st.cli,
		Days:                       sortedKeys(days),
		Features:                   rows(st.features),
		IDEs:                       rows(st.ides),
		LanguageFeatures:           rows(st.langFeats),
		ModelFeatures:              rows(st.modelFeat),
		PluginVersions:             plugins,
		TotalStandardModelRequests: st.standard,
		TotalPremiumModelRequests:  st.premium,
		Impact:                     ImpactFromRecords(st.records),
		ModelUsage:                 ModelUsageFromRecords(st.records, a.catalog),
	}, true
}

// rows copies a table's values out in insertion order.
func rows[K comparable, V any](t *table[K, V]) []V {
	out := make([]V, 0, t.len())
	t.each(func(_ K, v *V) { out = append(out, *v) })
	return out
}
