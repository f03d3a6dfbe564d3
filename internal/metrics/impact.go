package metrics

import "github.com/janekbaraniewski/copilotusage/internal/core"

// joinedImpactFeatures are the features whose LOC deltas make up the
// combined impact view. CLI agent and code review do not report LOC.
var joinedImpactFeatures = []string{
	core.FeatureCodeCompletion,
	core.FeatureAskMode,
	core.FeatureEditMode,
	core.FeatureInlineChat,
	core.FeatureAgentMode,
	core.FeatureAgentEdit,
}

type ImpactDay struct {
	Date       string `json:"date"`
	LocAdded   int64  `json:"loc_added"`
	LocDeleted int64  `json:"loc_deleted"`
	NetChange  int64  `json:"net_change"`
	UserCount  int    `json:"user_count"`
	TotalUsers int    `json:"total_users"`
}

type impactDay struct {
	added, deleted int64
	users          set[int64]
}

// ImpactAccumulator sums LOC deltas per day for a fixed set of features.
// Entries without LOC activity are ignored even when they carry
// interactions, and a user counts once per day however many of the
// features they touched.
type ImpactAccumulator struct {
	features set[string]
	days     *table[string, impactDay]
	users    set[int64]
}

func NewImpactAccumulator(features ...string) *ImpactAccumulator {
	return &ImpactAccumulator{
		features: setOf(features...),
		days:     newTable(func(string) *impactDay { return &impactDay{users: set[int64]{}} }),
		users:    set[int64]{},
	}
}

// ObserveUser adds a user to the population the daily counts are reported
// against.
func (a *ImpactAccumulator) ObserveUser(userID int64) {
	a.users.add(userID)
}

func (a *ImpactAccumulator) AccumulateFeature(day string, userID int64, ft core.FeatureTotals) {
	if !a.features.has(ft.Feature) || !ft.HasLOC() {
		return
	}
	d := a.days.at(day)
	d.added += ft.LocAddedSum
	d.deleted += ft.LocDeletedSum
	d.users.add(userID)
}

func (a *ImpactAccumulator) Compute() []ImpactDay {
	total := len(a.users)
	out := make([]ImpactDay, 0, a.days.len())
	for _, day := range sortedDays(a.days) {
		d, _ := a.days.get(day)
		out = append(out, ImpactDay{
			Date:       day,
			LocAdded:   d.added,
			LocDeleted: d.deleted,
			NetChange:  d.added - d.deleted,
			UserCount:  len(d.users),
			TotalUsers: total,
		})
	}
	return out
}

type Impact struct {
	Completion []ImpactDay `json:"completion"`
	Ask        []ImpactDay `json:"ask"`
	Edit       []ImpactDay `json:"edit"`
	Inline     []ImpactDay `json:"inline"`
	Agent      []ImpactDay `json:"agent"`
	Joined     []ImpactDay `json:"joined"`
}

// ImpactSet bundles the per-mode impact accumulators.
type ImpactSet struct {
	completion, ask, edit, inline, agent, joined *ImpactAccumulator
}

func NewImpactSet() *ImpactSet {
	return &ImpactSet{
		completion: NewImpactAccumulator(core.FeatureCodeCompletion),
		ask:        NewImpactAccumulator(core.FeatureAskMode),
		edit:       NewImpactAccumulator(core.FeatureEditMode),
		inline:     NewImpactAccumulator(core.FeatureInlineChat),
		agent:      NewImpactAccumulator(core.FeatureAgentMode, core.FeatureAgentEdit),
		joined:     NewImpactAccumulator(joinedImpactFeatures...),
	}
}

func (s *ImpactSet) all() []*ImpactAccumulator {
	return []*ImpactAccumulator{s.completion, s.ask, s.edit, s.inline, s.agent, s.joined}
}

func (s *ImpactSet) ObserveUser(userID int64) {
	for _, a := range s.all() {
		a.ObserveUser(userID)
	}
}

func (s *ImpactSet) AccumulateFeature(day string, userID int64, ft core.FeatureTotals) {
	for _, a := range s.all() {
		a.AccumulateFeature(day, userID, ft)
	}
}

func (s *ImpactSet) Compute() Impact {
	return Impact{
		Completion: s.completion.Compute(),
		Ask:        s.ask.Compute(),
		Edit:       s.edit.Compute(),
		Inline:     s.inline.Compute(),
		Agent:      s.agent.Compute(),
		Joined:     s.joined.Compute(),
	}
}

// ImpactFromRecords runs a fresh impact pass over records.
func ImpactFromRecords(records []core.UsageRecord) Impact {
	s := NewImpactSet()
	for _, rec := range records {
		s.ObserveUser(rec.UserID)
		for _, ft := range rec.TotalsByFeature {
			s.AccumulateFeature(rec.Day, rec.UserID, ft)
		}
	}
	return s.Compute()
}
