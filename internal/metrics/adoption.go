package metrics

import (
	"slices"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

var (
	chatFeatures  = setOf(core.FeatureAskMode, core.FeatureEditMode, core.FeatureInlineChat, core.FeatureCustomMode)
	agentFeatures = setOf(core.FeatureAgentMode, core.FeatureAgentEdit)
)

type FeatureUsers struct {
	Feature string `json:"feature"`
	Label   string `json:"label"`
	Users   int    `json:"users"`
}

// FeatureAdoption categories overlap except CompletionOnlyUsers, which
// excludes anyone who touched chat, agent or CLI features.
type FeatureAdoption struct {
	TotalUsers          int            `json:"total_users"`
	CompletionUsers     int            `json:"completion_users"`
	ChatUsers           int            `json:"chat_users"`
	AgentModeUsers      int            `json:"agent_mode_users"`
	CLIUsers            int            `json:"cli_users"`
	CodeReviewUsers     int            `json:"code_review_users"`
	CompletionOnlyUsers int            `json:"completion_only_users"`
	Features            []FeatureUsers `json:"features"`
}

type FeatureAdoptionAccumulator struct {
	users *table[int64, set[string]]
}

func NewFeatureAdoptionAccumulator() *FeatureAdoptionAccumulator {
	return &FeatureAdoptionAccumulator{users: newSetTable[int64, string]()}
}

// ObserveUser makes a user part of the population even if none of their
// features turn out to be active.
func (a *FeatureAdoptionAccumulator) ObserveUser(userID int64) {
	a.users.at(userID)
}

func (a *FeatureAdoptionAccumulator) AccumulateFeature(userID int64, ft core.FeatureTotals) {
	features := a.users.at(userID)
	if ft.Active() {
		features.add(ft.Feature)
	}
}

func (a *FeatureAdoptionAccumulator) Compute() FeatureAdoption {
	out := FeatureAdoption{TotalUsers: a.users.len()}
	perFeature := newTable[string, int](nil)
	a.users.each(func(_ int64, features *set[string]) {
		var chat, agent bool
		for feature := range *features {
			*perFeature.at(feature)++
			chat = chat || chatFeatures.has(feature)
			agent = agent || agentFeatures.has(feature)
		}
		completion := features.has(core.FeatureCodeCompletion)
		cli := features.has(core.FeatureCLIAgent)
		if completion {
			out.CompletionUsers++
		}
		if chat {
			out.ChatUsers++
		}
		if agent {
			out.AgentModeUsers++
		}
		if cli {
			out.CLIUsers++
		}
		if features.has(core.FeatureCodeReview) {
			out.CodeReviewUsers++
		}
		if completion && !chat && !agent && !cli {
			out.CompletionOnlyUsers++
		}
	})

	names := make([]string, 0, perFeature.len())
	perFeature.each(func(name string, _ *int) { names = append(names, name) })
	slices.Sort(names)
	out.Features = make([]FeatureUsers, 0, len(names))
	for _, name := range names {
		n, _ := perFeature.get(name)
		out.Features = append(out.Features, FeatureUsers{Feature: name, Label: catalog.FeatureLabel(name), Users: *n})
	}
	slices.SortStableFunc(out.Features, func(x, y FeatureUsers) int {
		return compareDesc(x.Users, y.Users)
	})
	return out
}
