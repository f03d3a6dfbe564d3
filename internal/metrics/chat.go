package metrics

import "github.com/janekbaraniewski/copilotusage/internal/core"

type DailyChatUsage struct {
	Date            string `json:"date"`
	AskModeUsers    int    `json:"ask_mode_users"`
	AgentModeUsers  int    `json:"agent_mode_users"`
	EditModeUsers   int    `json:"edit_mode_users"`
	InlineModeUsers int    `json:"inline_mode_users"`

	AskModeRequests    int64 `json:"ask_mode_requests"`
	AgentModeRequests  int64 `json:"agent_mode_requests"`
	EditModeRequests   int64 `json:"edit_mode_requests"`
	InlineModeRequests int64 `json:"inline_mode_requests"`
	TotalRequests      int64 `json:"total_requests"`
}

var chatModes = []string{
	core.FeatureAskMode,
	core.FeatureAgentMode,
	core.FeatureEditMode,
	core.FeatureInlineChat,
}

var chatModeSet = setOf(chatModes...)

type chatModeDay struct {
	users    set[int64]
	requests int64
}

type chatDay struct {
	modes map[string]*chatModeDay
}

// ChatAccumulator counts users and requests per day for each chat mode,
// matched by exact feature name.
type ChatAccumulator struct {
	days *table[string, chatDay]
}

func NewChatAccumulator() *ChatAccumulator {
	return &ChatAccumulator{
		days: newTable(func(string) *chatDay {
			d := &chatDay{modes: make(map[string]*chatModeDay, len(chatModes))}
			for _, m := range chatModes {
				d.modes[m] = &chatModeDay{users: set[int64]{}}
			}
			return d
		}),
	}
}

func (a *ChatAccumulator) AccumulateFeature(day string, userID int64, ft core.FeatureTotals) {
	if !chatModeSet.has(ft.Feature) {
		return
	}
	mode := a.days.at(day).modes[ft.Feature]
	mode.requests += ft.UserInitiatedInteractionCount
	if ft.UserInitiatedInteractionCount > 0 {
		mode.users.add(userID)
	}
}

func (a *ChatAccumulator) Compute() []DailyChatUsage {
	out := make([]DailyChatUsage, 0, a.days.len())
	for _, day := range sortedDays(a.days) {
		d, _ := a.days.get(day)
		row := DailyChatUsage{
			Date:               day,
			AskModeUsers:       len(d.modes[core.FeatureAskMode].users),
			AgentModeUsers:     len(d.modes[core.FeatureAgentMode].users),
			EditModeUsers:      len(d.modes[core.FeatureEditMode].users),
			InlineModeUsers:    len(d.modes[core.FeatureInlineChat].users),
			AskModeRequests:    d.modes[core.FeatureAskMode].requests,
			AgentModeRequests:  d.modes[core.FeatureAgentMode].requests,
			EditModeRequests:   d.modes[core.FeatureEditMode].requests,
			InlineModeRequests: d.modes[core.FeatureInlineChat].requests,
		}
		row.TotalRequests = row.AskModeRequests + row.AgentModeRequests + row.EditModeRequests + row.InlineModeRequests
		out = append(out, row)
	}
	return out
}
