package metrics

import (
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

// NotAvailable names an empty top-X slot.
const NotAvailable = "N/A"

type TopEntry struct {
	Name        string `json:"name"`
	Engagements int64  `json:"engagements"`
}

type TopIDE struct {
	Name  string `json:"name"`
	Users int    `json:"users"`
}

type Stats struct {
	TotalRecords        int    `json:"total_records"`
	UniqueUsers         int    `json:"unique_users"`
	ChatUsers           int    `json:"chat_users"`
	AgentUsers          int    `json:"agent_users"`
	CLIUsers            int    `json:"cli_users"`
	CompletionOnlyUsers int    `json:"completion_only_users"`
	ReportStartDay      string `json:"report_start_day"`
	ReportEndDay        string `json:"report_end_day"`

	Totals         core.Counters `json:"totals"`
	AcceptanceRate float64       `json:"acceptance_rate"`

	TopLanguage TopEntry `json:"top_language"`
	TopIDE      TopIDE   `json:"top_ide"`
	TopModel    TopEntry `json:"top_model"`
}

type usageFlags struct {
	chat, agent, cli bool
}

// StatsAccumulator tracks headline numbers. Usage flags are OR-ed across
// days: one agent day makes an agent user for the whole window.
type StatsAccumulator struct {
	records  int
	startDay string
	endDay   string
	totals   core.Counters

	users     *table[int64, usageFlags]
	ideUsers  *table[string, set[int64]]
	languages *table[string, int64]
	models    *table[string, int64]
}

func NewStatsAccumulator() *StatsAccumulator {
	return &StatsAccumulator{
		users:     newTable[int64, usageFlags](nil),
		ideUsers:  newSetTable[string, int64](),
		languages: newTable[string, int64](nil),
		models:    newTable[string, int64](nil),
	}
}

func (a *StatsAccumulator) AccumulateRecord(rec core.UsageRecord) {
	a.records++
	a.totals.Add(rec.Counters)

	start := rec.ReportStartDay
	if start == "" {
		start = rec.Day
	}
	if start != "" && (a.startDay == "" || start < a.startDay) {
		a.startDay = start
	}
	end := max(rec.ReportEndDay, rec.Day)
	if end > a.endDay {
		a.endDay = end
	}

	flags := a.users.at(rec.UserID)
	flags.chat = flags.chat || rec.UsedChat
	flags.agent = flags.agent || rec.UsedAgent
	flags.cli = flags.cli || rec.UsedCLI
}

func (a *StatsAccumulator) AccumulateIDE(userID int64, ide core.IDETotals) {
	a.ideUsers.at(ide.IDE).add(userID)
}

func (a *StatsAccumulator) AccumulateLanguageFeature(lf core.LanguageFeatureTotals) {
	*a.languages.at(lf.Language) += lf.Engagements()
}

func (a *StatsAccumulator) AccumulateLanguageModel(lm core.LanguageModelTotals) {
	*a.models.at(lm.Model) += lm.Engagements()
}

func (a *StatsAccumulator) Compute() Stats {
	out := Stats{
		TotalRecords:   a.records,
		UniqueUsers:    a.users.len(),
		ReportStartDay: a.startDay,
		ReportEndDay:   a.endDay,
		Totals:         a.totals,
		AcceptanceRate: percent(float64(a.totals.CodeAcceptanceActivityCount), float64(a.totals.CodeGenerationActivityCount)),
		TopLanguage:    topEntry(a.languages),
		TopModel:       topEntry(a.models),
		TopIDE:         TopIDE{Name: NotAvailable},
	}

	a.users.each(func(_ int64, f *usageFlags) {
		if f.chat {
			out.ChatUsers++
		}
		if f.agent {
			out.AgentUsers++
		}
		if f.cli {
			out.CLIUsers++
		}
		if !f.chat && !f.agent && !f.cli {
			out.CompletionOnlyUsers++
		}
	})

	found := false
	a.ideUsers.each(func(name string, users *set[int64]) {
		if n := len(*users); !found || n > out.TopIDE.Users {
			out.TopIDE = TopIDE{Name: name, Users: n}
			found = true
		}
	})
	return out
}

// topEntry picks the highest total; on ties the first-seen name wins.
func topEntry(t *table[string, int64]) TopEntry {
	top := TopEntry{Name: NotAvailable}
	found := false
	t.each(func(name string, total *int64) {
		if !found || *total > top.Engagements {
			top = TopEntry{Name: name, Engagements: *total}
			found = true
		}
	})
	return top
}
