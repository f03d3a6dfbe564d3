package metrics

import (
	"slices"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

type UserSummary struct {
	UserID    int64  `json:"user_id"`
	UserLogin string `json:"user_login"`
	core.Counters
	UsedChat   bool   `json:"used_chat"`
	UsedAgent  bool   `json:"used_agent"`
	UsedCLI    bool   `json:"used_cli"`
	DaysActive int    `json:"days_active"`
	FirstDay   string `json:"first_day"`
	LastDay    string `json:"last_day"`
}

type userSummaryState struct {
	summary  UserSummary
	loginDay string
	days     set[string]
}

// UserSummaryAccumulator keeps one row per user id. Days are counted as a
// distinct set so duplicate records for a day are not double-counted.
type UserSummaryAccumulator struct {
	users *table[int64, userSummaryState]
}

func NewUserSummaryAccumulator() *UserSummaryAccumulator {
	return &UserSummaryAccumulator{
		users: newTable(func(id int64) *userSummaryState {
			return &userSummaryState{summary: UserSummary{UserID: id}, days: set[string]{}}
		}),
	}
}

func (a *UserSummaryAccumulator) AccumulateRecord(rec core.UsageRecord) {
	st := a.users.at(rec.UserID)
	s := &st.summary
	s.Counters.Add(rec.Counters)
	s.UsedChat = s.UsedChat || rec.UsedChat
	s.UsedAgent = s.UsedAgent || rec.UsedAgent
	s.UsedCLI = s.UsedCLI || rec.UsedCLI

	// Logins can change across renames; show the most recent one.
	if rec.UserLogin != "" && rec.Day >= st.loginDay {
		s.UserLogin = rec.UserLogin
		st.loginDay = rec.Day
	}
	if rec.Day == "" {
		return
	}
	st.days.add(rec.Day)
	if s.FirstDay == "" || rec.Day < s.FirstDay {
		s.FirstDay = rec.Day
	}
	if rec.Day > s.LastDay {
		s.LastDay = rec.Day
	}
}

// Compute returns rows sorted by interaction count, highest first.
func (a *UserSummaryAccumulator) Compute() []UserSummary {
	out := make([]UserSummary, 0, a.users.len())
	a.users.each(func(_ int64, st *userSummaryState) {
		row := st.summary
		row.DaysActive = len(st.days)
		out = append(out, row)
	})
	slices.SortStableFunc(out, func(x, y UserSummary) int {
		return compareDesc(x.UserInitiatedInteractionCount, y.UserInitiatedInteractionCount)
	})
	return out
}

func compareDesc[T int | int64 | float64](x, y T) int {
	switch {
	case x > y:
		return -1
	case x < y:
		return 1
	default:
		return 0
	}
}
