package metrics

import (
	"slices"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

type IDEStat struct {
	IDE string `json:"ide"`
	core.Counters
	Users            int   `json:"users"`
	TotalEngagements int64 `json:"total_engagements"`
}

type IDEStats struct {
	IDEs                []IDEStat `json:"ides"`
	MultiIDEUsersCount  int       `json:"multi_ide_users_count"`
	TotalUniqueIDEUsers int       `json:"total_unique_ide_users"`
}

type ideState struct {
	totals core.Counters
	users  set[int64]
}

type IDEAccumulator struct {
	ides  *table[string, ideState]
	users *table[int64, set[string]]
}

func NewIDEAccumulator() *IDEAccumulator {
	return &IDEAccumulator{
		ides:  newTable(func(string) *ideState { return &ideState{users: set[int64]{}} }),
		users: newSetTable[int64, string](),
	}
}

func (a *IDEAccumulator) AccumulateIDE(userID int64, it core.IDETotals) {
	st := a.ides.at(it.IDE)
	st.totals.Add(it.Counters)
	st.users.add(userID)
	a.users.at(userID).add(it.IDE)
}

// Compute sorts IDEs by distinct users, most first.
func (a *IDEAccumulator) Compute() IDEStats {
	out := IDEStats{
		IDEs:                make([]IDEStat, 0, a.ides.len()),
		TotalUniqueIDEUsers: a.users.len(),
	}
	a.ides.each(func(name string, st *ideState) {
		out.IDEs = append(out.IDEs, IDEStat{
			IDE:              name,
			Counters:         st.totals,
			Users:            len(st.users),
			TotalEngagements: st.totals.Engagements(),
		})
	})
	slices.SortStableFunc(out.IDEs, func(x, y IDEStat) int {
		return compareDesc(x.Users, y.Users)
	})
	a.users.each(func(_ int64, ides *set[string]) {
		if len(*ides) > 1 {
			out.MultiIDEUsersCount++
		}
	})
	return out
}
