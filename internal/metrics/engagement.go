package metrics

import "github.com/janekbaraniewski/copilotusage/internal/core"

type DailyEngagement struct {
	Date                 string  `json:"date"`
	ActiveUsers          int     `json:"active_users"`
	TotalUsers           int     `json:"total_users"`
	EngagementPercentage float64 `json:"engagement_percentage"`
}

// EngagementAccumulator tracks distinct active users per day. The
// percentage is relative to the whole population of the pass, not the day.
type EngagementAccumulator struct {
	days  *table[string, set[int64]]
	users set[int64]
}

func NewEngagementAccumulator() *EngagementAccumulator {
	return &EngagementAccumulator{days: newSetTable[string, int64](), users: set[int64]{}}
}

func (a *EngagementAccumulator) AccumulateRecord(rec core.UsageRecord) {
	a.users.add(rec.UserID)
	a.days.at(rec.Day).add(rec.UserID)
}

func (a *EngagementAccumulator) Compute() []DailyEngagement {
	total := len(a.users)
	out := make([]DailyEngagement, 0, a.days.len())
	for _, day := range sortedDays(a.days) {
		users, _ := a.days.get(day)
		active := len(*users)
		out = append(out, DailyEngagement{
			Date:                 day,
			ActiveUsers:          active,
			TotalUsers:           total,
			EngagementPercentage: percent(float64(active), float64(total)),
		})
	}
	return out
}
