package metrics

import "github.com/janekbaraniewski/copilotusage/internal/core"

type DailyActivity struct {
	Date string `json:"date"`
	core.Counters
	ActiveUsers    int     `json:"active_users"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

type activityDay struct {
	totals core.Counters
	users  set[int64]
}

// ActivityAccumulator sums root counters per day.
type ActivityAccumulator struct {
	days *table[string, activityDay]
}

func NewActivityAccumulator() *ActivityAccumulator {
	return &ActivityAccumulator{
		days: newTable(func(string) *activityDay { return &activityDay{users: set[int64]{}} }),
	}
}

func (a *ActivityAccumulator) AccumulateRecord(rec core.UsageRecord) {
	d := a.days.at(rec.Day)
	d.totals.Add(rec.Counters)
	d.users.add(rec.UserID)
}

func (a *ActivityAccumulator) Compute() []DailyActivity {
	out := make([]DailyActivity, 0, a.days.len())
	for _, day := range sortedDays(a.days) {
		d, _ := a.days.get(day)
		out = append(out, DailyActivity{
			Date:           day,
			Counters:       d.totals,
			ActiveUsers:    len(d.users),
			AcceptanceRate: percent(float64(d.totals.CodeAcceptanceActivityCount), float64(d.totals.CodeGenerationActivityCount)),
		})
	}
	return out
}
