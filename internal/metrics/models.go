package metrics

import (
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

// maxIntensity is the top of the agent heatmap scale.
const maxIntensity = 5

type DailyModelUsage struct {
	Date                  string          `json:"date"`
	PremiumModelRequests  int64           `json:"premium_model_requests"`
	StandardModelRequests int64           `json:"standard_model_requests"`
	UnknownModelRequests  int64           `json:"unknown_model_requests"`
	TotalPRUs             float64         `json:"total_prus"`
	ServiceValue          decimal.Decimal `json:"service_value"`
}

type ModelCost struct {
	Model      string  `json:"model"`
	Requests   int64   `json:"requests"`
	PRUs       float64 `json:"prus"`
	Multiplier float64 `json:"multiplier"`
	Premium    bool    `json:"premium"`
}

type DailyPRUAnalysis struct {
	Date              string          `json:"date"`
	PremiumRequests   int64           `json:"premium_requests"`
	StandardRequests  int64           `json:"standard_requests"`
	PremiumPercentage float64         `json:"premium_percentage"`
	TotalPRUs         float64         `json:"total_prus"`
	ServiceValue      decimal.Decimal `json:"service_value"`
	TopModel          string          `json:"top_model"`
	Models            []ModelCost     `json:"models"`
}

type AgentHeatmapDay struct {
	Date          string `json:"date"`
	AgentRequests int64  `json:"agent_requests"`
	UniqueUsers   int    `json:"unique_users"`
	Intensity     int    `json:"intensity"`
}

type ModelFeatureDistribution struct {
	Model             string          `json:"model"`
	Multiplier        float64         `json:"multiplier"`
	TotalInteractions int64           `json:"total_interactions"`
	Agent             int64           `json:"agent"`
	Ask               int64           `json:"ask"`
	Edit              int64           `json:"edit"`
	Inline            int64           `json:"inline"`
	Completion        int64           `json:"completion"`
	Review            int64           `json:"review"`
	Other             int64           `json:"other"`
	TotalPRUs         float64         `json:"total_prus"`
	ServiceValue      decimal.Decimal `json:"service_value"`
}

type ModelUsage struct {
	Daily               []DailyModelUsage          `json:"daily"`
	PRUAnalysis         []DailyPRUAnalysis         `json:"pru_analysis"`
	AgentHeatmap        []AgentHeatmapDay          `json:"agent_heatmap"`
	FeatureDistribution []ModelFeatureDistribution `json:"feature_distribution"`
	TotalPRUs           float64                    `json:"total_prus"`
	TotalServiceValue   decimal.Decimal            `json:"total_service_value"`
}

type modelTier int

const (
	tierStandard modelTier = iota
	tierPremium
	tierUnknown
)

type modelDayState struct {
	name       string
	requests   int64
	prus       float64
	multiplier float64
}

type modelUsageDay struct {
	premium, standard, unknown int64
	prus                       float64
	// models is keyed by the lowercased model name.
	models *table[string, modelDayState]
}

type agentDay struct {
	requests int64
	users    set[int64]
}

type distributionState struct {
	name       string
	multiplier float64
	total      int64
	buckets    map[string]int64
	prus       float64
}

// distributionBuckets maps features onto the named distribution buckets.
// Anything unlisted lands in "other".
var distributionBuckets = map[string]string{
	core.FeatureAgentMode:      "agent",
	core.FeatureAgentEdit:      "agent",
	core.FeatureAskMode:        "ask",
	core.FeatureEditMode:       "edit",
	core.FeatureInlineChat:     "inline",
	core.FeatureCodeCompletion: "completion",
	core.FeatureCodeReview:     "review",
}

// ModelUsageAccumulator folds model x feature interactions into four views
// sharing one state: daily tier buckets, daily PRU analysis, the agent-mode
// heatmap and the per-model feature distribution.
type ModelUsageAccumulator struct {
	catalog *catalog.Catalog

	days   *table[string, modelUsageDay]
	agent  *table[string, agentDay]
	models *table[string, distributionState]
}

func NewModelUsageAccumulator(cat *catalog.Catalog) *ModelUsageAccumulator {
	if cat == nil {
		cat = catalog.Default()
	}
	return &ModelUsageAccumulator{
		catalog: cat,
		days: newTable(func(string) *modelUsageDay {
			return &modelUsageDay{models: newTable[string, modelDayState](nil)}
		}),
		agent: newTable(func(string) *agentDay { return &agentDay{users: set[int64]{}} }),
		models: newTable(func(string) *distributionState {
			return &distributionState{buckets: map[string]int64{}}
		}),
	}
}

func (a *ModelUsageAccumulator) tier(model string, multiplier float64) modelTier {
	switch {
	case core.IsUnknownName(model):
		return tierUnknown
	case multiplier > 0:
		return tierPremium
	default:
		return tierStandard
	}
}

// ObserveDay registers a day of the pass so days without agent activity
// still show up in the heatmap at intensity 0.
func (a *ModelUsageAccumulator) ObserveDay(day string) {
	a.agent.at(day)
}

func (a *ModelUsageAccumulator) AccumulateModelFeature(day string, userID int64, mf core.ModelFeatureTotals) {
	model := strings.TrimSpace(mf.Model)
	if model == "" {
		model = core.UnknownName
	}
	requests := mf.UserInitiatedInteractionCount
	multiplier := a.catalog.Multiplier(model)
	prus := float64(requests) * multiplier

	d := a.days.at(day)
	switch a.tier(model, multiplier) {
	case tierUnknown:
		d.unknown += requests
	case tierPremium:
		d.premium += requests
	default:
		d.standard += requests
	}
	d.prus += prus
	key := strings.ToLower(model)
	md := d.models.at(key)
	if md.name == "" {
		md.name = model
	}
	md.requests += requests
	md.prus += prus
	md.multiplier = multiplier

	if mf.Feature == core.FeatureAgentMode {
		ad := a.agent.at(day)
		ad.requests += requests
		if requests > 0 {
			ad.users.add(userID)
		}
	}

	dist := a.models.at(key)
	if dist.name == "" {
		dist.name = model
	}
	dist.multiplier = multiplier
	dist.total += requests
	dist.prus += prus
	if bucket, ok := distributionBuckets[mf.Feature]; ok {
		dist.buckets[bucket] += requests
	}
}

func (a *ModelUsageAccumulator) Compute() ModelUsage {
	out := ModelUsage{
		Daily:               make([]DailyModelUsage, 0, a.days.len()),
		PRUAnalysis:         make([]DailyPRUAnalysis, 0, a.days.len()),
		AgentHeatmap:        make([]AgentHeatmapDay, 0, a.agent.len()),
		FeatureDistribution: make([]ModelFeatureDistribution, 0, a.models.len()),
	}

	for _, day := range sortedDays(a.days) {
		d, _ := a.days.get(day)
		prus := round2(d.prus)
		value := a.catalog.ServiceValue(d.prus)
		out.TotalPRUs += d.prus
		// Summed from rounded daily values so the daily column adds up.
		out.TotalServiceValue = out.TotalServiceValue.Add(value)

		out.Daily = append(out.Daily, DailyModelUsage{
			Date:                  day,
			PremiumModelRequests:  d.premium,
			StandardModelRequests: d.standard,
			UnknownModelRequests:  d.unknown,
			TotalPRUs:             prus,
			ServiceValue:          value,
		})

		models := make([]ModelCost, 0, d.models.len())
		d.models.each(func(_ string, st *modelDayState) {
			models = append(models, ModelCost{
				Model:      st.name,
				Requests:   st.requests,
				PRUs:       round2(st.prus),
				Multiplier: st.multiplier,
				Premium:    a.catalog.IsPremium(st.name),
			})
		})
		slices.SortStableFunc(models, func(x, y ModelCost) int {
			if c := compareDesc(x.PRUs, y.PRUs); c != 0 {
				return c
			}
			return compareDesc(x.Requests, y.Requests)
		})
		top := core.UnknownName
		if len(models) > 0 {
			top = models[0].Model
		}
		out.PRUAnalysis = append(out.PRUAnalysis, DailyPRUAnalysis{
			Date:              day,
			PremiumRequests:   d.premium,
			StandardRequests:  d.standard,
			PremiumPercentage: percent(float64(d.premium), float64(d.premium+d.standard)),
			TotalPRUs:         prus,
			ServiceValue:      value,
			TopModel:          top,
			Models:            models,
		})
	}
	out.TotalPRUs = round2(out.TotalPRUs)

	var busiest int64
	a.agent.each(func(_ string, d *agentDay) {
		busiest = max(busiest, d.requests)
	})
	denominator := float64(max(busiest, 1))
	for _, day := range sortedDays(a.agent) {
		d, _ := a.agent.get(day)
		out.AgentHeatmap = append(out.AgentHeatmap, AgentHeatmapDay{
			Date:          day,
			AgentRequests: d.requests,
			UniqueUsers:   len(d.users),
			Intensity:     intensity(d.requests, denominator),
		})
	}

	a.models.each(func(_ string, st *distributionState) {
		row := ModelFeatureDistribution{
			Model:             st.name,
			Multiplier:        st.multiplier,
			TotalInteractions: st.total,
			Agent:             st.buckets["agent"],
			Ask:               st.buckets["ask"],
			Edit:              st.buckets["edit"],
			Inline:            st.buckets["inline"],
			Completion:        st.buckets["completion"],
			Review:            st.buckets["review"],
			TotalPRUs:         round2(st.prus),
			ServiceValue:      a.catalog.ServiceValue(st.prus),
		}
		named := row.Agent + row.Ask + row.Edit + row.Inline + row.Completion + row.Review
		row.Other = max(0, row.TotalInteractions-named)
		out.FeatureDistribution = append(out.FeatureDistribution, row)
	})
	slices.SortStableFunc(out.FeatureDistribution, func(x, y ModelFeatureDistribution) int {
		return compareDesc(x.TotalPRUs, y.TotalPRUs)
	})
	return out
}

// intensity maps requests onto 0..5 relative to the busiest day.
func intensity(requests int64, busiest float64) int {
	if requests <= 0 {
		return 0
	}
	v := int(math.Ceil(float64(requests) / busiest * maxIntensity))
	return min(max(v, 0), maxIntensity)
}

// ModelUsageFromRecords runs a fresh model-usage pass over records. The
// per-user drill-down uses it to scope the global algorithm to one user.
func ModelUsageFromRecords(records []core.UsageRecord, cat *catalog.Catalog) ModelUsage {
	acc := NewModelUsageAccumulator(cat)
	for _, rec := range records {
		acc.ObserveDay(rec.Day)
		for _, mf := range rec.TotalsByModelFeature {
			acc.AccumulateModelFeature(rec.Day, rec.UserID, mf)
		}
	}
	return acc.Compute()
}
