package metrics

import (
	"errors"
	"fmt"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

// ErrUnknownUser is returned when a drill-down names a user the pass never saw.
var ErrUnknownUser = errors.New("user not found in aggregation")

// Result is the finalized output of one aggregation pass.
type Result struct {
	Stats                 Stats                   `json:"stats"`
	Users                 []UserSummary           `json:"users"`
	Engagement            []DailyEngagement       `json:"engagement"`
	Chat                  []DailyChatUsage        `json:"chat"`
	Activity              []DailyActivity         `json:"activity"`
	Languages             []LanguageStat          `json:"languages"`
	ModelUsage            ModelUsage              `json:"model_usage"`
	FeatureAdoption       FeatureAdoption         `json:"feature_adoption"`
	Impact                Impact                  `json:"impact"`
	IDEs                  IDEStats                `json:"ides"`
	PluginVersions        PluginVersions          `json:"plugin_versions"`
	LanguageFeatureImpact []LanguageFeatureImpact `json:"language_feature_impact"`
	ModelBreakdown        []ModelBreakdownRow     `json:"model_breakdown"`
}

// Aggregation pairs a Result with the per-user state of the same pass, which
// serves later drill-downs.
type Aggregation struct {
	Result  Result
	details *UserDetailsAccumulator
}

// UserDetails finalizes the drill-down for one user of the pass.
func (a *Aggregation) UserDetails(userID int64) (UserDetails, error) {
	if a == nil || a.details == nil {
		return UserDetails{}, fmt.Errorf("user %d: %w", userID, ErrUnknownUser)
	}
	d, ok := a.details.Details(userID)
	if !ok {
		return UserDetails{}, fmt.Errorf("user %d: %w", userID, ErrUnknownUser)
	}
	return d, nil
}

// Aggregate runs one pass over records with fresh accumulators. Each record
// and each of its breakdown lists is visited exactly once.
func Aggregate(records []core.UsageRecord, cat *catalog.Catalog) *Aggregation {
	if cat == nil {
		cat = catalog.Default()
	}

	stats := NewStatsAccumulator()
	users := NewUserSummaryAccumulator()
	engagement := NewEngagementAccumulator()
	chat := NewChatAccumulator()
	activity := NewActivityAccumulator()
	languages := NewLanguageAccumulator()
	models := NewModelUsageAccumulator(cat)
	adoption := NewFeatureAdoptionAccumulator()
	impact := NewImpactSet()
	ides := NewIDEAccumulator()
	plugins := NewPluginVersionAccumulator()
	languageFeatures := NewLanguageFeatureAccumulator()
	breakdown := NewModelBreakdownAccumulator(cat)
	details := NewUserDetailsAccumulator(cat)

	for _, rec := range records {
		day, userID := rec.Day, rec.UserID

		stats.AccumulateRecord(rec)
		users.AccumulateRecord(rec)
		engagement.AccumulateRecord(rec)
		activity.AccumulateRecord(rec)
		models.ObserveDay(day)
		adoption.ObserveUser(userID)
		impact.ObserveUser(userID)
		details.AccumulateRecord(rec)

		for _, it := range rec.TotalsByIDE {
			stats.AccumulateIDE(userID, it)
			ides.AccumulateIDE(userID, it)
			plugins.AccumulateIDE(rec.UserLogin, it)
			details.AccumulateIDE(userID, it)
		}
		for _, ft := range rec.TotalsByFeature {
			chat.AccumulateFeature(day, userID, ft)
			adoption.AccumulateFeature(userID, ft)
			impact.AccumulateFeature(day, userID, ft)
			details.AccumulateFeature(userID, ft)
		}
		for _, lf := range rec.TotalsByLanguageFeature {
			stats.AccumulateLanguageFeature(lf)
			languages.AccumulateLanguageFeature(userID, lf)
			languageFeatures.AccumulateLanguageFeature(userID, lf)
			details.AccumulateLanguageFeature(userID, lf)
		}
		for _, lm := range rec.TotalsByLanguageModel {
			stats.AccumulateLanguageModel(lm)
			breakdown.AccumulateLanguageModel(userID, lm)
		}
		for _, mf := range rec.TotalsByModelFeature {
			models.AccumulateModelFeature(day, userID, mf)
			details.AccumulateModelFeature(userID, mf)
		}
	}

	return &Aggregation{
		Result: Result{
			Stats:                 stats.Compute(),
			Users:                 users.Compute(),
			Engagement:            engagement.Compute(),
			Chat:                  chat.Compute(),
			Activity:              activity.Compute(),
			Languages:             languages.Compute(),
			ModelUsage:            models.Compute(),
			FeatureAdoption:       adoption.Compute(),
			Impact:                impact.Compute(),
			IDEs:                  ides.Compute(),
			PluginVersions:        plugins.Compute(),
			LanguageFeatureImpact: languageFeatures.Compute(),
			ModelBreakdown:        breakdown.Compute(),
		},
		details: details,
	}
}
