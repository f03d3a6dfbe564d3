package metrics

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

func TestAggregate_Stats(t *testing.T) {
	stats := Aggregate(sampleRecords(), nil).Result.Stats

	want := Stats{
		TotalRecords:        4,
		UniqueUsers:         3,
		ChatUsers:           1,
		AgentUsers:          1,
		CLIUsers:            1,
		CompletionOnlyUsers: 1,
		ReportStartDay:      "2025-10-01",
		ReportEndDay:        "2025-10-07",
		Totals:              counters(18, 14, 7, 44, 6),
		AcceptanceRate:      50,
		TopLanguage:         TopEntry{Name: "go", Engagements: 15},
		TopIDE:              TopIDE{Name: "vscode", Users: 2},
		TopModel:            TopEntry{Name: "gpt-4o", Engagements: 15},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_CompletionOnlyIsExclusive(t *testing.T) {
	records := sampleRecords()
	stats := Aggregate(records, nil).Result.Stats

	flagged := map[int64]bool{}
	for _, rec := range records {
		if rec.UsedChat || rec.UsedAgent || rec.UsedCLI {
			flagged[rec.UserID] = true
		}
	}
	if got := stats.CompletionOnlyUsers + len(flagged); got != stats.UniqueUsers {
		t.Fatalf("completion-only %d + flagged %d != unique %d", stats.CompletionOnlyUsers, len(flagged), stats.UniqueUsers)
	}
}

func TestAggregate_Engagement(t *testing.T) {
	got := Aggregate(sampleRecords(), nil).Result.Engagement
	want := []DailyEngagement{
		{Date: "2025-10-01", ActiveUsers: 2, TotalUsers: 3, EngagementPercentage: 66.67},
		{Date: "2025-10-02", ActiveUsers: 1, TotalUsers: 3, EngagementPercentage: 33.33},
		{Date: "2025-10-03", ActiveUsers: 1, TotalUsers: 3, EngagementPercentage: 33.33},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("engagement mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_ModelUsage(t *testing.T) {
	usage := Aggregate(sampleRecords(), nil).Result.ModelUsage

	if len(usage.Daily) != 3 {
		t.Fatalf("daily rows = %d, want 3", len(usage.Daily))
	}
	day1 := usage.Daily[0]
	if day1.PremiumModelRequests != 6 || day1.StandardModelRequests != 4 || day1.UnknownModelRequests != 0 {
		t.Errorf("day 1 buckets = %+v", day1)
	}
	day3 := usage.Daily[2]
	if day3.PremiumModelRequests != 3 || day3.UnknownModelRequests != 2 {
		t.Errorf("day 3 buckets = %+v", day3)
	}
	if day3.TotalPRUs != 0.99 {
		t.Errorf("day 3 PRUs = %v, want 0.99", day3.TotalPRUs)
	}
	if usage.TotalPRUs != 11.99 {
		t.Errorf("total PRUs = %v, want 11.99", usage.TotalPRUs)
	}
	if !usage.TotalServiceValue.Equal(decimal.RequireFromString("0.48")) {
		t.Errorf("total service value = %s, want 0.48", usage.TotalServiceValue)
	}

	pru := usage.PRUAnalysis[0]
	if pru.TopModel != "claude-sonnet-4" || pru.PremiumPercentage != 60 {
		t.Errorf("day 1 PRU analysis = %+v", pru)
	}
	if usage.PRUAnalysis[2].TopModel != "o4-mini" {
		t.Errorf("day 3 top model = %q", usage.PRUAnalysis[2].TopModel)
	}

	gotModels := make([]string, 0, len(usage.FeatureDistribution))
	for _, row := range usage.FeatureDistribution {
		gotModels = append(gotModels, row.Model)
	}
	if diff := cmp.Diff([]string{"claude-sonnet-4", "o4-mini", "gpt-4o", "unknown"}, gotModels); diff != "" {
		t.Errorf("distribution order mismatch (-want +got):\n%s", diff)
	}
	claude := usage.FeatureDistribution[0]
	if claude.Agent != 11 || claude.Other != 0 || claude.TotalInteractions != 11 {
		t.Errorf("claude distribution = %+v", claude)
	}
	if o4 := usage.FeatureDistribution[1]; o4.Other != 3 {
		t.Errorf("o4-mini other = %d, want 3", o4.Other)
	}
}

func TestAggregate_AgentHeatmapIntensityBounds(t *testing.T) {
	heatmap := Aggregate(sampleRecords(), nil).Result.ModelUsage.AgentHeatmap
	if len(heatmap) != 3 {
		t.Fatalf("heatmap days = %d, want 3", len(heatmap))
	}

	var busiest AgentHeatmapDay
	for _, d := range heatmap {
		if d.Intensity < 0 || d.Intensity > maxIntensity {
			t.Fatalf("intensity %d out of range on %s", d.Intensity, d.Date)
		}
		if d.AgentRequests > busiest.AgentRequests {
			busiest = d
		}
	}
	if busiest.Intensity != maxIntensity {
		t.Fatalf("busiest day intensity = %d, want %d", busiest.Intensity, maxIntensity)
	}
	if heatmap[2].Intensity != 0 || heatmap[2].AgentRequests != 0 {
		t.Fatalf("idle day = %+v, want zero", heatmap[2])
	}
	if heatmap[0].UniqueUsers != 1 {
		t.Fatalf("day 1 agent users = %d, want 1", heatmap[0].UniqueUsers)
	}
}

func TestIntensity(t *testing.T) {
	tests := []struct {
		requests int64
		busiest  float64
		want     int
	}{
		{requests: 0, busiest: 1, want: 0},
		{requests: 1, busiest: 100, want: 1},
		{requests: 50, busiest: 100, want: 3},
		{requests: 100, busiest: 100, want: 5},
		{requests: 200, busiest: 100, want: 5},
	}
	for _, tt := range tests {
		if got := intensity(tt.requests, tt.busiest); got != tt.want {
			t.Errorf("intensity(%d, %v) = %d, want %d", tt.requests, tt.busiest, got, tt.want)
		}
	}
}

func TestAggregate_Conservation(t *testing.T) {
	records := sampleRecords()
	cat := catalog.Default()
	usage := Aggregate(records, cat).Result.ModelUsage

	var wantPremium, wantStandard int64
	for _, rec := range records {
		for _, mf := range rec.TotalsByModelFeature {
			switch {
			case core.IsUnknownName(mf.Model):
			case cat.Multiplier(mf.Model) > 0:
				wantPremium += mf.UserInitiatedInteractionCount
			default:
				wantStandard += mf.UserInitiatedInteractionCount
			}
		}
	}
	var gotPremium, gotStandard int64
	for _, d := range usage.PRUAnalysis {
		gotPremium += d.PremiumRequests
		gotStandard += d.StandardRequests
	}
	if gotPremium != wantPremium || gotStandard != wantStandard {
		t.Fatalf("premium/standard = %d/%d, want %d/%d", gotPremium, gotStandard, wantPremium, wantStandard)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	records := sampleRecords()
	first := Aggregate(records, nil).Result
	second := Aggregate(records, nil).Result
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second pass differs (-first +second):\n%s", diff)
	}
}

func TestAggregate_OrderIndependentDailyTotals(t *testing.T) {
	records := sampleRecords()
	reversed := slices.Clone(records)
	slices.Reverse(reversed)

	a := Aggregate(records, nil).Result
	b := Aggregate(reversed, nil).Result

	if diff := cmp.Diff(a.Engagement, b.Engagement); diff != "" {
		t.Errorf("engagement differs:\n%s", diff)
	}
	if diff := cmp.Diff(a.Activity, b.Activity); diff != "" {
		t.Errorf("activity differs:\n%s", diff)
	}
	if diff := cmp.Diff(a.Impact, b.Impact); diff != "" {
		t.Errorf("impact differs:\n%s", diff)
	}
	if diff := cmp.Diff(a.ModelUsage.Daily, b.ModelUsage.Daily); diff != "" {
		t.Errorf("daily model usage differs:\n%s", diff)
	}
	if diff := cmp.Diff(a.ModelUsage.AgentHeatmap, b.ModelUsage.AgentHeatmap); diff != "" {
		t.Errorf("agent heatmap differs:\n%s", diff)
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	agg := Aggregate(nil, nil)
	res := agg.Result

	if res.Stats.TopLanguage != (TopEntry{Name: NotAvailable}) {
		t.Errorf("top language = %+v", res.Stats.TopLanguage)
	}
	if res.Stats.TopModel != (TopEntry{Name: NotAvailable}) {
		t.Errorf("top model = %+v", res.Stats.TopModel)
	}
	if res.Stats.TopIDE != (TopIDE{Name: NotAvailable}) {
		t.Errorf("top IDE = %+v", res.Stats.TopIDE)
	}
	if len(res.Engagement) != 0 || len(res.Chat) != 0 || len(res.ModelUsage.Daily) != 0 || len(res.Impact.Joined) != 0 {
		t.Errorf("expected empty time series, got %+v", res)
	}
	if res.Engagement == nil || res.ModelUsage.AgentHeatmap == nil || res.Impact.Joined == nil {
		t.Errorf("time series must be empty slices, not nil")
	}
	if !res.ModelUsage.TotalServiceValue.IsZero() {
		t.Errorf("service value = %s, want 0", res.ModelUsage.TotalServiceValue)
	}
	if _, err := agg.UserDetails(1); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("UserDetails error = %v, want ErrUnknownUser", err)
	}
}

func TestAggregation_UserDetails(t *testing.T) {
	agg := Aggregate(sampleRecords(), nil)

	d, err := agg.UserDetails(1)
	if err != nil {
		t.Fatalf("UserDetails: %v", err)
	}
	if d.UserLogin != "alice_acme" || !d.UsedChat || !d.UsedAgent || d.UsedCLI {
		t.Errorf("identity/flags = %+v", d)
	}
	if diff := cmp.Diff([]string{"2025-10-01", "2025-10-02"}, d.Days); diff != "" {
		t.Errorf("days mismatch:\n%s", diff)
	}
	if d.TotalStandardModelRequests != 4 || d.TotalPremiumModelRequests != 11 {
		t.Errorf("standard/premium = %d/%d, want 4/11", d.TotalStandardModelRequests, d.TotalPremiumModelRequests)
	}
	if len(d.IDEs) != 2 || len(d.PluginVersions) != 2 || d.PluginVersions[0].PluginVersion != "1.5.0" {
		t.Errorf("ides/plugins = %+v / %+v", d.IDEs, d.PluginVersions)
	}

	wantJoined := []ImpactDay{
		{Date: "2025-10-01", LocAdded: 30, LocDeleted: 5, NetChange: 25, UserCount: 1, TotalUsers: 1},
		{Date: "2025-10-02", LocAdded: 8, LocDeleted: 0, NetChange: 8, UserCount: 1, TotalUsers: 1},
	}
	if diff := cmp.Diff(wantJoined, d.Impact.Joined); diff != "" {
		t.Errorf("scoped joined impact mismatch (-want +got):\n%s", diff)
	}
	if d.ModelUsage.TotalPRUs != 11 {
		t.Errorf("scoped PRUs = %v, want 11", d.ModelUsage.TotalPRUs)
	}

	if _, err := agg.UserDetails(99); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("unknown user error = %v", err)
	}
}

func TestUserDetails_SkipsUnknownModels(t *testing.T) {
	acc := NewUserDetailsAccumulator(nil)
	rec := record("2025-10-01", 7, "dev")
	acc.AccumulateRecord(rec)
	acc.AccumulateModelFeature(7, modelFeature("unknown", core.FeatureAskMode, 9))
	acc.AccumulateModelFeature(7, modelFeature("", core.FeatureAskMode, 9))
	acc.AccumulateModelFeature(7, modelFeature("gpt-4o", core.FeatureAskMode, 2))

	d, ok := acc.Details(7)
	if !ok {
		t.Fatal("user 7 not found")
	}
	if d.TotalStandardModelRequests != 2 || d.TotalPremiumModelRequests != 0 {
		t.Fatalf("standard/premium = %d/%d, want 2/0", d.TotalStandardModelRequests, d.TotalPremiumModelRequests)
	}
	if diff := cmp.Diff([]int64{7}, acc.Users()); diff != "" {
		t.Fatalf("users mismatch:\n%s", diff)
	}
}
