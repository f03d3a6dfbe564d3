package metrics

import "github.com/janekbaraniewski/copilotusage/internal/core"

func counters(interactions, generations, acceptances, added, deleted int64) core.Counters {
	return core.Counters{
		UserInitiatedInteractionCount: interactions,
		CodeGenerationActivityCount:   generations,
		CodeAcceptanceActivityCount:   acceptances,
		LocAddedSum:                   added,
		LocDeletedSum:                 deleted,
	}
}

func feature(name string, c core.Counters) core.FeatureTotals {
	return core.FeatureTotals{Feature: name, Counters: c}
}

func modelFeature(model, feature string, interactions int64) core.ModelFeatureTotals {
	return core.ModelFeatureTotals{Model: model, Feature: feature, Counters: core.Counters{UserInitiatedInteractionCount: interactions}}
}

func record(day string, userID int64, login string) core.UsageRecord {
	return core.UsageRecord{Day: day, UserID: userID, UserLogin: login, ReportStartDay: "2025-10-01", ReportEndDay: "2025-10-07"}
}

// sampleRecords is a small three-user, three-day dataset touching every
// breakdown list.
func sampleRecords() []core.UsageRecord {
	a1 := record("2025-10-01", 1, "alice_acme")
	a1.Counters = counters(10, 8, 4, 30, 5)
	a1.UsedChat = true
	a1.TotalsByIDE = []core.IDETotals{{
		IDE:      "vscode",
		Counters: counters(10, 8, 4, 30, 5),
		LastKnownPluginVersion: &core.PluginVersion{
			SampledAt: "2025-10-01T10:00:00Z", Plugin: "copilot-chat", PluginVersion: "0.30.0",
		},
	}}
	a1.TotalsByFeature = []core.FeatureTotals{
		feature(core.FeatureCodeCompletion, counters(0, 6, 3, 20, 2)),
		feature(core.FeatureAskMode, counters(4, 2, 1, 10, 3)),
	}
	a1.TotalsByLanguageFeature = []core.LanguageFeatureTotals{
		{Language: "go", Feature: core.FeatureCodeCompletion, Counters: counters(0, 6, 3, 20, 2)},
		{Language: "python", Feature: core.FeatureAskMode, Counters: counters(4, 2, 1, 10, 3)},
	}
	a1.TotalsByLanguageModel = []core.LanguageModelTotals{
		{Language: "go", Model: "gpt-4o", Counters: counters(0, 6, 3, 20, 2)},
	}
	a1.TotalsByModelFeature = []core.ModelFeatureTotals{
		modelFeature("gpt-4o", core.FeatureAskMode, 4),
		modelFeature("claude-sonnet-4", core.FeatureAgentMode, 6),
	}

	a2 := record("2025-10-02", 1, "alice_acme")
	a2.Counters = counters(5, 2, 1, 8, 0)
	a2.UsedAgent = true
	a2.TotalsByIDE = []core.IDETotals{{
		IDE:      "intellij",
		Counters: counters(5, 2, 1, 8, 0),
		LastKnownPluginVersion: &core.PluginVersion{
			SampledAt: "2025-10-02T10:00:00Z", Plugin: "copilot-intellij", PluginVersion: "1.5.0",
		},
	}}
	a2.TotalsByFeature = []core.FeatureTotals{
		feature(core.FeatureAgentMode, counters(5, 2, 1, 8, 0)),
	}
	a2.TotalsByModelFeature = []core.ModelFeatureTotals{
		modelFeature("claude-sonnet-4", core.FeatureAgentMode, 5),
	}

	b1 := record("2025-10-01", 2, "bob_acme")
	b1.Counters = counters(0, 4, 2, 6, 1)
	b1.TotalsByIDE = []core.IDETotals{{IDE: "vscode", Counters: counters(0, 4, 2, 6, 1)}}
	b1.TotalsByFeature = []core.FeatureTotals{
		feature(core.FeatureCodeCompletion, counters(0, 4, 2, 6, 1)),
	}
	b1.TotalsByLanguageFeature = []core.LanguageFeatureTotals{
		{Language: "go", Feature: core.FeatureCodeCompletion, Counters: counters(0, 4, 2, 6, 1)},
	}
	b1.TotalsByLanguageModel = []core.LanguageModelTotals{
		{Language: "go", Model: "gpt-4o", Counters: counters(0, 4, 2, 6, 1)},
	}

	c3 := record("2025-10-03", 3, "carol_acme")
	c3.Counters = counters(3, 0, 0, 0, 0)
	c3.UsedCLI = true
	c3.TotalsByFeature = []core.FeatureTotals{
		feature(core.FeatureCLIAgent, counters(3, 0, 0, 0, 0)),
	}
	c3.TotalsByModelFeature = []core.ModelFeatureTotals{
		modelFeature("o4-mini", core.FeatureCLIAgent, 3),
		modelFeature("", core.FeatureCLIAgent, 2),
	}

	return []core.UsageRecord{a1, b1, a2, c3}
}
