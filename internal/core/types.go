package core

import "strings"

// Feature identifiers as they appear in the usage-metrics export.
const (
	FeatureCodeCompletion = "code_completion"
	FeatureAskMode        = "chat_panel_ask_mode"
	FeatureEditMode       = "chat_panel_edit_mode"
	FeatureAgentMode      = "chat_panel_agent_mode"
	FeatureCustomMode     = "chat_panel_custom_mode"
	FeatureUnknownMode    = "chat_panel_unknown_mode"
	FeatureInlineChat     = "chat_inline"
	FeatureAgentEdit      = "agent_edit"
	FeatureCLIAgent       = "cli_agent"
	FeatureCodeReview     = "code_review"
)

// UnknownName is the placeholder used by the export (and by us) for missing
// model and language names.
const UnknownName = "unknown"

// Counters is the counter block shared by the record root and every breakdown.
type Counters struct {
	UserInitiatedInteractionCount int64 `json:"user_initiated_interaction_count"`
	CodeGenerationActivityCount   int64 `json:"code_generation_activity_count"`
	CodeAcceptanceActivityCount   int64 `json:"code_acceptance_activity_count"`
	LocAddedSum                   int64 `json:"loc_added_sum"`
	LocDeletedSum                 int64 `json:"loc_deleted_sum"`
	LocSuggestedToAddSum          int64 `json:"loc_suggested_to_add_sum"`
	LocSuggestedToDeleteSum       int64 `json:"loc_suggested_to_delete_sum"`
}

// Add sums other into c.
func (c *Counters) Add(other Counters) {
	c.UserInitiatedInteractionCount += other.UserInitiatedInteractionCount
	c.CodeGenerationActivityCount += other.CodeGenerationActivityCount
	c.CodeAcceptanceActivityCount += other.CodeAcceptanceActivityCount
	c.LocAddedSum += other.LocAddedSum
	c.LocDeletedSum += other.LocDeletedSum
	c.LocSuggestedToAddSum += other.LocSuggestedToAddSum
	c.LocSuggestedToDeleteSum += other.LocSuggestedToDeleteSum
}

// Engagements is generations plus acceptances.
func (c Counters) Engagements() int64 {
	return c.CodeGenerationActivityCount + c.CodeAcceptanceActivityCount
}

// HasLOC reports whether any lines were added or deleted.
func (c Counters) HasLOC() bool {
	return c.LocAddedSum != 0 || c.LocDeletedSum != 0
}

// Active reports whether the entry carries any interaction or generation.
func (c Counters) Active() bool {
	return c.UserInitiatedInteractionCount > 0 || c.CodeGenerationActivityCount > 0
}

type PluginVersion struct {
	SampledAt     string `json:"sampled_at"`
	Plugin        string `json:"plugin"`
	PluginVersion string `json:"plugin_version"`
}

type IDEVersion struct {
	SampledAt  string `json:"sampled_at"`
	IDEVersion string `json:"ide_version"`
}

type IDETotals struct {
	IDE string `json:"ide"`
	Counters
	LastKnownPluginVersion *PluginVersion `json:"last_known_plugin_version,omitempty"`
	LastKnownIDEVersion    *IDEVersion    `json:"last_known_ide_version,omitempty"`
}

type FeatureTotals struct {
	Feature string `json:"feature"`
	Counters
}

type LanguageFeatureTotals struct {
	Language string `json:"language"`
	Feature  string `json:"feature"`
	Counters
}

type LanguageModelTotals struct {
	Language string `json:"language"`
	Model    string `json:"model"`
	Counters
}

type ModelFeatureTotals struct {
	Model   string `json:"model"`
	Feature string `json:"feature"`
	Counters
}

// UsageRecord is one user's activity summary for one calendar day.
// Root counters are not guaranteed to equal the sum of any breakdown.
type UsageRecord struct {
	ReportStartDay string `json:"report_start_day,omitempty"`
	ReportEndDay   string `json:"report_end_day,omitempty"`
	Day            string `json:"day"`
	EnterpriseID   string `json:"enterprise_id,omitempty"`
	UserID         int64  `json:"user_id"`
	UserLogin      string `json:"user_login"`
	Counters

	TotalsByIDE             []IDETotals             `json:"totals_by_ide"`
	TotalsByFeature         []FeatureTotals         `json:"totals_by_feature"`
	TotalsByLanguageFeature []LanguageFeatureTotals `json:"totals_by_language_feature"`
	TotalsByLanguageModel   []LanguageModelTotals   `json:"totals_by_language_model"`
	TotalsByModelFeature    []ModelFeatureTotals    `json:"totals_by_model_feature"`

	UsedChat  bool `json:"used_chat"`
	UsedAgent bool `json:"used_agent"`
	UsedCLI   bool `json:"used_cli"`
}

// Feature returns the record's totals for one feature, zero if absent.
func (r UsageRecord) Feature(name string) FeatureTotals {
	for _, f := range r.TotalsByFeature {
		if f.Feature == name {
			return f
		}
	}
	return FeatureTotals{Feature: name}
}

// IsUnknownName reports whether a model or language name carries no identity.
func IsUnknownName(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, UnknownName)
}

// EnterpriseName derives a display-only enterprise label from the first
// record: the login suffix after the last underscore, else enterprise_id.
func EnterpriseName(records []UsageRecord) *string {
	if len(records) == 0 {
		return nil
	}
	first := records[0]
	if idx := strings.LastIndex(first.UserLogin, "_"); idx >= 0 && idx < len(first.UserLogin)-1 {
		name := first.UserLogin[idx+1:]
		return &name
	}
	if id := strings.TrimSpace(first.EnterpriseID); id != "" {
		return &id
	}
	return nil
}
