// Package catalog holds the static classification tables used while
// aggregating usage metrics: per-model premium-request multipliers, the
// premium flag, the service value rate and human labels for features.
//
// A Catalog is read-only once built; one aggregation pass must see the same
// classification for every record.
package catalog

import (
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

// ServiceValueRate is the dollar value of one premium request unit.
var ServiceValueRate = decimal.RequireFromString("0.04")

type Model struct {
	Multiplier float64 `json:"multiplier"`
	Premium    bool    `json:"premium"`
}

type Catalog struct {
	models map[string]Model
	rate   decimal.Decimal
}

// defaultModels lists premium request multipliers for paid plans. Models with
// multiplier 0 are included in every plan.
var defaultModels = map[string]Model{
	"gpt-4.1":                     {Multiplier: 0},
	"gpt-4o":                      {Multiplier: 0},
	"gpt-4o-mini":                 {Multiplier: 0},
	"gpt-5-mini":                  {Multiplier: 0},
	"gpt-5":                       {Multiplier: 1, Premium: true},
	"gpt-5-codex":                 {Multiplier: 1, Premium: true},
	"gpt-4.5":                     {Multiplier: 50, Premium: true},
	"o1":                          {Multiplier: 10, Premium: true},
	"o3":                          {Multiplier: 1, Premium: true},
	"o3-mini":                     {Multiplier: 0.33, Premium: true},
	"o4-mini":                     {Multiplier: 0.33, Premium: true},
	"claude-3-opus":               {Multiplier: 2, Premium: true},
	"claude-3.5-sonnet":           {Multiplier: 1, Premium: true},
	"claude-3.7-sonnet":           {Multiplier: 1, Premium: true},
	"claude-3.7-sonnet-thought":   {Multiplier: 1.25, Premium: true},
	"claude-sonnet-4":             {Multiplier: 1, Premium: true},
	"claude-sonnet-4.5":           {Multiplier: 1, Premium: true},
	"claude-haiku-4.5":            {Multiplier: 0.33, Premium: true},
	"claude-opus-4":               {Multiplier: 10, Premium: true},
	"claude-opus-4.1":             {Multiplier: 10, Premium: true},
	"gemini-2.0-flash":            {Multiplier: 0.25, Premium: true},
	"gemini-2.5-pro":              {Multiplier: 1, Premium: true},
	"grok-code-fast-1":            {Multiplier: 0.25, Premium: true},
	"raptor-mini":                 {Multiplier: 0},
	"code-completion-default":     {Multiplier: 0},
	"copilot-swe-agent-default":   {Multiplier: 1, Premium: true},
	"copilot-code-review-default": {Multiplier: 1, Premium: true},
}

var featureLabels = map[string]string{
	core.FeatureCodeCompletion: "Code Completion",
	core.FeatureAskMode:        "Chat: Ask Mode",
	core.FeatureEditMode:       "Chat: Edit Mode",
	core.FeatureAgentMode:      "Chat: Agent Mode",
	core.FeatureCustomMode:     "Chat: Custom Mode",
	core.FeatureUnknownMode:    "Chat: Unknown Mode",
	core.FeatureInlineChat:     "Inline Chat",
	core.FeatureAgentEdit:      "Agent Edit",
	core.FeatureCLIAgent:       "Copilot CLI",
	core.FeatureCodeReview:     "Code Review",
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{models: defaultModels, rate: ServiceValueRate}
}

// WithOverrides returns a copy of c with the given model entries merged on
// top. Keys are matched case-insensitively. A non-positive rate keeps the
// current rate.
func (c *Catalog) WithOverrides(models map[string]Model, rate decimal.Decimal) *Catalog {
	merged := make(map[string]Model, len(c.models)+len(models))
	for name, m := range c.models {
		merged[name] = m
	}
	for name, m := range models {
		merged[normalize(name)] = m
	}
	out := &Catalog{models: merged, rate: c.rate}
	if rate.IsPositive() {
		out.rate = rate
	}
	return out
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

// Multiplier returns the premium request multiplier for model. Unknown
// models return 0 so unclassified usage never counts as premium spend.
func (c *Catalog) Multiplier(model string) float64 {
	return c.models[normalize(model)].Multiplier
}

// IsPremium reports the premium flag for model, independent of its multiplier.
func (c *Catalog) IsPremium(model string) bool {
	return c.models[normalize(model)].Premium
}

// Known reports whether model has an entry in the catalog.
func (c *Catalog) Known(model string) bool {
	_, ok := c.models[normalize(model)]
	return ok
}

func (c *Catalog) Rate() decimal.Decimal {
	return c.rate
}

// ServiceValue converts premium request units to dollars, rounded to cents.
func (c *Catalog) ServiceValue(units float64) decimal.Decimal {
	return decimal.NewFromFloat(units).Mul(c.rate).Round(2)
}

// Models returns the catalog's model names, sorted.
func (c *Catalog) Models() []string {
	names := lo.Keys(c.models)
	slices.Sort(names)
	return names
}

// FeatureLabel returns a human label for a feature identifier, falling back
// to the identifier itself.
func FeatureLabel(feature string) string {
	if label, ok := featureLabels[feature]; ok {
		return label
	}
	return feature
}

var defaultCatalog = Default()

// GetModelMultiplier looks up model in the built-in catalog.
func GetModelMultiplier(model string) float64 {
	return defaultCatalog.Multiplier(model)
}

// IsPremiumModel looks up the premium flag in the built-in catalog.
func IsPremiumModel(model string) bool {
	return defaultCatalog.IsPremium(model)
}
