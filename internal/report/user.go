package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/metrics"
)

// RenderUser writes the drill-down view for one user.
func RenderUser(w io.Writer, d metrics.UserDetails, opts Options) error {
	opts = opts.normalized()

	days := "no active days"
	if n := len(d.Days); n > 0 {
		days = fmt.Sprintf("%d days · %s → %s", n, d.Days[0], d.Days[n-1])
	}
	head := strings.Join([]string{
		brandStyle.Render(d.UserLogin),
		dimStyle.Render(fmt.Sprintf("#%d", d.UserID)),
		dimStyle.Render(days),
		dimStyle.Render(modes(d.UsedChat, d.UsedAgent, d.UsedCLI)),
	}, "  ")

	totals := "  " + strings.Join([]string{
		kv("Interactions", formatCount(d.UserInitiatedInteractionCount)),
		kv("Engagements", formatCount(d.Engagements())),
		kv("LOC", formatSigned(d.LocAddedSum-d.LocDeletedSum)),
		kv("Premium req", formatCount(d.TotalPremiumModelRequests)),
		kv("Standard req", formatCount(d.TotalStandardModelRequests)),
	}, "   ")

	sections := []string{
		head,
		totals,
		userFeatures(d.Features, opts),
		userIDEs(d, opts),
		userLanguages(d.LanguageFeatures, opts),
		modelSection(d.ModelUsage, opts),
		impactSection(d.Impact),
	}
	_, err := io.WriteString(w, strings.Join(lo.Compact(sections), "\n\n")+"\n")
	return err
}

func userFeatures(features []core.FeatureTotals, opts Options) string {
	if len(features) == 0 {
		return ""
	}
	ranked := slices.Clone(features)
	slices.SortStableFunc(ranked, func(a, b core.FeatureTotals) int {
		return cmp.Or(
			cmp.Compare(b.UserInitiatedInteractionCount+b.Engagements(), a.UserInitiatedInteractionCount+a.Engagements()),
			cmp.Compare(a.Feature, b.Feature),
		)
	})
	items := lo.Map(ranked, func(f core.FeatureTotals, i int) barItem {
		return barItem{
			Label:    catalog.FeatureLabel(f.Feature),
			Value:    float64(f.UserInitiatedInteractionCount + f.Engagements()),
			Color:    seriesColor(i),
			SubLabel: fmt.Sprintf("%s req · LOC %s", formatCount(f.UserInitiatedInteractionCount), formatSigned(f.LocAddedSum-f.LocDeletedSum)),
		}
	})
	return section("Features", renderHBarChart(items, opts.barWidth(), labelWidth))
}

func userIDEs(d metrics.UserDetails, opts Options) string {
	if len(d.IDEs) == 0 && len(d.PluginVersions) == 0 {
		return ""
	}
	var lines []string
	for _, ide := range d.IDEs {
		detail := formatCount(ide.Engagements()) + " engagements"
		if v := ide.LastKnownIDEVersion; v != nil && v.IDEVersion != "" {
			detail += " · " + v.IDEVersion
		}
		if p := ide.LastKnownPluginVersion; p != nil && p.PluginVersion != "" {
			detail += fmt.Sprintf(" · %s %s", p.Plugin, p.PluginVersion)
		}
		lines = append(lines, fmt.Sprintf("  %s %s", labelStyle.Width(labelWidth).Render(truncateToWidth(ide.IDE, labelWidth)), dimStyle.Render(detail)))
	}
	for _, p := range lo.Slice(d.PluginVersions, 0, topVersions) {
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			labelStyle.Width(labelWidth).Render(truncateToWidth(p.Plugin, labelWidth)),
			valueStyle.Render(p.PluginVersion),
			dimStyle.Render(p.SampledAt)))
	}
	if len(d.PluginVersions) > topVersions {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("  … %d older plugin versions", len(d.PluginVersions)-topVersions)))
	}
	return section("IDEs & plugins", lines...)
}

func userLanguages(rows []core.LanguageFeatureTotals, opts Options) string {
	byLanguage := map[string]int64{}
	var order []string
	for _, r := range rows {
		if opts.ExcludeUnknownLanguage && core.IsUnknownName(r.Language) {
			continue
		}
		if _, ok := byLanguage[r.Language]; !ok {
			order = append(order, r.Language)
		}
		byLanguage[r.Language] += r.Engagements()
	}
	if len(order) == 0 {
		return ""
	}
	slices.SortStableFunc(order, func(a, b string) int {
		return cmp.Compare(byLanguage[b], byLanguage[a])
	})
	items := lo.Map(lo.Slice(order, 0, opts.TopRows), func(lang string, i int) barItem {
		return barItem{Label: lang, Value: float64(byLanguage[lang]), Color: seriesColor(i)}
	})
	return section("Languages", renderHBarChart(items, opts.barWidth(), labelWidth))
}
