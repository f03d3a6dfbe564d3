// Package report renders aggregation results for the terminal.
package report

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/metrics"
)

const (
	defaultWidth = 100
	minWidth     = 60
	labelWidth   = 22
	topVersions  = 5
)

type Options struct {
	Width    int
	TopUsers int
	// TopRows caps ranked sections such as languages and models.
	TopRows                int
	ExcludeUnknownLanguage bool
	Enterprise             *string
	Range                  core.DateRange
}

func (o Options) normalized() Options {
	if o.Width <= 0 {
		o.Width = defaultWidth
	}
	o.Width = max(o.Width, minWidth)
	if o.TopUsers <= 0 {
		o.TopUsers = 10
	}
	if o.TopRows <= 0 {
		o.TopRows = 8
	}
	if o.Range == "" {
		o.Range = core.DateRangeAll
	}
	return o
}

func (o Options) barWidth() int {
	return max(10, o.Width-labelWidth-24)
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report json: %w", err)
	}
	return nil
}

// Render writes the styled summary of res.
func Render(w io.Writer, res metrics.Result, opts Options) error {
	opts = opts.normalized()
	sections := []string{
		header(res.Stats, opts),
		overview(res.Stats, res.FeatureAdoption, opts),
		trends(res, opts),
		modelSection(res.ModelUsage, opts),
		adoptionSection(res.FeatureAdoption, opts),
		languageSection(res.Languages, opts),
		ideSection(res.IDEs, res.PluginVersions, opts),
		impactSection(res.Impact),
		usersSection(res.Users, opts),
	}
	_, err := io.WriteString(w, strings.Join(lo.Compact(sections), "\n\n")+"\n")
	return err
}

func header(st metrics.Stats, opts Options) string {
	parts := []string{brandStyle.Render("copilotusage")}
	if opts.Enterprise != nil {
		parts = append(parts, titleStyle.Render(*opts.Enterprise))
	}
	label := opts.Range.Label()
	if st.ReportStartDay != "" || st.ReportEndDay != "" {
		label += fmt.Sprintf(" · %s → %s", st.ReportStartDay, st.ReportEndDay)
	}
	parts = append(parts, dimStyle.Render(label))
	return strings.Join(parts, "  ")
}

func section(title string, body ...string) string {
	return sectionHeaderStyle.Render(title) + "\n" + strings.Join(body, "\n")
}

func kv(label, value string) string {
	return labelStyle.Render(label+" ") + valueStyle.Render(value)
}

func overview(st metrics.Stats, fa metrics.FeatureAdoption, opts Options) string {
	cardW := max(18, (opts.Width-8)/4)
	card := func(lines ...string) string {
		return cardStyle.Width(cardW).Render(strings.Join(lines, "\n"))
	}

	users := card(
		kv("Users", formatCount(st.UniqueUsers)),
		kv("Chat", formatCount(st.ChatUsers)),
		kv("Agent", formatCount(st.AgentUsers)),
		kv("CLI", formatCount(st.CLIUsers)),
		kv("Completion only", formatCount(st.CompletionOnlyUsers)),
	)
	activity := card(
		kv("Records", formatCount(st.TotalRecords)),
		kv("Interactions", formatCount(st.Totals.UserInitiatedInteractionCount)),
		kv("Generations", formatCount(st.Totals.CodeGenerationActivityCount)),
		kv("Acceptances", formatCount(st.Totals.CodeAcceptanceActivityCount)),
		labelStyle.Render("Acceptance ")+RenderGauge(st.AcceptanceRate, 8)+" "+valueStyle.Render(formatPercent(st.AcceptanceRate)),
	)
	code := card(
		kv("LOC added", formatCount(st.Totals.LocAddedSum)),
		kv("LOC deleted", formatCount(st.Totals.LocDeletedSum)),
		kv("Suggested +", formatCount(st.Totals.LocSuggestedToAddSum)),
		kv("Suggested -", formatCount(st.Totals.LocSuggestedToDeleteSum)),
		kv("Code review", formatCount(fa.CodeReviewUsers)),
	)
	top := card(
		kv("Language", truncateToWidth(orDash(st.TopLanguage.Name), cardW-12)),
		kv("IDE", truncateToWidth(orDash(st.TopIDE.Name), cardW-7)),
		kv("Model", truncateToWidth(orDash(st.TopModel.Name), cardW-9)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, users, activity, code, top)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func trends(res metrics.Result, opts Options) string {
	if len(res.Engagement) == 0 && len(res.Activity) == 0 {
		return ""
	}
	w := opts.barWidth()
	engagement := lo.Map(res.Engagement, func(d metrics.DailyEngagement, _ int) float64 { return d.EngagementPercentage })
	active := lo.Map(res.Activity, func(d metrics.DailyActivity, _ int) float64 { return float64(d.ActiveUsers) })
	chat := lo.Map(res.Chat, func(d metrics.DailyChatUsage, _ int) float64 { return float64(d.TotalRequests) })

	line := func(label string, values []float64, color lipgloss.Color, last string) string {
		return fmt.Sprintf("  %s %s  %s", labelStyle.Width(labelWidth).Render(label), RenderSparkline(values, w, color), dimStyle.Render(last))
	}
	var lines []string
	if n := len(res.Engagement); n > 0 {
		lines = append(lines, line("Engagement %", engagement, colorTeal, formatPercent(res.Engagement[n-1].EngagementPercentage)))
	}
	if n := len(res.Activity); n > 0 {
		lines = append(lines, line("Active users", active, colorBlue, formatCount(res.Activity[n-1].ActiveUsers)))
	}
	if n := len(res.Chat); n > 0 {
		lines = append(lines, line("Chat requests", chat, colorAccent, formatCount(res.Chat[n-1].TotalRequests)))
	}
	return section("Daily trends", lines...)
}

func modelSection(mu metrics.ModelUsage, opts Options) string {
	if len(mu.FeatureDistribution) == 0 && len(mu.Daily) == 0 {
		return ""
	}
	var premium, standard, unknown int64
	for _, d := range mu.Daily {
		premium += d.PremiumModelRequests
		standard += d.StandardModelRequests
		unknown += d.UnknownModelRequests
	}
	summary := "  " + strings.Join([]string{
		kv("PRUs", formatNumber(mu.TotalPRUs)),
		labelStyle.Render("Service value ") + moneyStyle.Render(formatUSD(mu.TotalServiceValue)),
		kv("Premium", formatCount(premium)),
		kv("Standard", formatCount(standard)),
		kv("Unknown", formatCount(unknown)),
	}, "   ")

	rows := lo.Slice(mu.FeatureDistribution, 0, opts.TopRows)
	items := lo.Map(rows, func(m metrics.ModelFeatureDistribution, i int) barItem {
		sub := fmt.Sprintf("%s req · %gx", formatCount(m.TotalInteractions), m.Multiplier)
		if !m.ServiceValue.IsZero() {
			sub += " · " + formatUSD(m.ServiceValue)
		}
		return barItem{Label: m.Model, Value: m.TotalPRUs, Color: seriesColor(i), SubLabel: sub}
	})

	heat := make([]string, 0, len(mu.AgentHeatmap))
	for _, d := range mu.AgentHeatmap {
		heat = append(heat, renderHeatCell(d.Intensity))
	}
	body := []string{summary, renderHBarChart(items, opts.barWidth(), labelWidth)}
	if len(heat) > 0 {
		body = append(body, fmt.Sprintf("  %s %s", labelStyle.Width(labelWidth).Render("Agent heatmap"), strings.Join(heat, "")))
	}
	return section("Models & premium requests", body...)
}

func adoptionSection(fa metrics.FeatureAdoption, opts Options) string {
	if fa.TotalUsers == 0 {
		return ""
	}
	funnel := []barItem{
		{Label: "All users", Value: float64(fa.TotalUsers), Color: colorLavender},
		{Label: "Completion", Value: float64(fa.CompletionUsers), Color: colorBlue},
		{Label: "Chat", Value: float64(fa.ChatUsers), Color: colorTeal},
		{Label: "Agent mode", Value: float64(fa.AgentModeUsers), Color: colorAccent},
		{Label: "CLI", Value: float64(fa.CLIUsers), Color: colorPeach},
		{Label: "Completion only", Value: float64(fa.CompletionOnlyUsers), Color: colorYellow},
	}
	for i := range funnel {
		funnel[i].SubLabel = formatPercent(share(funnel[i].Value, float64(fa.TotalUsers)))
	}
	return section("Feature adoption", renderHBarChart(funnel, opts.barWidth(), labelWidth))
}

func share(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

func languageSection(langs []metrics.LanguageStat, opts Options) string {
	if opts.ExcludeUnknownLanguage {
		langs = metrics.WithoutUnknownLanguage(langs)
	}
	if len(langs) == 0 {
		return ""
	}
	items := lo.Map(lo.Slice(langs, 0, opts.TopRows), func(l metrics.LanguageStat, i int) barItem {
		return barItem{
			Label:    l.Language,
			Value:    float64(l.TotalEngagements),
			Color:    seriesColor(i),
			SubLabel: fmt.Sprintf("%d users · %s accepted", l.Users, formatPercent(l.AcceptanceRate)),
		}
	})
	return section("Languages", renderHBarChart(items, opts.barWidth(), labelWidth))
}

func ideSection(ides metrics.IDEStats, plugins metrics.PluginVersions, opts Options) string {
	if len(ides.IDEs) == 0 {
		return ""
	}
	items := lo.Map(lo.Slice(ides.IDEs, 0, opts.TopRows), func(s metrics.IDEStat, i int) barItem {
		return barItem{
			Label:    s.IDE,
			Value:    float64(s.Users),
			Color:    seriesColor(i),
			SubLabel: formatCount(s.TotalEngagements) + " engagements",
		}
	})
	body := []string{
		renderHBarChart(items, opts.barWidth(), labelWidth),
		dimStyle.Render(fmt.Sprintf("  %d users on more than one IDE, %d with IDE data", ides.MultiIDEUsersCount, ides.TotalUniqueIDEUsers)),
	}
	for _, fam := range []struct {
		name string
		f    metrics.PluginFamily
	}{{"VS Code chat", plugins.VSCode}, {"JetBrains", plugins.JetBrains}} {
		if len(fam.f.Versions) == 0 {
			continue
		}
		versions := lo.Map(lo.Slice(fam.f.Versions, 0, topVersions), func(v metrics.VersionUsers, _ int) string {
			return fmt.Sprintf("%s (%d)", v.Version, v.Users)
		})
		body = append(body, fmt.Sprintf("  %s %s", labelStyle.Width(labelWidth).Render(fam.name), strings.Join(versions, ", ")))
	}
	return section("IDEs & plugins", body...)
}

func impactSection(im metrics.Impact) string {
	rows := []struct {
		name string
		days []metrics.ImpactDay
	}{
		{"Completion", im.Completion},
		{"Ask", im.Ask},
		{"Edit", im.Edit},
		{"Inline", im.Inline},
		{"Agent", im.Agent},
		{"All features", im.Joined},
	}
	var lines []string
	for _, r := range rows {
		if len(r.days) == 0 {
			continue
		}
		added := lo.SumBy(r.days, func(d metrics.ImpactDay) int64 { return d.LocAdded })
		deleted := lo.SumBy(r.days, func(d metrics.ImpactDay) int64 { return d.LocDeleted })
		peak := lo.MaxBy(r.days, func(a, b metrics.ImpactDay) bool { return a.UserCount > b.UserCount })
		lines = append(lines, fmt.Sprintf("  %s %s  %s  %s",
			labelStyle.Width(labelWidth).Render(r.name),
			valueStyle.Render(formatSigned(added-deleted)),
			dimStyle.Render(fmt.Sprintf("+%s / -%s", formatCount(added), formatCount(deleted))),
			dimStyle.Render(fmt.Sprintf("peak %d of %d users", peak.UserCount, peak.TotalUsers)),
		))
	}
	if len(lines) == 0 {
		return ""
	}
	return section("Code impact (net lines)", lines...)
}

func usersSection(users []metrics.UserSummary, opts Options) string {
	if len(users) == 0 {
		return ""
	}
	ranked := slices.Clone(users)
	slices.SortStableFunc(ranked, func(a, b metrics.UserSummary) int {
		return cmp.Compare(b.Engagements(), a.Engagements())
	})
	ranked = lo.Slice(ranked, 0, opts.TopUsers)

	loginW := max(12, opts.Width-70)
	headerRow := fmt.Sprintf("  %-*s %8s %8s %8s %6s  %s", loginW, "User", "Interact", "Engage", "LOC +", "Days", "Modes")
	lines := []string{labelStyle.Render(headerRow)}
	for _, u := range ranked {
		lines = append(lines, fmt.Sprintf("  %-*s %8s %8s %8s %6d  %s",
			loginW, truncateToWidth(u.UserLogin, loginW),
			formatCount(u.UserInitiatedInteractionCount),
			formatCount(u.Engagements()),
			formatCount(u.LocAddedSum),
			u.DaysActive,
			dimStyle.Render(modes(u.UsedChat, u.UsedAgent, u.UsedCLI)),
		))
	}
	title := fmt.Sprintf("Top users (%d of %d)", len(ranked), len(users))
	return section(title, lines...)
}

func modes(chat, agent, cli bool) string {
	var out []string
	if chat {
		out = append(out, "chat")
	}
	if agent {
		out = append(out, "agent")
	}
	if cli {
		out = append(out, "cli")
	}
	if len(out) == 0 {
		return "completion"
	}
	return strings.Join(out, ",")
}
