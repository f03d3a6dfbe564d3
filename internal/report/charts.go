package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

type barItem struct {
	Label    string
	Value    float64
	Display  string
	Color    lipgloss.Color
	SubLabel string
}

// RenderGauge draws pct (0..100) as a filled track of width w.
func RenderGauge(pct float64, w int) string {
	if w < 4 {
		w = 4
	}
	pct = math.Max(0, math.Min(100, pct))

	filled := int(pct / 100 * float64(w))
	if filled < 1 && pct > 0 {
		filled = 1
	}
	empty := w - filled

	barColor := colorRed
	switch {
	case pct >= 60:
		barColor = colorGreen
	case pct >= 30:
		barColor = colorYellow
	}

	bar := lipgloss.NewStyle().Foreground(barColor).Render(strings.Repeat("█", filled))
	track := lipgloss.NewStyle().Foreground(colorSurface1).Render(strings.Repeat("░", empty))
	return bar + track
}

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// RenderSparkline scales values onto block glyphs, downsampling to w.
func RenderSparkline(values []float64, w int, color lipgloss.Color) string {
	if len(values) == 0 || w < 1 {
		return ""
	}

	if len(values) > w {
		step := float64(len(values)) / float64(w)
		sampled := make([]float64, w)
		for i := range w {
			idx := min(int(float64(i)*step), len(values)-1)
			sampled[i] = values[idx]
		}
		values = sampled
	}

	minV, maxV := values[0], values[0]
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	rng := maxV - minV
	if rng == 0 {
		rng = 1
	}

	var sb strings.Builder
	for _, v := range values {
		idx := int((v - minV) / rng * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))
		sb.WriteRune(sparkBlocks[idx])
	}
	return lipgloss.NewStyle().Foreground(color).Render(sb.String())
}

// heatGlyphs maps agent heatmap intensity 0..5.
var heatGlyphs = []string{"·", "░", "▒", "▓", "█", "█"}

func renderHeatCell(intensity int) string {
	intensity = max(0, min(intensity, len(heatGlyphs)-1))
	color := colorSurface1
	if intensity > 0 {
		color = colorAccent
	}
	style := lipgloss.NewStyle().Foreground(color)
	if intensity == len(heatGlyphs)-1 {
		style = style.Bold(true)
	}
	return style.Render(heatGlyphs[intensity])
}

func renderHBarChart(items []barItem, maxBarW, labelW int) string {
	if len(items) == 0 {
		return dimStyle.Render("  No data available")
	}
	if maxBarW < 4 {
		maxBarW = 4
	}

	maxVal := 0.0
	for _, item := range items {
		maxVal = math.Max(maxVal, item.Value)
	}
	if maxVal == 0 {
		maxVal = 1
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		label := labelStyle.Width(labelW).Render(truncateToWidth(item.Label, labelW))

		barLen := int(item.Value / maxVal * float64(maxBarW))
		if barLen < 1 && item.Value > 0 {
			barLen = 1
		}
		bar := lipgloss.NewStyle().Foreground(item.Color).Render(strings.Repeat("█", barLen))
		track := lipgloss.NewStyle().Foreground(colorSurface1).Render(strings.Repeat("░", maxBarW-barLen))

		display := item.Display
		if display == "" {
			display = formatNumber(item.Value)
		}
		line := fmt.Sprintf("  %s %s%s  %s", label, bar, track,
			lipgloss.NewStyle().Foreground(item.Color).Bold(true).Render(display))
		if item.SubLabel != "" {
			line += "  " + dimStyle.Render(item.SubLabel)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncateToWidth(s string, maxW int) string {
	if maxW <= 0 || ansi.StringWidth(s) <= maxW {
		return s
	}
	return ansi.Truncate(s, maxW, "…")
}
