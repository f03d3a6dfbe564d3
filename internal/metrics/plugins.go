package metrics

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

const (
	FamilyVSCode    = "vscode"
	FamilyJetBrains = "jetbrains"

	// VSCodeChatPlugin is the only VS Code plugin counted for versions.
	VSCodeChatPlugin = "copilot-chat"
)

var jetBrainsIDEs = []string{
	"intellij", "jetbrains", "pycharm", "webstorm", "goland", "rider",
	"clion", "phpstorm", "rubymine", "datagrip", "android",
}

type VersionUsers struct {
	Version string   `json:"version"`
	Users   int      `json:"users"`
	Logins  []string `json:"logins"`
}

type PluginFamily struct {
	Versions   []VersionUsers `json:"versions"`
	TotalUsers int            `json:"total_users"`
}

type PluginVersions struct {
	VSCode    PluginFamily `json:"vscode"`
	JetBrains PluginFamily `json:"jetbrains"`
}

// ideFamily maps an IDE name onto a plugin family, "" when untracked.
func ideFamily(ide string) string {
	ide = strings.ToLower(strings.TrimSpace(ide))
	if ide == "" {
		return ""
	}
	if strings.Contains(ide, "vscode") || strings.Contains(ide, "visual studio code") {
		return FamilyVSCode
	}
	for _, name := range jetBrainsIDEs {
		if strings.Contains(ide, name) {
			return FamilyJetBrains
		}
	}
	return ""
}

// pluginExcluded applies the per-family version exclusion rules.
func pluginExcluded(family string, pv core.PluginVersion) bool {
	version := strings.ToLower(strings.TrimSpace(pv.PluginVersion))
	if version == "" {
		return true
	}
	switch family {
	case FamilyJetBrains:
		return strings.HasSuffix(version, "-nightly")
	case FamilyVSCode:
		if !strings.EqualFold(strings.TrimSpace(pv.Plugin), VSCodeChatPlugin) {
			return true
		}
		return strings.HasSuffix(version, "-insider") || strings.HasSuffix(version, "-nightly")
	}
	return true
}

// PluginVersionAccumulator places every login on the version of its most
// recent non-excluded plugin sample, one placement per family.
type PluginVersionAccumulator struct {
	latest map[string]*table[string, core.PluginVersion]
}

func NewPluginVersionAccumulator() *PluginVersionAccumulator {
	return &PluginVersionAccumulator{latest: map[string]*table[string, core.PluginVersion]{
		FamilyVSCode:    newTable[string, core.PluginVersion](nil),
		FamilyJetBrains: newTable[string, core.PluginVersion](nil),
	}}
}

func (a *PluginVersionAccumulator) AccumulateIDE(login string, it core.IDETotals) {
	if it.LastKnownPluginVersion == nil || login == "" {
		return
	}
	family := ideFamily(it.IDE)
	if family == "" || pluginExcluded(family, *it.LastKnownPluginVersion) {
		return
	}
	sample := a.latest[family].at(login)
	if sample.SampledAt == "" || it.LastKnownPluginVersion.SampledAt > sample.SampledAt {
		*sample = *it.LastKnownPluginVersion
	}
}

func (a *PluginVersionAccumulator) Compute() PluginVersions {
	return PluginVersions{
		VSCode:    computeFamily(a.latest[FamilyVSCode]),
		JetBrains: computeFamily(a.latest[FamilyJetBrains]),
	}
}

func computeFamily(latest *table[string, core.PluginVersion]) PluginFamily {
	versions := newSetTable[string, string]()
	latest.each(func(login string, pv *core.PluginVersion) {
		versions.at(strings.TrimSpace(pv.PluginVersion)).add(login)
	})
	out := PluginFamily{Versions: make([]VersionUsers, 0, versions.len()), TotalUsers: latest.len()}
	versions.each(func(version string, logins *set[string]) {
		out.Versions = append(out.Versions, VersionUsers{
			Version: version,
			Users:   len(*logins),
			Logins:  sortedKeys(*logins),
		})
	})
	slices.SortStableFunc(out.Versions, func(x, y VersionUsers) int {
		if c := compareDesc(x.Users, y.Users); c != 0 {
			return c
		}
		return compareVersionsDesc(x.Version, y.Version)
	})
	return out
}

// compareVersionsDesc orders newer versions first. Strings that are not
// semver fall back to a plain comparison after all valid versions.
func compareVersionsDesc(x, y string) int {
	vx, vy := canonicalVersion(x), canonicalVersion(y)
	switch {
	case vx != "" && vy != "":
		return semver.Compare(vy, vx)
	case vx != "":
		return -1
	case vy != "":
		return 1
	default:
		return cmp.Compare(y, x)
	}
}

func canonicalVersion(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}
