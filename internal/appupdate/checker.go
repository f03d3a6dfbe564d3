// Package appupdate compares the running copilotusage build against the
// latest tagged GitHub release and suggests an upgrade command.
package appupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	binaryName = "copilotusage"

	defaultLatestReleaseURL = "https://api.github.com/repos/janekbaraniewski/copilotusage/releases/latest"
	installScriptURL        = "https://github.com/janekbaraniewski/copilotusage/releases/latest/download/install.sh"
	defaultRequestTimeout   = 1500 * time.Millisecond

	tokenEnv = "COPILOTUSAGE_GITHUB_TOKEN"
)

type InstallMethod string

const (
	InstallMethodUnknown       InstallMethod = "unknown"
	InstallMethodHomebrew      InstallMethod = "homebrew"
	InstallMethodGoInstall     InstallMethod = "go_install"
	InstallMethodInstallScript InstallMethod = "install_script"
)

type CheckOptions struct {
	CurrentVersion   string
	// DaemonVersion is the version reported by a running usage daemon, if any.
	DaemonVersion    string
	ExecutablePath   string
	LatestReleaseURL string
	Timeout          time.Duration
	HTTPClient       *http.Client
}

type Result struct {
	UpdateAvailable bool          `json:"update_available"`
	CurrentVersion  string        `json:"current_version,omitempty"`
	LatestVersion   string        `json:"latest_version,omitempty"`
	InstallMethod   InstallMethod `json:"install_method"`
	UpgradeHint     string        `json:"upgrade_hint,omitempty"`
	DaemonVersion   string        `json:"daemon_version,omitempty"`
	// DaemonRestart is set when the running daemon is an older release than
	// this binary or the latest release.
	DaemonRestart   bool          `json:"daemon_restart,omitempty"`
}

// Check asks GitHub for the latest release. Non-release builds (dev,
// pre-release, dirty) are never compared and return without a request.
func Check(ctx context.Context, opts CheckOptions) (Result, error) {
	current := canonicalRelease(opts.CurrentVersion)
	method := detectInstallMethod(executablePath(opts.ExecutablePath))
	result := Result{
		CurrentVersion: current,
		InstallMethod:  method.method,
		UpgradeHint:    method.hint,
		DaemonVersion:  canonicalRelease(opts.DaemonVersion),
	}
	if current == "" {
		return result, nil
	}
	result.DaemonRestart = olderRelease(result.DaemonVersion, current)

	latest, err := latestRelease(ctx, opts, current)
	if err != nil {
		return result, err
	}
	result.LatestVersion = latest
	result.UpdateAvailable = semver.Compare(latest, current) > 0
	result.DaemonRestart = result.DaemonRestart || olderRelease(result.DaemonVersion, latest)
	return result, nil
}

// olderRelease reports whether v is a release strictly older than than.
func olderRelease(v, than string) bool {
	return v != "" && than != "" && semver.Compare(v, than) < 0
}

func latestRelease(ctx context.Context, opts CheckOptions, current string) (string, error) {
	endpoint := strings.TrimSpace(opts.LatestReleaseURL)
	if endpoint == "" {
		endpoint = defaultLatestReleaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build latest release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", binaryName+"/"+current)
	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" && isGitHubAPI(endpoint) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch latest release: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode latest release: %w", err)
	}
	latest := canonicalRelease(payload.TagName)
	if latest == "" {
		return "", fmt.Errorf("latest release tag %q is not a stable semver", payload.TagName)
	}
	return latest, nil
}

// canonicalRelease returns vMAJOR.MINOR.PATCH for stable releases and ""
// for anything else.
func canonicalRelease(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) || semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return ""
	}
	return semver.Canonical(v)
}

func executablePath(explicit string) string {
	p := strings.TrimSpace(explicit)
	if p == "" {
		exe, err := os.Executable()
		if err != nil {
			return ""
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		p = exe
	}
	return strings.ToLower(filepath.ToSlash(filepath.Clean(p)))
}

type installRule struct {
	method InstallMethod
	hint   string
	match  func(path, home string) bool
}

// installRules are tried in order; the last one always matches.
var installRules = []installRule{
	{
		method: InstallMethodHomebrew,
		hint:   "brew upgrade janekbaraniewski/tap/" + binaryName,
		match: func(path, _ string) bool {
			return strings.Contains(path, "/cellar/"+binaryName+"/") || path == "/opt/homebrew/bin/"+binaryName
		},
	},
	{
		method: InstallMethodGoInstall,
		hint:   "go install github.com/janekbaraniewski/copilotusage/cmd/copilotusage@latest",
		match: func(path, _ string) bool {
			return strings.HasSuffix(path, "/go/bin/"+binaryName) || inGoBin(path)
		},
	},
	{
		method: InstallMethodInstallScript,
		hint:   "curl -fsSL " + installScriptURL + " | bash",
		match: func(path, home string) bool {
			return path == "/usr/local/bin/"+binaryName || path == "/usr/bin/"+binaryName ||
				(home != "" && path == home+"/.local/bin/"+binaryName)
		},
	},
	{
		method: InstallMethodUnknown,
		hint:   "curl -fsSL " + installScriptURL + " | bash",
		match:  func(string, string) bool { return true },
	},
}

func detectInstallMethod(path string) installRule {
	if path == "" || path == "." {
		return installRules[len(installRules)-1]
	}
	home, _ := os.UserHomeDir()
	home = strings.ToLower(filepath.ToSlash(home))
	for _, rule := range installRules {
		if rule.match(path, home) {
			return rule
		}
	}
	return installRules[len(installRules)-1]
}

func inGoBin(path string) bool {
	dirs := []string{os.Getenv("GOBIN")}
	for _, gp := range filepath.SplitList(os.Getenv("GOPATH")) {
		dirs = append(dirs, filepath.Join(gp, "bin"))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if path == strings.ToLower(filepath.ToSlash(filepath.Join(dir, binaryName))) {
			return true
		}
	}
	return false
}

func isGitHubAPI(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "https") && strings.EqualFold(u.Hostname(), "api.github.com")
}
