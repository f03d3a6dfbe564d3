package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/worker"
)

const exportLines = `{"day":"2025-10-01","report_end_day":"2025-10-02","user_id":1,"user_login":"octo_acme","user_initiated_interaction_count":2,"code_generation_activity_count":3,"code_acceptance_activity_count":1,"loc_added_sum":4,"used_chat":true,"totals_by_feature":[{"feature":"code_completion","user_initiated_interaction_count":0,"code_generation_activity_count":3,"code_acceptance_activity_count":1,"loc_added_sum":4}]}
{"day":"2025-10-02","report_end_day":"2025-10-02","user_id":2,"user_login":"hubot_acme","user_initiated_interaction_count":1,"code_generation_activity_count":1,"code_acceptance_activity_count":0,"loc_added_sum":0}
not json
`

func writeExport(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(exportLines), 0o600); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "settings.json")
	return runCLIWithConfig(t, configPath, args...)
}

func runCLIWithConfig(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestReportCommand_JSON(t *testing.T) {
	path := writeExport(t, t.TempDir(), "usage.ndjson")

	stdout, _, err := runCLI(t, "report", "--json", path)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var out worker.ParseAndAggregateResult
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if out.RecordCount != 2 {
		t.Errorf("recordCount = %d, want 2", out.RecordCount)
	}
	if out.EnterpriseName == nil || *out.EnterpriseName != "acme" {
		t.Errorf("enterpriseName = %v, want acme", out.EnterpriseName)
	}
	if len(out.Files) != 1 || out.Files[0].Name != "usage.ndjson" {
		t.Errorf("files = %+v", out.Files)
	}
}

func TestReportCommand_Styled(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "usage.ndjson")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	stdout, _, err := runCLI(t, "report", "--width", "90", dir)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	out := ansi.Strip(stdout)
	for _, want := range []string{"acme", "octo_acme", "Feature adoption"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestReportCommand_Errors(t *testing.T) {
	path := writeExport(t, t.TempDir(), "usage.ndjson")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "invalid range", args: []string{"report", "--range", "3d", path}, want: "3d"},
		{name: "no exports", args: []string{"report", t.TempDir()}, want: "no .json or .ndjson files"},
		{name: "invalid user id", args: []string{"user", "octo", path}, want: "invalid user id"},
		{name: "unknown user", args: []string{"user", "99", path}, want: "user 99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestUserCommand(t *testing.T) {
	path := writeExport(t, t.TempDir(), "usage.ndjson")

	stdout, _, err := runCLI(t, "user", "--json", "1", path)
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	var details struct {
		UserID    int64  `json:"user_id"`
		UserLogin string `json:"user_login"`
	}
	if err := json.Unmarshal([]byte(stdout), &details); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if details.UserID != 1 || details.UserLogin != "octo_acme" {
		t.Fatalf("details = %+v", details)
	}
}

func TestModelsCommand_SetAndList(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "settings.json")

	if _, _, err := runCLIWithConfig(t, configPath, "models", "set", "My-Model", "2.5"); err != nil {
		t.Fatalf("models set: %v", err)
	}
	stdout, _, err := runCLIWithConfig(t, configPath, "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if !strings.Contains(stdout, "my-model") || !strings.Contains(stdout, "2.5x") {
		t.Fatalf("models output missing override:\n%s", stdout)
	}

	if _, _, err := runCLIWithConfig(t, configPath, "models", "set", "bad", "-1"); err == nil {
		t.Fatal("negative multiplier should be rejected")
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout, "copilotusage ") {
		t.Fatalf("version output = %q", stdout)
	}
}

func TestDirWatcher_Refresh(t *testing.T) {
	dir := t.TempDir()
	client := worker.NewClient(worker.NewInProcess(catalog.Default()))
	defer client.Close()

	var out, errOut bytes.Buffer
	w := &dirWatcher{
		dir:    dir,
		client: client,
		out:    &out,
		errOut: &errOut,
		render: func(buf io.Writer, res worker.ParseAndAggregateResult) error {
			_, err := fmt.Fprintf(buf, "rendered %d records\n", res.RecordCount)
			return err
		},
		dateRange: core.DateRangeAll,
	}

	w.refresh(context.Background())
	if !strings.Contains(out.String(), "no .json or .ndjson files") {
		t.Fatalf("empty dir output = %q", out.String())
	}

	out.Reset()
	writeExport(t, dir, "usage.ndjson")
	w.refresh(context.Background())
	if !strings.Contains(out.String(), "rendered 2 records") {
		t.Fatalf("refresh output = %q", out.String())
	}
	if strings.Contains(out.String(), ansi.EraseEntireScreen) {
		t.Error("screen should not be cleared when clear is off")
	}
}

func TestDirWatcher_SkipsCancelledRefresh(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "usage.ndjson")
	client := worker.NewClient(worker.NewInProcess(catalog.Default()))
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	w := &dirWatcher{
		dir:    dir,
		client: client,
		out:    &out,
		errOut: io.Discard,
		render: func(io.Writer, worker.ParseAndAggregateResult) error { return nil },
	}
	w.refresh(ctx)
	if out.Len() != 0 {
		t.Fatalf("cancelled refresh drew output: %q", out.String())
	}
}

func TestVersionCommand_CheckSkipsDevBuild(t *testing.T) {
	stdout, _, err := runCLI(t, "version", "--check")
	if err != nil {
		t.Fatalf("version --check: %v", err)
	}
	if !strings.Contains(stdout, "update check skipped") {
		t.Fatalf("output = %q", stdout)
	}
}
