package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/janekbaraniewski/copilotusage/internal/version"
)

// EnsureRunning returns a client for a healthy daemon on socketPath,
// starting one from the current executable when nothing answers.
func EnsureRunning(ctx context.Context, socketPath string, verbose bool) (*Client, error) {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return nil, fmt.Errorf("daemon socket path is empty")
	}
	client := NewClient(socketPath)

	health, healthErr := WaitForHealthInfo(ctx, client, 1200*time.Millisecond)
	if healthErr == nil {
		if !HealthCurrent(health) {
			return nil, fmt.Errorf(
				"usage daemon is out of date (running=%s expected=%s); stop it and retry",
				HealthVersion(health), strings.TrimSpace(version.Version),
			)
		}
		return client, nil
	}

	if err := spawnDaemonProcess(socketPath, verbose); err != nil {
		return nil, fmt.Errorf("start usage daemon: %w", err)
	}
	if _, err := WaitForHealthInfo(ctx, client, 10*time.Second); err != nil {
		return nil, err
	}
	return client, nil
}

func HealthVersion(health HealthResponse) string {
	if v := strings.TrimSpace(health.DaemonVersion); v != "" {
		return v
	}
	return "unknown"
}

func HealthCurrent(health HealthResponse) bool {
	expected := strings.TrimSpace(version.Version)
	if expected == "" || strings.EqualFold(expected, "dev") || !IsReleaseSemver(expected) {
		return HealthAPICompatible(health)
	}
	return strings.TrimSpace(health.DaemonVersion) == expected && HealthAPICompatible(health)
}

func HealthAPICompatible(health HealthResponse) bool {
	apiVersion := strings.TrimSpace(health.APIVersion)
	return apiVersion == "" || apiVersion == APIVersion
}

func IsReleaseSemver(value string) bool {
	v := strings.TrimSpace(value)
	if !semver.IsValid(v) {
		return false
	}
	if semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return false
	}
	return v == semver.Canonical(v)
}

func WaitForHealthInfo(
	ctx context.Context,
	client *Client,
	timeout time.Duration,
) (HealthResponse, error) {
	if client == nil {
		return HealthResponse{}, fmt.Errorf("daemon client is nil")
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		hc, hcCancel := context.WithTimeout(pingCtx, 700*time.Millisecond)
		health, err := client.HealthInfo(hc)
		hcCancel()
		if err == nil {
			return health, nil
		}
		lastErr = err

		select {
		case <-pingCtx.Done():
			if ctx.Err() != nil {
				return HealthResponse{}, ctx.Err()
			}
			return HealthResponse{}, fmt.Errorf("usage daemon did not become ready at %s: %w", client.SocketPath, lastErr)
		case <-time.After(220 * time.Millisecond):
		}
	}
}

// spawnDaemonProcess starts `<self> daemon --socket <path>` detached from
// the caller's stdio.
func spawnDaemonProcess(socketPath string, verbose bool) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{"daemon", "--socket", socketPath}
	if verbose {
		args = append(args, "--verbose")
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
