package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/parsers"
	"github.com/janekbaraniewski/copilotusage/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shortSocketPath(t *testing.T, suffix string) string {
	t.Helper()
	return fmt.Sprintf("/tmp/copilotusage-%d-%s.sock", time.Now().UnixNano(), strings.TrimSpace(suffix))
}

func TestEnsureSocketPathAvailable_ActiveSocketReturnsError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are not supported in this test")
	}

	socketPath := shortSocketPath(t, "active")
	_ = os.Remove(socketPath)
	t.Cleanup(func() { _ = os.Remove(socketPath) })
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen unix socket: %v", err)
	}
	defer listener.Close()

	err = EnsureSocketPathAvailable(socketPath)
	if err == nil {
		t.Fatal("expected error for active daemon socket")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "already running") {
		t.Fatalf("error = %q, want already running message", err)
	}
}

func TestEnsureSocketPathAvailable_RemovesStaleSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are not supported in this test")
	}

	socketPath := shortSocketPath(t, "stale")
	_ = os.Remove(socketPath)
	t.Cleanup(func() { _ = os.Remove(socketPath) })
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen unix socket: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}

	if _, statErr := os.Stat(socketPath); statErr != nil && !os.IsNotExist(statErr) {
		t.Fatalf("stat socket before ensure: %v", statErr)
	}

	if err := EnsureSocketPathAvailable(socketPath); err != nil {
		t.Fatalf("ensure socket path available: %v", err)
	}

	if _, statErr := os.Stat(socketPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected stale socket to be removed, stat err = %v", statErr)
	}
}

func TestEnsureSocketPathAvailable_RejectsRegularFile(t *testing.T) {
	socketPath := shortSocketPath(t, "file")
	_ = os.Remove(socketPath)
	t.Cleanup(func() { _ = os.Remove(socketPath) })
	if err := os.WriteFile(socketPath, []byte("not-a-socket"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err := EnsureSocketPathAvailable(socketPath)
	if err == nil {
		t.Fatal("expected error for regular file at socket path")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "not a socket") {
		t.Fatalf("error = %q, want not a socket message", err)
	}
}

const (
	aliceLine = `{"day":"2025-10-01","report_end_day":"2025-10-07","user_id":1,"user_login":"alice_acme","user_initiated_interaction_count":2,"code_generation_activity_count":1,"code_acceptance_activity_count":1,"loc_added_sum":4,"used_agent":true}`
	bobLine   = `{"day":"2025-10-07","report_end_day":"2025-10-07","user_id":2,"user_login":"bob_acme","user_initiated_interaction_count":1,"code_generation_activity_count":0,"code_acceptance_activity_count":0,"loc_added_sum":0,"used_chat":true}`
)

// startTestDaemon serves on a fresh socket until the test ends.
func startTestDaemon(t *testing.T) *Client {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are not supported in this test")
	}

	socketPath := shortSocketPath(t, "serve")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, Config{SocketPath: socketPath}) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Serve: %v", err)
		}
		if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
			t.Errorf("socket %s left behind, stat err = %v", socketPath, err)
		}
	})

	client := NewClient(socketPath)
	health, err := WaitForHealthInfo(ctx, client, 3*time.Second)
	if err != nil {
		t.Fatalf("daemon not ready: %v", err)
	}
	if health.Status != "ok" || health.APIVersion != APIVersion || health.WorkerID == "" {
		t.Fatalf("health = %+v", health)
	}
	return client
}

func TestSocketTransport_RoundTrip(t *testing.T) {
	daemonClient := startTestDaemon(t)
	client := worker.NewClient(NewSocketTransport(daemonClient))
	defer client.Close()
	ctx := context.Background()

	files := []parsers.Source{
		{Name: "a.ndjson", Data: []byte(aliceLine + "\n")},
		{Name: "b.json", Data: []byte(bobLine + "\n")},
	}
	progress := 0
	res, err := client.ParseAndAggregate(ctx, files, core.DateRangeAll, func(parsers.Progress) { progress++ })
	if err != nil {
		t.Fatalf("ParseAndAggregate: %v", err)
	}
	if res.RecordCount != 2 || res.Result.Stats.UniqueUsers != 2 {
		t.Fatalf("result = %d records, %d users", res.RecordCount, res.Result.Stats.UniqueUsers)
	}
	if progress == 0 {
		t.Error("expected progress over the socket")
	}
	if res.EnterpriseName == nil || *res.EnterpriseName != "acme" {
		t.Errorf("enterprise = %v", res.EnterpriseName)
	}

	details, err := client.UserDetails(ctx, 1)
	if err != nil {
		t.Fatalf("UserDetails: %v", err)
	}
	if details.UserLogin != "alice_acme" || !details.UsedAgent {
		t.Fatalf("details = %+v", details)
	}

	_, err = client.UserDetails(ctx, 99)
	var remote *worker.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("unknown user error = %v, want RemoteError", err)
	}
}

func TestSocketTransport_LargeRequestIsCompressed(t *testing.T) {
	daemonClient := startTestDaemon(t)
	client := worker.NewClient(NewSocketTransport(daemonClient))
	defer client.Close()

	var data bytes.Buffer
	for data.Len() <= gzipThreshold {
		data.WriteString(aliceLine)
		data.WriteByte('\n')
	}
	batch, err := client.ParseFiles(context.Background(), []parsers.Source{{Name: "big.ndjson", Data: data.Bytes()}}, nil)
	if err != nil {
		t.Fatalf("ParseFiles: %v", err)
	}
	if len(batch.Records) < 2 || batch.Files[0].Records != len(batch.Records) {
		t.Fatalf("batch = %d records, files %+v", len(batch.Records), batch.Files)
	}
}

func TestSocketTransport_ReacquiresAfterRelease(t *testing.T) {
	daemonClient := startTestDaemon(t)
	transport := NewSocketTransport(daemonClient)
	client := worker.NewClient(transport)
	ctx := context.Background()

	if _, err := client.Aggregate(ctx, nil, core.DateRangeAll); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The daemon keeps its aggregation across sessions.
	if _, err := client.UserDetails(ctx, 1); err == nil {
		t.Fatal("expected unknown user error from empty aggregation")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSocketTransport_UnavailableDaemon(t *testing.T) {
	client := worker.NewClient(NewSocketTransport(NewClient(shortSocketPath(t, "none"))))
	defer client.Close()

	_, err := client.Aggregate(context.Background(), nil, core.DateRangeAll)
	if !IsUnavailable(err) {
		t.Fatalf("error = %v, want daemon unavailable", err)
	}
}

func TestHandleRequest_RejectsBadRequests(t *testing.T) {
	daemonClient := startTestDaemon(t)

	resp, err := daemonClient.http.Get("http://unix" + requestsPath)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}

	resp, err = daemonClient.http.Post("http://unix"+requestsPath, "application/json", strings.NewReader(`{"id":1}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing type status = %d", resp.StatusCode)
	}
}

func TestServe_RejectsActiveSocket(t *testing.T) {
	daemonClient := startTestDaemon(t)
	err := Serve(context.Background(), Config{SocketPath: daemonClient.SocketPath})
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second Serve error = %v, want already running", err)
	}
}
