package daemon

import (
	"errors"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
)

const APIVersion = "v1"

const (
	healthPath   = "/healthz"
	requestsPath = "/v1/requests"

	// ndjsonContentType marks a stream of newline-delimited worker responses.
	ndjsonContentType = "application/x-ndjson"
	traceHeader       = "X-Trace-Id"

	defaultQueueSize = 32
)

var errDaemonUnavailable = errors.New("usage worker daemon unavailable")

type Config struct {
	SocketPath string
	Catalog    *catalog.Catalog
	// QueueSize bounds requests accepted but not yet started.
	QueueSize int
	Verbose   bool
}

type HealthResponse struct {
	Status        string `json:"status"`
	DaemonVersion string `json:"daemon_version,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
	WorkerID      string `json:"worker_id,omitempty"`
	Queued        int    `json:"queued"`
}
