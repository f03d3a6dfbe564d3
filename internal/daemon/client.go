package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/janekbaraniewski/copilotusage/internal/worker"
)

// Request bodies above this size are sent gzip-compressed.
const gzipThreshold = 64 << 10

type Client struct {
	SocketPath string
	http       *http.Client
}

func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
		DisableCompression: true,
		DisableKeepAlives:  true,
	}
	return &Client{
		SocketPath: socketPath,
		// No client timeout: request streams last as long as the job.
		http: &http.Client{Transport: transport},
	}
}

func (c *Client) HealthInfo(ctx context.Context) (HealthResponse, error) {
	if c == nil || strings.TrimSpace(c.SocketPath) == "" {
		return HealthResponse{}, fmt.Errorf("daemon client is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+healthPath, nil)
	if err != nil {
		return HealthResponse{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return HealthResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthResponse{}, fmt.Errorf("daemon health status: %s", resp.Status)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		return HealthResponse{Status: "ok"}, nil
	}
	var out HealthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return HealthResponse{}, fmt.Errorf("decode daemon health response: %w", err)
	}
	if strings.TrimSpace(out.Status) == "" {
		out.Status = "ok"
	}
	return out, nil
}

// Submit posts one worker request and returns once the daemon has queued
// it. The returned body streams NDJSON responses until the terminal one.
func (c *Client) Submit(ctx context.Context, request worker.Request) (io.ReadCloser, string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, "", fmt.Errorf("marshal worker request: %w", err)
	}
	encoding := ""
	if len(payload) > gzipThreshold {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return nil, "", fmt.Errorf("compress worker request: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, "", fmt.Errorf("compress worker request: %w", err)
		}
		payload, encoding = buf.Bytes(), "gzip"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+requestsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errDaemonUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("daemon request failed: %s", strings.TrimSpace(string(body)))
	}
	return resp.Body, resp.Header.Get(traceHeader), nil
}

// SocketTransport attaches a worker.Client to the daemon's worker. The
// daemon outlives a session, so its retained aggregation survives Release.
type SocketTransport struct {
	client *Client

	mu      sync.Mutex
	session *session
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    chan worker.Response
	stop   chan struct{}
	closed chan struct{}

	mu     sync.Mutex
	halted bool
	wg     sync.WaitGroup
}

func NewSocketTransport(client *Client) *SocketTransport {
	return &SocketTransport{client: client}
}

func (t *SocketTransport) Acquire(ctx context.Context) (<-chan worker.Response, error) {
	health, err := t.client.HealthInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", errDaemonUnavailable, t.client.SocketPath, err)
	}
	if !HealthAPICompatible(health) {
		return nil, fmt.Errorf("usage daemon api %s is incompatible with %s", health.APIVersion, APIVersion)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		return nil, fmt.Errorf("daemon transport already acquired")
	}
	sctx, cancel := context.WithCancel(context.Background())
	t.session = &session{
		ctx:    sctx,
		cancel: cancel,
		out:    make(chan worker.Response, 64),
		stop:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	return t.session.out, nil
}

func (t *SocketTransport) Post(ctx context.Context, req worker.Request) error {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()
	if s == nil {
		return worker.ErrTransportClosed
	}

	// Stop waiting for the daemon to queue req if the caller gives up.
	postCtx, cancel := context.WithCancel(s.ctx)
	stopAfter := context.AfterFunc(ctx, cancel)
	body, traceID, err := t.client.Submit(postCtx, req)
	stopAfter()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if !s.track() {
		cancel()
		_ = body.Close()
		return worker.ErrTransportClosed
	}
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer body.Close()
		if !s.pump(body) {
			log.Printf("daemon level=warn event=stream_broken trace_id=%s id=%d type=%s", traceID, req.ID, req.Type)
			s.halt()
		}
	}()
	return nil
}

// pump forwards decoded responses and reports whether the stream ended with
// a terminal response.
func (s *session) pump(body io.Reader) bool {
	dec := json.NewDecoder(body)
	for {
		var resp worker.Response
		if err := dec.Decode(&resp); err != nil {
			select {
			case <-s.stop:
				return true
			default:
				return false
			}
		}
		select {
		case s.out <- resp:
		case <-s.stop:
			return true
		}
		if resp.Terminal() {
			return true
		}
	}
}

// halt stops every stream of the session and closes its response channel
// once all of them have exited.
func (s *session) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	close(s.stop)
	s.cancel()
	go func() {
		s.wg.Wait()
		close(s.out)
		close(s.closed)
	}()
}

// track registers a stream reader unless the session already halted.
func (s *session) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return false
	}
	s.wg.Add(1)
	return true
}

func (t *SocketTransport) Release() error {
	t.mu.Lock()
	s := t.session
	t.session = nil
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	s.halt()
	<-s.closed
	return nil
}

func (t *SocketTransport) SocketPath() string {
	return t.client.SocketPath
}

var _ worker.Transport = (*SocketTransport)(nil)

// IsUnavailable reports whether err means no daemon answered on the socket.
func IsUnavailable(err error) bool {
	return errors.Is(err, errDaemonUnavailable)
}
