package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/janekbaraniewski/copilotusage/internal/config"
	"github.com/janekbaraniewski/copilotusage/internal/version"
	"github.com/janekbaraniewski/copilotusage/internal/worker"
)

// Service exposes one worker over a unix socket. Requests from every
// connection share a single queue, so they run in the order they arrived.
type Service struct {
	cfg    Config
	worker *worker.Worker

	// enqueueMu orders acceptance: a request is queued before the next
	// handler may answer its caller's headers.
	enqueueMu sync.Mutex
	jobs      chan job
	stopped   chan struct{}
}

type job struct {
	ctx     context.Context
	req     worker.Request
	traceID string
	emit    func(worker.Response)
	done    chan struct{}
}

func RunServer(cfg Config) error {
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return Serve(ctx, cfg)
}

// Serve runs the daemon until ctx is done.
func Serve(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		socketPath, err := config.DefaultSocketPath()
		if err != nil {
			return err
		}
		cfg.SocketPath = socketPath
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	svc := &Service{
		cfg:     cfg,
		worker:  worker.New(cfg.Catalog),
		jobs:    make(chan job, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
	svc.infof("daemon_start", "socket=%s worker_id=%s queue=%d", cfg.SocketPath, svc.worker.ID(), cfg.QueueSize)

	listener, err := svc.listen()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	server := &http.Server{
		Handler:           svc.routes(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Responses stream for as long as parsing takes.
		WriteTimeout: 0,
		IdleTimeout:  20 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		svc.runJobs(gctx)
		return nil
	})
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			svc.warnf("socket_server_error", "error=%v", err)
			return fmt.Errorf("serve usage daemon socket: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		svc.infof("socket_shutdown", "reason=context_done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = listener.Close()
		_ = os.Remove(cfg.SocketPath)
		return nil
	})

	err = g.Wait()
	svc.infof("daemon_stop", "")
	return err
}

func (s *Service) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create usage daemon socket dir: %w", err)
	}
	if err := EnsureSocketPathAvailable(s.cfg.SocketPath); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen usage daemon socket: %w", err)
	}
	_ = os.Chmod(s.cfg.SocketPath, 0o660)
	s.infof("socket_listening", "path=%s", s.cfg.SocketPath)
	return listener, nil
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.HandleFunc(requestsPath, s.handleRequest)
	return mux
}

// runJobs drains the queue one job at a time. It only returns between jobs.
func (s *Service) runJobs(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			started := time.Now()
			s.worker.Handle(j.ctx, j.req, j.emit)
			s.infof("job_done", "trace_id=%s id=%d type=%s elapsed=%s", j.traceID, j.req.ID, j.req.Type, time.Since(started).Round(time.Millisecond))
			close(j.done)
		}
	}
}

func EnsureSocketPathAvailable(socketPath string) error {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return fmt.Errorf("socket path is empty")
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat socket path %s: %w", socketPath, err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path %s already exists and is not a socket", socketPath)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()
	dialer := net.Dialer{Timeout: 450 * time.Millisecond}
	conn, dialErr := dialer.DialContext(dialCtx, "unix", socketPath)
	if dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("usage daemon already running on socket %s", socketPath)
	}

	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("remove stale daemon socket %s: %w", socketPath, err)
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		DaemonVersion: strings.TrimSpace(version.Version),
		APIVersion:    APIVersion,
		WorkerID:      s.worker.ID(),
		Queued:        len(s.jobs),
	})
}

func (s *Service) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	traceID := uuid.NewString()
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	j := job{
		ctx:     r.Context(),
		req:     req,
		traceID: traceID,
		done:    make(chan struct{}),
		emit: func(resp worker.Response) {
			if err := enc.Encode(resp); err != nil {
				return
			}
			_ = rc.Flush()
		},
	}

	s.enqueueMu.Lock()
	w.Header().Set("Content-Type", ndjsonContentType)
	w.Header().Set(traceHeader, traceID)
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()
	select {
	case s.jobs <- j:
	case <-s.stopped:
		s.enqueueMu.Unlock()
		s.warnf("request_rejected", "trace_id=%s id=%d reason=stopped", traceID, req.ID)
		return
	}
	s.enqueueMu.Unlock()
	s.infof("request_queued", "trace_id=%s id=%d type=%s files=%d records=%d", traceID, req.ID, req.Type, len(req.Files), len(req.Metrics))

	select {
	case <-j.done:
	case <-s.stopped:
		// The loop exits only between jobs, so a job still queued here
		// never started and has no writer.
	}
}

func decodeRequest(r *http.Request) (worker.Request, error) {
	var body io.Reader = r.Body
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return worker.Request{}, fmt.Errorf("decode gzip request body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	var req worker.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return worker.Request{}, fmt.Errorf("decode worker request: %w", err)
	}
	if strings.TrimSpace(string(req.Type)) == "" {
		return worker.Request{}, fmt.Errorf("worker request type is empty")
	}
	return req, nil
}

// --- Logging ---

func (s *Service) infof(event, format string, args ...any) {
	if s == nil || !s.cfg.Verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=info event=%s", event)
		return
	}
	log.Printf("daemon level=info event=%s "+format, append([]any{event}, args...)...)
}

func (s *Service) warnf(event, format string, args ...any) {
	if s == nil || !s.cfg.Verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=warn event=%s", event)
		return
	}
	log.Printf("daemon level=warn event=%s "+format, append([]any{event}, args...)...)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
