package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
)

var ErrTransportClosed = errors.New("worker transport closed")

// Transport connects a Client to one worker instance at a time.
//
// Acquire starts a fresh instance and returns its response stream. The
// stream is closed when the instance stops, whether through Release or a
// crash. Post must not block on the worker finishing the request.
type Transport interface {
	Acquire(ctx context.Context) (<-chan Response, error)
	Post(ctx context.Context, req Request) error
	Release() error
}

// InProcess runs the worker on a goroutine of the current process.
type InProcess struct {
	catalog *catalog.Catalog

	mu      sync.Mutex
	reqs    chan Request
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewInProcess(cat *catalog.Catalog) *InProcess {
	return &InProcess{catalog: cat}
}

func (t *InProcess) Acquire(ctx context.Context) (<-chan Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil, fmt.Errorf("in-process worker already acquired")
	}

	w := New(t.catalog)
	reqs := make(chan Request, 16)
	out := make(chan Response, 64)
	stop := make(chan struct{})
	done := make(chan struct{})
	t.reqs, t.stop, t.done, t.running = reqs, stop, done, true

	go t.run(w, reqs, out, stop, done)
	return out, nil
}

func (t *InProcess) run(w *Worker, reqs <-chan Request, out chan<- Response, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	defer func() {
		// A panic outside aggregation kills this instance. Closing out lets
		// the client reject whatever is still pending.
		if r := recover(); r != nil {
			log.Printf("worker level=error event=instance_crash worker_id=%s panic=%q", w.ID(), fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	emit := func(resp Response) {
		select {
		case out <- resp:
		case <-stop:
		}
	}
	for {
		select {
		case <-stop:
			return
		case req := <-reqs:
			w.Handle(ctx, req, emit)
		}
	}
}

func (t *InProcess) Post(ctx context.Context, req Request) error {
	t.mu.Lock()
	reqs, stop, running := t.reqs, t.stop, t.running
	t.mu.Unlock()
	if !running {
		return ErrTransportClosed
	}
	select {
	case reqs <- req:
		return nil
	case <-stop:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release stops the instance and waits for its goroutine to exit.
func (t *InProcess) Release() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	stop, done := t.stop, t.done
	t.running = false
	t.mu.Unlock()

	close(stop)
	<-done
	return nil
}
