package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/metrics"
)

// scriptedTransport hands posted requests to the test, which answers them
// by hand.
type scriptedTransport struct {
	mu       sync.Mutex
	out      chan Response
	posted   chan Request
	acquires int
	released int
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{posted: make(chan Request, 8)}
}

func (s *scriptedTransport) Acquire(context.Context) (<-chan Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	s.out = make(chan Response, 8)
	return s.out, nil
}

func (s *scriptedTransport) Post(_ context.Context, req Request) error {
	s.posted <- req
	return nil
}

func (s *scriptedTransport) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	return nil
}

func (s *scriptedTransport) reply(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out <- resp
}

// crash closes the response stream the way a dying worker would.
func (s *scriptedTransport) crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.out)
	s.out = nil
}

func (s *scriptedTransport) next(t *testing.T) Request {
	t.Helper()
	select {
	case req := <-s.posted:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a posted request")
		return Request{}
	}
}

func aggregateResponse(id uint64, users int) Response {
	return Response{ID: id, Type: ResponseAggregateResult, Aggregate: &AggregateResult{
		Result: metrics.Result{Stats: metrics.Stats{UniqueUsers: users}},
	}}
}

type aggregateOutcome struct {
	result metrics.Result
	err    error
}

func TestClient_StaleAggregationIsSuperseded(t *testing.T) {
	tr := newScriptedTransport()
	client := NewClient(tr)
	defer client.Close()
	ctx := context.Background()

	first := make(chan aggregateOutcome, 1)
	go func() {
		res, err := client.Aggregate(ctx, []core.UsageRecord{{Day: "2025-10-01"}}, core.DateRangeAll)
		first <- aggregateOutcome{res, err}
	}()
	reqA := tr.next(t)

	second := make(chan aggregateOutcome, 1)
	go func() {
		res, err := client.Aggregate(ctx, []core.UsageRecord{{Day: "2025-10-02"}}, core.DateRangeAll)
		second <- aggregateOutcome{res, err}
	}()
	reqB := tr.next(t)

	tr.reply(aggregateResponse(reqA.ID, 1))
	if got := <-first; !errors.Is(got.err, ErrSuperseded) {
		t.Fatalf("first aggregation error = %v, want ErrSuperseded", got.err)
	}

	tr.reply(aggregateResponse(reqB.ID, 2))
	got := <-second
	if got.err != nil {
		t.Fatalf("second aggregation: %v", got.err)
	}
	if got.result.Stats.UniqueUsers != 2 {
		t.Fatalf("second result = %+v", got.result.Stats)
	}
}

func TestClient_UserDetailsIsNotSuperseded(t *testing.T) {
	tr := newScriptedTransport()
	client := NewClient(tr)
	defer client.Close()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := client.UserDetails(ctx, 1)
		done <- err
	}()
	req := tr.next(t)
	if req.Type != RequestComputeUserDetails || req.UserID != 1 {
		t.Fatalf("posted = %+v", req)
	}

	go func() { _, _ = client.Aggregate(ctx, nil, core.DateRangeAll) }()
	agg := tr.next(t)

	tr.reply(Response{ID: req.ID, Type: ResponseUserDetailsResult, UserDetails: &metrics.UserDetails{UserID: 1}})
	if err := <-done; err != nil {
		t.Fatalf("UserDetails: %v", err)
	}
	tr.reply(aggregateResponse(agg.ID, 0))
}

func TestClient_TransportFailureRejectsPendingAndReacquires(t *testing.T) {
	tr := newScriptedTransport()
	client := NewClient(tr)
	defer client.Close()
	ctx := context.Background()

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := client.ParseFiles(ctx, sampleFiles(), nil)
			errs <- err
		}()
	}
	tr.next(t)
	tr.next(t)

	tr.crash()
	for range 2 {
		if err := <-errs; !errors.Is(err, ErrTransportClosed) {
			t.Fatalf("pending call error = %v, want ErrTransportClosed", err)
		}
	}
	if client.Pending() != 0 {
		t.Fatalf("pending = %d after failure", client.Pending())
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.Aggregate(ctx, nil, core.DateRangeAll)
		done <- err
	}()
	req := tr.next(t)
	tr.reply(aggregateResponse(req.ID, 0))
	if err := <-done; err != nil {
		t.Fatalf("Aggregate after failure: %v", err)
	}

	tr.mu.Lock()
	acquires := tr.acquires
	tr.mu.Unlock()
	if acquires != 2 {
		t.Fatalf("acquires = %d, want 2", acquires)
	}
}

func TestClient_RemoteErrorAndContextCancel(t *testing.T) {
	tr := newScriptedTransport()
	client := NewClient(tr)
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := client.UserDetails(context.Background(), 9)
		done <- err
	}()
	req := tr.next(t)
	tr.reply(Response{ID: req.ID, Type: ResponseError, Error: ErrNoAggregation.Error()})
	var remote *RemoteError
	if err := <-done; !errors.As(err, &remote) || remote.Type != RequestComputeUserDetails {
		t.Fatalf("error = %v, want RemoteError", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, err := client.Aggregate(ctx, nil, core.DateRangeAll)
		done <- err
	}()
	tr.next(t)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if client.Pending() != 0 {
		t.Fatalf("pending = %d after cancel", client.Pending())
	}
}
