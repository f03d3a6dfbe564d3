package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/metrics"
	"github.com/janekbaraniewski/copilotusage/internal/parsers"
)

var (
	// ErrSuperseded is returned for an aggregation whose result arrived after
	// a newer aggregation had been requested.
	ErrSuperseded = errors.New("aggregation superseded by a newer request")
	ErrClosed     = errors.New("worker client closed")
)

// RemoteError is an error response reported by the worker.
type RemoteError struct {
	Type    RequestType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Type, e.Message)
}

type call struct {
	generation uint64
	onProgress parsers.ProgressFunc

	once sync.Once
	done chan struct{}
	resp Response
	err  error
}

func (c *call) finish(resp Response, err error) {
	c.once.Do(func() {
		c.resp, c.err = resp, err
		close(c.done)
	})
}

// Client sends requests through a Transport and matches responses by id.
// The transport is acquired on first use and again after a failure.
type Client struct {
	transport Transport

	mu         sync.Mutex
	acquired   bool
	epoch      uint64
	nextID     uint64
	generation uint64
	pending    map[uint64]*call
}

func NewClient(transport Transport) *Client {
	return &Client{transport: transport, pending: map[uint64]*call{}}
}

func (c *Client) ParseFiles(ctx context.Context, files []parsers.Source, onProgress parsers.ProgressFunc) (parsers.Batch, error) {
	resp, err := c.do(ctx, Request{Type: RequestParseFiles, Files: files}, onProgress)
	if err != nil {
		return parsers.Batch{}, err
	}
	if resp.Parse == nil {
		return parsers.Batch{}, unexpected(resp)
	}
	return *resp.Parse, nil
}

func (c *Client) Aggregate(ctx context.Context, records []core.UsageRecord, r core.DateRange) (metrics.Result, error) {
	resp, err := c.do(ctx, Request{Type: RequestAggregate, Metrics: records, Range: r}, nil)
	if err != nil {
		return metrics.Result{}, err
	}
	if resp.Aggregate == nil {
		return metrics.Result{}, unexpected(resp)
	}
	return resp.Aggregate.Result, nil
}

func (c *Client) ParseAndAggregate(ctx context.Context, files []parsers.Source, r core.DateRange, onProgress parsers.ProgressFunc) (ParseAndAggregateResult, error) {
	resp, err := c.do(ctx, Request{Type: RequestParseAndAggregate, Files: files, Range: r}, onProgress)
	if err != nil {
		return ParseAndAggregateResult{}, err
	}
	if resp.ParseAndAggregate == nil {
		return ParseAndAggregateResult{}, unexpected(resp)
	}
	return *resp.ParseAndAggregate, nil
}

func (c *Client) UserDetails(ctx context.Context, userID int64) (metrics.UserDetails, error) {
	resp, err := c.do(ctx, Request{Type: RequestComputeUserDetails, UserID: userID}, nil)
	if err != nil {
		return metrics.UserDetails{}, err
	}
	if resp.UserDetails == nil {
		return metrics.UserDetails{}, unexpected(resp)
	}
	return *resp.UserDetails, nil
}

// Close releases the transport and rejects every pending call.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.acquired {
		c.mu.Unlock()
		return nil
	}
	calls := c.resetLocked()
	err := c.transport.Release()
	c.mu.Unlock()

	for _, pc := range calls {
		pc.finish(Response{}, ErrClosed)
	}
	return err
}

func (c *Client) do(ctx context.Context, req Request, onProgress parsers.ProgressFunc) (Response, error) {
	c.mu.Lock()
	if err := c.ensureLocked(ctx); err != nil {
		c.mu.Unlock()
		return Response{}, err
	}
	c.nextID++
	req.ID = c.nextID
	pc := &call{onProgress: onProgress, done: make(chan struct{})}
	if isAggregation(req.Type) {
		c.generation++
		pc.generation = c.generation
	}
	c.pending[req.ID] = pc
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.transport.Post(ctx, req); err != nil {
		if ctx.Err() != nil {
			c.forget(req.ID)
			return Response{}, ctx.Err()
		}
		c.fail(epoch, fmt.Errorf("post %s: %w", req.Type, err))
		<-pc.done
		return Response{}, pc.err
	}

	select {
	case <-pc.done:
	case <-ctx.Done():
		c.forget(req.ID)
		return Response{}, ctx.Err()
	}
	if pc.err != nil {
		return Response{}, pc.err
	}
	if pc.generation != 0 && pc.generation != c.currentGeneration() {
		return Response{}, ErrSuperseded
	}
	if pc.resp.Type == ResponseError {
		return Response{}, &RemoteError{Type: req.Type, Message: pc.resp.Error}
	}
	return pc.resp, nil
}

func (c *Client) ensureLocked(ctx context.Context) error {
	if c.acquired {
		return nil
	}
	responses, err := c.transport.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	c.acquired = true
	c.epoch++
	go c.dispatch(c.epoch, responses)
	return nil
}

func (c *Client) dispatch(epoch uint64, responses <-chan Response) {
	for resp := range responses {
		c.mu.Lock()
		pc, ok := c.pending[resp.ID]
		if ok && resp.Terminal() {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			log.Printf("worker level=warn event=orphan_response id=%d type=%s", resp.ID, resp.Type)
			continue
		}
		if !resp.Terminal() {
			if pc.onProgress != nil && resp.Progress != nil {
				pc.onProgress(*resp.Progress)
			}
			continue
		}
		pc.finish(resp, nil)
	}
	c.fail(epoch, ErrTransportClosed)
}

// fail tears down the instance identified by epoch and rejects its pending
// calls. A stale epoch means the instance was already replaced or closed.
func (c *Client) fail(epoch uint64, err error) {
	c.mu.Lock()
	if !c.acquired || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	calls := c.resetLocked()
	// Release under the lock so a concurrent request cannot acquire the
	// transport before the failed instance is gone.
	_ = c.transport.Release()
	c.mu.Unlock()

	log.Printf("worker level=warn event=transport_failed pending=%d error=%q", len(calls), err.Error())
	for _, pc := range calls {
		pc.finish(Response{}, err)
	}
}

func (c *Client) resetLocked() []*call {
	calls := make([]*call, 0, len(c.pending))
	for id, pc := range c.pending {
		calls = append(calls, pc)
		delete(c.pending, id)
	}
	c.acquired = false
	c.epoch++
	return calls
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Pending reports the number of calls awaiting a terminal response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func isAggregation(t RequestType) bool {
	return t == RequestAggregate || t == RequestParseAndAggregate
}

func unexpected(resp Response) error {
	return fmt.Errorf("unexpected worker response %q for request %d", resp.Type, resp.ID)
}
