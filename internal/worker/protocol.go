// Package worker runs parsing and aggregation away from the caller.
//
// A Worker processes one Request at a time and answers with zero or more
// progress responses followed by exactly one terminal response. Callers talk
// to a worker through a Transport; Client correlates responses to requests
// and discards aggregation results that a newer request superseded.
package worker

import (
	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/metrics"
	"github.com/janekbaraniewski/copilotusage/internal/parsers"
)

type RequestType string

const (
	RequestParseFiles         RequestType = "parseFiles"
	RequestAggregate          RequestType = "aggregate"
	RequestParseAndAggregate  RequestType = "parseAndAggregate"
	RequestComputeUserDetails RequestType = "computeUserDetails"
)

type ResponseType string

const (
	ResponseParseProgress           ResponseType = "parseProgress"
	ResponseParseResult             ResponseType = "parseResult"
	ResponseAggregateResult         ResponseType = "aggregateResult"
	ResponseParseAndAggregateResult ResponseType = "parseAndAggregateResult"
	ResponseUserDetailsResult       ResponseType = "userDetailsResult"
	ResponseError                   ResponseType = "error"
)

// Request is serialized as-is across process boundaries, so file contents
// travel in Files[i].Data when the worker cannot read the caller's paths.
type Request struct {
	ID      uint64             `json:"id"`
	Type    RequestType        `json:"type"`
	Files   []parsers.Source   `json:"files,omitempty"`
	Metrics []core.UsageRecord `json:"metrics,omitempty"`
	UserID  int64              `json:"userId,omitempty"`
	// Range filters parsed records before aggregating. Empty means all.
	Range core.DateRange `json:"range,omitempty"`
}

type AggregateResult struct {
	Result metrics.Result `json:"result"`
}

type ParseAndAggregateResult struct {
	Result         metrics.Result        `json:"result"`
	EnterpriseName *string               `json:"enterpriseName"`
	RecordCount    int                   `json:"recordCount"`
	Errors         []parsers.FileError   `json:"errors"`
	Files          []parsers.FileSummary `json:"files"`
}

type Response struct {
	ID       uint64            `json:"id"`
	Type     ResponseType      `json:"type"`
	Progress *parsers.Progress `json:"progress,omitempty"`

	Parse             *parsers.Batch           `json:"parse,omitempty"`
	Aggregate         *AggregateResult         `json:"aggregate,omitempty"`
	ParseAndAggregate *ParseAndAggregateResult `json:"parseAndAggregate,omitempty"`
	UserDetails       *metrics.UserDetails     `json:"userDetails,omitempty"`

	Error string `json:"error,omitempty"`
}

// Terminal reports whether r ends its request.
func (r Response) Terminal() bool {
	return r.Type != ResponseParseProgress
}

func errorResponse(id uint64, err error) Response {
	return Response{ID: id, Type: ResponseError, Error: err.Error()}
}
