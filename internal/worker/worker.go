package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/metrics"
	"github.com/janekbaraniewski/copilotusage/internal/parsers"
)

var (
	ErrNoAggregation  = errors.New("no aggregation available: run aggregate or parseAndAggregate first")
	ErrUnknownRequest = errors.New("unknown request type")
)

// Worker handles requests in arrival order. It keeps the per-user state of
// its most recent aggregation for computeUserDetails.
type Worker struct {
	id      string
	catalog *catalog.Catalog

	mu   sync.Mutex
	last *metrics.Aggregation
}

func New(cat *catalog.Catalog) *Worker {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Worker{id: uuid.NewString(), catalog: cat}
}

func (w *Worker) ID() string {
	return w.id
}

// Handle processes req, calling emit for every progress update and once for
// the terminal response.
func (w *Worker) Handle(ctx context.Context, req Request, emit func(Response)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.infof("request_start", "id=%d type=%s", req.ID, req.Type)
	resp := w.handle(ctx, req, emit)
	if resp.Type == ResponseError {
		w.warnf("request_error", "id=%d type=%s error=%q", req.ID, req.Type, resp.Error)
	} else {
		w.infof("request_done", "id=%d type=%s", req.ID, req.Type)
	}
	emit(resp)
}

func (w *Worker) handle(ctx context.Context, req Request, emit func(Response)) Response {
	progress := func(p parsers.Progress) {
		emit(Response{ID: req.ID, Type: ResponseParseProgress, Progress: &p})
	}

	switch req.Type {
	case RequestParseFiles:
		batch, err := w.parse(ctx, req.Files, progress)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, Type: ResponseParseResult, Parse: &batch}

	case RequestAggregate:
		records, err := filterRange(req.Metrics, req.Range)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		agg, err := w.aggregate(records)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, Type: ResponseAggregateResult, Aggregate: &AggregateResult{Result: agg.Result}}

	case RequestParseAndAggregate:
		batch, err := w.parse(ctx, req.Files, progress)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		records, err := filterRange(batch.Records, req.Range)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		agg, err := w.aggregate(records)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, Type: ResponseParseAndAggregateResult, ParseAndAggregate: &ParseAndAggregateResult{
			Result:         agg.Result,
			EnterpriseName: core.EnterpriseName(batch.Records),
			RecordCount:    len(records),
			Errors:         batch.Errors,
			Files:          batch.Files,
		}}

	case RequestComputeUserDetails:
		if w.last == nil {
			return errorResponse(req.ID, ErrNoAggregation)
		}
		details, err := w.last.UserDetails(req.UserID)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, Type: ResponseUserDetailsResult, UserDetails: &details}
	}
	return errorResponse(req.ID, fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type))
}

// parse returns ErrNoRecords (wrapped) when every file came up empty.
func (w *Worker) parse(ctx context.Context, files []parsers.Source, progress parsers.ProgressFunc) (parsers.Batch, error) {
	batch, err := parsers.ParseSources(ctx, files, progress)
	if err != nil {
		return batch, fmt.Errorf("parse files: %w", err)
	}
	if err := batch.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

// aggregate turns a panic during the pass into an error. On success the
// aggregation replaces the one retained for drill-downs.
func (w *Worker) aggregate(records []core.UsageRecord) (agg *metrics.Aggregation, err error) {
	defer func() {
		if r := recover(); r != nil {
			agg, err = nil, fmt.Errorf("aggregation failed: %v", r)
		}
	}()
	agg = metrics.Aggregate(records, w.catalog)
	w.last = agg
	return agg, nil
}

func filterRange(records []core.UsageRecord, r core.DateRange) ([]core.UsageRecord, error) {
	r, err := core.ParseDateRange(string(r))
	if err != nil {
		return nil, err
	}
	if r == core.DateRangeAll || len(records) == 0 {
		return records, nil
	}
	return core.FilterByDateRange(records, r, core.ReportEndDay(records))
}

func (w *Worker) infof(event, format string, args ...any) {
	w.logf("info", event, format, args...)
}

func (w *Worker) warnf(event, format string, args ...any) {
	w.logf("warn", event, format, args...)
}

func (w *Worker) logf(level, event, format string, args ...any) {
	prefix := fmt.Sprintf("worker level=%s event=%s worker_id=%s", level, event, w.id)
	if strings.TrimSpace(format) == "" {
		log.Print(prefix)
		return
	}
	log.Printf(prefix+" "+format, args...)
}
