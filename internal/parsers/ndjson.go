// Package parsers turns newline-delimited usage-metrics exports into
// validated core.UsageRecord values. Bad lines are dropped with a warning;
// they never fail the whole input.
package parsers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

var (
	ErrMalformedJSON = errors.New("malformed json")
	ErrNotObject     = errors.New("line is not a json object")
	ErrLegacySchema  = errors.New("legacy schema field present")
	ErrMissingField  = errors.New("required field missing")
)

// deprecatedFields mark the previous export schema, whose LOC counters had a
// different meaning. Records carrying them cannot be mixed with new ones.
var deprecatedFields = []string{"generated_loc_sum", "accepted_loc_sum"}

var requiredFields = []string{
	"user_initiated_interaction_count",
	"code_generation_activity_count",
	"code_acceptance_activity_count",
	"loc_added_sum",
}

// Result is the outcome of parsing one input.
type Result struct {
	Records  []core.UsageRecord `json:"records"`
	Lines    int                `json:"lines"`
	Skipped  int                `json:"skipped"`
	Warnings []string           `json:"warnings,omitempty"`
}

// maxWarnings bounds per-input warning retention; the Skipped count is exact.
const maxWarnings = 50

func (r *Result) drop(lineNo int, err error) {
	r.Skipped++
	msg := fmt.Sprintf("line %d: %v", lineNo, err)
	if len(r.Warnings) < maxWarnings {
		r.Warnings = append(r.Warnings, msg)
	}
	log.Printf("parser level=warn event=line_dropped line=%d error=%q", lineNo, err.Error())
}

// ParseLine validates and decodes one NDJSON line.
func ParseLine(line []byte) (core.UsageRecord, error) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		return core.UsageRecord{}, ErrMalformedJSON
	}
	if len(line) == 0 || line[0] != '{' {
		return core.UsageRecord{}, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return core.UsageRecord{}, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if field, ok := legacyField(fields); ok {
		return core.UsageRecord{}, fmt.Errorf("%w: %s", ErrLegacySchema, field)
	}
	for _, field := range requiredFields {
		raw, ok := fields[field]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return core.UsageRecord{}, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	var rec core.UsageRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return core.UsageRecord{}, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return rec, nil
}

func legacyField(fields map[string]json.RawMessage) (string, bool) {
	for _, name := range deprecatedFields {
		if _, ok := fields[name]; ok {
			return name, true
		}
	}
	raw, ok := fields["totals_by_feature"]
	if !ok {
		return "", false
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return "", false
	}
	for _, entry := range entries {
		for _, name := range deprecatedFields {
			if _, ok := entry[name]; ok {
				return "totals_by_feature." + name, true
			}
		}
	}
	return "", false
}

// lineParser accumulates records line by line, numbering lines across calls.
type lineParser struct {
	result Result
}

func (p *lineParser) feed(line []byte) {
	p.result.Lines++
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	rec, err := ParseLine(line)
	if err != nil {
		p.result.drop(p.result.Lines, err)
		return
	}
	p.result.Records = append(p.result.Records, rec)
}

// ParseText parses a complete NDJSON document.
func ParseText(text string) Result {
	var p lineParser
	for line := range strings.Lines(text) {
		p.feed([]byte(line))
	}
	return p.result
}
