package parsers

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func recordLine(login string) string {
	return `{"day":"2025-10-01","user_id":1,"user_login":"` + login + `","user_initiated_interaction_count":1,"code_generation_activity_count":1,"code_acceptance_activity_count":1,"loc_added_sum":1}`
}

func TestStreamParser_CarriesLinesAcrossChunks(t *testing.T) {
	doc := recordLine("zoë_café") + "\n" + recordLine("北京") + "\n" + recordLine("plain")
	var sp StreamParser
	// Feed byte by byte so every line and every multi-byte rune is split.
	for i := 0; i < len(doc); i++ {
		_, _ = sp.Write([]byte{doc[i]})
	}
	result := sp.Flush()
	if len(result.Records) != 3 {
		t.Fatalf("records = %d, want 3 (skipped %d: %v)", len(result.Records), result.Skipped, result.Warnings)
	}
	if result.Records[0].UserLogin != "zoë_café" || result.Records[1].UserLogin != "北京" {
		t.Errorf("logins decoded wrong: %q, %q", result.Records[0].UserLogin, result.Records[1].UserLogin)
	}
}

func TestParseReader_ReportsProgressPerChunk(t *testing.T) {
	doc := strings.Repeat(recordLine("octo")+"\n", 20)
	var events []Progress
	result, err := parseReader(context.Background(), strings.NewReader(doc), Progress{TotalBytes: int64(len(doc)), FileCount: 1}, 64, func(p Progress) {
		events = append(events, p)
	})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(result.Records) != 20 {
		t.Fatalf("records = %d, want 20", len(result.Records))
	}
	if len(events) < 2 {
		t.Fatalf("expected several progress events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Percent != 100 || last.Records != 20 || last.BytesRead != int64(len(doc)) {
		t.Errorf("final progress = %+v", last)
	}
	for i := 1; i < len(events); i++ {
		if events[i].BytesRead < events[i-1].BytesRead {
			t.Fatalf("progress went backwards at %d", i)
		}
	}
}

func TestParseReader_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ParseReader(ctx, strings.NewReader(recordLine("a")), 0, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(data)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll([]byte(data), nil)
}

func TestParseSources_ContinuesPastFailingFiles(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "metrics.ndjson")
	if err := os.WriteFile(onDisk, []byte(recordLine("disk")+"\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	sources := []Source{
		{Name: "missing.json", Path: filepath.Join(dir, "missing.json")},
		SourceFromPath(onDisk),
		{Name: "export.csv", Data: []byte("a,b\n")},
		{Name: "export.ndjson.gz", Data: gzipBytes(t, recordLine("gz")+"\n")},
		{Name: "export.json.zst", Data: zstdBytes(t, recordLine("zst")+"\n"+recordLine("zst2"))},
		{Name: "broken.json.gz", Data: []byte("not gzip")},
	}
	var progress int
	batch, err := ParseSources(context.Background(), sources, func(Progress) { progress++ })
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}
	if len(batch.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(batch.Records))
	}
	if len(batch.Errors) != 3 {
		t.Fatalf("file errors = %+v, want 3", batch.Errors)
	}
	if batch.Errors[0].Index != 0 || batch.Errors[1].Index != 2 || batch.Errors[2].Index != 5 {
		t.Errorf("error indexes = %+v", batch.Errors)
	}
	if !strings.Contains(batch.Errors[1].Error, ErrUnsupportedFile.Error()) {
		t.Errorf("csv error = %q", batch.Errors[1].Error)
	}
	if len(batch.Files) != 3 {
		t.Errorf("file summaries = %+v", batch.Files)
	}
	if progress == 0 {
		t.Error("expected progress callbacks")
	}
	if batch.Err() != nil {
		t.Errorf("batch with records should not error: %v", batch.Err())
	}
}

func TestBatchErr_AllFilesFailed(t *testing.T) {
	batch, err := ParseSources(context.Background(), []Source{{Name: "x.txt", Data: []byte("x")}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(batch.Err(), ErrNoRecords) {
		t.Fatalf("Err() = %v, want ErrNoRecords", batch.Err())
	}
}

func TestCollectSources_ExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.ndjson", "a.json.gz", "notes.txt", "c.ndjson.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.json"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	single := filepath.Join(dir, "notes.txt")

	sources, err := CollectSources([]string{dir, single})
	if err != nil {
		t.Fatalf("CollectSources: %v", err)
	}
	var names []string
	for _, s := range sources {
		names = append(names, s.Name)
	}
	want := "a.json.gz,b.ndjson,c.ndjson.zst,notes.txt"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("sources = %s, want %s", got, want)
	}

	if _, err := CollectSources([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestCollectSources_AbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "usage.ndjson"), []byte(recordLine("octo")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Chdir(dir)

	sources, err := CollectSources([]string{"usage.ndjson", "."})
	if err != nil {
		t.Fatalf("CollectSources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %+v", sources)
	}
	for _, s := range sources {
		if !filepath.IsAbs(s.Path) {
			t.Errorf("path %q is not absolute", s.Path)
		}
		if s.Name != "usage.ndjson" {
			t.Errorf("name = %q", s.Name)
		}
	}

	// A worker running elsewhere still opens the file.
	t.Chdir(t.TempDir())
	batch, err := ParseSources(context.Background(), sources[:1], nil)
	if err != nil {
		t.Fatalf("ParseSources: %v", err)
	}
	if len(batch.Errors) != 0 || len(batch.Records) != 1 {
		t.Fatalf("batch = %+v", batch)
	}
}
