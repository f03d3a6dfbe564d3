package parsers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/janekbaraniewski/copilotusage/internal/core"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file extension")
	ErrNoRecords       = errors.New("no metrics found")
)

// Source is one input file. Data, when set, is used instead of reading Path.
type Source struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// SourceFromPath makes path absolute so a daemon with a different working
// directory opens the same file.
func SourceFromPath(path string) Source {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return Source{Name: filepath.Base(path), Path: path}
}

func (s Source) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	return filepath.Base(s.Path)
}

type compression int

const (
	compressionNone compression = iota
	compressionGzip
	compressionZstd
)

// classify checks the extension: .json or .ndjson, optionally compressed.
func classify(name string) (compression, error) {
	lower := strings.ToLower(name)
	comp := compressionNone
	switch {
	case strings.HasSuffix(lower, ".gz"):
		comp = compressionGzip
		lower = strings.TrimSuffix(lower, ".gz")
	case strings.HasSuffix(lower, ".zst"):
		comp = compressionZstd
		lower = strings.TrimSuffix(lower, ".zst")
	}
	if strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".ndjson") {
		return comp, nil
	}
	return comp, fmt.Errorf("%w: %s", ErrUnsupportedFile, name)
}

// IsSupported reports whether name has an extension ParseSources accepts.
func IsSupported(name string) bool {
	_, err := classify(name)
	return err == nil
}

// CollectSources expands paths into sources. Directories contribute their
// supported files, sorted by name; files are taken as given.
func CollectSources(paths []string) ([]Source, error) {
	var out []Source
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, SourceFromPath(p))
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", p, err)
		}
		for _, e := range entries {
			if e.IsDir() || !IsSupported(e.Name()) {
				continue
			}
			out = append(out, SourceFromPath(filepath.Join(p, e.Name())))
		}
	}
	return out, nil
}

// open returns a decompressed reader over the source and its on-disk size.
func (s Source) open() (io.ReadCloser, int64, error) {
	comp, err := classify(s.displayName())
	if err != nil {
		return nil, 0, err
	}

	var raw io.ReadCloser
	var size int64
	if s.Data != nil {
		raw = io.NopCloser(bytes.NewReader(s.Data))
		size = int64(len(s.Data))
	} else {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("open %s: %w", s.Path, err)
		}
		if info, statErr := f.Stat(); statErr == nil {
			size = info.Size()
		}
		raw = f
	}

	switch comp {
	case compressionGzip:
		zr, err := gzip.NewReader(raw)
		if err != nil {
			_ = raw.Close()
			return nil, 0, fmt.Errorf("gzip reader: %w", err)
		}
		return multiCloser{Reader: zr, closers: []io.Closer{zr, raw}}, 0, nil
	case compressionZstd:
		zr, err := zstd.NewReader(raw)
		if err != nil {
			_ = raw.Close()
			return nil, 0, fmt.Errorf("zstd reader: %w", err)
		}
		return multiCloser{Reader: zr, closers: []io.Closer{zstdCloser{zr}, raw}}, 0, nil
	}
	return raw, size, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

// FileError records a file that failed as a whole.
type FileError struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

type FileSummary struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
	Lines   int    `json:"lines"`
	Skipped int    `json:"skipped"`
}

// Batch accumulates results across several files.
type Batch struct {
	Records []core.UsageRecord `json:"records"`
	Files   []FileSummary      `json:"files"`
	Errors  []FileError        `json:"errors,omitempty"`
	Skipped int                `json:"skipped"`
}

// Err returns ErrNoRecords when no file produced a usable record.
func (b Batch) Err() error {
	if len(b.Records) > 0 {
		return nil
	}
	if len(b.Errors) > 0 {
		return fmt.Errorf("%w (%d file errors, first: %s: %s)", ErrNoRecords, len(b.Errors), b.Errors[0].Name, b.Errors[0].Error)
	}
	return ErrNoRecords
}

// ParseSources parses files one after another. A failing file is recorded in
// Errors and the remaining files are still parsed. Only context cancellation
// aborts the batch.
func ParseSources(ctx context.Context, sources []Source, onProgress ProgressFunc) (Batch, error) {
	var batch Batch
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		name := src.displayName()
		result, err := parseSource(ctx, src, Progress{FileIndex: i, FileCount: len(sources), FileName: name}, onProgress)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return batch, ctxErr
			}
			log.Printf("parser level=warn event=file_failed index=%d name=%q error=%q", i, name, err.Error())
			batch.Errors = append(batch.Errors, FileError{Index: i, Name: name, Error: err.Error()})
			continue
		}
		batch.Records = append(batch.Records, result.Records...)
		batch.Skipped += result.Skipped
		batch.Files = append(batch.Files, FileSummary{
			Name:    name,
			Records: len(result.Records),
			Lines:   result.Lines,
			Skipped: result.Skipped,
		})
	}
	return batch, nil
}

func parseSource(ctx context.Context, src Source, base Progress, onProgress ProgressFunc) (Result, error) {
	rc, size, err := src.open()
	if err != nil {
		return Result{}, err
	}
	defer rc.Close()
	base.TotalBytes = size
	return parseReader(ctx, rc, base, DefaultChunkSize, onProgress)
}
