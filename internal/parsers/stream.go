package parsers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the read size used by ParseReader.
const DefaultChunkSize = 256 << 10

// Progress is reported after every chunk.
type Progress struct {
	FileIndex  int     `json:"file_index"`
	FileCount  int     `json:"file_count"`
	FileName   string  `json:"file_name,omitempty"`
	BytesRead  int64   `json:"bytes_read"`
	TotalBytes int64   `json:"total_bytes"`
	Records    int     `json:"records"`
	Percent    float64 `json:"percent"`
}

type ProgressFunc func(Progress)

// StreamParser consumes arbitrary byte chunks and parses complete lines,
// carrying a partial trailing line over to the next chunk. UTF-8 sequences
// never contain '\n', so splitting on it cannot cut a multi-byte rune.
type StreamParser struct {
	carry []byte
	lines lineParser
}

// Write feeds one chunk.
func (s *StreamParser) Write(chunk []byte) (int, error) {
	data := chunk
	if len(s.carry) > 0 {
		data = append(s.carry, chunk...)
		s.carry = nil
	}
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		s.lines.feed(data[:idx])
		data = data[idx+1:]
	}
	if len(data) > 0 {
		s.carry = append([]byte(nil), data...)
	}
	return len(chunk), nil
}

// Flush parses any buffered partial line and returns the accumulated result.
func (s *StreamParser) Flush() Result {
	if len(s.carry) > 0 {
		s.lines.feed(s.carry)
		s.carry = nil
	}
	return s.lines.result
}

// Records returns how many records have been parsed so far.
func (s *StreamParser) Records() int {
	return len(s.lines.result.Records)
}

// ParseReader parses r in chunks. total is the expected size in bytes used for
// percentages; pass 0 when unknown. onProgress may be nil.
func ParseReader(ctx context.Context, r io.Reader, total int64, onProgress ProgressFunc) (Result, error) {
	return parseReader(ctx, r, Progress{TotalBytes: total, FileCount: 1}, DefaultChunkSize, onProgress)
}

func parseReader(ctx context.Context, r io.Reader, base Progress, chunkSize int, onProgress ProgressFunc) (Result, error) {
	var sp StreamParser
	buf := make([]byte, chunkSize)
	progress := base
	for {
		if err := ctx.Err(); err != nil {
			return sp.Flush(), err
		}
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = sp.Write(buf[:n])
			progress.BytesRead += int64(n)
			progress.Records = sp.Records()
			if progress.TotalBytes > 0 {
				progress.Percent = min(100, float64(progress.BytesRead)/float64(progress.TotalBytes)*100)
			}
			if onProgress != nil {
				onProgress(progress)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sp.Flush(), fmt.Errorf("read chunk: %w", err)
		}
	}
	result := sp.Flush()
	if onProgress != nil {
		progress.Records = len(result.Records)
		progress.Percent = 100
		onProgress(progress)
	}
	return result, nil
}
