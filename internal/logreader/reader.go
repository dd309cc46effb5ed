// Package logreader reads session log files incrementally, tracking a byte
// offset per file so each call returns only newly appended records.
package logreader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log"
	"os"

	"github.com/agentfloor/agentfloor/internal/models"
)

// DefaultCacheCap bounds the number of records retained per tracked file.
const DefaultCacheCap = 200

// avgLineSize is the heuristic bytes-per-record estimate used by cold-start
// reads to seek near the tail of large files instead of reading them whole.
const avgLineSize = 800

type fileState struct {
	offset  int64
	records []models.LogRecord
}

// Reader tracks per-file read offsets and a bounded record cache. Not safe
// for concurrent use; the monitor calls it from a single goroutine.
type Reader struct {
	files    map[string]*fileState
	cacheCap int
}

// New creates a Reader with the default per-file cache cap.
func New() *Reader {
	return NewWithCap(DefaultCacheCap)
}

// NewWithCap creates a Reader with an explicit per-file cache cap.
func NewWithCap(cacheCap int) *Reader {
	return &Reader{
		files:    make(map[string]*fileState),
		cacheCap: cacheCap,
	}
}

// GetRecentMessages returns up to maxCount of the newest records for path,
// reading only bytes appended since the previous call. A file that shrank
// below the tracked offset (truncation or rotation) resets the incremental
// state and is re-read as a cold start.
func (r *Reader) GetRecentMessages(path string, maxCount int) ([]models.LogRecord, error) {
	st, ok := r.files[path]
	if !ok {
		return r.fullRead(path, maxCount)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	size := info.Size()
	if size < st.offset {
		// Truncated or replaced: drop state and start over.
		delete(r.files, path)
		return r.fullRead(path, maxCount)
	}
	if size == st.offset {
		return tail(st.records, maxCount), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		return nil, err
	}

	records, consumed := parseLines(f, size-st.offset)
	st.offset += consumed
	st.records = appendBounded(st.records, records, r.cacheCap)
	return tail(st.records, maxCount), nil
}

// fullRead is the cold-start path: estimate a starting offset from the
// average-line-size heuristic, then keep the last maxCount complete lines.
func (r *Reader) fullRead(path string, maxCount int) ([]models.LogRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	size := info.Size()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	start := int64(0)
	want := int64(maxCount+1) * avgLineSize
	if size > want {
		start = size - want
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
		// Discard the partial line the seek landed in.
		br := bufio.NewReader(f)
		skipped, err := br.ReadBytes('\n')
		if err != nil {
			// No newline after the seek point; nothing complete to read.
			r.files[path] = &fileState{offset: size}
			return nil, nil
		}
		start += int64(len(skipped))
		records, consumed := parseLines(br, size-start)
		st := &fileState{offset: start + consumed}
		st.records = appendBounded(nil, tail(records, maxCount), r.cacheCap)
		r.files[path] = st
		return tail(st.records, maxCount), nil
	}

	records, consumed := parseLines(f, size)
	st := &fileState{offset: consumed}
	st.records = appendBounded(nil, tail(records, maxCount), r.cacheCap)
	r.files[path] = st
	return tail(st.records, maxCount), nil
}

// RetainOnly evicts tracked state for every path not in activePaths,
// bounding memory to the currently discovered session set.
func (r *Reader) RetainOnly(activePaths map[string]bool) {
	for path := range r.files {
		if !activePaths[path] {
			delete(r.files, path)
		}
	}
}

// TrackedCount returns the number of files with live incremental state.
func (r *Reader) TrackedCount() int {
	return len(r.files)
}

// parseLines reads up to limit bytes of newline-delimited JSON records.
// Malformed lines are skipped. Returns the parsed records and the number of
// bytes consumed through the last complete line.
func parseLines(src io.Reader, limit int64) ([]models.LogRecord, int64) {
	scanner := bufio.NewScanner(io.LimitReader(src, limit))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var records []models.LogRecord
	var consumed int64
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1
		if consumed > limit {
			// Trailing line with no newline yet: leave it for the next read.
			consumed -= int64(len(line)) + 1
			break
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var rec models.LogRecord
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			log.Printf("[logreader] skipping malformed line: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, consumed
}

func appendBounded(dst, src []models.LogRecord, max int) []models.LogRecord {
	dst = append(dst, src...)
	if len(dst) > max {
		dst = append([]models.LogRecord(nil), dst[len(dst)-max:]...)
	}
	return dst
}

func tail(records []models.LogRecord, n int) []models.LogRecord {
	if n <= 0 || len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}
