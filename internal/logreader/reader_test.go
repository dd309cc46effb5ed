package logreader

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func userLine(text string) string {
	return fmt.Sprintf(`{"type":"user","message":{"role":"user","content":%q}}`, text)
}

func TestReadTwiceWithoutWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeLines(t, path, userLine("one"), userLine("two"))

	r := New()
	first, err := r.GetRecentMessages(path, 10)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first read returned %d records, want 2", len(first))
	}

	second, err := r.GetRecentMessages(path, 10)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second read returned %d records, want 2 (cached tail)", len(second))
	}
}

func TestAppendYieldsExactlyNewRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeLines(t, path, userLine("one"))

	r := New()
	if _, err := r.GetRecentMessages(path, 10); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	writeLines(t, path, userLine("two"), userLine("three"), userLine("four"))
	records, err := r.GetRecentMessages(path, 10)
	if err != nil {
		t.Fatalf("incremental read: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records after appending 3, want 4 total", len(records))
	}
	if got := records[3].Message.Content[0].Text; got != "four" {
		t.Errorf("newest record text = %q, want %q", got, "four")
	}
}

func TestCacheNeverExceedsCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	r := NewWithCap(5)

	writeLines(t, path, userLine("seed"))
	if _, err := r.GetRecentMessages(path, 100); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	for i := 0; i < 20; i++ {
		writeLines(t, path, userLine(fmt.Sprintf("msg-%d", i)))
		records, err := r.GetRecentMessages(path, 100)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(records) > 5 {
			t.Fatalf("cache grew to %d records, cap is 5", len(records))
		}
	}
}

func TestTruncationResetsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeLines(t, path, userLine("one"), userLine("two"), userLine("three"))

	r := New()
	if _, err := r.GetRecentMessages(path, 10); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	// Replace the file with shorter content.
	if err := os.WriteFile(path, []byte(userLine("fresh")+"\n"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	records, err := r.GetRecentMessages(path, 10)
	if err != nil {
		t.Fatalf("post-truncation read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records after truncation, want 1 (cold start)", len(records))
	}
	if got := records[0].Message.Content[0].Text; got != "fresh" {
		t.Errorf("record text = %q, want %q", got, "fresh")
	}
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeLines(t, path, userLine("good"), "{not json", userLine("also good"))

	r := New()
	records, err := r.GetRecentMessages(path, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (malformed line skipped)", len(records))
	}
}

func TestFullReadTrimsToLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, userLine(fmt.Sprintf("msg-%d", i)))
	}
	writeLines(t, path, lines...)

	r := New()
	records, err := r.GetRecentMessages(path, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	if got := records[4].Message.Content[0].Text; got != "msg-49" {
		t.Errorf("newest record = %q, want msg-49", got)
	}
}

func TestRetainOnlyEvictsState(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.jsonl")
	drop := filepath.Join(dir, "drop.jsonl")
	writeLines(t, keep, userLine("a"))
	writeLines(t, drop, userLine("b"))

	r := New()
	if _, err := r.GetRecentMessages(keep, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetRecentMessages(drop, 10); err != nil {
		t.Fatal(err)
	}
	if r.TrackedCount() != 2 {
		t.Fatalf("tracked %d files, want 2", r.TrackedCount())
	}

	r.RetainOnly(map[string]bool{keep: true})
	if r.TrackedCount() != 1 {
		t.Fatalf("tracked %d files after RetainOnly, want 1", r.TrackedCount())
	}
}
