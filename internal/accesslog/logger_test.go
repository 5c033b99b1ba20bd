package accesslog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAccessLogger_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	l, err := NewAccessLogger(path)
	if err != nil {
		t.Fatalf("NewAccessLogger: %v", err)
	}
	l.Log(AccessEntry{Time: time.Unix(0, 0).UTC(), Method: "POST", Path: "/sqs", Action: "SendMessage", Status: 200})
	l.Log(AccessEntry{Time: time.Unix(1, 0).UTC(), Method: "POST", Path: "/s3", Action: "GetObject", Status: 404})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening appends rather than truncating.
	l, err = NewAccessLogger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l.Log(AccessEntry{Method: "GET", Path: "/healthz", Status: 200})
	l.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var entries []AccessEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AccessEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[1].Action != "GetObject" || entries[1].Status != 404 {
		t.Errorf("unexpected entry %+v", entries[1])
	}
}
