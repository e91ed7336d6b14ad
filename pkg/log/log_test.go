package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestCategoryLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		DefaultLevel:   LevelWarn,
		CategoryLevels: map[Category]Level{CategoryTransaction: LevelDebug},
		Output:         &buf,
	})

	l.System().Info("hidden")
	l.Transaction().Debug("begin transaction", "trancount", 1)
	if got := l.Written(); got != 1 {
		t.Fatalf("Written = %d, want 1:\n%s", got, buf.String())
	}
	if !strings.Contains(buf.String(), "[transaction] begin transaction trancount=1") {
		t.Fatalf("output = %q", buf.String())
	}

	l.SetAllLevels(LevelOff)
	l.Transaction().Error("dropped", errors.New("x"))
	if got := l.Written(); got != 1 {
		t.Fatalf("LevelOff still wrote: %d", got)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelDebug, Output: &buf})

	l.Lock().WithFields("session_id", "sess_1").
		Error("advisory lock failed", errors.New("timeout"), "mode", "share", "dbid", 4)

	out := buf.String()
	for _, want := range []string{"ERROR", "[lock]", "session=sess_1", `error="timeout"`, " dbid=4 mode=share"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelInfo, Output: &buf, Format: FormatJSON})

	l.Audit().Info("administrative statement", "session_id", "sess_9", "kind", "DropRole")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry.Category != CategoryAudit || entry.SessionID != "sess_9" || entry.Fields["kind"] != "DropRole" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{"Warning", LevelWarn, false},
		{"err", LevelError, false},
		{"none", LevelOff, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = (%s, %v), want %s", tt.in, got, err, tt.want)
		}
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.System().Error("nothing", errors.New("x"))
	if l.Written() != 0 {
		t.Fatal("Discard logger wrote an entry")
	}
}

func TestSetDefault_Concurrent(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	replacement := Discard()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetDefault(replacement)
		}()
		go func() {
			defer wg.Done()
			if Default() == nil {
				t.Error("Default returned nil")
			}
		}()
	}
	wg.Wait()

	if Default() != replacement {
		t.Fatal("Default did not return the logger passed to SetDefault")
	}
}
