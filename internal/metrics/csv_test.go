package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hubctl/internal/model"
)

func TestAppendCSV_WritesHeaderOnce(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "usage.csv")

	s1 := model.UsageSample{Timestamp: time.Unix(1, 0).UTC(), Source: "gateway", SessionRx: 1, TotalRx: 10}
	s2 := model.UsageSample{Timestamp: time.Unix(2, 0).UTC(), Source: "inbound", SessionTx: 2, TotalTx: 20}

	if err := AppendCSV(path, []model.UsageSample{s1}); err != nil {
		t.Fatalf("AppendCSV #1: %v", err)
	}
	if err := AppendCSV(path, []model.UsageSample{s2}); err != nil {
		t.Fatalf("AppendCSV #2: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d\n%s", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "timestamp,") {
		t.Fatalf("missing header: %q", lines[0])
	}

	items, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 2 || !sameSample(items[0], s1) || !sameSample(items[1], s2) {
		t.Fatalf("items=%+v", items)
	}
}

func sameSample(a, b model.UsageSample) bool {
	ts := a.Timestamp.Equal(b.Timestamp)
	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	return ts && a == b
}

func TestReadCSV_MissingFile(t *testing.T) {
	t.Parallel()

	items, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	if err != nil || items != nil {
		t.Fatalf("items=%v err=%v", items, err)
	}
}

func TestReadCSV_RejectsBadRows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	buf.WriteString("not-a-time,gateway,1,2,3,4\n")
	if _, err := readCSV(&buf); err == nil {
		t.Fatalf("expected timestamp error")
	}
	if _, err := readCSV(strings.NewReader("2026-01-01T00:00:00Z,gateway\n")); err == nil {
		t.Fatalf("expected short record error")
	}
}
