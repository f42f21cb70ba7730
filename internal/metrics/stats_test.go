package metrics

import (
	"testing"
	"time"

	"hubctl/internal/model"
)

func TestSummarize_PerSourceDeltas(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := []model.UsageSample{
		{Timestamp: now.Add(-2 * time.Hour), Source: "gateway", TotalRx: 1, TotalTx: 1},
		{Timestamp: now.Add(-30 * time.Minute), Source: "gateway", SessionRx: 100, TotalRx: 1000, TotalTx: 500},
		{Timestamp: now.Add(-10 * time.Minute), Source: "inbound", SessionTx: 7, TotalRx: 40, TotalTx: 70},
		{Timestamp: now.Add(-5 * time.Minute), Source: "gateway", SessionRx: 30, TotalRx: 1800, TotalTx: 900},
	}
	got := Summarize(items, now.Add(-time.Hour))
	if len(got) != 2 {
		t.Fatalf("summaries=%+v", got)
	}
	gw := got[0]
	if gw.Source != "gateway" || gw.Count != 2 {
		t.Fatalf("gateway=%+v", gw)
	}
	if gw.RxBytes != 800 || gw.TxBytes != 400 {
		t.Fatalf("gateway deltas=%d/%d", gw.RxBytes, gw.TxBytes)
	}
	if gw.PeakSessionRx != 100 {
		t.Fatalf("peak=%d", gw.PeakSessionRx)
	}
	in := got[1]
	if in.Source != "inbound" || in.Count != 1 || in.RxBytes != 0 || in.PeakSessionTx != 7 {
		t.Fatalf("inbound=%+v", in)
	}
}

func TestSummarize_EmptyWindow(t *testing.T) {
	t.Parallel()

	items := []model.UsageSample{{Timestamp: time.Unix(1, 0), Source: "gateway"}}
	if got := Summarize(items, time.Now()); len(got) != 0 {
		t.Fatalf("summaries=%+v", got)
	}
}

func TestDelta_StoreReset(t *testing.T) {
	t.Parallel()

	if got := delta(100, 40); got != 0 {
		t.Fatalf("delta=%d", got)
	}
	if got := delta(40, 100); got != 60 {
		t.Fatalf("delta=%d", got)
	}
}
