package metrics

import (
	"sort"
	"time"

	"hubctl/internal/model"
)

// Summary is the usage of one source over a window.
type Summary struct {
	Source string
	Count  int
	From   time.Time
	To     time.Time
	// RxBytes and TxBytes are the lifetime deltas between the first and
	// last sample in the window.
	RxBytes uint64
	TxBytes uint64
	// PeakSessionRx and PeakSessionTx are the largest session counters seen.
	PeakSessionRx uint64
	PeakSessionTx uint64
}

// Summarize computes per-source usage for items at or after since, sorted
// by source.
func Summarize(items []model.UsageSample, since time.Time) []Summary {
	bySource := map[string]*Summary{}
	first := map[string]model.UsageSample{}
	last := map[string]model.UsageSample{}

	for _, s := range items {
		if s.Timestamp.Before(since) {
			continue
		}
		sum, ok := bySource[s.Source]
		if !ok {
			sum = &Summary{Source: s.Source, From: s.Timestamp, To: s.Timestamp}
			bySource[s.Source] = sum
			first[s.Source] = s
			last[s.Source] = s
		}
		sum.Count++
		if s.Timestamp.Before(sum.From) {
			sum.From = s.Timestamp
			first[s.Source] = s
		}
		if !s.Timestamp.Before(sum.To) {
			sum.To = s.Timestamp
			last[s.Source] = s
		}
		if s.SessionRx > sum.PeakSessionRx {
			sum.PeakSessionRx = s.SessionRx
		}
		if s.SessionTx > sum.PeakSessionTx {
			sum.PeakSessionTx = s.SessionTx
		}
	}

	out := make([]Summary, 0, len(bySource))
	for src, sum := range bySource {
		sum.RxBytes = delta(first[src].TotalRx, last[src].TotalRx)
		sum.TxBytes = delta(first[src].TotalTx, last[src].TotalTx)
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// delta guards against a history written by a store that was reset.
func delta(from, to uint64) uint64 {
	if to < from {
		return 0
	}
	return to - from
}
