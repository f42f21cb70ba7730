package poller

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hubctl/internal/metrics"
	"hubctl/internal/status"
)

type countingSource struct {
	builds  atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
}

func (s *countingSource) Build(ctx context.Context) status.Snapshot {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	n := s.builds.Add(1)
	time.Sleep(5 * time.Millisecond)

	snap := status.Default(nil)
	snap.GeneratedAt = time.Unix(1700000000+int64(n), 0).UTC()
	snap.Gateway.TotalRx = uint64(n) * 100
	snap.Gateway.SessionRx = uint64(n)
	snap.Inbound.TotalTx = uint64(n) * 10
	return snap
}

func TestLatest_CachesUntilStale(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	p := New(src, Options{Interval: time.Minute}, zaptest.NewLogger(t))
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time { return now }

	first := p.Latest(context.Background())
	second := p.Latest(context.Background())
	assert.Equal(t, int32(1), src.builds.Load())
	assert.Equal(t, first, second)

	now = now.Add(3 * time.Minute)
	third := p.Latest(context.Background())
	assert.Equal(t, int32(2), src.builds.Load())
	assert.Equal(t, uint64(200), third.Gateway.TotalRx)
}

func TestPoll_SerializesBuilds(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	p := New(src, Options{Interval: time.Minute, MaxAge: time.Nanosecond}, zaptest.NewLogger(t))
	p.now = func() time.Time { return time.Now().Add(time.Hour) }

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				p.Poll(context.Background())
			} else {
				p.Latest(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(6), src.builds.Load())
	assert.False(t, src.overlap.Load(), "builds must not overlap")
}

func TestPoll_AppendsUsageRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.csv")
	src := &countingSource{}
	p := New(src, Options{Interval: time.Minute, UsageLog: path}, zaptest.NewLogger(t))

	p.Poll(context.Background())
	p.Poll(context.Background())

	rows, err := metrics.ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, status.KeyGateway, rows[0].Source)
	assert.Equal(t, uint64(100), rows[0].TotalRx)
	assert.Equal(t, uint64(1), rows[0].SessionRx)
	assert.Equal(t, status.KeyInbound, rows[1].Source)
	assert.Equal(t, uint64(10), rows[1].TotalTx)
	assert.Equal(t, uint64(200), rows[2].TotalRx)

	sums := metrics.Summarize(rows, time.Time{})
	require.Len(t, sums, 2)
	assert.Equal(t, uint64(100), sums[0].RxBytes)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	p := New(src, Options{Interval: 10 * time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.builds.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
