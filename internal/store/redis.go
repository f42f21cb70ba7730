package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"hubctl/internal/counter"
)

// RedisCounters keeps one hash per counter key, for deployments where the
// poller and its readers run in separate processes.
type RedisCounters struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisCounters(rdb redis.UniversalClient, prefix string) *RedisCounters {
	return &RedisCounters{rdb: rdb, prefix: prefix}
}

var _ counter.Store = (*RedisCounters)(nil)

func (r *RedisCounters) Load(ctx context.Context, key string) (counter.State, error) {
	m, err := r.rdb.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return counter.State{}, fmt.Errorf("redis load %s: %w", key, err)
	}
	return counter.State{
		LastRx:  counter.ParseUint(m["last_rx"]),
		LastTx:  counter.ParseUint(m["last_tx"]),
		TotalRx: counter.ParseUint(m["total_rx"]),
		TotalTx: counter.ParseUint(m["total_tx"]),
		Epoch:   m["epoch"],
	}, nil
}

func (r *RedisCounters) Save(ctx context.Context, key string, st counter.State) error {
	err := r.rdb.HSet(ctx, r.prefix+key,
		"last_rx", strconv.FormatUint(st.LastRx, 10),
		"last_tx", strconv.FormatUint(st.LastTx, 10),
		"total_rx", strconv.FormatUint(st.TotalRx, 10),
		"total_tx", strconv.FormatUint(st.TotalTx, 10),
		"epoch", st.Epoch,
	).Err()
	if err != nil {
		return fmt.Errorf("redis save %s: %w", key, err)
	}
	return nil
}
